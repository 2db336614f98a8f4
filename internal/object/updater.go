package object

import (
	"context"
	"fmt"
	"strings"

	"github.com/devicerpc/rpc2ctl/internal/interfaces"
	"github.com/devicerpc/rpc2ctl/internal/protocol"
)

// UpdaterNamespace is the method namespace of record table mutation.
const UpdaterNamespace = "RecordUpdater"

type recordsParams struct {
	Records []Record `json:"records"`
}

func (p recordsParams) Validate() error {
	if p.Records == nil {
		return fmt.Errorf("records cannot be nil")
	}
	return nil
}

type recordParams struct {
	Record Record `json:"record"`
}

func (p recordParams) Validate() error {
	if p.Record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	return nil
}

type recnoParams struct {
	Recno int `json:"recno"`
}

func (p recnoParams) Validate() error {
	if p.Recno < 0 {
		return fmt.Errorf("recno must not be negative, got %d", p.Recno)
	}
	return nil
}

type updateParams struct {
	Recno  int    `json:"recno"`
	Record Record `json:"record"`
}

func (p updateParams) Validate() error {
	if err := (recnoParams{Recno: p.Recno}).Validate(); err != nil {
		return err
	}
	return recordParams{Record: p.Record}.Validate()
}

// FileSpec names a file on the device for bulk import and export.
type FileSpec struct {
	Filename string `json:"filename"`
	Format   string `json:"format"`
	Code     string `json:"code"`
}

// Validate checks that a filename is present.
func (f FileSpec) Validate() error {
	if strings.TrimSpace(f.Filename) == "" {
		return fmt.Errorf("filename cannot be empty")
	}
	return nil
}

// Updater mutates a named record table (an allow list, a block list...).
type Updater struct {
	obj *Object
}

// OpenUpdater acquires an instance handle on the table called name.
func OpenUpdater(ctx context.Context, sender interfaces.Sender, name string) (*Updater, error) {
	obj, err := Open(ctx, sender, UpdaterNamespace, name, Instance)
	if err != nil {
		return nil, err
	}
	return &Updater{obj: obj}, nil
}

// Object returns the underlying handle binding.
func (u *Updater) Object() *Object { return u.obj }

// Import appends records to the table.
func (u *Updater) Import(ctx context.Context, records []Record) error {
	return errOnly(u.obj.Call(ctx, "import", recordsParams{Records: records}, ResultOnly))
}

// Insert adds one record.
func (u *Updater) Insert(ctx context.Context, record Record) error {
	return errOnly(u.obj.Call(ctx, "insert", recordParams{Record: record}, ResultOnly))
}

// Remove deletes the record numbered recno.
func (u *Updater) Remove(ctx context.Context, recno int) error {
	return errOnly(u.obj.Call(ctx, "remove", recnoParams{Recno: recno}, ResultOnly))
}

// Update replaces the record numbered recno.
func (u *Updater) Update(ctx context.Context, recno int, record Record) error {
	return errOnly(u.obj.Call(ctx, "update", updateParams{Recno: recno, Record: record}, ResultOnly))
}

// Clear empties the table.
func (u *Updater) Clear(ctx context.Context) error {
	return errOnly(u.obj.Call(ctx, "clear", nil, ResultOnly))
}

// ImportFile starts a bulk import from a file on the device.
func (u *Updater) ImportFile(ctx context.Context, file FileSpec) error {
	return errOnly(u.obj.Call(ctx, "importFile", file, ResultOnly))
}

// ExportFile writes the table to a file on the device.
func (u *Updater) ExportFile(ctx context.Context, file FileSpec) error {
	return errOnly(u.obj.Call(ctx, "exportFile", file, ResultOnly))
}

// ExportAsyncFile starts a background export; poll FileExportState for progress.
func (u *Updater) ExportAsyncFile(ctx context.Context, file FileSpec) error {
	return errOnly(u.obj.Call(ctx, "exportAsyncFile", file, ResultOnly))
}

// FileImportState reports the progress of the running file import.
func (u *Updater) FileImportState(ctx context.Context) (*protocol.Response, error) {
	return u.obj.Call(ctx, "getFileImportState", nil, FullResponse)
}

// FileImportData returns the records read by the last file import.
func (u *Updater) FileImportData(ctx context.Context) (*protocol.Response, error) {
	return u.obj.Call(ctx, "getFileImportData", nil, FullResponse)
}

// FileExportState reports the progress of the running file export.
func (u *Updater) FileExportState(ctx context.Context) (*protocol.Response, error) {
	return u.obj.Call(ctx, "getFileExportState", nil, FullResponse)
}

// Schema returns the table's field names.
func (u *Updater) Schema(ctx context.Context) (*protocol.Response, error) {
	return u.obj.Call(ctx, "getSchema", nil, FullResponse)
}

// Op runs an updater operation by its method suffix with JSON params, for
// callers that take the operation from user input.
func (u *Updater) Op(ctx context.Context, suffix string, params []byte) (*protocol.Response, error) {
	return u.obj.Call(ctx, suffix, Raw(params), FullResponse)
}
