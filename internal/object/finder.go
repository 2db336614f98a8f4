package object

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/devicerpc/rpc2ctl/internal/interfaces"
	"github.com/devicerpc/rpc2ctl/internal/protocol"
)

// FinderNamespace is the method namespace of record searches.
const FinderNamespace = "RecordFinder"

// Condition is the filter a search applies, keyed by record field.
type Condition map[string]any

// TimeRange matches records whose Time lies between from and to, inclusive,
// at second resolution.
func TimeRange(from, to time.Time) Condition {
	return Condition{"Time": []any{"<>", from.Unix(), to.Unix()}}
}

type startFindParams struct {
	Condition Condition `json:"condition"`
}

func (p startFindParams) Validate() error {
	if len(p.Condition) == 0 {
		return fmt.Errorf("condition cannot be empty")
	}
	return nil
}

type doFindParams struct {
	Count int `json:"count"`
}

func (p doFindParams) Validate() error {
	if p.Count <= 0 {
		return fmt.Errorf("count must be positive, got %d", p.Count)
	}
	return nil
}

// FindResult is the params member of a doFind reply.
type FindResult struct {
	Found   int               `json:"found"`
	Records []json.RawMessage `json:"records"`
}

// DecodeFindResult extracts the records from a doFind reply.
func DecodeFindResult(resp *protocol.Response) (FindResult, error) {
	return decodeInto[FindResult](resp, nil)
}

// Finder searches a stored record table. Ordering between StartFind and
// DoFind is up to the caller.
type Finder struct {
	obj *Object
}

// OpenFinder creates a search cursor over the table called name.
func OpenFinder(ctx context.Context, sender interfaces.Sender, name string) (*Finder, error) {
	obj, err := Open(ctx, sender, FinderNamespace, name, Create)
	if err != nil {
		return nil, err
	}
	return &Finder{obj: obj}, nil
}

// Object returns the underlying handle binding.
func (f *Finder) Object() *Object { return f.obj }

// StartFind sets the server-side filter.
func (f *Finder) StartFind(ctx context.Context, cond Condition) error {
	return errOnly(f.obj.Call(ctx, "startFind", startFindParams{Condition: cond}, ResultOnly))
}

// DoFind fetches up to maxCount matching records and returns the full reply.
func (f *Finder) DoFind(ctx context.Context, maxCount int) (*protocol.Response, error) {
	return f.obj.Call(ctx, "doFind", doFindParams{Count: maxCount}, FullResponse)
}

// Next is DoFind followed by DecodeFindResult.
func (f *Finder) Next(ctx context.Context, maxCount int) (FindResult, error) {
	return decodeInto[FindResult](f.DoFind(ctx, maxCount))
}
