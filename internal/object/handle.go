// Package object implements the object handle protocol: acquiring a handle for
// a named server-side resource and issuing calls scoped to it.
package object

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/devicerpc/rpc2ctl/internal/interfaces"
	"github.com/devicerpc/rpc2ctl/internal/logging"
	"github.com/devicerpc/rpc2ctl/internal/protocol"
)

// Constructor selects the factory method used to acquire a handle.
type Constructor string

const (
	Instance Constructor = "instance"
	Create   Constructor = "create"
)

// Method returns the factory method name for namespace.
func (c Constructor) Method(namespace string) string {
	return namespace + ".factory." + string(c)
}

type nameParams struct {
	Name string `json:"name"`
}

// Acquire asks the device for a handle on the resource called name. An empty
// name sends the factory call without params.
func Acquire(ctx context.Context, sender interfaces.Sender, namespace, name string, ctor Constructor) (protocol.Handle, error) {
	if strings.TrimSpace(namespace) == "" {
		return protocol.Handle{}, fmt.Errorf("namespace cannot be empty")
	}
	if ctor != Instance && ctor != Create {
		return protocol.Handle{}, fmt.Errorf("unknown constructor %q", ctor)
	}

	call := protocol.Call{Method: ctor.Method(namespace)}
	if name != "" {
		call.Params = nameParams{Name: name}
	}

	resp, err := sender.Send(ctx, call)
	if err != nil {
		return protocol.Handle{}, &protocol.ProtocolError{
			Kind:      protocol.KindHandleAcquisition,
			Method:    call.Method,
			Namespace: namespace,
			Name:      name,
			Cause:     err,
		}
	}
	if !resp.OK() {
		return protocol.Handle{}, &protocol.ProtocolError{
			Kind:      protocol.KindHandleAcquisition,
			Method:    call.Method,
			Namespace: namespace,
			Name:      name,
			Response:  resp,
		}
	}

	handle := protocol.Handle{Opaque: protocol.RawOpaque(resp.Result)}
	logging.GetObjectLogger().Debug("Acquired object handle",
		"namespace", namespace, "name", name, "handle", handle.String())
	return handle, nil
}

// Params is a typed parameter record for a scoped call.
type Params interface {
	Validate() error
}

// ResultMode selects how much of a successful reply a scoped call returns.
type ResultMode int

const (
	// FullResponse returns the complete decoded reply.
	FullResponse ResultMode = iota
	// ResultOnly returns a reply reduced to id, result and session.
	ResultOnly
)

// Object is a handle bound to the sender that acquired it.
type Object struct {
	sender    interfaces.Sender
	namespace string
	name      string
	handle    protocol.Handle
}

// Open acquires a handle and binds it to sender.
func Open(ctx context.Context, sender interfaces.Sender, namespace, name string, ctor Constructor) (*Object, error) {
	handle, err := Acquire(ctx, sender, namespace, name, ctor)
	if err != nil {
		return nil, err
	}
	return &Object{sender: sender, namespace: namespace, name: name, handle: handle}, nil
}

// Attach binds a handle obtained elsewhere. The handle is not checked.
func Attach(sender interfaces.Sender, namespace string, handle protocol.Handle) *Object {
	return &Object{sender: sender, namespace: namespace, handle: handle}
}

// Handle returns the handle as issued by the device.
func (o *Object) Handle() protocol.Handle { return o.handle }

// Namespace returns the method namespace, e.g. "RecordUpdater".
func (o *Object) Namespace() string { return o.namespace }

// Name returns the resource name the handle was acquired for.
func (o *Object) Name() string { return o.name }

// Call sends <namespace>.<suffix> scoped to the handle. A nil params sends no
// params member. A falsy result fails with ScopedOperationFailed and leaves
// the handle usable.
func (o *Object) Call(ctx context.Context, suffix string, params Params, mode ResultMode) (*protocol.Response, error) {
	method := o.namespace + "." + suffix
	call := protocol.Call{Method: method, Object: o.handle}
	if params != nil {
		if err := params.Validate(); err != nil {
			return nil, fmt.Errorf("%s: invalid params: %w", method, err)
		}
		call.Params = params
	}

	resp, err := o.sender.Send(ctx, call)
	if err != nil {
		return nil, o.annotate(method, err)
	}
	if !resp.OK() {
		return nil, &protocol.ProtocolError{
			Kind:      protocol.KindScopedOperation,
			Method:    method,
			Namespace: o.namespace,
			Name:      o.name,
			Handle:    o.handle,
			Response:  resp,
		}
	}

	if mode == ResultOnly {
		return &protocol.Response{ID: resp.ID, Result: resp.Result, Session: resp.Session}, nil
	}
	return resp, nil
}

// annotate adds the namespace and resource name to a failed send.
func (o *Object) annotate(method string, err error) error {
	var pe *protocol.ProtocolError
	if !errors.As(err, &pe) {
		return fmt.Errorf("%s (%s %q): %w", method, o.namespace, o.name, err)
	}
	if pe.Namespace == "" {
		pe.Namespace = o.namespace
		pe.Name = o.name
	}
	if pe.Handle.IsZero() {
		pe.Handle = o.handle
	}
	return err
}

// errOnly drops the reply of a mutation.
func errOnly(_ *protocol.Response, err error) error {
	return err
}

// Record is one row of a record table as the device encodes it.
type Record map[string]any

// decodeInto unmarshals the params member of a scoped reply.
func decodeInto[T any](resp *protocol.Response, err error) (T, error) {
	var out T
	if err != nil {
		return out, err
	}
	if err := resp.DecodeParams(&out); err != nil {
		return out, err
	}
	return out, nil
}

// rawParams passes caller supplied JSON through as params.
type rawParams json.RawMessage

func (p rawParams) Validate() error {
	if !json.Valid(p) {
		return fmt.Errorf("params are not valid JSON")
	}
	return nil
}

func (p rawParams) MarshalJSON() ([]byte, error) {
	return json.RawMessage(p), nil
}

// Raw wraps pre-encoded JSON so it can be sent through Call.
func Raw(params json.RawMessage) Params {
	if len(params) == 0 {
		return nil
	}
	return rawParams(params)
}
