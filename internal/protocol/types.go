// Package protocol implements the RPC2 envelope layer spoken by embedded devices.
// This file defines the wire-level request and response structures, the opaque
// values the device hands out (session tokens and object handles) and the
// endpoint paths used by the session layer.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// HTTP endpoint paths exposed by the device
const (
	EndpointRPC   = "/RPC2"
	EndpointLogin = "/RPC2_Login"
)

// HTTP timeout configurations for device communication
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultLoginTimeout   = 15 * time.Second
)

// Opaque is a JSON value issued by the device and echoed back verbatim.
// The client never interprets its shape.
type Opaque struct {
	raw json.RawMessage
}

// OpaqueOf captures an arbitrary Go value as an Opaque JSON value.
func OpaqueOf(v any) (Opaque, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Opaque{}, fmt.Errorf("marshal opaque value: %w", err)
	}
	return Opaque{raw: raw}, nil
}

// RawOpaque wraps already encoded JSON.
func RawOpaque(raw json.RawMessage) Opaque {
	if len(raw) == 0 {
		return Opaque{}
	}
	return Opaque{raw: append(json.RawMessage(nil), raw...)}
}

// IsZero reports whether the value is absent or JSON null.
func (o Opaque) IsZero() bool {
	trimmed := bytes.TrimSpace(o.raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Raw returns the encoded JSON value.
func (o Opaque) Raw() json.RawMessage {
	return o.raw
}

// Equal compares two values byte for byte after trimming whitespace.
func (o Opaque) Equal(other Opaque) bool {
	return bytes.Equal(bytes.TrimSpace(o.raw), bytes.TrimSpace(other.raw))
}

// String renders the value for logs and error messages.
func (o Opaque) String() string {
	if o.IsZero() {
		return ""
	}
	var s string
	if err := json.Unmarshal(o.raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(o.raw))
}

// MarshalJSON implements json.Marshaler
func (o Opaque) MarshalJSON() ([]byte, error) {
	if o.IsZero() {
		return []byte("null"), nil
	}
	return o.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler
func (o *Opaque) UnmarshalJSON(data []byte) error {
	o.raw = append(o.raw[:0], data...)
	return nil
}

// Token is the session identifier the device attaches to login responses.
type Token struct {
	Opaque
}

// Handle addresses one server-side stateful object created by a factory call.
type Handle struct {
	Opaque
}

// HandleOf builds a handle from a Go value, mostly useful in tests and the console.
func HandleOf(v any) (Handle, error) {
	o, err := OpaqueOf(v)
	if err != nil {
		return Handle{}, err
	}
	return Handle{o}, nil
}

// Call describes a single request before the session layer numbers it.
type Call struct {
	Method string
	Params any
	Object Handle
	Extra  map[string]any
	// Endpoint overrides the default RPC path, e.g. EndpointLogin.
	Endpoint string
}

// RemoteError is the error object a device attaches to failed responses.
type RemoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface for RemoteError
func (re *RemoteError) Error() string {
	if re.Message == "" {
		return fmt.Sprintf("device error %d", re.Code)
	}
	return fmt.Sprintf("device error %d: %s", re.Code, re.Message)
}

// Response is a decoded reply envelope.
type Response struct {
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Session Token           `json:"session"`
	Params  json.RawMessage `json:"params,omitempty"`
	Error   *RemoteError    `json:"error,omitempty"`

	// Raw holds the complete body as received.
	Raw json.RawMessage `json:"-"`
}

// DecodeResponse parses a reply body. Anything that is not a JSON object is a
// shape error.
func DecodeResponse(method string, body []byte) (*Response, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &ProtocolError{
			Kind:    KindProtocolShape,
			Method:  method,
			Message: "response body is not a JSON object",
		}
	}

	var resp Response
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		// Some firmwares send error payloads that do not fit RemoteError;
		// fall back to a lenient decode so the raw body still reaches callers.
		var loose struct {
			ID      int64           `json:"id"`
			Result  json.RawMessage `json:"result"`
			Session Token           `json:"session"`
			Params  json.RawMessage `json:"params"`
		}
		if lerr := json.Unmarshal(trimmed, &loose); lerr != nil {
			return nil, &ProtocolError{
				Kind:    KindProtocolShape,
				Method:  method,
				Message: "failed to decode response",
				Cause:   err,
			}
		}
		resp = Response{ID: loose.ID, Result: loose.Result, Session: loose.Session, Params: loose.Params}
	}
	resp.Raw = append(json.RawMessage(nil), trimmed...)
	return &resp, nil
}

// OK reports whether the result member is truthy.
func (r *Response) OK() bool {
	return r != nil && Truthy(r.Result)
}

// DecodeParams unmarshals the params member into v.
func (r *Response) DecodeParams(v any) error {
	if r == nil || len(bytes.TrimSpace(r.Params)) == 0 || bytes.Equal(bytes.TrimSpace(r.Params), []byte("null")) {
		return &ProtocolError{Kind: KindProtocolShape, Message: "response has no params", Response: r}
	}
	if err := json.Unmarshal(r.Params, v); err != nil {
		return &ProtocolError{Kind: KindProtocolShape, Message: "failed to decode params", Response: r, Cause: err}
	}
	return nil
}

// Truthy applies the device's notion of success to a result value: absent,
// null, false, zero and the empty string are all failures.
func Truthy(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	switch trimmed[0] {
	case 'n', 'f':
		return false
	case 't', '{', '[':
		return true
	case '"':
		return len(trimmed) > 2
	default:
		var n float64
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return false
		}
		return n != 0
	}
}
