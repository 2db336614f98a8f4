package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

type field struct {
	key   string
	value any
}

// Envelope is a request body with a stable field order. Devices reject null
// members, so fields that were not supplied are simply not present.
type Envelope struct {
	fields []field
}

// Build assembles the request envelope for call. The order is method, id,
// params, object, extra fields (sorted by key) and session. Extra fields replace
// params or object in place when the keys collide; the session always wins.
func Build(call Call, id int64, session Token) Envelope {
	env := Envelope{fields: make([]field, 0, 5+len(call.Extra))}
	env.set("method", call.Method)
	env.set("id", id)

	if !Absent(call.Params) {
		env.set("params", call.Params)
	}
	if !call.Object.IsZero() {
		env.set("object", call.Object)
	}

	keys := make([]string, 0, len(call.Extra))
	for k := range call.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if Absent(call.Extra[k]) {
			continue
		}
		env.set(k, call.Extra[k])
	}

	if !session.IsZero() {
		env.set("session", session)
	}
	return env
}

// Absent reports whether v encodes to nothing or to JSON null. Typed nils and
// raw "null" count as absent. A value that fails to encode is kept so that
// MarshalJSON reports the error.
func Absent(v any) bool {
	if v == nil {
		return true
	}
	if raw, ok := v.(json.RawMessage); ok {
		trimmed := bytes.TrimSpace(raw)
		return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
	}
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

func (e *Envelope) set(key string, value any) {
	for i := range e.fields {
		if e.fields[i].key == key {
			e.fields[i].value = value
			return
		}
	}
	e.fields = append(e.fields, field{key: key, value: value})
}

// Keys lists the member names in wire order.
func (e Envelope) Keys() []string {
	keys := make([]string, len(e.fields))
	for i, f := range e.fields {
		keys[i] = f.key
	}
	return keys
}

// Get returns a member value and whether it is present.
func (e Envelope) Get(key string) (any, bool) {
	for _, f := range e.fields {
		if f.key == key {
			return f.value, true
		}
	}
	return nil, false
}

// Method returns the method member.
func (e Envelope) Method() string {
	v, _ := e.Get("method")
	s, _ := v.(string)
	return s
}

// ID returns the id member.
func (e Envelope) ID() int64 {
	v, _ := e.Get("id")
	id, _ := v.(int64)
	return id
}

// MarshalJSON implements json.Marshaler
func (e Envelope) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range e.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(f.value)
		if err != nil {
			return nil, fmt.Errorf("marshal envelope field %q: %w", f.key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// AssertTruthy returns the result of resp, or a RemoteOperationFailed error
// labelled with label when the result is falsy.
func AssertTruthy(resp *Response, label string) (json.RawMessage, error) {
	if resp == nil {
		return nil, &ProtocolError{Kind: KindProtocolShape, Label: label, Message: "missing response"}
	}
	if !Truthy(resp.Result) {
		return nil, &ProtocolError{
			Kind:     KindRemoteOperation,
			Label:    label,
			Response: resp,
		}
	}
	return resp.Result, nil
}
