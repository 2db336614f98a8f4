package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies failures of the protocol layer.
type ErrorKind string

const (
	KindTransport            ErrorKind = "transport"
	KindAuthChallengeMissing ErrorKind = "auth_challenge_missing"
	KindAuthRejected         ErrorKind = "auth_rejected"
	KindHandleAcquisition    ErrorKind = "handle_acquisition_failed"
	KindScopedOperation      ErrorKind = "scoped_operation_failed"
	KindRemoteOperation      ErrorKind = "remote_operation_failed"
	KindProtocolShape        ErrorKind = "protocol_shape"
)

// Sentinels for errors.Is. Every *ProtocolError matches the sentinel of its kind.
var (
	ErrTransport            = errors.New("transport error")
	ErrAuthChallengeMissing = errors.New("login challenge missing realm or random")
	ErrAuthRejected         = errors.New("login rejected")
	ErrHandleAcquisition    = errors.New("object handle acquisition failed")
	ErrScopedOperation      = errors.New("scoped operation failed")
	ErrRemoteOperation      = errors.New("remote operation failed")
	ErrProtocolShape        = errors.New("unexpected response shape")
)

var kindSentinels = map[ErrorKind]error{
	KindTransport:            ErrTransport,
	KindAuthChallengeMissing: ErrAuthChallengeMissing,
	KindAuthRejected:         ErrAuthRejected,
	KindHandleAcquisition:    ErrHandleAcquisition,
	KindScopedOperation:      ErrScopedOperation,
	KindRemoteOperation:      ErrRemoteOperation,
	KindProtocolShape:        ErrProtocolShape,
}

// HTTPErrorDetails provides detailed information about HTTP-level errors
type HTTPErrorDetails struct {
	URL         string `json:"url"`
	StatusCode  int    `json:"statusCode"`
	StatusText  string `json:"statusText"`
	Body        string `json:"body,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// ProtocolError carries everything needed to diagnose a failed call without
// re-running it: the method, the object it addressed and the raw reply.
type ProtocolError struct {
	Kind      ErrorKind
	Method    string
	Label     string
	Namespace string
	Name      string
	Handle    Handle
	Message   string
	Response  *Response
	HTTP      *HTTPErrorDetails
	Cause     error
	Timestamp time.Time
}

// Error implements the error interface for ProtocolError
func (pe *ProtocolError) Error() string {
	var b strings.Builder
	if sentinel, ok := kindSentinels[pe.Kind]; ok {
		b.WriteString(sentinel.Error())
	} else {
		b.WriteString("protocol error")
	}

	switch {
	case pe.Namespace != "" && pe.Name != "":
		fmt.Fprintf(&b, " (%s %q)", pe.Namespace, pe.Name)
	case pe.Namespace != "":
		fmt.Fprintf(&b, " (%s)", pe.Namespace)
	}
	if label := pe.operation(); label != "" {
		fmt.Fprintf(&b, " in %s", label)
	}
	if !pe.Handle.IsZero() {
		fmt.Fprintf(&b, " on object %s", pe.Handle.String())
	}
	if pe.Message != "" {
		b.WriteString(": ")
		b.WriteString(pe.Message)
	}
	if pe.Response != nil && pe.Response.Error != nil {
		b.WriteString(": ")
		b.WriteString(pe.Response.Error.Error())
	}
	if pe.Cause != nil {
		b.WriteString(": ")
		b.WriteString(pe.Cause.Error())
	}
	return b.String()
}

func (pe *ProtocolError) operation() string {
	if pe.Label != "" {
		return pe.Label
	}
	return pe.Method
}

// Unwrap provides access to the original underlying error
func (pe *ProtocolError) Unwrap() error {
	return pe.Cause
}

// Is matches the sentinel for the error's kind.
func (pe *ProtocolError) Is(target error) bool {
	sentinel, ok := kindSentinels[pe.Kind]
	return ok && sentinel == target
}

// RawResponse returns the reply body that triggered the error, if any.
func (pe *ProtocolError) RawResponse() string {
	if pe.Response == nil {
		return ""
	}
	return string(pe.Response.Raw)
}

// IsRetryable reports whether retrying the call might succeed. The protocol
// layer itself never retries.
func (pe *ProtocolError) IsRetryable() bool {
	if pe.Kind != KindTransport {
		return false
	}
	if pe.HTTP == nil {
		return true
	}
	return pe.HTTP.StatusCode == 429 || pe.HTTP.StatusCode >= 500
}

// KindOf returns the kind of the first ProtocolError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}
