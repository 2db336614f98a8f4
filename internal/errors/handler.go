// Package errors turns failures from the protocol stack into messages fit for
// a terminal: a title, the detail, the device error code and a hint on what
// to try next.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/devicerpc/rpc2ctl/internal/protocol"
)

// ErrorType categorizes errors for presentation.
type ErrorType string

const (
	ErrorTypeConnection     ErrorType = "connection"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeConfiguration  ErrorType = "configuration"
	ErrorTypeProtocol       ErrorType = "protocol"
	ErrorTypeDevice         ErrorType = "device"
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeCancelled      ErrorType = "cancelled"
)

// ErrorSeverity indicates the impact level of an error
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// ProcessedError represents an error that has been prepared for display.
type ProcessedError struct {
	Timestamp time.Time
	Type      ErrorType
	Severity  ErrorSeverity
	Title     string
	Message   string
	Code      string
	Hint      string
	Retryable bool
	// Raw is the device reply that caused the error, if any.
	Raw string
}

// Handler processes errors into ProcessedError values.
type Handler struct {
	now func() time.Time
}

// NewHandler creates a new error handler.
func NewHandler() *Handler {
	return &Handler{now: time.Now}
}

// Process classifies err. It returns nil for a nil error.
func (h *Handler) Process(err error) *ProcessedError {
	if err == nil {
		return nil
	}

	processed := &ProcessedError{
		Timestamp: h.now(),
		Type:      ErrorTypeValidation,
		Severity:  SeverityLow,
		Title:     "Invalid input",
		Message:   err.Error(),
	}

	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		processed.Type = ErrorTypeCancelled
		processed.Severity = SeverityMedium
		processed.Title = "Request abandoned"
		processed.Hint = "The device may still act on the request; raise --timeout if it is slow to answer."
		processed.Retryable = true
		return processed
	}

	var pe *protocol.ProtocolError
	if !stderrors.As(err, &pe) {
		return processed
	}

	processed.Retryable = pe.IsRetryable()
	processed.Raw = pe.RawResponse()
	if pe.Response != nil && pe.Response.Error != nil {
		processed.Code = fmt.Sprintf("%d", pe.Response.Error.Code)
	} else if pe.HTTP != nil {
		processed.Code = fmt.Sprintf("HTTP %d", pe.HTTP.StatusCode)
	}

	switch pe.Kind {
	case protocol.KindTransport:
		processed.Type = ErrorTypeConnection
		processed.Severity = SeverityCritical
		processed.Title = "Device unreachable"
		processed.Hint = "Check the host address and that the device answers HTTP on it."
	case protocol.KindAuthChallengeMissing:
		processed.Type = ErrorTypeProtocol
		processed.Severity = SeverityHigh
		processed.Title = "Login challenge missing"
		processed.Hint = "The device did not send realm and random; it may not speak this login scheme."
	case protocol.KindAuthRejected:
		processed.Type = ErrorTypeAuthentication
		processed.Severity = SeverityHigh
		processed.Title = "Login rejected"
		processed.Hint = "Check the username and password; devices lock accounts after repeated failures."
	case protocol.KindHandleAcquisition:
		processed.Type = ErrorTypeDevice
		processed.Severity = SeverityMedium
		processed.Title = fmt.Sprintf("Could not open %s", describeObject(pe))
		processed.Hint = "Check the resource name; the device may not support this table."
	case protocol.KindScopedOperation:
		processed.Type = ErrorTypeDevice
		processed.Severity = SeverityMedium
		processed.Title = fmt.Sprintf("%s failed", pe.Method)
		processed.Hint = "The object handle is still held; fix the parameters and retry."
	case protocol.KindRemoteOperation:
		processed.Type = ErrorTypeDevice
		processed.Severity = SeverityMedium
		processed.Title = fmt.Sprintf("%s failed", pe.Label)
		processed.Hint = remoteHint(pe)
	case protocol.KindProtocolShape:
		processed.Type = ErrorTypeProtocol
		processed.Severity = SeverityHigh
		processed.Title = "Unexpected reply"
		processed.Hint = "The device answered in an unexpected format; run with RPC2CTL_DEBUG=true to see the traffic."
	}
	return processed
}

func describeObject(pe *protocol.ProtocolError) string {
	if pe.Name == "" {
		return pe.Namespace
	}
	return fmt.Sprintf("%s %q", pe.Namespace, pe.Name)
}

func remoteHint(pe *protocol.ProtocolError) string {
	if pe.Response != nil && pe.Response.Error != nil &&
		strings.Contains(strings.ToLower(pe.Response.Error.Message), "session") {
		return "The session has expired; log in again."
	}
	return "The device refused the command; check its parameters and the device state."
}

// Summary renders the error on one line.
func (p *ProcessedError) Summary() string {
	if p.Code != "" {
		return fmt.Sprintf("%s [%s]: %s", p.Title, p.Code, p.Message)
	}
	return fmt.Sprintf("%s: %s", p.Title, p.Message)
}
