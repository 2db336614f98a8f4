package errors

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/devicerpc/rpc2ctl/internal/protocol"
)

func TestProcess(t *testing.T) {
	h := NewHandler()
	fixed := time.Date(2024, 5, 27, 10, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return fixed }

	rejected, _ := protocol.DecodeResponse("global.login",
		[]byte(`{"id":2,"result":false,"error":{"code":268632085,"message":"User or password not valid!"}}`))
	expired, _ := protocol.DecodeResponse("global.getCurrentTime",
		[]byte(`{"id":9,"result":false,"error":{"code":287637505,"message":"Invalid session in request data!"}}`))

	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		wantCode  string
		wantRetry bool
		wantHint  string
	}{
		{
			name:      "transport",
			err:       &protocol.ProtocolError{Kind: protocol.KindTransport, HTTP: &protocol.HTTPErrorDetails{StatusCode: 503}},
			wantType:  ErrorTypeConnection,
			wantCode:  "HTTP 503",
			wantRetry: true,
		},
		{
			name:     "rejected",
			err:      &protocol.ProtocolError{Kind: protocol.KindAuthRejected, Method: "global.login", Response: rejected},
			wantType: ErrorTypeAuthentication,
			wantCode: "268632085",
		},
		{
			name:     "expired session",
			err:      fmt.Errorf("time: %w", &protocol.ProtocolError{Kind: protocol.KindRemoteOperation, Label: "global.getCurrentTime", Response: expired}),
			wantType: ErrorTypeDevice,
			wantCode: "287637505",
			wantHint: "The session has expired; log in again.",
		},
		{
			name:     "scoped",
			err:      &protocol.ProtocolError{Kind: protocol.KindScopedOperation, Method: "RecordUpdater.remove"},
			wantType: ErrorTypeDevice,
		},
		{
			name:     "plain",
			err:      fmt.Errorf("method cannot be empty"),
			wantType: ErrorTypeValidation,
		},
		{
			name:      "deadline",
			err:       context.DeadlineExceeded,
			wantType:  ErrorTypeCancelled,
			wantRetry: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := h.Process(tt.err)
			if got.Type != tt.wantType {
				t.Errorf("Type = %s, want %s", got.Type, tt.wantType)
			}
			if got.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Retryable != tt.wantRetry {
				t.Errorf("Retryable = %v, want %v", got.Retryable, tt.wantRetry)
			}
			if tt.wantHint != "" && got.Hint != tt.wantHint {
				t.Errorf("Hint = %q", got.Hint)
			}
			if !got.Timestamp.Equal(fixed) {
				t.Errorf("Timestamp = %v", got.Timestamp)
			}
			if got.Title == "" || got.Message == "" {
				t.Errorf("Title/Message empty: %+v", got)
			}
		})
	}
}

func TestProcessNil(t *testing.T) {
	if NewHandler().Process(nil) != nil {
		t.Error("Process(nil) should be nil")
	}
}

func TestProcessHandleAcquisitionTitle(t *testing.T) {
	got := NewHandler().Process(&protocol.ProtocolError{
		Kind:      protocol.KindHandleAcquisition,
		Namespace: "RecordUpdater",
		Name:      "TrafficRedList",
	})
	if got.Title != `Could not open RecordUpdater "TrafficRedList"` {
		t.Errorf("Title = %s", got.Title)
	}
	if got.Summary() != got.Title+": "+got.Message {
		t.Errorf("Summary() = %s", got.Summary())
	}
}
