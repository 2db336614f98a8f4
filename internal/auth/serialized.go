package auth

import (
	"context"
	"sync"

	"github.com/devicerpc/rpc2ctl/internal/interfaces"
	"github.com/devicerpc/rpc2ctl/internal/protocol"
)

// Ensure Serialized implements SessionController at compile time.
var _ interfaces.SessionController = (*Serialized)(nil)

// Serialized lets several goroutines share one Session by holding a mutex for
// the whole round trip of every call and login.
type Serialized struct {
	mu      sync.Mutex
	session *Session
}

// NewSerialized wraps s.
func NewSerialized(s *Session) *Serialized {
	return &Serialized{session: s}
}

// Send implements interfaces.Sender
func (z *Serialized) Send(ctx context.Context, call protocol.Call) (*protocol.Response, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.session.Send(ctx, call)
}

// Login implements interfaces.SessionController
func (z *Serialized) Login(ctx context.Context, username, password string) error {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.session.Login(ctx, username, password)
}

// Authenticated implements interfaces.SessionController
func (z *Serialized) Authenticated() bool {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.session.Authenticated()
}

// State returns the wrapped session's state.
func (z *Serialized) State() State {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.session.State()
}

// Host returns the wrapped session's device URL.
func (z *Serialized) Host() string {
	return z.session.Host()
}
