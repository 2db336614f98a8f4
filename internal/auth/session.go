// Package auth implements the session layer of the RPC2 protocol: the
// challenge-response login, the session token and the request id counter.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/devicerpc/rpc2ctl/internal/interfaces"
	"github.com/devicerpc/rpc2ctl/internal/logging"
	"github.com/devicerpc/rpc2ctl/internal/protocol"
)

// LoginMethod is the method name of both login round trips.
const LoginMethod = "global.login"

// State is the authentication state of a Session.
type State int

const (
	Anonymous State = iota
	ChallengeReceived
	Authenticated
)

// String returns the state name
func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case ChallengeReceived:
		return "challenge-received"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Ensure Session implements SessionController at compile time.
var _ interfaces.SessionController = (*Session)(nil)

// Session owns one logical connection to a device. It is not safe for
// concurrent use: the id counter and token are shared state, so callers issue
// one request at a time (see Serialized).
type Session struct {
	base      *url.URL
	transport protocol.Transport
	logger    *logging.Logger

	token   protocol.Token
	counter int64
	state   State
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSession creates an anonymous session for host.
func NewSession(host string, transport protocol.Transport, opts ...Option) (*Session, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	base, err := protocol.ParseBaseURL(host)
	if err != nil {
		return nil, err
	}
	s := &Session{
		base:      base,
		transport: transport,
		logger:    logging.GetAuthLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Host returns the device base URL.
func (s *Session) Host() string {
	return s.base.String()
}

// State returns the authentication state.
func (s *Session) State() State {
	return s.state
}

// Authenticated reports whether the session holds an authenticated token.
func (s *Session) Authenticated() bool {
	return s.state == Authenticated
}

// Token returns the current session token, zero when none is held.
func (s *Session) Token() protocol.Token {
	return s.token
}

// LastID returns the id of the most recent request of this epoch.
func (s *Session) LastID() int64 {
	return s.counter
}

// Send numbers call, attaches the session token and posts it. A falsy result
// is not an error here; result validation belongs to the caller.
func (s *Session) Send(ctx context.Context, call protocol.Call) (*protocol.Response, error) {
	if strings.TrimSpace(call.Method) == "" {
		return nil, fmt.Errorf("method cannot be empty")
	}

	s.counter++
	env := protocol.Build(call, s.counter, s.token)
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", call.Method, err)
	}

	target := protocol.ResolveEndpoint(s.base, call.Endpoint)
	s.logger.LogEnvelope(call.Method, s.counter, target, !call.Object.IsZero())

	reply, err := s.transport.Post(ctx, target, body)
	if err != nil {
		return nil, wrapTransport(call, err)
	}
	return protocol.DecodeResponse(call.Method, reply)
}

func wrapTransport(call protocol.Call, err error) error {
	var pe *protocol.ProtocolError
	if errors.As(err, &pe) && pe.Kind == protocol.KindTransport {
		if pe.Method == "" {
			pe.Method = call.Method
		}
		if pe.Handle.IsZero() {
			pe.Handle = call.Object
		}
		return pe
	}
	return &protocol.ProtocolError{
		Kind:   protocol.KindTransport,
		Method: call.Method,
		Handle: call.Object,
		Cause:  err,
	}
}

// Login runs the two round trip challenge-response handshake against the
// login endpoint. Any failure leaves the session Anonymous.
func (s *Session) Login(ctx context.Context, username, password string) error {
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("username cannot be empty")
	}

	s.reset()
	host := s.Host()
	s.logger.LogLoginStep(host, username, s.state.String())

	first, err := s.Send(ctx, protocol.Call{
		Method:   LoginMethod,
		Endpoint: protocol.EndpointLogin,
		Params: loginParams{
			UserName:   username,
			Password:   "",
			ClientType: ClientType,
		},
	})
	if err != nil {
		s.abandon()
		return err
	}

	var ch challenge
	if err := first.DecodeParams(&ch); err != nil || ch.Realm == "" || ch.Random == "" {
		s.abandon()
		return &protocol.ProtocolError{
			Kind:     protocol.KindAuthChallengeMissing,
			Method:   LoginMethod,
			Response: first,
		}
	}

	s.token = first.Session
	s.state = ChallengeReceived
	s.logger.LogLoginStep(host, username, s.state.String())

	second, err := s.Send(ctx, protocol.Call{
		Method:   LoginMethod,
		Endpoint: protocol.EndpointLogin,
		Params: loginParams{
			UserName:      username,
			Password:      HashPassword(username, password, ch.Realm, ch.Random),
			ClientType:    ClientType,
			AuthorityType: AuthorityType,
			PasswordType:  PasswordType,
		},
	})
	if err != nil {
		s.abandon()
		return err
	}
	if !second.OK() {
		s.abandon()
		return &protocol.ProtocolError{
			Kind:     protocol.KindAuthRejected,
			Method:   LoginMethod,
			Response: second,
		}
	}

	if !second.Session.IsZero() {
		s.token = second.Session
	}
	s.state = Authenticated
	s.logger.LogLoginStep(host, username, s.state.String())
	return nil
}

// reset starts a new epoch: no token, counter at zero, Anonymous.
func (s *Session) reset() {
	s.token = protocol.Token{}
	s.counter = 0
	s.state = Anonymous
}

// abandon drops the token after a failed login. The counter keeps running so
// ids of this epoch are never reused.
func (s *Session) abandon() {
	s.token = protocol.Token{}
	s.state = Anonymous
}
