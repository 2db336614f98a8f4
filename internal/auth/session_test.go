package auth_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/devicerpc/rpc2ctl/internal/auth"
	"github.com/devicerpc/rpc2ctl/internal/devicetest"
	"github.com/devicerpc/rpc2ctl/internal/logging"
	"github.com/devicerpc/rpc2ctl/internal/protocol"
)

func newSession(t *testing.T, device *devicetest.Device) *auth.Session {
	t.Helper()
	server := httptest.NewServer(device)
	t.Cleanup(server.Close)

	session, err := auth.NewSession(server.URL, protocol.NewHTTPTransport(), auth.WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	return session
}

func TestLoginHandshake(t *testing.T) {
	device := devicetest.New()
	device.Password = "pw"
	device.Realm = "R"
	device.Random = "X"
	session := newSession(t, device)

	if err := session.Login(context.Background(), "admin", "pw"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if session.State() != auth.Authenticated {
		t.Fatalf("State() = %v, want authenticated", session.State())
	}

	logins := device.Requests()
	if len(logins) != 2 {
		t.Fatalf("device saw %d requests, want 2", len(logins))
	}
	for i, req := range logins {
		if req.Path != "/RPC2_Login" {
			t.Errorf("request %d path = %s, want /RPC2_Login", i, req.Path)
		}
		if req.ID() != int64(i+1) {
			t.Errorf("request %d id = %d, want %d", i, req.ID(), i+1)
		}
	}

	first := logins[0]
	if first.Has("session") {
		t.Error("first login must not carry a session")
	}
	if got := first.Params()["password"]; got != "" {
		t.Errorf("first login password = %v, want empty", got)
	}
	if got := first.Params()["clientType"]; got != "Web3.0" {
		t.Errorf("clientType = %v", got)
	}

	second := logins[1]
	if got := second.Envelope["session"]; got != device.Token() {
		t.Errorf("second login session = %v, want %s", got, device.Token())
	}
	if got := second.Params()["password"]; got != "61C07CF902AB285A39183E05850C7984" {
		t.Errorf("second login password = %v", got)
	}
	if second.Params()["authorityType"] != "Default" || second.Params()["passwordType"] != "Default" {
		t.Errorf("second login params = %v", second.Params())
	}
	if session.Token().String() != device.Token() {
		t.Errorf("Token() = %s, want %s", session.Token(), device.Token())
	}
}

func TestSendNumbersRequestsAndAttachesToken(t *testing.T) {
	device := devicetest.New()
	session := newSession(t, device)
	ctx := context.Background()

	// anonymous calls go out without a session
	device.SetRequireSession(false)
	if _, err := session.Send(ctx, protocol.Call{Method: "global.getCurrentTime"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if device.Requests()[0].Has("session") {
		t.Error("anonymous request carried a session")
	}
	device.SetRequireSession(true)

	if err := session.Login(ctx, devicetest.DefaultUsername, devicetest.DefaultPassword); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		resp, err := session.Send(ctx, protocol.Call{Method: "global.getCurrentTime"})
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}
		if !resp.OK() {
			t.Fatalf("Send() result = %s", resp.Result)
		}
	}

	calls := device.RequestsFor("global.getCurrentTime")[1:]
	for i, req := range calls {
		if want := int64(3 + i); req.ID() != want {
			t.Errorf("call %d id = %d, want %d", i, req.ID(), want)
		}
		if req.Envelope["session"] != device.Token() {
			t.Errorf("call %d session = %v", i, req.Envelope["session"])
		}
		if req.Path != "/RPC2" {
			t.Errorf("call %d path = %s", i, req.Path)
		}
	}
	if session.LastID() != 5 {
		t.Errorf("LastID() = %d, want 5", session.LastID())
	}
}

func TestLoginRestartsNumbering(t *testing.T) {
	device := devicetest.New()
	session := newSession(t, device)
	ctx := context.Background()

	if err := session.Login(ctx, devicetest.DefaultUsername, devicetest.DefaultPassword); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, err := session.Send(ctx, protocol.Call{Method: "global.keepAlive"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := session.Login(ctx, devicetest.DefaultUsername, devicetest.DefaultPassword); err != nil {
		t.Fatalf("second Login() error = %v", err)
	}

	logins := device.RequestsFor("global.login")
	if len(logins) != 4 {
		t.Fatalf("saw %d login requests, want 4", len(logins))
	}
	if logins[2].ID() != 1 || logins[3].ID() != 2 {
		t.Errorf("re-login ids = %d, %d, want 1, 2", logins[2].ID(), logins[3].ID())
	}
	if logins[2].Has("session") {
		t.Error("re-login challenge request carried the old session")
	}
}

func TestLoginChallengeMissing(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
	}{
		{name: "no params"},
		{name: "no realm", params: map[string]any{"random": "123"}},
		{name: "no random", params: map[string]any{"realm": "R"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := devicetest.New()
			device.Respond("global.login", func(devicetest.Request) devicetest.Reply {
				reply := devicetest.Reply{"result": false, "session": "pre-auth"}
				if tt.params != nil {
					reply["params"] = tt.params
				}
				return reply
			})
			session := newSession(t, device)

			err := session.Login(context.Background(), "admin", "pw")
			if !errors.Is(err, protocol.ErrAuthChallengeMissing) {
				t.Fatalf("Login() error = %v, want ErrAuthChallengeMissing", err)
			}
			if session.State() != auth.Anonymous || !session.Token().IsZero() {
				t.Errorf("state = %v token = %s, want anonymous without token", session.State(), session.Token())
			}
			if n := len(device.Requests()); n != 1 {
				t.Errorf("device saw %d requests, want 1", n)
			}
		})
	}
}

func TestLoginRejected(t *testing.T) {
	device := devicetest.New()
	session := newSession(t, device)
	ctx := context.Background()

	err := session.Login(ctx, devicetest.DefaultUsername, "wrong")
	if !errors.Is(err, protocol.ErrAuthRejected) {
		t.Fatalf("Login() error = %v, want ErrAuthRejected", err)
	}
	var pe *protocol.ProtocolError
	if !errors.As(err, &pe) || pe.Response == nil || pe.Response.Error == nil {
		t.Fatalf("rejection should carry the device response, got %#v", err)
	}
	if session.State() != auth.Anonymous || session.Authenticated() {
		t.Errorf("State() = %v after rejection", session.State())
	}

	device.SetRequireSession(false)
	if _, err := session.Send(ctx, protocol.Call{Method: "global.getCurrentTime"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	last := device.Requests()[2]
	if last.Has("session") {
		t.Error("request after rejected login carried a session")
	}
	if last.ID() != 3 {
		t.Errorf("id after rejected login = %d, want 3", last.ID())
	}
}

func TestSendTransportError(t *testing.T) {
	boom := errors.New("connection reset")
	transport := protocol.TransportFunc(func(context.Context, string, []byte) ([]byte, error) {
		return nil, boom
	})
	session, err := auth.NewSession("10.0.0.5", transport, auth.WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	handle, _ := protocol.HandleOf(12)
	_, err = session.Send(context.Background(), protocol.Call{Method: "RecordFinder.doFind", Object: handle})
	if !errors.Is(err, protocol.ErrTransport) || !errors.Is(err, boom) {
		t.Fatalf("Send() error = %v, want transport error wrapping cause", err)
	}
	var pe *protocol.ProtocolError
	if !errors.As(err, &pe) || pe.Method != "RecordFinder.doFind" || !pe.Handle.Equal(handle.Opaque) {
		t.Errorf("error context = %+v", pe)
	}

	err = session.Login(context.Background(), "admin", "pw")
	if !errors.Is(err, protocol.ErrTransport) {
		t.Errorf("Login() error = %v, want ErrTransport", err)
	}
}

func TestSendRejectsEmptyMethod(t *testing.T) {
	session := newSession(t, devicetest.New())
	if _, err := session.Send(context.Background(), protocol.Call{Method: " "}); err == nil {
		t.Fatal("Send() with empty method should fail")
	}
	if session.LastID() != 0 {
		t.Errorf("LastID() = %d, empty method must not consume an id", session.LastID())
	}
}

func TestNewSessionValidation(t *testing.T) {
	if _, err := auth.NewSession("", protocol.NewHTTPTransport()); err == nil {
		t.Error("empty host should fail")
	}
	if _, err := auth.NewSession("10.0.0.5", nil); err == nil {
		t.Error("nil transport should fail")
	}
	s, err := auth.NewSession("10.0.0.5", protocol.NewHTTPTransport())
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if s.Host() != "http://10.0.0.5" {
		t.Errorf("Host() = %s", s.Host())
	}
}

func TestSerializedConcurrentSend(t *testing.T) {
	device := devicetest.New()
	shared := auth.NewSerialized(newSession(t, device))
	ctx := context.Background()

	if err := shared.Login(ctx, devicetest.DefaultUsername, devicetest.DefaultPassword); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := shared.Send(ctx, protocol.Call{Method: "global.keepAlive", Params: map[string]any{"timeout": 60}})
			if err == nil && !resp.OK() {
				err = errors.New("keepAlive result was falsy")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	var ids []int
	for _, req := range device.RequestsFor("global.keepAlive") {
		ids = append(ids, int(req.ID()))
	}
	sort.Ints(ids)
	for i, id := range ids {
		if id != 3+i {
			t.Fatalf("ids = %v, want a gapless run from 3", ids)
		}
	}
	if !shared.Authenticated() || shared.State() != auth.Authenticated {
		t.Error("shared session should stay authenticated")
	}
}
