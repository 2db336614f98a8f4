package console

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"

	"github.com/devicerpc/rpc2ctl/internal/auth"
	"github.com/devicerpc/rpc2ctl/internal/content"
	"github.com/devicerpc/rpc2ctl/internal/devicetest"
	"github.com/devicerpc/rpc2ctl/internal/logging"
	"github.com/devicerpc/rpc2ctl/internal/monitor"
	"github.com/devicerpc/rpc2ctl/internal/protocol"
)

func TestParseInput(t *testing.T) {
	tests := []struct {
		line       string
		wantMeta   string
		wantHandle string
		wantMethod string
		wantParams string
	}{
		{line: "global.getCurrentTime", wantMethod: "global.getCurrentTime"},
		{line: "  magicBox.getProductDefinition {\"name\":\"Traffic\"}  ", wantMethod: "magicBox.getProductDefinition", wantParams: `{"name":"Traffic"}`},
		{line: "#7 RecordUpdater.clear", wantHandle: "7", wantMethod: "RecordUpdater.clear"},
		{line: `#abc RecordFinder.doFind {"count": 10}`, wantHandle: `"abc"`, wantMethod: "RecordFinder.doFind", wantParams: `{"count":10}`},
		{line: `RecordUpdater.factory.instance {"name": "TrafficRedList", /* list */ }`, wantMethod: "RecordUpdater.factory.instance", wantParams: `{"name": "TrafficRedList"  }`},
		{line: ":login", wantMeta: MetaLogin},
		{line: ":q", wantMeta: MetaQuit},
		{line: ":clear now", wantMeta: MetaClear},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			in, err := ParseInput(tt.line)
			if err != nil {
				t.Fatalf("ParseInput: %v", err)
			}
			if in.Meta != tt.wantMeta || in.Method != tt.wantMethod {
				t.Errorf("got meta %q method %q", in.Meta, in.Method)
			}
			if got := string(in.Handle.Raw()); got != tt.wantHandle {
				t.Errorf("handle = %s, want %s", got, tt.wantHandle)
			}
			if tt.wantParams == "" {
				if in.Params != nil {
					t.Errorf("params = %s, want none", in.Params)
				}
				return
			}
			var got, want any
			if err := json.Unmarshal(in.Params, &got); err != nil {
				t.Fatalf("params %s: %v", in.Params, err)
			}
			if err := json.Unmarshal([]byte(tt.wantParams), &want); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("params mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseInputErrors(t *testing.T) {
	for _, line := range []string{"", "   ", "#", "# ", "#7", ":bogus", "global.x {not json", "RecordFinder.doFind {count: 10}"} {
		if _, err := ParseInput(line); err == nil {
			t.Errorf("ParseInput(%q) succeeded", line)
		}
	}
}

func TestInputCall(t *testing.T) {
	in, err := ParseInput("#7 RecordUpdater.clear")
	if err != nil {
		t.Fatal(err)
	}
	call := in.Call()
	if call.Params != nil {
		t.Errorf("params = %v, want nil", call.Params)
	}
	env, _ := json.Marshal(protocol.Build(call, 4, protocol.Token{}))
	if got, want := string(env), `{"method":"RecordUpdater.clear","id":4,"object":7}`; got != want {
		t.Errorf("envelope = %s, want %s", got, want)
	}
}

func newConsole(t *testing.T, creds Credentials) (*Model, *devicetest.Device) {
	t.Helper()
	device := devicetest.New()
	device.SetLogger(logging.Discard())
	srv := httptest.NewServer(device)
	t.Cleanup(srv.Close)

	transport := protocol.NewHTTPTransport(protocol.WithTransportLogger(logging.Discard()))
	session, err := auth.NewSession(srv.URL, transport, auth.WithLogger(logging.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	renderer, err := content.NewRenderer(nil, content.Options{Plain: true})
	if err != nil {
		t.Fatal(err)
	}
	m := New(auth.NewSerialized(session), renderer, creds,
		WithLogger(logging.Discard()), WithTimeout(5*time.Second))
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return m, device
}

// drain runs cmd and feeds call and login results back into the model. It
// reports whether a quit was requested.
func drain(t *testing.T, m *Model, cmd tea.Cmd) bool {
	t.Helper()
	if cmd == nil {
		return false
	}
	switch msg := cmd().(type) {
	case tea.BatchMsg:
		quit := false
		for _, c := range msg {
			quit = drain(t, m, c) || quit
		}
		return quit
	case tea.QuitMsg:
		return true
	case callDoneMsg, loginDoneMsg:
		m.Update(msg)
	}
	return false
}

func submit(t *testing.T, m *Model, line string) bool {
	t.Helper()
	m.input.SetValue(line)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return drain(t, m, cmd)
}

func lastEntry(m *Model) string {
	entries := m.Entries()
	if len(entries) == 0 {
		return ""
	}
	return entries[len(entries)-1]
}

func TestConsoleLogsInAndCalls(t *testing.T) {
	m, _ := newConsole(t, Credentials{Username: devicetest.DefaultUsername, Password: devicetest.DefaultPassword})

	drain(t, m, m.Init())
	if m.state != auth.Authenticated {
		t.Fatalf("state after Init = %v", m.state)
	}
	if !strings.Contains(lastEntry(m), "logged in") {
		t.Errorf("login entry = %q", lastEntry(m))
	}

	submit(t, m, "global.getCurrentTime")
	entry := lastEntry(m)
	for _, want := range []string{"› global.getCurrentTime", "#3 ok", devicetest.DefaultTime} {
		if !strings.Contains(entry, want) {
			t.Errorf("entry missing %q:\n%s", want, entry)
		}
	}
	if m.Busy() {
		t.Error("console still busy after the reply")
	}
	if !strings.Contains(m.View(), "session: authenticated") {
		t.Errorf("status bar does not show the session:\n%s", m.View())
	}
}

func TestConsoleScopedCall(t *testing.T) {
	m, device := newConsole(t, Credentials{Username: devicetest.DefaultUsername, Password: devicetest.DefaultPassword})
	drain(t, m, m.Init())

	submit(t, m, `RecordUpdater.factory.instance {"name": "TrafficRedList", /* plates */}`)
	submit(t, m, "#7 RecordUpdater.clear")

	reqs := device.RequestsFor("RecordUpdater.clear")
	if len(reqs) != 1 {
		t.Fatalf("clear requests = %d", len(reqs))
	}
	if reqs[0].Envelope["object"] != float64(7) || reqs[0].Has("params") {
		t.Errorf("clear envelope = %s", reqs[0].Raw)
	}
	if !strings.Contains(lastEntry(m), "ok") {
		t.Errorf("entry = %q", lastEntry(m))
	}
}

func TestConsoleShowsFalsyReply(t *testing.T) {
	m, device := newConsole(t, Credentials{Username: devicetest.DefaultUsername, Password: devicetest.DefaultPassword})
	drain(t, m, m.Init())
	device.Respond("global.setConfig", func(devicetest.Request) devicetest.Reply {
		return devicetest.Reply{"result": false}
	})

	submit(t, m, `global.setConfig {"name":"NTP"}`)
	if !strings.Contains(lastEntry(m), "failed") {
		t.Errorf("falsy reply not marked failed: %q", lastEntry(m))
	}
}

func TestConsoleLoginRejected(t *testing.T) {
	m, _ := newConsole(t, Credentials{Username: devicetest.DefaultUsername, Password: "wrong"})

	drain(t, m, m.Init())
	if m.state != auth.Anonymous {
		t.Errorf("state = %v, want anonymous", m.state)
	}
	if !strings.Contains(lastEntry(m), "reply:") {
		t.Errorf("rejected login does not show the reply: %q", lastEntry(m))
	}
}

func TestConsoleMetaCommands(t *testing.T) {
	m, _ := newConsole(t, Credentials{})

	if cmd := m.Init(); drain(t, m, cmd) {
		t.Fatal("Init quit")
	}
	if len(m.Entries()) != 0 {
		t.Fatalf("Init without credentials logged in: %v", m.Entries())
	}

	submit(t, m, ":help")
	if !strings.Contains(lastEntry(m), ":login") {
		t.Errorf("help entry = %q", lastEntry(m))
	}
	submit(t, m, ":login")
	if !strings.Contains(lastEntry(m), "no username") {
		t.Errorf(":login without user = %q", lastEntry(m))
	}
	submit(t, m, "#7")
	if !strings.Contains(lastEntry(m), "missing method") {
		t.Errorf("parse error entry = %q", lastEntry(m))
	}
	submit(t, m, ":clear")
	if len(m.Entries()) != 0 {
		t.Errorf("entries after :clear = %d", len(m.Entries()))
	}
	if !submit(t, m, ":quit") {
		t.Error(":quit did not quit")
	}
}

func TestConsoleInputHistory(t *testing.T) {
	m, _ := newConsole(t, Credentials{})

	submit(t, m, ":help")
	submit(t, m, ":clear")

	m.Update(tea.KeyMsg{Type: tea.KeyUp})
	if got := m.input.Value(); got != ":clear" {
		t.Errorf("first recall = %q", got)
	}
	m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m.Update(tea.KeyMsg{Type: tea.KeyUp})
	if got := m.input.Value(); got != ":help" {
		t.Errorf("recall past the start = %q", got)
	}
	m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m.Update(tea.KeyMsg{Type: tea.KeyDown})
	if got := m.input.Value(); got != "" {
		t.Errorf("recall past the end = %q", got)
	}
}

type stuckSession struct{}

func (stuckSession) Send(ctx context.Context, _ protocol.Call) (*protocol.Response, error) {
	<-ctx.Done()
	return nil, &protocol.ProtocolError{Kind: protocol.KindTransport, Cause: ctx.Err()}
}
func (stuckSession) Login(context.Context, string, string) error { return errors.New("offline") }
func (stuckSession) Authenticated() bool                         { return false }
func (stuckSession) State() auth.State                           { return auth.Anonymous }
func (stuckSession) Host() string                                { return "http://192.0.2.1" }

func TestConsoleBusyAndSnapshot(t *testing.T) {
	renderer, err := content.NewRenderer(nil, content.Options{Plain: true})
	if err != nil {
		t.Fatal(err)
	}
	m := New(stuckSession{}, renderer, Credentials{}, WithLogger(logging.Discard()), WithTimeout(20*time.Millisecond))

	m.input.SetValue("global.keepAlive")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if !m.Busy() {
		t.Fatal("not busy after submit")
	}
	m.input.SetValue("global.getCurrentTime")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if m.input.Value() != "global.getCurrentTime" {
		t.Error("second submit accepted while busy")
	}

	drain(t, m, cmd)
	if m.Busy() {
		t.Error("still busy after the call timed out")
	}
	if !strings.Contains(lastEntry(m), "✗") {
		t.Errorf("timeout not rendered as an error: %q", lastEntry(m))
	}

	m.Update(SnapshotMsg(monitor.Snapshot{Timestamp: time.Now(), Status: monitor.StatusOffline}))
	if !strings.Contains(m.View(), "keep-alive: offline") {
		t.Errorf("snapshot not shown:\n%s", m.View())
	}
}
