// Package console implements the interactive device console: a Bubble Tea
// program that sends raw RPC2 calls through one shared session and shows the
// replies as highlighted JSON.
package console

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/devicerpc/rpc2ctl/internal/auth"
	"github.com/devicerpc/rpc2ctl/internal/interfaces"
	"github.com/devicerpc/rpc2ctl/internal/logging"
	"github.com/devicerpc/rpc2ctl/internal/monitor"
)

// Session is what the console needs from the shared session.
// *auth.Serialized implements it.
type Session interface {
	interfaces.SessionController
	State() auth.State
	Host() string
}

// Credentials used by the initial login and by :login.
type Credentials struct {
	Username string
	Password string
}

// Model holds the console state.
type Model struct {
	session  Session
	renderer interfaces.ContentRenderer
	creds    Credentials
	timeout  time.Duration
	logger   *logging.Logger

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	entries      []string
	inputHistory []string
	historyIndex int

	busy      bool
	state     auth.State
	lastProbe monitor.Snapshot
	haveProbe bool
	statusMsg string

	width  int
	height int
}

// Option configures a Model.
type Option func(*Model)

// WithTimeout bounds every call issued from the console.
func WithTimeout(d time.Duration) Option {
	return func(m *Model) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithLogger sets the console logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Model) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a console bound to session.
func New(session Session, renderer interfaces.ContentRenderer, creds Credentials, opts ...Option) *Model {
	input := textinput.New()
	input.Placeholder = "[#handle] method [params]   (:help)"
	input.Prompt = "› "
	input.CharLimit = 4096
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	m := &Model{
		session:  session,
		renderer: renderer,
		creds:    creds,
		timeout:  30 * time.Second,
		logger:   logging.GetUILogger(),
		input:    input,
		viewport: viewport.New(80, 20),
		spinner:  spin,
		width:    80,
		height:   24,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state = session.State()
	return m
}

// SnapshotMsg delivers a keep-alive probe result to a running console, e.g.
// from monitor.Config.OnSnapshot via tea.Program.Send.
type SnapshotMsg monitor.Snapshot

// The session state travels with every result so View never waits on the
// session lock while a call is in flight.
type callDoneMsg struct {
	input   Input
	text    string
	elapsed time.Duration
	state   auth.State
	err     error
}

type loginDoneMsg struct {
	state auth.State
	err   error
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	if !m.session.Authenticated() && m.creds.Username != "" {
		cmds = append(cmds, m.startLogin())
	}
	return tea.Batch(cmds...)
}

func (m *Model) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.timeout)
}

// Entries returns the rendered history, oldest first.
func (m *Model) Entries() []string {
	return append([]string(nil), m.entries...)
}

// Busy reports whether a call or login is in flight.
func (m *Model) Busy() bool {
	return m.busy
}
