package console

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/devicerpc/rpc2ctl/internal/monitor"
	"github.com/devicerpc/rpc2ctl/internal/protocol"
	"github.com/devicerpc/rpc2ctl/internal/ui/components"
)

const helpText = `#<handle> <method> [params]   call a method, optionally on an object
<method> [params]             call a method with no object
params are JSON; comments and trailing commas are accepted
:login   log in again        :clear   clear the history
:help    this text           :quit    leave the console
pgup/pgdown scroll, up/down recall earlier input`

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if cmd := m.handleKey(msg); cmd != nil {
			cmds = append(cmds, cmd)
		}

	case tea.WindowSizeMsg:
		m.setSize(msg.Width, msg.Height)

	case callDoneMsg:
		m.handleCallDone(msg)

	case loginDoneMsg:
		m.handleLoginDone(msg)

	case SnapshotMsg:
		m.lastProbe = monitor.Snapshot(msg)
		m.haveProbe = true

	case spinner.TickMsg:
		if m.busy {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c":
		return tea.Quit

	case "enter":
		line := strings.TrimSpace(m.input.Value())
		if line == "" {
			return nil
		}
		if m.busy {
			m.statusMsg = "waiting for the previous call"
			return nil
		}
		m.input.SetValue("")
		m.pushHistory(line)
		return m.submit(line)

	case "up":
		m.recallHistory(-1)
		return nil

	case "down":
		m.recallHistory(1)
		return nil

	case "pgup", "pgdown", "ctrl+u", "ctrl+d":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

func (m *Model) submit(line string) tea.Cmd {
	m.statusMsg = ""
	in, err := ParseInput(line)
	if err != nil {
		m.appendEntry(m.echo(line), m.renderer.RenderStatus("error", err.Error()))
		return nil
	}

	switch in.Meta {
	case MetaQuit:
		return tea.Quit
	case MetaClear:
		m.entries = nil
		m.refresh()
		return nil
	case MetaHelp:
		m.appendEntry(m.echo(line), helpText)
		return nil
	case MetaLogin:
		if m.creds.Username == "" {
			m.appendEntry(m.echo(line), m.renderer.RenderStatus("error", "no username configured"))
			return nil
		}
		return m.startLogin()
	}

	return m.startCall(line, in)
}

func (m *Model) startCall(line string, in Input) tea.Cmd {
	m.busy = true
	m.logger.Debug("Console call", "method", in.Method, "object", in.Handle.String())

	send := func() tea.Msg {
		ctx, cancel := m.callContext()
		defer cancel()

		start := time.Now()
		resp, err := m.session.Send(ctx, in.Call())
		done := callDoneMsg{input: in, elapsed: time.Since(start), state: m.session.State(), err: err}
		if err != nil {
			done.text = line
			return done
		}
		rendered, err := m.renderer.RenderResponse(resp)
		if err != nil {
			done.err = err
		}
		done.text = line + "\n" + rendered
		return done
	}
	return tea.Batch(m.spinner.Tick, send)
}

func (m *Model) handleCallDone(msg callDoneMsg) {
	m.busy = false
	m.state = msg.state
	head, body, _ := strings.Cut(msg.text, "\n")
	if msg.err != nil {
		m.appendEntry(m.echo(head), m.errorPane(msg.err))
		return
	}
	m.statusMsg = fmt.Sprintf("%s in %s", msg.input.Method, msg.elapsed.Round(time.Millisecond))
	m.appendEntry(m.echo(head), body)
}

func (m *Model) startLogin() tea.Cmd {
	m.busy = true
	creds := m.creds
	login := func() tea.Msg {
		ctx, cancel := m.callContext()
		defer cancel()
		err := m.session.Login(ctx, creds.Username, creds.Password)
		return loginDoneMsg{state: m.session.State(), err: err}
	}
	return tea.Batch(m.spinner.Tick, login)
}

func (m *Model) handleLoginDone(msg loginDoneMsg) {
	m.busy = false
	m.state = msg.state
	if msg.err != nil {
		m.logger.Warn("Console login failed", "host", m.session.Host(), "error", msg.err.Error())
		m.appendEntry(m.echo(MetaLogin), m.errorPane(msg.err))
		return
	}
	m.appendEntry(m.echo(MetaLogin),
		m.renderer.RenderStatus("success", fmt.Sprintf("logged in to %s as %s", m.session.Host(), m.creds.Username)))
}

func (m *Model) errorPane(err error) string {
	var raw string
	var pe *protocol.ProtocolError
	if stderrors.As(err, &pe) {
		raw = pe.RawResponse()
	}
	return components.RenderErrorPane(m.renderer.RenderError(err), raw, m.width)
}

func (m *Model) echo(line string) string {
	return promptStyle.Render("› " + line)
}

func (m *Model) appendEntry(parts ...string) {
	m.entries = append(m.entries, strings.Join(parts, "\n"))
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(strings.Join(m.entries, "\n\n"))
	m.viewport.GotoBottom()
}

func (m *Model) pushHistory(line string) {
	if n := len(m.inputHistory); n == 0 || m.inputHistory[n-1] != line {
		m.inputHistory = append(m.inputHistory, line)
	}
	m.historyIndex = len(m.inputHistory)
}

func (m *Model) recallHistory(step int) {
	if len(m.inputHistory) == 0 {
		return
	}
	idx := m.historyIndex + step
	if idx < 0 {
		idx = 0
	}
	if idx >= len(m.inputHistory) {
		m.historyIndex = len(m.inputHistory)
		m.input.SetValue("")
		return
	}
	m.historyIndex = idx
	m.input.SetValue(m.inputHistory[idx])
	m.input.CursorEnd()
}

func (m *Model) setSize(width, height int) {
	m.width, m.height = width, height
	m.input.Width = max(width-4, 10)
	m.viewport.Width = width
	m.viewport.Height = max(height-chromeHeight, 3)
	m.refresh()
}
