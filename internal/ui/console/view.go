package console

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/devicerpc/rpc2ctl/internal/auth"
	"github.com/devicerpc/rpc2ctl/internal/ui/components"
)

// header, two rules, input line and status bar
const chromeHeight = 5

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#89B4FA"))

	ruleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C7086"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C7086")).
			Italic(true)
)

// View implements tea.Model
func (m *Model) View() string {
	rule := ruleStyle.Render(strings.Repeat("─", max(m.width, 1)))

	sections := []string{
		m.renderHeader(),
		m.viewport.View(),
		rule,
		m.renderInput(),
		rule,
		m.renderStatusBar(),
	}
	return strings.Join(sections, "\n")
}

func (m *Model) renderHeader() string {
	return headerStyle.Render(fmt.Sprintf("rpc2ctl  %s", m.session.Host()))
}

func (m *Model) renderInput() string {
	if m.busy {
		return m.spinner.View() + " waiting for device"
	}
	return m.input.View()
}

func (m *Model) renderStatusBar() string {
	parts := []string{
		sessionBadge(m.state),
		components.KeepAliveBadge(m.lastProbe, m.haveProbe),
	}
	if m.statusMsg != "" {
		parts = append(parts, hintStyle.Render(m.statusMsg))
	}
	return strings.Join(parts, "  │  ")
}

func sessionBadge(state auth.State) string {
	status := "error"
	switch state {
	case auth.Authenticated:
		status = "success"
	case auth.ChallengeReceived:
		status = "warning"
	}
	return components.RenderStatus(status, "session: "+state.String())
}
