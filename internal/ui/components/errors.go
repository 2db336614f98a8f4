package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	errorPaneStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("#F38BA8")).
			PaddingLeft(1)

	rawResponseStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#6C7086")).
				Italic(true)
)

// RenderErrorPane frames an already rendered error and, when present, the raw
// device reply that caused it.
func RenderErrorPane(rendered, raw string, width int) string {
	if rendered == "" {
		return ""
	}
	var builder strings.Builder
	builder.WriteString(rendered)
	if raw != "" {
		builder.WriteString("\n")
		builder.WriteString(rawResponseStyle.Render("reply: " + raw))
	}
	style := errorPaneStyle
	if width > 4 {
		style = style.Width(width - 2)
	}
	return style.Render(builder.String())
}
