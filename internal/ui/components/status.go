// Package components provides small rendering helpers shared by the console
// UI and the command line output.
package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/devicerpc/rpc2ctl/internal/monitor"
)

// statusStyles maps status strings to their corresponding visual style. The
// "error" entry also serves monitor.StatusError.
var statusStyles = map[string]lipgloss.Style{
	"pending":             lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF")),
	"success":             lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1")),
	"error":               lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8")),
	"warning":             lipgloss.NewStyle().Foreground(lipgloss.Color("#FAB387")),
	"info":                lipgloss.NewStyle().Foreground(lipgloss.Color("#89B4FA")),
	monitor.StatusAlive:   lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1")),
	monitor.StatusExpired: lipgloss.NewStyle().Foreground(lipgloss.Color("#FAB387")),
	monitor.StatusOffline: lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8")),
}

// statusIcons maps status strings to their corresponding icon.
var statusIcons = map[string]string{
	"pending":             "…",
	"success":             "✓",
	"error":               "✗",
	"warning":             "!",
	"info":                "i",
	monitor.StatusAlive:   "●",
	monitor.StatusExpired: "◐",
	monitor.StatusOffline: "○",
}

// RenderStatus formats a status message with an icon and color.
func RenderStatus(status, message string) string {
	style, exists := statusStyles[status]
	if !exists {
		style = lipgloss.NewStyle()
	}

	icon, exists := statusIcons[status]
	if !exists {
		icon = "·"
	}

	return style.Render(fmt.Sprintf("%s %s", icon, message))
}

// KeepAliveBadge summarises the latest keep-alive probe for a status bar.
func KeepAliveBadge(snap monitor.Snapshot, ok bool) string {
	if !ok {
		return RenderStatus("pending", "keep-alive: waiting")
	}
	msg := fmt.Sprintf("keep-alive: %s %s at %s",
		snap.Status,
		snap.ResponseTime.Round(time.Millisecond),
		snap.Timestamp.Format("15:04:05"))
	return RenderStatus(snap.Status, msg)
}

// RenderProgressBar creates a textual progress bar.
// - progress: The percentage of completion (0-100).
// - width: The total width of the bar in characters.
func RenderProgressBar(progress int, width int, fillChar, emptyChar string) string {
	if width <= 0 {
		return ""
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	filledWidth := (progress * width) / 100
	emptyWidth := width - filledWidth

	filled := strings.Repeat(fillChar, filledWidth)
	empty := strings.Repeat(emptyChar, emptyWidth)

	return fmt.Sprintf("[%s%s] %3d%%", filled, empty, progress)
}
