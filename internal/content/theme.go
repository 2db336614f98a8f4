package content

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/devicerpc/rpc2ctl/internal/interfaces"
)

// ThemeManager holds the Lipgloss styles derived from a theme.
type ThemeManager struct {
	currentTheme *interfaces.Theme
	styles       map[string]lipgloss.Style
	plain        bool
}

// NewThemeManager creates the default styles. Plain managers never colour.
func NewThemeManager(plain bool) *ThemeManager {
	tm := &ThemeManager{plain: plain}
	tm.initializeDefaultStyles()
	return tm
}

// SetTheme updates the current theme and rebuilds styles
func (tm *ThemeManager) SetTheme(theme *interfaces.Theme) {
	tm.currentTheme = theme
	tm.buildLipglossStyles()
}

// GetStatusStyle returns styling for status indicators
func (tm *ThemeManager) GetStatusStyle(status string) lipgloss.Style {
	if style, exists := tm.styles["status_"+status]; exists {
		return style
	}
	return tm.styles["status_default"]
}

func (tm *ThemeManager) GetErrorStyle() lipgloss.Style {
	return tm.styles["error"]
}

func (tm *ThemeManager) GetInfoStyle() lipgloss.Style {
	return tm.styles["info"]
}

func (tm *ThemeManager) GetTableHeaderStyle() lipgloss.Style {
	return tm.styles["table_header"]
}

func (tm *ThemeManager) initializeDefaultStyles() {
	if tm.plain {
		tm.styles = map[string]lipgloss.Style{}
		for _, key := range []string{"status_default", "status_success", "status_error", "status_warning",
			"status_info", "error", "info", "table_header"} {
			tm.styles[key] = lipgloss.NewStyle()
		}
		return
	}
	tm.styles = map[string]lipgloss.Style{
		"status_default": lipgloss.NewStyle(),
		"status_success": lipgloss.NewStyle().Foreground(lipgloss.Color("#28a745")),
		"status_error":   lipgloss.NewStyle().Foreground(lipgloss.Color("#dc3545")),
		"status_warning": lipgloss.NewStyle().Foreground(lipgloss.Color("#ffc107")),
		"status_info":    lipgloss.NewStyle().Foreground(lipgloss.Color("#17a2b8")),
		"error":          lipgloss.NewStyle().Foreground(lipgloss.Color("#dc3545")).Bold(true),
		"info":           lipgloss.NewStyle().Foreground(lipgloss.Color("#17a2b8")),
		"table_header":   lipgloss.NewStyle().Bold(true).Underline(true),
	}
}

// buildLipglossStyles recolours the defaults with the theme's colours.
func (tm *ThemeManager) buildLipglossStyles() {
	if tm.currentTheme == nil || tm.plain {
		return
	}
	recolour := func(key, colour string) {
		if colour != "" {
			tm.styles[key] = tm.styles[key].Foreground(lipgloss.Color(colour))
		}
	}
	recolour("status_success", tm.currentTheme.Success)
	recolour("status_error", tm.currentTheme.Error)
	recolour("status_warning", tm.currentTheme.Warning)
	recolour("status_info", tm.currentTheme.Info)
	recolour("error", tm.currentTheme.Error)
	recolour("info", tm.currentTheme.Info)
}
