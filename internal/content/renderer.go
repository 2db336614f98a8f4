// Package content renders device replies, record tables, errors and status
// lines for the terminal. JSON is highlighted with Chroma and everything else
// is styled with Lipgloss.
package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/alecthomas/chroma"
	"github.com/alecthomas/chroma/formatters"
	"github.com/alecthomas/chroma/lexers"
	"github.com/alecthomas/chroma/styles"

	rpcerrors "github.com/devicerpc/rpc2ctl/internal/errors"
	"github.com/devicerpc/rpc2ctl/internal/interfaces"
	"github.com/devicerpc/rpc2ctl/internal/protocol"
)

// Ensure Renderer implements ContentRenderer at compile time.
var _ interfaces.ContentRenderer = (*Renderer)(nil)

// Options controls rendering.
type Options struct {
	// Plain disables colour and highlighting, for pipes and tests.
	Plain        bool
	MaxTableRows int
	Formatter    string
}

// DefaultOptions highlights for a 256 colour terminal.
func DefaultOptions() Options {
	return Options{MaxTableRows: 50, Formatter: "terminal256"}
}

// Renderer implements interfaces.ContentRenderer
type Renderer struct {
	mutex       sync.RWMutex
	highlighter *SyntaxHighlighter
	themes      *ThemeManager
	errors      *rpcerrors.Handler
	options     Options
}

// SyntaxHighlighter highlights JSON with Chroma.
type SyntaxHighlighter struct {
	formatter chroma.Formatter
	style     *chroma.Style
	theme     string
}

// NewRenderer creates a renderer using theme, which may be nil.
func NewRenderer(theme *interfaces.Theme, options Options) (*Renderer, error) {
	if options.MaxTableRows <= 0 {
		options.MaxTableRows = DefaultOptions().MaxTableRows
	}
	switch {
	case options.Plain:
		options.Formatter = "noop"
	case options.Formatter == "":
		options.Formatter = DefaultOptions().Formatter
	}

	syntax := "github"
	if theme != nil && theme.Syntax != "" {
		syntax = theme.Syntax
	}
	highlighter, err := NewSyntaxHighlighter(syntax, options.Formatter)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize syntax highlighter: %w", err)
	}

	r := &Renderer{
		highlighter: highlighter,
		themes:      NewThemeManager(options.Plain),
		errors:      rpcerrors.NewHandler(),
		options:     options,
	}
	if theme != nil {
		r.themes.SetTheme(theme)
	}
	return r, nil
}

// SetTheme switches colours and the syntax style.
func (r *Renderer) SetTheme(theme *interfaces.Theme) error {
	if theme == nil {
		return fmt.Errorf("theme cannot be nil")
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if theme.Syntax != "" {
		if err := r.highlighter.SetTheme(theme.Syntax); err != nil {
			return err
		}
	}
	r.themes.SetTheme(theme)
	return nil
}

// RenderResponse implements interfaces.ContentRenderer
func (r *Renderer) RenderResponse(resp *protocol.Response) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("cannot render a nil response")
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	status := "success"
	mark := "ok"
	if !resp.OK() {
		status, mark = "error", "failed"
	}
	header := r.themes.GetStatusStyle(status).Render(fmt.Sprintf("#%d %s", resp.ID, mark))

	raw := resp.Raw
	if len(raw) == 0 {
		encoded, err := json.Marshal(resp)
		if err != nil {
			return "", fmt.Errorf("encode response: %w", err)
		}
		raw = encoded
	}
	body, err := r.renderJSON(raw)
	if err != nil {
		return "", err
	}
	return header + "\n" + body, nil
}

// RenderJSON pretty prints and highlights any JSON document.
func (r *Renderer) RenderJSON(raw []byte) (string, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.renderJSON(raw)
}

func (r *Renderer) renderJSON(raw []byte) (string, error) {
	var indented bytes.Buffer
	if err := json.Indent(&indented, bytes.TrimSpace(raw), "", "  "); err != nil {
		return "", fmt.Errorf("response is not valid JSON: %w", err)
	}
	highlighted, err := r.highlighter.Highlight(indented.String(), "json")
	if err != nil {
		return indented.String(), nil
	}
	return strings.TrimRight(highlighted, "\n"), nil
}

// RenderError implements interfaces.ContentRenderer
func (r *Renderer) RenderError(err error) string {
	processed := r.errors.Process(err)
	if processed == nil {
		return ""
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	title := processed.Title
	if processed.Code != "" {
		title = fmt.Sprintf("%s [%s]", title, processed.Code)
	}
	lines := []string{
		r.themes.GetErrorStyle().Render("✗ " + title),
		"  " + processed.Message,
	}
	if processed.Hint != "" {
		lines = append(lines, r.themes.GetInfoStyle().Render("  hint: "+processed.Hint))
	}
	return strings.Join(lines, "\n")
}

// RenderStatus implements interfaces.ContentRenderer. kind is one of
// success, error, warning or info.
func (r *Renderer) RenderStatus(kind, message string) string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.themes.GetStatusStyle(kind).Render(message)
}

// RenderRecords lays out found records as a table. Columns are the union of
// record fields in sorted order.
func (r *Renderer) RenderRecords(records []json.RawMessage) (string, error) {
	if len(records) == 0 {
		return r.RenderStatus("info", "no records"), nil
	}

	var rows []map[string]any
	columns := map[string]bool{}
	for i, raw := range records {
		var row map[string]any
		if err := json.Unmarshal(raw, &row); err != nil {
			return "", fmt.Errorf("record %d is not an object: %w", i, err)
		}
		for k := range row {
			columns[k] = true
		}
		rows = append(rows, row)
	}

	table := &Table{}
	for k := range columns {
		table.Headers = append(table.Headers, k)
	}
	sort.Strings(table.Headers)
	for _, row := range rows {
		cells := make([]string, len(table.Headers))
		for i, h := range table.Headers {
			cells[i] = formatCell(row[h])
		}
		table.Rows = append(table.Rows, cells)
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.formatTable(table), nil
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// Table is a header row plus data rows.
type Table struct {
	Headers []string
	Rows    [][]string
}

// formatTable creates formatted table output
func (r *Renderer) formatTable(table *Table) string {
	if len(table.Headers) == 0 {
		return ""
	}

	widths := calculateColumnWidths(table)
	lines := []string{
		r.formatTableRow(table.Headers, widths, true),
		createTableSeparator(widths),
	}

	maxRows := r.options.MaxTableRows
	for i, row := range table.Rows {
		if i >= maxRows {
			lines = append(lines, fmt.Sprintf("... and %d more rows", len(table.Rows)-maxRows))
			break
		}
		lines = append(lines, r.formatTableRow(row, widths, false))
	}
	return strings.Join(lines, "\n")
}

// calculateColumnWidths fits each column to its widest cell within [8, 40].
func calculateColumnWidths(table *Table) []int {
	widths := make([]int, len(table.Headers))
	for i, header := range table.Headers {
		widths[i] = len(header)
	}
	for _, row := range table.Rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}
	for i := range widths {
		if widths[i] < 8 {
			widths[i] = 8
		}
		if widths[i] > 40 {
			widths[i] = 40
		}
	}
	return widths
}

func (r *Renderer) formatTableRow(cells []string, widths []int, isHeader bool) string {
	formatted := make([]string, 0, len(widths))
	for i, width := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		if len(cell) > width {
			cell = cell[:width-3] + "..."
		}
		padded := fmt.Sprintf("%-*s", width, cell)
		if isHeader {
			padded = r.themes.GetTableHeaderStyle().Render(padded)
		}
		formatted = append(formatted, padded)
	}
	return "│ " + strings.Join(formatted, " │ ") + " │"
}

func createTableSeparator(widths []int) string {
	parts := make([]string, len(widths))
	for i, width := range widths {
		parts[i] = strings.Repeat("─", width)
	}
	return "├─" + strings.Join(parts, "─┼─") + "─┤"
}

// NewSyntaxHighlighter resolves a Chroma style and formatter by name, falling
// back to GitHub and the plain formatter.
func NewSyntaxHighlighter(themeName, formatterName string) (*SyntaxHighlighter, error) {
	formatter := formatters.Get(formatterName)
	if formatter == nil {
		formatter = formatters.Fallback
	}
	style := styles.Get(themeName)
	if style == nil {
		style = styles.GitHub
	}
	return &SyntaxHighlighter{formatter: formatter, style: style, theme: themeName}, nil
}

// Highlight applies syntax highlighting to code
func (sh *SyntaxHighlighter) Highlight(code, language string) (string, error) {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}
	var highlighted strings.Builder
	if err := sh.formatter.Format(&highlighted, sh.style, iterator); err != nil {
		return code, err
	}
	return highlighted.String(), nil
}

// SetTheme updates the syntax highlighting theme
func (sh *SyntaxHighlighter) SetTheme(themeName string) error {
	style := styles.Get(themeName)
	if style == nil || (style == styles.Fallback && themeName != style.Name) {
		return fmt.Errorf("theme '%s' not found", themeName)
	}
	sh.style = style
	sh.theme = themeName
	return nil
}
