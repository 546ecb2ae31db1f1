package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/term"
	"github.com/muesli/termenv"
)

// Palette colors (dark terminal variants).
const (
	colorPrimary = "#fc4c02"
	colorMuted   = "#8a8a8a"
	colorText    = "#e4e4e4"
	colorError   = "#ff5f5f"
	colorWarning = "#ffaf00"
	colorSuccess = "#5fd75f"
)

// Renderer handles styled terminal output.
type Renderer struct {
	width  int
	styled bool // whether to emit ANSI styling

	// Text styles
	Summary lipgloss.Style
	Muted   lipgloss.Style
	Data    lipgloss.Style
	Error   lipgloss.Style
	Hint    lipgloss.Style
	Warning lipgloss.Style
	Success lipgloss.Style

	// Table styles
	Header    lipgloss.Style
	Cell      lipgloss.Style
	CellMuted lipgloss.Style
}

// NewRenderer creates a renderer. Styling is enabled when writing to a TTY,
// or when forceStyled is true, unless NO_COLOR is set.
func NewRenderer(w io.Writer, forceStyled bool) *Renderer {
	width, isTTY := terminalInfo(w)
	styled := (isTTY || forceStyled) && os.Getenv("NO_COLOR") == ""

	r := &Renderer{
		width:  width,
		styled: styled,
	}

	// Piped output is not a TTY, so the profile is set explicitly rather
	// than detected.
	lr := lipgloss.NewRenderer(w)
	if styled {
		lr.SetColorProfile(termenv.ANSI256)
	} else {
		lr.SetColorProfile(termenv.Ascii)
	}
	plain := lr.NewStyle()
	if !styled {
		r.Summary, r.Muted, r.Data = plain, plain, plain
		r.Error, r.Hint, r.Warning, r.Success = plain, plain, plain, plain
		r.Header, r.Cell, r.CellMuted = plain, plain, plain
		return r
	}

	color := func(c string) lipgloss.Style { return plain.Foreground(lipgloss.Color(c)) }
	r.Summary = color(colorPrimary).Bold(true)
	r.Muted = color(colorMuted)
	r.Data = color(colorText)
	r.Error = color(colorError).Bold(true)
	r.Hint = color(colorMuted).Italic(true)
	r.Warning = color(colorWarning)
	r.Success = color(colorSuccess)
	r.Header = color(colorText).Bold(true)
	r.Cell = color(colorText)
	r.CellMuted = color(colorMuted)
	return r
}

// terminalInfo returns the terminal width and whether the writer is a TTY.
func terminalInfo(w io.Writer) (width int, isTTY bool) {
	width = 80 // default

	if f, ok := w.(*os.File); ok {
		if w, _, err := term.GetSize(f.Fd()); err == nil && w >= 40 {
			width = w
		}
		isTTY = term.IsTerminal(f.Fd())
	}

	return width, isTTY
}

// RenderResponse renders a success response to the writer.
func (r *Renderer) RenderResponse(w io.Writer, resp *Response) error {
	var b strings.Builder

	if resp.Summary != "" {
		b.WriteString(r.Summary.Render(resp.Summary))
		b.WriteString("\n\n")
	}

	r.renderData(&b, NormalizeData(resp.Data))

	if len(resp.Breadcrumbs) > 0 {
		b.WriteString("\n")
		r.renderBreadcrumbs(&b, resp.Breadcrumbs)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// RenderError renders an error response to the writer.
func (r *Renderer) RenderError(w io.Writer, resp *ErrorResponse) error {
	var b strings.Builder

	b.WriteString(r.Error.Render("Error: " + resp.Error))
	b.WriteString("\n")

	if resp.Hint != "" {
		b.WriteString(r.Hint.Render("Hint: " + resp.Hint))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (r *Renderer) renderData(b *strings.Builder, data any) {
	switch d := data.(type) {
	case []map[string]any:
		if len(d) == 0 {
			b.WriteString(r.Muted.Render("(no results)"))
			b.WriteString("\n")
			return
		}
		r.renderTable(b, d)

	case map[string]any:
		r.renderObject(b, d)

	case []any:
		if len(d) == 0 {
			b.WriteString(r.Muted.Render("(no results)"))
			b.WriteString("\n")
			return
		}
		for _, item := range d {
			b.WriteString(r.Data.Render("• " + formatCell(item)))
			b.WriteString("\n")
		}

	case string:
		b.WriteString(r.Data.Render(d))
		b.WriteString("\n")

	case nil:
		b.WriteString(r.Muted.Render("(no data)"))
		b.WriteString("\n")

	default:
		b.WriteString(r.Data.Render(fmt.Sprintf("%v", data)))
		b.WriteString("\n")
	}
}

func toMapSlice(slice []any) []map[string]any {
	if len(slice) == 0 {
		return nil
	}
	result := make([]map[string]any, 0, len(slice))
	for _, item := range slice {
		m, ok := item.(map[string]any)
		if !ok {
			return nil
		}
		result = append(result, m)
	}
	return result
}

// Column priority for table rendering (lower = higher priority)
var columnPriority = map[string]int{
	"id":         1,
	"name":       2,
	"status":     3,
	"expires_at": 4,
	"expires_in": 5,
	"scope":      6,
	"source":     7,
	"value":      2,
	"key":        1,
}

// Columns to render in muted style
var mutedColumns = map[string]bool{
	"id":     true,
	"source": true,
}

type column struct {
	key      string
	header   string
	priority int
	muted    bool
	width    int
}

func (r *Renderer) renderTable(b *strings.Builder, data []map[string]any) {
	columns := r.selectColumns(detectColumns(data), data)
	if len(columns) == 0 {
		return
	}

	t := table.New().
		Border(lipgloss.HiddenBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.Header
			}
			if col < len(columns) && columns[col].muted {
				return r.CellMuted
			}
			if col < len(columns) && columns[col].key == "status" && row >= 0 && row < len(data) {
				return r.statusStyle(data[row]["status"])
			}
			return r.Cell
		})

	headers := make([]string, len(columns))
	for i, col := range columns {
		headers[i] = col.header
	}
	t.Headers(headers...)

	for _, item := range data {
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = formatValue(col.key, item[col.key])
		}
		t.Row(row...)
	}

	b.WriteString(t.String())
	b.WriteString("\n")
}

func (r *Renderer) statusStyle(v any) lipgloss.Style {
	switch v {
	case "valid":
		return r.Success
	case "expiring":
		return r.Warning
	default:
		return r.Cell
	}
}

func detectColumns(data []map[string]any) []column {
	if len(data) == 0 {
		return nil
	}

	var cols []column
	for key, val := range data[0] {
		switch val.(type) {
		case map[string]any, []map[string]any:
			continue
		}

		priority := columnPriority[key]
		if priority == 0 {
			priority = 50
		}
		cols = append(cols, column{
			key:      key,
			header:   formatHeader(key),
			priority: priority,
			muted:    mutedColumns[key],
		})
	}

	sort.Slice(cols, func(i, j int) bool {
		if cols[i].priority != cols[j].priority {
			return cols[i].priority < cols[j].priority
		}
		return cols[i].key < cols[j].key
	})
	return cols
}

func (r *Renderer) selectColumns(cols []column, data []map[string]any) []column {
	if len(cols) == 0 {
		return cols
	}

	for i := range cols {
		cols[i].width = lipgloss.Width(cols[i].header)
		for _, row := range data {
			if w := lipgloss.Width(formatValue(cols[i].key, row[cols[i].key])); w > cols[i].width {
				cols[i].width = w
			}
		}
		if cols[i].width > 40 {
			cols[i].width = 40
		}
	}

	// Remove columns until we fit
	padding := 2
	selected := make([]column, len(cols))
	copy(selected, cols)

	for len(selected) > 1 {
		total := 0
		for _, col := range selected {
			total += col.width + padding
		}
		if total <= r.width {
			break
		}
		selected = selected[:len(selected)-1]
	}
	return selected
}

func (r *Renderer) renderObject(b *strings.Builder, data map[string]any) {
	cols := detectColumns([]map[string]any{data})
	if len(cols) == 0 {
		b.WriteString(r.Muted.Render("(no data)"))
		b.WriteString("\n")
		return
	}

	maxLen := 0
	for _, c := range cols {
		if len(c.header) > maxLen {
			maxLen = len(c.header)
		}
	}

	for _, c := range cols {
		label := r.Muted.Render(fmt.Sprintf("%-*s: ", maxLen, c.header))
		style := r.Data
		if c.muted {
			style = r.CellMuted
		}
		b.WriteString(label + style.Render(formatValue(c.key, data[c.key])) + "\n")
	}
}

func (r *Renderer) renderBreadcrumbs(b *strings.Builder, crumbs []Breadcrumb) {
	b.WriteString(r.Muted.Render("Next:"))
	b.WriteString("\n")
	for _, bc := range crumbs {
		cmd := r.Muted.Render("  " + bc.Cmd)
		if bc.Description != "" {
			cmd += r.Muted.Render("  # " + bc.Description)
		}
		b.WriteString(cmd + "\n")
	}
}

func formatHeader(key string) string {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, w := range words {
		if w == "id" {
			words[i] = "ID"
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// formatValue formats a cell, rendering unix timestamps in *_at columns as
// local times.
func formatValue(key string, val any) string {
	if strings.HasSuffix(key, "_at") {
		if secs, ok := val.(float64); ok && secs > 0 {
			return time.Unix(int64(secs), 0).Local().Format("Jan 2, 2006 15:04")
		}
	}
	return formatCell(val)
}

func formatCell(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		if len(v) > 40 {
			return v[:37] + "..."
		}
		return v
	case bool:
		if v {
			return "yes"
		}
		return "no"
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%.2f", v)
	case int, int64:
		return fmt.Sprintf("%d", v)
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, formatCell(item))
		}
		return strings.Join(items, ", ")
	default:
		return fmt.Sprintf("%v", v)
	}
}
