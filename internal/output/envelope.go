package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/x/term"
)

// Response is the success envelope for JSON output.
type Response struct {
	OK          bool           `json:"ok"`
	Data        any            `json:"data,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	Breadcrumbs []Breadcrumb   `json:"breadcrumbs,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// Breadcrumb is a suggested follow-up action.
type Breadcrumb struct {
	Action      string `json:"action"`
	Cmd         string `json:"cmd"`
	Description string `json:"description"`
}

// ErrorResponse is the error envelope for JSON output.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Code  string `json:"code"`
	Hint  string `json:"hint,omitempty"`
}

// Format specifies the output format.
type Format int

const (
	FormatAuto   Format = iota // Auto-detect: TTY → Styled, non-TTY → JSON
	FormatJSON                 // Full JSON envelope
	FormatStyled               // ANSI styled output (forced, even when piped)
	FormatQuiet                // Data only, no envelope
	FormatIDs                  // One ID per line
)

// ParseFormat maps a config/flag value onto a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "auto":
		return FormatAuto, nil
	case "json":
		return FormatJSON, nil
	case "styled":
		return FormatStyled, nil
	case "quiet":
		return FormatQuiet, nil
	case "ids":
		return FormatIDs, nil
	default:
		return FormatAuto, ErrUsageHint(fmt.Sprintf("unknown format %q", s), "Use one of: auto, json, styled, quiet, ids")
	}
}

// Options controls output behavior.
type Options struct {
	Format Format
	Writer io.Writer
}

// DefaultOptions returns options for standard output.
func DefaultOptions() Options {
	return Options{
		Format: FormatAuto,
		Writer: os.Stdout,
	}
}

// Writer handles all output formatting.
type Writer struct {
	opts Options
}

// New creates a new output writer.
func New(opts Options) *Writer {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	return &Writer{opts: opts}
}

// Format returns the configured format.
func (w *Writer) Format() Format {
	return w.opts.Format
}

// Raw returns the underlying writer, for commands that print bare values.
func (w *Writer) Raw() io.Writer {
	return w.opts.Writer
}

// OK outputs a success response.
func (w *Writer) OK(data any, opts ...ResponseOption) error {
	resp := &Response{OK: true, Data: data}
	for _, opt := range opts {
		opt(resp)
	}
	return w.write(resp)
}

// Err outputs an error response.
func (w *Writer) Err(err error) error {
	e := AsError(err)
	resp := &ErrorResponse{
		OK:    false,
		Error: e.Message,
		Code:  e.Code,
		Hint:  e.Hint,
	}
	return w.write(resp)
}

// EffectiveFormat resolves FormatAuto against the destination.
func (w *Writer) EffectiveFormat() Format {
	// Auto-detect format: TTY → Styled, non-TTY → JSON
	if w.opts.Format == FormatAuto {
		if IsTTY(w.opts.Writer) {
			return FormatStyled
		}
		return FormatJSON
	}
	return w.opts.Format
}

func (w *Writer) write(v any) error {
	switch w.EffectiveFormat() {
	case FormatQuiet:
		if resp, ok := v.(*Response); ok {
			return w.writeJSON(resp.Data)
		}
		return w.writeJSON(v)
	case FormatIDs:
		return w.writeIDs(v)
	case FormatStyled:
		return w.writeStyled(v)
	default:
		return w.writeJSON(v)
	}
}

// IsTTY checks if the writer is a terminal.
func IsTTY(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(f.Fd())
	}
	return false
}

func (w *Writer) writeJSON(v any) error {
	enc := json.NewEncoder(w.opts.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (w *Writer) writeIDs(v any) error {
	resp, ok := v.(*Response)
	if !ok {
		return w.writeJSON(v)
	}

	switch d := NormalizeData(resp.Data).(type) {
	case []map[string]any:
		for _, item := range d {
			if id, ok := item["id"]; ok {
				fmt.Fprintln(w.opts.Writer, formatCell(id))
			}
		}
	case map[string]any:
		if id, ok := d["id"]; ok {
			fmt.Fprintln(w.opts.Writer, formatCell(id))
		}
	}
	return nil
}

// NormalizeData converts typed values to the generic shapes the renderers walk.
func NormalizeData(data any) any {
	if raw, ok := data.(json.RawMessage); ok {
		var unmarshaled any
		if err := json.Unmarshal(raw, &unmarshaled); err == nil {
			return normalizeUnmarshaled(unmarshaled)
		}
		return data
	}

	switch data.(type) {
	case []map[string]any, map[string]any, []any, string, nil:
		return data
	default:
		// Convert structs to maps via a JSON round-trip
		b, err := json.Marshal(data)
		if err != nil {
			return data
		}
		var unmarshaled any
		if err := json.Unmarshal(b, &unmarshaled); err != nil {
			return data
		}
		return normalizeUnmarshaled(unmarshaled)
	}
}

// normalizeUnmarshaled converts []any to []map[string]any if all elements are maps.
func normalizeUnmarshaled(v any) any {
	d, ok := v.([]any)
	if !ok {
		return v
	}
	if len(d) == 0 {
		return []map[string]any{}
	}
	if maps := toMapSlice(d); maps != nil {
		return maps
	}
	return v
}

// writeStyled outputs ANSI styled terminal output.
func (w *Writer) writeStyled(v any) error {
	r := NewRenderer(w.opts.Writer, true)
	switch resp := v.(type) {
	case *Response:
		return r.RenderResponse(w.opts.Writer, resp)
	case *ErrorResponse:
		return r.RenderError(w.opts.Writer, resp)
	default:
		return w.writeJSON(v)
	}
}

// ResponseOption modifies a Response.
type ResponseOption func(*Response)

// WithSummary adds a summary to the response.
func WithSummary(s string) ResponseOption {
	return func(r *Response) { r.Summary = s }
}

// WithBreadcrumbs adds breadcrumbs to the response.
func WithBreadcrumbs(b ...Breadcrumb) ResponseOption {
	return func(r *Response) { r.Breadcrumbs = append(r.Breadcrumbs, b...) }
}

// WithMeta adds metadata to the response.
func WithMeta(key string, value any) ResponseOption {
	return func(r *Response) {
		if r.Meta == nil {
			r.Meta = make(map[string]any)
		}
		r.Meta[key] = value
	}
}
