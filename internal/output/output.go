// Package output provides consistent CLI output formatting.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Writer formats CLI output. Write errors are ignored for console output.
type Writer struct {
	out  io.Writer
	json bool
}

// New creates a Writer for human-readable output.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// NewJSON creates a Writer whose Value output is JSON. Status lines are
// suppressed so stdout stays machine-readable.
func NewJSON(out io.Writer) *Writer {
	return &Writer{out: out, json: true}
}

// IsJSON reports whether the writer emits JSON.
func (w *Writer) IsJSON() bool { return w.json }

// Status prints a message with an icon.
func (w *Writer) Status(icon, msg string) {
	if w.json {
		return
	}
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message.
func (w *Writer) Success(msg string) { w.Status("✅", msg) }

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) { w.Success(fmt.Sprintf(format, args...)) }

// Warning prints a warning.
func (w *Writer) Warning(msg string) { w.Status("⚠️ ", msg) }

// Warningf prints a formatted warning.
func (w *Writer) Warningf(format string, args ...any) { w.Warning(fmt.Sprintf(format, args...)) }

// Error prints an error message.
func (w *Writer) Error(msg string) { w.Status("❌", msg) }

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) { w.Error(fmt.Sprintf(format, args...)) }

// Text writes s verbatim, adding a trailing newline if missing.
func (w *Writer) Text(s string) {
	_, _ = io.WriteString(w.out, s)
	if !strings.HasSuffix(s, "\n") {
		_, _ = io.WriteString(w.out, "\n")
	}
}

// Lines writes one item per line.
func (w *Writer) Lines(items []string) {
	for _, item := range items {
		_, _ = fmt.Fprintln(w.out, item)
	}
}

// Value writes v as indented JSON in JSON mode, otherwise through human.
func (w *Writer) Value(v any, human func(*Writer)) error {
	if w.json {
		enc := json.NewEncoder(w.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(w)
	return nil
}

// Table renders rows under headers with a rounded border.
func (w *Writer) Table(headers []string, rows [][]string) {
	if len(rows) == 0 {
		w.Status("", "(none)")
		return
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("238"))).
		Headers(headers...).
		Rows(rows...)
	_, _ = fmt.Fprintln(w.out, t.String())
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	if !w.json {
		_, _ = fmt.Fprintln(w.out)
	}
}
