// Package ui renders CLI output: status lines, the ingestion summary table,
// and download progress bars.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// IsTTY reports whether w is attached to a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Writer prints status lines. Colors are dropped when disabled or when the
// destination is not a terminal.
type Writer struct {
	out     io.Writer
	success *color.Color
	warning *color.Color
	failure *color.Color
	info    *color.Color
}

// NewWriter creates a Writer. Color output is enabled only for terminals.
func NewWriter(out io.Writer, noColor bool) *Writer {
	w := &Writer{
		out:     out,
		success: color.New(color.FgGreen),
		warning: color.New(color.FgYellow),
		failure: color.New(color.FgRed),
		info:    color.New(color.FgCyan),
	}
	if noColor || !IsTTY(out) {
		for _, c := range []*color.Color{w.success, w.warning, w.failure, w.info} {
			c.DisableColor()
		}
	}
	return w
}

// Successf prints a success line.
func (w *Writer) Successf(format string, args ...any) {
	_, _ = w.success.Fprintf(w.out, "✓ "+format+"\n", args...)
}

// Warningf prints a warning line.
func (w *Writer) Warningf(format string, args ...any) {
	_, _ = w.warning.Fprintf(w.out, "⚠ "+format+"\n", args...)
}

// Errorf prints an error line.
func (w *Writer) Errorf(format string, args ...any) {
	_, _ = w.failure.Fprintf(w.out, "✗ "+format+"\n", args...)
}

// Infof prints an informational line.
func (w *Writer) Infof(format string, args ...any) {
	_, _ = w.info.Fprintf(w.out, "→ "+format+"\n", args...)
}

// Plainf prints an unstyled line.
func (w *Writer) Plainf(format string, args ...any) {
	_, _ = fmt.Fprintf(w.out, format+"\n", args...)
}
