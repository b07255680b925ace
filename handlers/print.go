package handlers

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/fatih/color"

	"github.com/INLOpen/mimir/core"
)

// Formatter writes a text rendering of entry to w.
type Formatter func(entry core.LogEntry, w io.Writer) error

// Palette holds the colors used by KeyValueFormatter.
type Palette struct {
	Key   *color.Color
	Value *color.Color
	Sep   *color.Color
}

// NewPalette returns the default palette. With noColor set the palette
// prints plain text regardless of the terminal.
func NewPalette(noColor bool) *Palette {
	p := &Palette{
		Key:   color.New(color.FgCyan),
		Value: color.New(color.FgHiWhite),
		Sep:   color.New(color.Faint),
	}
	if noColor {
		p.Key.DisableColor()
		p.Value.DisableColor()
		p.Sep.DisableColor()
	}
	return p
}

// KeyValueFormatter prints "key=value" pairs sorted by key, one entry per
// line.
func KeyValueFormatter(p *Palette) Formatter {
	if p == nil {
		p = NewPalette(false)
	}
	return func(entry core.LogEntry, w io.Writer) error {
		keys := make([]string, 0, len(entry))
		for k := range entry {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i > 0 {
				if _, err := p.Sep.Fprint(w, " "); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintf(w, "%s%s%s", p.Key.Sprint(k), p.Sep.Sprint("="), p.Value.Sprint(entry[k])); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintln(w)
		return err
	}
}

// PrintHandler formats entries onto a writer, os.Stdout by default.
type PrintHandler struct {
	mu        sync.Mutex
	w         io.Writer
	formatter Formatter
}

var _ Handler = (*PrintHandler)(nil)

// NewPrintHandler creates a PrintHandler. A nil formatter uses
// KeyValueFormatter with the default palette.
func NewPrintHandler(w io.Writer, formatter Formatter) *PrintHandler {
	if w == nil {
		w = color.Output
	}
	if formatter == nil {
		formatter = KeyValueFormatter(nil)
	}
	return &PrintHandler{w: w, formatter: formatter}
}

func (h *PrintHandler) Handle(entry core.LogEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.formatter(entry, h.w)
}

// Close closes the writer unless it is a standard stream.
func (h *PrintHandler) Close() error {
	return closeUnlessStd(h.w)
}

func closeUnlessStd(w io.Writer) error {
	if w == os.Stdout || w == os.Stderr || w == color.Output || w == color.Error {
		return nil
	}
	if c, ok := w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
