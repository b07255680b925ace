// Package handlers fans log entries out to their destinations: the terminal,
// JSON files, compressed files and the live server.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/INLOpen/mimir/core"
)

// Handler receives every entry that passes its filters.
type Handler interface {
	Handle(entry core.LogEntry) error
	Close() error
}

// Dispatcher passes each logged entry to all of its handlers in order.
type Dispatcher struct {
	mu       sync.Mutex
	handlers []Handler
	closed   bool
	logged   uint64
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher. Nil handlers are skipped.
func NewDispatcher(logger *slog.Logger, handlers ...Handler) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{logger: logger.With("component", "Dispatcher")}
	for _, h := range handlers {
		if h != nil {
			d.handlers = append(d.handlers, h)
		}
	}
	return d
}

// Log hands entry to every handler. A failing handler does not stop the
// others; all errors are returned joined.
func (d *Dispatcher) Log(entry core.LogEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return &core.ClosedChannelError{Op: "log"}
	}
	d.logged++
	var errs []error
	for i, h := range d.handlers {
		if err := h.Handle(entry); err != nil {
			d.logger.Warn("Handler failed", "handler", i, "error", err)
			errs = append(errs, fmt.Errorf("handler %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Logged returns the number of entries accepted by Log.
func (d *Dispatcher) Logged() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logged
}

// Close closes every handler once.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	var errs []error
	for _, h := range d.handlers {
		errs = append(errs, h.Close())
	}
	d.logger.Info("Dispatcher closed", "logged", d.logged)
	return errors.Join(errs...)
}

// filtered applies filters before delegating to a Handler.
type filtered struct {
	Handler
	filters []Filter
}

// WithFilters wraps h so that entries pass through filters first. An entry
// rejected by any filter never reaches h.
func WithFilters(h Handler, filters ...Filter) Handler {
	if len(filters) == 0 {
		return h
	}
	return &filtered{Handler: h, filters: filters}
}

func (f *filtered) Handle(entry core.LogEntry) error {
	entry, ok := Apply(entry, f.filters...)
	if !ok {
		return nil
	}
	return f.Handler.Handle(entry)
}
