package handlers

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/INLOpen/mimir/core"
)

// JSONHandler writes newline-delimited JSON objects to a writer.
type JSONHandler struct {
	mu sync.Mutex
	w  io.Writer
}

var _ Handler = (*JSONHandler)(nil)

func NewJSONHandler(w io.Writer) *JSONHandler {
	return &JSONHandler{w: w}
}

func (h *JSONHandler) Handle(entry core.LogEntry) error {
	buf := core.BufferPool.Get()
	defer core.BufferPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(entry); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

// Close closes the writer unless it is a standard stream.
func (h *JSONHandler) Close() error {
	return closeUnlessStd(h.w)
}
