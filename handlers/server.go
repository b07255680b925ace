package handlers

import (
	"github.com/INLOpen/mimir/core"
	"github.com/INLOpen/mimir/logstore"
)

// Publisher assigns a sequence number to an entry and makes it available to
// subscribers.
type Publisher interface {
	Publish(entry core.LogEntry) (uint64, error)
}

// ServerHandler publishes entries to live subscribers.
type ServerHandler struct {
	pub Publisher
}

var _ Handler = (*ServerHandler)(nil)

func NewServerHandler(pub Publisher) *ServerHandler {
	return &ServerHandler{pub: pub}
}

func (h *ServerHandler) Handle(entry core.LogEntry) error {
	_, err := h.pub.Publish(entry)
	return err
}

// Close leaves the publisher running; its owner closes it.
func (h *ServerHandler) Close() error { return nil }

// storePublisher publishes straight into a store, for transports that read
// from the store themselves.
type storePublisher struct {
	store *logstore.Store
}

// StorePublisher adapts store to Publisher.
func StorePublisher(store *logstore.Store) Publisher {
	return storePublisher{store: store}
}

func (p storePublisher) Publish(entry core.LogEntry) (uint64, error) {
	return p.store.Append(entry), nil
}
