// Package local connects a session to a logstore.Store in the same process.
package local

import (
	"context"
	"sync"

	"github.com/INLOpen/mimir/core"
	"github.com/INLOpen/mimir/logstore"
	"github.com/INLOpen/mimir/transport"
)

// Connector opens channels straight off a Store.
type Connector struct {
	store *logstore.Store
}

var _ transport.Connector = (*Connector)(nil)

// NewConnector creates a Connector for store.
func NewConnector(store *logstore.Store) *Connector {
	return &Connector{store: store}
}

// Subscribe registers a subscription on the store.
func (c *Connector) Subscribe(ctx context.Context) (transport.LiveChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &liveChannel{sub: c.store.Subscribe(logstore.SubscriptionFilter{}), closed: make(chan struct{})}, nil
}

// Request returns a channel answering snapshots from the store. A store that
// keeps no history refuses the role.
func (c *Connector) Request(ctx context.Context) (transport.RequestChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.store.Persistent() {
		return nil, &core.ConnectionError{Addr: "local", Role: string(transport.RoleRequest), Err: errNotPersistent}
	}
	return &requestChannel{store: c.store}, nil
}

type liveChannel struct {
	sub       *logstore.Subscription
	closeOnce sync.Once
	closed    chan struct{}
}

func (l *liveChannel) Recv(ctx context.Context) (core.Envelope, error) {
	select {
	case <-l.closed:
		return core.Envelope{}, &core.ClosedChannelError{Op: "recv"}
	default:
	}
	select {
	case env, ok := <-l.sub.Updates:
		if !ok {
			return core.Envelope{}, &core.ClosedChannelError{Op: "recv"}
		}
		return env, nil
	case <-l.closed:
		return core.Envelope{}, &core.ClosedChannelError{Op: "recv"}
	case <-ctx.Done():
		return core.Envelope{}, ctx.Err()
	}
}

func (l *liveChannel) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.sub.Close()
	})
	return nil
}

type requestChannel struct {
	mu     sync.Mutex
	store  *logstore.Store
	closed bool
}

func (r *requestChannel) RequestSnapshot(ctx context.Context, filterKeys []string) (transport.RawSnapshot, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return transport.RawSnapshot{}, &core.ClosedChannelError{Op: "request snapshot"}
	}
	if err := ctx.Err(); err != nil {
		return transport.RawSnapshot{}, err
	}
	snap := r.store.Snapshot(filterKeys)
	payload, err := core.EncodeEntries(snap.Entries)
	if err != nil {
		return transport.RawSnapshot{}, err
	}
	return transport.RawSnapshot{Seq: snap.Seq, Payload: payload}, nil
}

func (r *requestChannel) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}
