package zmq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	zmq4 "github.com/pebbe/zmq4"

	"github.com/INLOpen/mimir/core"
	"github.com/INLOpen/mimir/logstore"
)

// PublisherOptions configures a Publisher.
type PublisherOptions struct {
	// SubscribeBind and RequestBind are ZeroMQ endpoints such as
	// "tcp://*:5557". The request socket is only bound when the store keeps
	// history.
	SubscribeBind string
	RequestBind   string
	PollInterval  time.Duration
	Logger        *slog.Logger
}

// Publisher serves a logstore.Store over ZeroMQ.
type Publisher struct {
	store  *logstore.Store
	zctx   *zmq4.Context
	pub    *socket
	router *socket // nil when the store is not persistent

	// mu keeps sequence assignment and the PUB send in the same order.
	mu     sync.Mutex
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewPublisher binds the sockets.
func NewPublisher(store *logstore.Store, opts PublisherOptions) (*Publisher, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	zctx, err := zmq4.NewContext()
	if err != nil {
		return nil, err
	}
	p := &Publisher{store: store, zctx: zctx, logger: logger.With("component", "ZMQPublisher")}

	p.pub, err = newSocket(zctx, zmq4.PUB, opts.PollInterval)
	if err != nil {
		zctx.Term()
		return nil, err
	}
	if err := p.pub.sock.Bind(opts.SubscribeBind); err != nil {
		p.Close()
		return nil, &core.ConnectionError{Addr: opts.SubscribeBind, Role: "subscribe", Err: err}
	}

	if store.Persistent() {
		p.router, err = newSocket(zctx, zmq4.ROUTER, opts.PollInterval)
		if err != nil {
			p.Close()
			return nil, err
		}
		if err := p.router.sock.Bind(opts.RequestBind); err != nil {
			p.Close()
			return nil, &core.ConnectionError{Addr: opts.RequestBind, Role: "request", Err: err}
		}
	}
	p.logger.Info("Publisher bound", "subscribe", p.SubscribeEndpoint(), "request", p.RequestEndpoint())
	return p, nil
}

// SubscribeEndpoint returns the endpoint the PUB socket is bound to.
func (p *Publisher) SubscribeEndpoint() string { return p.pub.endpoint() }

// RequestEndpoint returns the endpoint of the ROUTER socket, or "" when the
// store keeps no history.
func (p *Publisher) RequestEndpoint() string {
	if p.router == nil {
		return ""
	}
	return p.router.endpoint()
}

// Publish appends entry to the store and broadcasts it.
func (p *Publisher) Publish(entry core.LogEntry) (uint64, error) {
	payload, err := core.EncodeEntry(entry)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	seq := p.store.Append(entry)
	if err := p.pub.send("publish", core.FormatSeq(seq), payload); err != nil {
		return seq, err
	}
	return seq, nil
}

// Serve answers snapshot requests until ctx is done. It returns nil on
// cancellation.
func (p *Publisher) Serve(ctx context.Context) error {
	if p.router == nil {
		<-ctx.Done()
		return nil
	}
	for {
		parts, err := p.router.recv(ctx, "serve snapshot")
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, core.ErrClosedChannel) {
				return nil
			}
			return err
		}
		if len(parts) < 2 {
			continue
		}
		client := parts[0]
		keys, err := decodeRequest(parts[1:])
		if err != nil {
			p.logger.Warn("Ignoring malformed request", "error", err)
			continue
		}
		snap := p.store.Snapshot(keys)
		payload, err := core.EncodeEntries(snap.Entries)
		if err != nil {
			p.logger.Error("Failed to encode snapshot", "error", err)
			continue
		}
		if err := p.router.send("serve snapshot", client, core.FormatSeq(snap.Seq), payload); err != nil {
			p.logger.Warn("Failed to send snapshot", "error", err)
			continue
		}
		p.logger.Debug("Served snapshot", "seq_num", snap.Seq, "entries", len(snap.Entries), "filter_keys", keys)
	}
}

// Close closes the sockets and terminates the ZeroMQ context.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		var errs []error
		if p.pub != nil {
			errs = append(errs, p.pub.close())
		}
		if p.router != nil {
			errs = append(errs, p.router.close())
		}
		errs = append(errs, p.zctx.Term())
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}
