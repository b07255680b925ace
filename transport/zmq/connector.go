// Package zmq speaks the log server's ZeroMQ protocol: a PUB socket carrying
// [seq, entry] messages and a ROUTER socket answering "ICANHAZ?" snapshot
// requests with [seq, entries].
package zmq

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	zmq4 "github.com/pebbe/zmq4"

	"github.com/INLOpen/mimir/core"
	"github.com/INLOpen/mimir/transport"
)

// Options configures a Connector.
type Options struct {
	Endpoint transport.Endpoint
	// ConnectTimeout bounds the reachability check done before a socket is
	// connected. ZeroMQ itself connects lazily and would never report an
	// unreachable server.
	ConnectTimeout time.Duration
	PollInterval   time.Duration
	Logger         *slog.Logger
}

// Connector opens SUB and DEALER sockets against one server.
type Connector struct {
	opts   Options
	zctx   *zmq4.Context
	logger *slog.Logger
}

var _ transport.Connector = (*Connector)(nil)

// NewConnector creates a Connector with its own ZeroMQ context.
func NewConnector(opts Options) (*Connector, error) {
	zctx, err := zmq4.NewContext()
	if err != nil {
		return nil, err
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		opts:   opts,
		zctx:   zctx,
		logger: logger.With("component", "ZMQConnector"),
	}, nil
}

// Subscribe connects a SUB socket to the live feed.
func (c *Connector) Subscribe(ctx context.Context) (transport.LiveChannel, error) {
	s, err := c.open(ctx, transport.RoleSubscribe, zmq4.SUB, func(sock *zmq4.Socket) error {
		return sock.SetSubscribe("")
	})
	if err != nil {
		return nil, err
	}
	return &liveChannel{sock: s}, nil
}

// Request connects a DEALER socket to the snapshot service.
func (c *Connector) Request(ctx context.Context) (transport.RequestChannel, error) {
	id := uuid.NewString()
	s, err := c.open(ctx, transport.RoleRequest, zmq4.DEALER, func(sock *zmq4.Socket) error {
		return sock.SetIdentity(id)
	})
	if err != nil {
		return nil, err
	}
	return &requestChannel{sock: s, id: id}, nil
}

func (c *Connector) open(ctx context.Context, role transport.Role, typ zmq4.Type, setup func(*zmq4.Socket) error) (*socket, error) {
	addr := c.opts.Endpoint.Addr(role)
	if err := c.checkReachable(ctx, addr); err != nil {
		c.logger.Error("Endpoint unreachable", "role", role, "addr", addr, "error", err)
		return nil, &core.ConnectionError{Addr: addr, Role: string(role), Err: err}
	}

	s, err := newSocket(c.zctx, typ, c.opts.PollInterval)
	if err != nil {
		return nil, &core.ConnectionError{Addr: addr, Role: string(role), Err: err}
	}
	if err := setup(s.sock); err != nil {
		s.close()
		return nil, &core.ConnectionError{Addr: addr, Role: string(role), Err: err}
	}
	if err := s.sock.Connect("tcp://" + addr); err != nil {
		s.close()
		return nil, &core.ConnectionError{Addr: addr, Role: string(role), Err: err}
	}
	c.logger.Info("Connected", "role", role, "addr", addr)
	return s, nil
}

func (c *Connector) checkReachable(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: c.opts.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Close terminates the ZeroMQ context. Every channel opened through the
// connector must be closed first.
func (c *Connector) Close() error {
	return c.zctx.Term()
}

type liveChannel struct {
	sock *socket
}

func (l *liveChannel) Recv(ctx context.Context) (core.Envelope, error) {
	parts, err := l.sock.recv(ctx, "recv")
	if err != nil {
		return core.Envelope{}, err
	}
	return decodeLive(parts)
}

func (l *liveChannel) Close() error {
	return l.sock.close()
}

type requestChannel struct {
	sock *socket
	id   string
}

func (r *requestChannel) RequestSnapshot(ctx context.Context, filterKeys []string) (transport.RawSnapshot, error) {
	frames, err := encodeRequest(filterKeys)
	if err != nil {
		return transport.RawSnapshot{}, err
	}
	if err := r.sock.send("request snapshot", frames); err != nil {
		return transport.RawSnapshot{}, err
	}
	parts, err := r.sock.recv(ctx, "request snapshot")
	if err != nil {
		return transport.RawSnapshot{}, err
	}
	return decodeReply(parts)
}

func (r *requestChannel) Close() error {
	return r.sock.close()
}
