package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/INLOpen/mimir/core"
	"github.com/INLOpen/mimir/transport"
)

// Options configures a Connector.
type Options struct {
	// Target is the gRPC dial target, usually host:port.
	Target         string
	ConnectTimeout time.Duration
	// DialOptions are appended to the insecure transport credentials.
	DialOptions []grpc.DialOption
	Logger      *slog.Logger
}

// Connector opens LogStream calls over one client connection.
type Connector struct {
	conn    *grpc.ClientConn
	health  grpc_health_v1.HealthClient
	target  string
	timeout time.Duration
	logger  *slog.Logger
}

var _ transport.Connector = (*Connector)(nil)

// NewConnector creates the client connection. No I/O happens until a channel
// is opened.
func NewConnector(opts Options) (*Connector, error) {
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts.DialOptions...)
	conn, err := grpc.NewClient(opts.Target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", opts.Target, err)
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		conn:    conn,
		health:  grpc_health_v1.NewHealthClient(conn),
		target:  opts.Target,
		timeout: timeout,
		logger:  logger.With("component", "LogStreamClient"),
	}, nil
}

// Close closes the client connection.
func (c *Connector) Close() error {
	return c.conn.Close()
}

// ready waits for the connection and checks that the server reports service
// as SERVING.
func (c *Connector) ready(ctx context.Context, role transport.Role, service string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	connErr := func(err error) error {
		c.logger.Error("Endpoint unreachable", "role", role, "target", c.target, "error", err)
		return &core.ConnectionError{Addr: c.target, Role: string(role), Err: err}
	}

	c.conn.Connect()
	for {
		state := c.conn.GetState()
		if state == connectivity.Ready {
			break
		}
		if state == connectivity.TransientFailure || state == connectivity.Shutdown {
			return connErr(fmt.Errorf("connection state %s", state))
		}
		if !c.conn.WaitForStateChange(ctx, state) {
			return connErr(ctx.Err())
		}
	}

	resp, err := c.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return connErr(err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return connErr(fmt.Errorf("%s is %s", service, resp.GetStatus()))
	}
	return nil
}

// Subscribe opens the live stream. It returns once the server has registered
// the subscription.
func (c *Connector) Subscribe(ctx context.Context) (transport.LiveChannel, error) {
	if err := c.ready(ctx, transport.RoleSubscribe, serviceName); err != nil {
		return nil, err
	}

	// The stream outlives ctx; only the setup below is bounded by it.
	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	stream, err := c.conn.NewStream(streamCtx, &logStreamDesc.Streams[0], subscribeMethod, grpc.CallContentSubtype(codecName))
	if err == nil {
		err = stream.SendMsg(&SubscribeRequest{})
	}
	if err == nil {
		err = stream.CloseSend()
	}
	if err == nil {
		_, err = stream.Header()
	}
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &core.ConnectionError{Addr: c.target, Role: string(transport.RoleSubscribe), Err: err}
	}
	c.logger.Info("Connected", "role", transport.RoleSubscribe, "target", c.target)

	l := &liveChannel{
		target:    c.target,
		stream:    stream,
		cancel:    cancel,
		envelopes: make(chan core.Envelope, 64),
		closed:    make(chan struct{}),
	}
	go l.pump()
	return l, nil
}

// Request checks that the server keeps history and returns a channel for
// Snapshot calls.
func (c *Connector) Request(ctx context.Context) (transport.RequestChannel, error) {
	if err := c.ready(ctx, transport.RoleRequest, snapshotHealthService); err != nil {
		return nil, err
	}
	c.logger.Info("Connected", "role", transport.RoleRequest, "target", c.target)
	return &requestChannel{conn: c.conn, target: c.target}, nil
}

type liveChannel struct {
	target    string
	stream    grpc.ClientStream
	cancel    context.CancelFunc
	envelopes chan core.Envelope

	// err is set before envelopes is closed.
	err       error
	closeOnce sync.Once
	closed    chan struct{}
}

func (l *liveChannel) pump() {
	defer close(l.envelopes)
	for {
		var msg Envelope
		if err := l.stream.RecvMsg(&msg); err != nil {
			l.err = err
			return
		}
		env := core.Envelope{Seq: msg.Seq}
		if entry, err := core.DecodeEntry(msg.Entry); err == nil {
			env.Entry = entry
		}
		select {
		case l.envelopes <- env:
		case <-l.closed:
			return
		}
	}
}

func (l *liveChannel) Recv(ctx context.Context) (core.Envelope, error) {
	select {
	case <-l.closed:
		return core.Envelope{}, &core.ClosedChannelError{Op: "recv"}
	default:
	}
	select {
	case env, ok := <-l.envelopes:
		if !ok {
			return core.Envelope{}, l.streamErr()
		}
		return env, nil
	case <-l.closed:
		return core.Envelope{}, &core.ClosedChannelError{Op: "recv"}
	case <-ctx.Done():
		return core.Envelope{}, ctx.Err()
	}
}

func (l *liveChannel) streamErr() error {
	select {
	case <-l.closed:
		return &core.ClosedChannelError{Op: "recv"}
	default:
	}
	if errors.Is(l.err, io.EOF) {
		return &core.ClosedChannelError{Op: "recv"}
	}
	if status.Code(l.err) == codes.Unavailable {
		return &core.ConnectionError{Addr: l.target, Role: string(transport.RoleSubscribe), Err: l.err}
	}
	return l.err
}

func (l *liveChannel) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.cancel()
	})
	return nil
}

type requestChannel struct {
	mu     sync.Mutex
	conn   *grpc.ClientConn
	target string
	closed bool
}

func (r *requestChannel) RequestSnapshot(ctx context.Context, filterKeys []string) (transport.RawSnapshot, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return transport.RawSnapshot{}, &core.ClosedChannelError{Op: "request snapshot"}
	}

	var resp SnapshotResponse
	err := r.conn.Invoke(ctx, snapshotMethod, &SnapshotRequest{FilterKeys: filterKeys}, &resp, grpc.CallContentSubtype(codecName))
	if err != nil {
		if ctx.Err() != nil {
			return transport.RawSnapshot{}, ctx.Err()
		}
		if status.Code(err) == codes.Unavailable {
			return transport.RawSnapshot{}, &core.ConnectionError{Addr: r.target, Role: string(transport.RoleRequest), Err: err}
		}
		return transport.RawSnapshot{}, &core.ProtocolError{Op: "request snapshot", Msg: status.Convert(err).Message(), Err: err}
	}
	return transport.RawSnapshot{Seq: resp.Seq, Payload: resp.Entries}, nil
}

func (r *requestChannel) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}
