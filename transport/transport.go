// Package transport defines the channels a session needs from the log server:
// a live subscription delivering envelopes and a request/response channel for
// snapshots. Implementations live in the sub-packages.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/INLOpen/mimir/core"
)

// Role selects which channel Connect opens.
type Role string

const (
	RoleSubscribe Role = "subscribe"
	RoleRequest   Role = "request"
)

// Endpoint is the address of a log server.
type Endpoint struct {
	Host          string
	SubscribePort int
	RequestPort   int
}

// SubscribeAddr returns host:port of the live feed.
func (e Endpoint) SubscribeAddr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.SubscribePort))
}

// RequestAddr returns host:port of the snapshot service.
func (e Endpoint) RequestAddr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.RequestPort))
}

// Addr returns the address used for role.
func (e Endpoint) Addr(role Role) string {
	if role == RoleRequest {
		return e.RequestAddr()
	}
	return e.SubscribeAddr()
}

// RawSnapshot is an undecoded snapshot response: the sequence number and a
// JSON array of entry objects.
type RawSnapshot struct {
	Seq     uint64
	Payload []byte
}

// LiveChannel delivers envelopes in the order the server sent them.
type LiveChannel interface {
	// Recv blocks until the next envelope arrives, ctx is done, or the channel
	// is closed. After Close it returns core.ErrClosedChannel.
	Recv(ctx context.Context) (core.Envelope, error)
	io.Closer
}

// RequestChannel performs snapshot exchanges.
type RequestChannel interface {
	// RequestSnapshot sends one request and waits for one response.
	RequestSnapshot(ctx context.Context, filterKeys []string) (RawSnapshot, error)
	io.Closer
}

// Connector opens channels against a single configured endpoint. Failing to
// reach the endpoint yields a *core.ConnectionError; connectors never retry.
type Connector interface {
	Subscribe(ctx context.Context) (LiveChannel, error)
	Request(ctx context.Context) (RequestChannel, error)
}

// Connect opens the channel for role. The result is a LiveChannel or a
// RequestChannel and must be closed by the caller.
func Connect(ctx context.Context, c Connector, role Role) (io.Closer, error) {
	switch role {
	case RoleSubscribe:
		return c.Subscribe(ctx)
	case RoleRequest:
		return c.Request(ctx)
	default:
		return nil, fmt.Errorf("unknown transport role %q", role)
	}
}
