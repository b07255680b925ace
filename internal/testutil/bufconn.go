// Package testutil holds helpers shared by the transport tests.
package testutil

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

// BufconnTarget is the client target for a Bufconn. The passthrough scheme
// keeps the resolver away from DNS.
const BufconnTarget = "passthrough:///bufnet"

// Bufconn is an in-memory gRPC listener and the dial options that reach it.
type Bufconn struct {
	Listener *bufconn.Listener
}

// NewBufconn starts an in-memory listener that is closed when tb finishes.
// A bufferSize <= 0 selects 1 MiB.
func NewBufconn(tb testing.TB, bufferSize int) *Bufconn {
	tb.Helper()
	if bufferSize <= 0 {
		bufferSize = 1024 * 1024
	}
	lis := bufconn.Listen(bufferSize)
	tb.Cleanup(func() { lis.Close() })
	return &Bufconn{Listener: lis}
}

// DialOptions returns the options routing every connection through the
// listener, followed by extra.
func (b *Bufconn) DialOptions(extra ...grpc.DialOption) []grpc.DialOption {
	opts := []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return b.Listener.DialContext(ctx)
		}),
	}
	return append(opts, extra...)
}
