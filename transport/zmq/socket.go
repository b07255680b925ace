package zmq

import (
	"context"
	"sync"
	"syscall"
	"time"

	zmq4 "github.com/pebbe/zmq4"

	"github.com/INLOpen/mimir/core"
)

// DefaultPollInterval bounds how long a blocked receive holds the socket
// before checking its context again.
const DefaultPollInterval = 50 * time.Millisecond

// socket serializes access to a zmq4 socket, which must not be used from two
// goroutines at once. Receives poll in short slices so that Close and context
// cancellation are honoured promptly.
type socket struct {
	mu       sync.Mutex
	sock     *zmq4.Socket
	poller   *zmq4.Poller
	interval time.Duration
	closed   bool
}

func newSocket(zctx *zmq4.Context, typ zmq4.Type, interval time.Duration) (*socket, error) {
	sock, err := zctx.NewSocket(typ)
	if err != nil {
		return nil, err
	}
	if err := sock.SetLinger(0); err != nil {
		sock.Close()
		return nil, err
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	poller := zmq4.NewPoller()
	poller.Add(sock, zmq4.POLLIN)
	return &socket{sock: sock, poller: poller, interval: interval}, nil
}

func (s *socket) send(op string, parts ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &core.ClosedChannelError{Op: op}
	}
	_, err := s.sock.SendMessage(parts...)
	return err
}

func (s *socket) recv(ctx context.Context, op string) ([][]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		parts, ready, err := s.tryRecv(op)
		if err != nil {
			return nil, err
		}
		if ready {
			return parts, nil
		}
	}
}

func (s *socket) tryRecv(op string) ([][]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, &core.ClosedChannelError{Op: op}
	}
	polled, err := s.poller.Poll(s.interval)
	if err != nil {
		if zmq4.AsErrno(err) == zmq4.Errno(syscall.EINTR) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(polled) == 0 {
		return nil, false, nil
	}
	parts, err := s.sock.RecvMessageBytes(zmq4.DONTWAIT)
	if err != nil {
		if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return parts, true, nil
}

func (s *socket) endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, _ := s.sock.GetLastEndpoint()
	return ep
}

func (s *socket) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.sock.Close()
}
