package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorTaxonomy(t *testing.T) {
	testCases := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"connection", &ConnectionError{Addr: "tcp://localhost:5557", Role: "subscribe", Err: errors.New("refused")}, IsConnectionError},
		{"protocol", &ProtocolError{Op: "snapshot", Msg: "bad payload"}, IsProtocolError},
		{"timeout", &TimeoutError{Op: "snapshot", After: time.Second}, IsTimeoutError},
		{"closed", &ClosedChannelError{Op: "recv"}, IsClosedChannelError},
		{"validation", &ValidationError{Field: "x_key", Message: "empty"}, IsValidationError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.check(tc.err))
			wrapped := fmt.Errorf("session: %w", tc.err)
			assert.True(t, tc.check(wrapped), "wrapped error should still match")
		})
	}
}

func TestErrorTaxonomy_Distinct(t *testing.T) {
	err := &TimeoutError{Op: "snapshot", After: time.Second}
	assert.False(t, IsProtocolError(err))
	assert.False(t, IsConnectionError(err))
	assert.False(t, IsClosedChannelError(err))
}

func TestClosedChannelError_IsSentinel(t *testing.T) {
	err := fmt.Errorf("process: %w", &ClosedChannelError{Op: "process"})
	assert.ErrorIs(t, err, ErrClosedChannel)
	assert.Contains(t, err.Error(), "process: channel closed")
}

func TestConnectionError_Unwrap(t *testing.T) {
	cause := errors.New("no route to host")
	err := &ConnectionError{Addr: "tcp://10.0.0.1:5557", Role: "request", Err: cause}
	assert.ErrorIs(t, err, cause)
}
