package core

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError is a custom error type for validation failures.
type ValidationError struct {
	Message string
	Field   string // e.g., "x_key", "subscribe_port"
	Value   string // The invalid value
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s '%s': %s", e.Field, e.Value, e.Message)
}

// ConnectionError reports that a transport endpoint could not be reached.
// It is fatal for the session; retry policy belongs to the caller.
type ConnectionError struct {
	Addr string
	Role string // "subscribe" or "request"
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error (%s) to %s: %v", e.Role, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed or missing response on an exchange.
type ProtocolError struct {
	Op  string
	Msg string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error in %s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("protocol error in %s: %s", e.Op, e.Msg)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TimeoutError reports that an exchange exceeded its deadline. Callers may
// recover from it, but must not ignore it.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

// Timeout lets TimeoutError satisfy the net.Error style timeout check.
func (e *TimeoutError) Timeout() bool { return true }

// ClosedChannelError reports an operation attempted after shutdown.
type ClosedChannelError struct {
	Op string
}

func (e *ClosedChannelError) Error() string {
	if e.Op == "" {
		return "channel closed"
	}
	return fmt.Sprintf("%s: channel closed", e.Op)
}

// Is makes every ClosedChannelError match ErrClosedChannel.
func (e *ClosedChannelError) Is(target error) bool {
	return target == ErrClosedChannel
}

// ErrClosedChannel is the sentinel for use after Close.
var ErrClosedChannel = errors.New("channel closed")

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var validationError *ValidationError
	return errors.As(err, &validationError)
}

// IsConnectionError checks if an error (or any error in its chain) is a ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// IsProtocolError checks if an error is a ProtocolError.
func IsProtocolError(err error) bool {
	var protoErr *ProtocolError
	return errors.As(err, &protoErr)
}

// IsTimeoutError checks if an error is a TimeoutError.
func IsTimeoutError(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr)
}

// IsClosedChannelError checks if an error reports use after close.
func IsClosedChannelError(err error) bool {
	return errors.Is(err, ErrClosedChannel)
}
