package core

import (
	"context"
	"sync"
)

// SequenceTracker records the highest sequence number applied so far and lets
// other goroutines wait until a given number has been reached.
type SequenceTracker struct {
	mu      sync.Mutex
	latest  uint64
	changed chan struct{}
}

// NewSequenceTracker creates a tracker starting at initial.
func NewSequenceTracker(initial uint64) *SequenceTracker {
	return &SequenceTracker{
		latest:  initial,
		changed: make(chan struct{}),
	}
}

// Report records seqNum if it is newer than the latest known value and wakes
// every waiter. Older values are ignored.
func (t *SequenceTracker) Report(seqNum uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if seqNum <= t.latest {
		return
	}
	t.latest = seqNum
	close(t.changed)
	t.changed = make(chan struct{})
}

// WaitFor blocks until the latest reported sequence number is >= seqNum or
// the context is done.
func (t *SequenceTracker) WaitFor(ctx context.Context, seqNum uint64) error {
	for {
		t.mu.Lock()
		if t.latest >= seqNum {
			t.mu.Unlock()
			return nil
		}
		changed := t.changed
		t.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Latest returns the latest reported sequence number.
func (t *SequenceTracker) Latest() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest
}
