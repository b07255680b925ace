package logstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/mimir/core"
)

func TestStore_AppendAssignsIncreasingSequence(t *testing.T) {
	s := New(Options{})
	assert.Equal(t, uint64(0), s.Seq())

	assert.Equal(t, uint64(1), s.Append(core.LogEntry{"x": 1}))
	assert.Equal(t, uint64(2), s.Append(core.LogEntry{"x": 2}))
	assert.Equal(t, uint64(2), s.Seq())
	assert.Equal(t, 2, s.Len())
}

func TestStore_SnapshotBounded(t *testing.T) {
	s := New(Options{MaxLen: 3})
	for i := 1; i <= 5; i++ {
		s.Append(core.LogEntry{"x": i})
	}

	snap := s.Snapshot(nil)
	assert.Equal(t, uint64(5), snap.Seq)
	require.Len(t, snap.Entries, 3)
	assert.Equal(t, 3, snap.Entries[0]["x"], "oldest retained entry comes first")
	assert.Equal(t, 5, snap.Entries[2]["x"])
}

func TestStore_SnapshotFilterKeys(t *testing.T) {
	s := New(Options{})
	s.Append(core.LogEntry{"x": 1, "y": 10})
	s.Append(core.LogEntry{"x": 2})
	s.Append(core.LogEntry{"x": 3, "y": 30})

	snap := s.Snapshot([]string{"x", "y"})
	assert.Equal(t, uint64(3), snap.Seq)
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, 3, snap.Entries[1]["x"])
}

func TestStore_NotPersistent(t *testing.T) {
	s := New(Options{MaxLen: -1})
	s.Append(core.LogEntry{"x": 1})

	assert.False(t, s.Persistent())
	snap := s.Snapshot(nil)
	assert.Equal(t, uint64(1), snap.Seq)
	assert.Empty(t, snap.Entries)
}

func TestStore_SubscribeOnlySeesNewEntries(t *testing.T) {
	s := New(Options{})
	s.Append(core.LogEntry{"x": 1})

	sub := s.Subscribe(SubscriptionFilter{})
	defer sub.Close()

	s.Append(core.LogEntry{"x": 2})
	s.Append(core.LogEntry{"x": 3})

	env := <-sub.Updates
	assert.Equal(t, uint64(2), env.Seq)
	env = <-sub.Updates
	assert.Equal(t, uint64(3), env.Seq)
}

func TestPubSub_FilterAndOverflow(t *testing.T) {
	ps := NewPubSub(1)
	sub := ps.Subscribe(SubscriptionFilter{Keys: []string{"loss"}})

	ps.Publish(core.Envelope{Seq: 1, Entry: core.LogEntry{"acc": 1}})
	ps.Publish(core.Envelope{Seq: 2, Entry: core.LogEntry{"loss": 1}})
	ps.Publish(core.Envelope{Seq: 3, Entry: core.LogEntry{"loss": 2}})

	env := <-sub.Updates
	assert.Equal(t, uint64(2), env.Seq)
	assert.Equal(t, uint64(1), sub.Dropped(), "third envelope overflowed the buffer")

	sub.Close()
	_, ok := <-sub.Updates
	assert.False(t, ok, "channel is closed after unsubscribe")
}

func TestStore_CloseClosesSubscriptions(t *testing.T) {
	s := New(Options{})
	sub := s.Subscribe(SubscriptionFilter{})
	s.Close()

	_, ok := <-sub.Updates
	assert.False(t, ok)
}
