// Package logstore is the server-side log: it assigns sequence numbers to
// entries, keeps a bounded history for snapshots and fans new envelopes out
// to live subscribers.
package logstore

import (
	"log/slog"
	"sync"

	"github.com/INLOpen/mimir/core"
)

// Options configures a Store.
type Options struct {
	// MaxLen bounds the history kept for snapshots. 0 keeps everything; a
	// negative value keeps nothing (the store is not persistent).
	MaxLen int
	// SubscriberBuffer is the channel capacity of each subscription.
	SubscriberBuffer int
	Logger           *slog.Logger
}

// record is one retained entry together with its sequence number.
type record struct {
	seq   uint64
	entry core.LogEntry
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	seq     uint64
	history []record // ring buffer when maxLen > 0
	head    int      // index of the oldest record in history
	size    int
	maxLen  int

	pubsub *PubSub
	logger *slog.Logger
}

// New creates an empty Store.
func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		maxLen: opts.MaxLen,
		pubsub: NewPubSub(opts.SubscriberBuffer),
		logger: logger.With("component", "LogStore"),
	}
	if opts.MaxLen > 0 {
		s.history = make([]record, opts.MaxLen)
	}
	return s
}

// Persistent reports whether the store retains history for snapshots.
func (s *Store) Persistent() bool {
	return s.maxLen >= 0
}

// Append assigns the next sequence number to entry, retains it and publishes
// it to subscribers. The entry must not be modified afterwards.
func (s *Store) Append(entry core.LogEntry) uint64 {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.retainLocked(record{seq: seq, entry: entry})
	// Publishing under the write lock keeps delivery order equal to sequence order.
	s.pubsub.Publish(core.Envelope{Seq: seq, Entry: entry})
	s.mu.Unlock()
	return seq
}

func (s *Store) retainLocked(r record) {
	switch {
	case s.maxLen < 0:
		return
	case s.maxLen == 0:
		s.history = append(s.history, r)
		s.size++
	default:
		idx := (s.head + s.size) % s.maxLen
		s.history[idx] = r
		if s.size < s.maxLen {
			s.size++
		} else {
			s.head = (s.head + 1) % s.maxLen
		}
	}
}

// Seq returns the last assigned sequence number.
func (s *Store) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Len returns the number of retained entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Snapshot returns the retained entries that contain every filter key, in
// sequence order, tagged with the last assigned sequence number. Every entry
// with a sequence number <= the returned Seq that is still retained is included.
func (s *Store) Snapshot(filterKeys []string) core.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]core.LogEntry, 0, s.size)
	for i := 0; i < s.size; i++ {
		r := s.at(i)
		if r.entry.HasAll(filterKeys...) {
			entries = append(entries, r.entry)
		}
	}
	s.logger.Debug("Serving snapshot", "seq_num", s.seq, "entries", len(entries), "filter_keys", filterKeys)
	return core.Snapshot{Seq: s.seq, Entries: entries}
}

func (s *Store) at(i int) record {
	if s.maxLen > 0 {
		return s.history[(s.head+i)%s.maxLen]
	}
	return s.history[i]
}

// Subscribe registers a live subscription. Only envelopes appended after this
// call are delivered.
func (s *Store) Subscribe(filter SubscriptionFilter) *Subscription {
	return s.pubsub.Subscribe(filter)
}

// Close closes every subscription.
func (s *Store) Close() {
	s.pubsub.CloseAll()
}
