package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/INLOpen/mimir/core"
	"github.com/INLOpen/mimir/series"
)

// State is the lifecycle state of a Reconciler.
type State int

const (
	StateAwaitingEntry State = iota
	StateApplying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingEntry:
		return "awaiting_entry"
	case StateApplying:
		return "applying"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Decision is the outcome of processing one envelope.
type Decision int

const (
	// Applied means the envelope was projected and appended to the sink.
	Applied Decision = iota
	// DroppedStale means seq <= lastApplied.
	DroppedStale
	// DroppedIncomplete means a configured key was missing; lastApplied still advanced.
	DroppedIncomplete
	// Rejected means the reconciler was closed.
	Rejected
)

func (d Decision) String() string {
	switch d {
	case Applied:
		return "applied"
	case DroppedStale:
		return "dropped_stale"
	case DroppedIncomplete:
		return "dropped_incomplete"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Options configures a Reconciler.
type Options struct {
	// InitialSeq is the snapshot sequence number; 0 when no snapshot was taken.
	InitialSeq uint64
	Projector  *series.Projector
	Sink       series.Sink
	// DebugOrdering reports envelopes that arrive after a later live envelope
	// was already applied.
	DebugOrdering bool
	// TrackDropped keeps the sequence numbers of every dropped envelope.
	TrackDropped bool
	Logger       *slog.Logger
}

// Stats is a point-in-time copy of the reconciler counters.
type Stats struct {
	LastApplied uint64 `json:"last_applied"`
	Applied     uint64 `json:"applied"`
	Stale       uint64 `json:"dropped_stale"`
	Incomplete  uint64 `json:"dropped_incomplete"`
	Anomalies   uint64 `json:"ordering_anomalies"`
	State       string `json:"state"`
	// Dropped is nil unless Options.TrackDropped is set.
	Dropped *roaring64.Bitmap `json:"-"`
}

// Reconciler is the single consumer of a live channel. Process must not be
// called concurrently with itself; the accessor methods are safe from any
// goroutine.
type Reconciler struct {
	mu          sync.Mutex
	state       State
	initialSeq  uint64
	lastApplied uint64

	projector *series.Projector
	sink      series.Sink
	tracker   *core.SequenceTracker

	debugOrdering bool
	dropped       *roaring64.Bitmap
	stats         Stats

	logger *slog.Logger
}

// New creates a Reconciler starting at opts.InitialSeq.
func New(opts Options) (*Reconciler, error) {
	if opts.Projector == nil {
		return nil, fmt.Errorf("reconciler: projector is required")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("reconciler: sink is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		state:         StateAwaitingEntry,
		initialSeq:    opts.InitialSeq,
		lastApplied:   opts.InitialSeq,
		projector:     opts.Projector,
		sink:          opts.Sink,
		tracker:       core.NewSequenceTracker(opts.InitialSeq),
		debugOrdering: opts.DebugOrdering,
		logger:        logger.With("component", "Reconciler"),
	}
	if opts.TrackDropped {
		r.dropped = roaring64.New()
	}
	return r, nil
}

// Process applies or drops one envelope. The sink append and the update of
// lastApplied happen together; Close never observes one without the other.
// After Close, Process returns Rejected and a *core.ClosedChannelError.
func (r *Reconciler) Process(env core.Envelope) (Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateClosed {
		return Rejected, &core.ClosedChannelError{Op: "reconciler process"}
	}
	r.state = StateApplying
	defer func() { r.state = StateAwaitingEntry }()

	if env.Seq <= r.lastApplied {
		r.stats.Stale++
		r.markDropped(env.Seq)
		if r.debugOrdering && env.Seq > r.initialSeq && env.Seq < r.lastApplied {
			r.stats.Anomalies++
			r.logger.Warn("Ordering anomaly: envelope arrived after a later one was applied",
				"seq_num", env.Seq, "last_applied", r.lastApplied)
		} else {
			r.logger.Debug("Dropping stale envelope", "seq_num", env.Seq, "last_applied", r.lastApplied)
		}
		return DroppedStale, nil
	}

	pt, ok := r.projector.Project(env.Entry)
	if !ok {
		r.advance(env.Seq)
		r.stats.Incomplete++
		r.markDropped(env.Seq)
		r.logger.Debug("Dropping entry without the projected keys", "seq_num", env.Seq)
		return DroppedIncomplete, nil
	}

	r.sink.Append(pt)
	r.advance(env.Seq)
	r.stats.Applied++
	return Applied, nil
}

func (r *Reconciler) advance(seq uint64) {
	r.lastApplied = seq
	r.tracker.Report(seq)
}

func (r *Reconciler) markDropped(seq uint64) {
	if r.dropped != nil {
		r.dropped.Add(seq)
	}
}

// LastApplied returns the last applied sequence number.
func (r *Reconciler) LastApplied() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastApplied
}

// State returns the current lifecycle state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// WaitApplied blocks until lastApplied >= seq or ctx is done.
func (r *Reconciler) WaitApplied(ctx context.Context, seq uint64) error {
	return r.tracker.WaitFor(ctx, seq)
}

// Stats returns a copy of the counters.
func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.LastApplied = r.lastApplied
	s.State = r.state.String()
	if r.dropped != nil {
		s.Dropped = r.dropped.Clone()
	}
	return s
}

// Close moves the reconciler to StateClosed. It is idempotent.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateClosed {
		return
	}
	r.state = StateClosed
	r.logger.Info("Reconciler closed", "last_applied", r.lastApplied, "applied", r.stats.Applied)
}
