// Package session ties the pieces together: it opens the live subscription,
// seeds the series from a snapshot when the server keeps history, and drives
// the reconciler over the live channel.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/INLOpen/mimir/core"
	"github.com/INLOpen/mimir/hooks"
	"github.com/INLOpen/mimir/reconciler"
	"github.com/INLOpen/mimir/series"
	"github.com/INLOpen/mimir/snapshot"
	"github.com/INLOpen/mimir/transport"
)

// Options configures a Session.
type Options struct {
	// Persistent asks the server for a snapshot before following the live feed.
	Persistent bool
	XKey       string
	YKeys      []string
	// FilterSnapshot sends the projected keys with the snapshot request so the
	// server only returns entries that can be plotted.
	FilterSnapshot  bool
	SnapshotTimeout time.Duration
	DebugOrdering   bool
	TrackDropped    bool
	// Sinks receive every point, snapshot points first, in addition to the
	// session's own buffer.
	Sinks []series.Sink
	// Hooks, when set, is told about the session's lifecycle, every live
	// point and every dropped entry. A PreOpenSession listener may rewrite
	// the projection or refuse the session.
	Hooks  hooks.HookManager
	Logger *slog.Logger
	Tracer trace.Tracer
}

// Session is one subscription to a log server.
type Session struct {
	id         string
	opts       Options
	projector  *series.Projector
	buffer     *series.Buffer
	reconciler *reconciler.Reconciler
	live       transport.LiveChannel

	snapshot    *core.Snapshot
	snapshotErr error

	// Set by the hook sink while Step processes seq.
	pending    series.Point
	hasPending bool

	closeOnce sync.Once
	closeErr  error

	malformed atomic.Uint64

	// logger carries component=Session; childLogger only the session id and
	// is handed to the reconciler and fetcher, which name themselves.
	logger      *slog.Logger
	childLogger *slog.Logger
	tracer      trace.Tracer
}

// Open connects through connector and prepares the session. The live
// subscription is opened before the snapshot is requested so that nothing
// published in between is lost; the reconciler drops what the snapshot
// already covers.
//
// A snapshot timeout is not fatal: the session starts from sequence 0 with an
// empty series and SnapshotErr reports the timeout. Every other error closes
// whatever was opened and is returned.
func Open(ctx context.Context, connector transport.Connector, opts Options) (*Session, error) {
	id := uuid.NewString()
	opts.YKeys = append([]string(nil), opts.YKeys...)
	if opts.Hooks != nil {
		if err := opts.Hooks.Trigger(ctx, hooks.NewPreOpenSessionEvent(hooks.PreOpenSessionPayload{
			SessionID:  id,
			XKey:       &opts.XKey,
			YKeys:      &opts.YKeys,
			Persistent: &opts.Persistent,
		})); err != nil {
			return nil, err
		}
	}

	projector, err := series.NewProjector(opts.XKey, opts.YKeys...)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/INLOpen/mimir/session")
	}

	s := &Session{
		id:        id,
		opts:      opts,
		projector: projector,
		tracer:    tracer,
	}
	s.childLogger = logger.With("session_id", s.id)
	s.logger = s.childLogger.With("component", "Session")

	ctx, span := tracer.Start(ctx, "session.Open", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.Bool("session.persistent", opts.Persistent),
	))
	defer span.End()

	if err := s.open(ctx, connector); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.trigger(ctx, hooks.NewPostOpenSessionEvent(hooks.PostOpenSessionPayload{SessionID: s.id, Error: err}))
		return nil, err
	}
	span.SetAttributes(attribute.Int64("session.initial_seq", int64(s.reconciler.LastApplied())))
	s.trigger(ctx, hooks.NewPostOpenSessionEvent(hooks.PostOpenSessionPayload{
		SessionID:  s.id,
		InitialSeq: s.reconciler.LastApplied(),
		Points:     s.buffer.Load().Len(),
	}))
	return s, nil
}

func (s *Session) open(ctx context.Context, connector transport.Connector) (err error) {
	s.logger.Info("Opening session", "projection", s.projector.String(), "persistent", s.opts.Persistent)

	live, err := connector.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() {
		if err != nil {
			live.Close()
		}
	}()

	var points []series.Point
	var initialSeq uint64
	if s.opts.Persistent {
		start := time.Now()
		snap, err := s.fetchSnapshot(ctx, connector)
		if err == nil {
			points = s.projector.ProjectAll(snap.Entries)
		}
		s.trigger(ctx, snapshotEvent(s.id, snap, len(points), time.Since(start), err))
		switch {
		case err == nil:
			s.snapshot = snap
			initialSeq = snap.Seq
			s.logger.Info("Seeded series from snapshot", "snapshot_seq_num", snap.Seq,
				"entries", len(snap.Entries), "points", len(points))
		case core.IsTimeoutError(err):
			s.snapshotErr = err
			s.logger.Warn("No snapshot obtained, following the live feed from sequence 0", "error", err)
		default:
			return fmt.Errorf("snapshot: %w", err)
		}
	} else {
		s.logger.Info("Server is not persistent, skipping snapshot")
	}

	s.buffer = series.NewBuffer(s.projector.YKeys(), points...)
	sinks := make([]series.Sink, 0, len(s.opts.Sinks)+1)
	sinks = append(sinks, s.buffer)
	for _, extra := range s.opts.Sinks {
		if extra == nil {
			continue
		}
		for _, p := range points {
			extra.Append(p)
		}
		sinks = append(sinks, extra)
	}
	if s.opts.Hooks != nil {
		sinks = append(sinks, series.SinkFunc(func(p series.Point) {
			s.pending, s.hasPending = p, true
		}))
	}

	rec, err := reconciler.New(reconciler.Options{
		InitialSeq:    initialSeq,
		Projector:     s.projector,
		Sink:          series.Tee(sinks...),
		DebugOrdering: s.opts.DebugOrdering,
		TrackDropped:  s.opts.TrackDropped,
		Logger:        s.childLogger,
	})
	if err != nil {
		return err
	}
	s.reconciler = rec
	s.live = live
	return nil
}

func (s *Session) fetchSnapshot(ctx context.Context, connector transport.Connector) (*core.Snapshot, error) {
	req, err := connector.Request(ctx)
	if err != nil {
		return nil, err
	}
	defer req.Close()

	var filterKeys []string
	if s.opts.FilterSnapshot {
		filterKeys = s.projector.Keys()
	}
	fetcher := snapshot.NewFetcher(snapshot.Options{
		Timeout: s.opts.SnapshotTimeout,
		Logger:  s.childLogger,
		Tracer:  s.tracer,
	})
	return fetcher.Fetch(ctx, req, filterKeys)
}

// Step waits for one envelope and processes it. It is meant for drivers that
// call into the session periodically; Run is the blocking alternative. A
// *core.ProtocolError concerns that single envelope and the caller may keep
// stepping.
func (s *Session) Step(ctx context.Context) (reconciler.Decision, error) {
	env, err := s.live.Recv(ctx)
	if err != nil {
		return reconciler.Rejected, err
	}
	lastApplied := s.reconciler.LastApplied()
	decision, err := s.reconciler.Process(env)
	if err != nil || s.opts.Hooks == nil {
		return decision, err
	}

	switch decision {
	case reconciler.Applied:
		if s.hasPending {
			s.trigger(ctx, hooks.NewPostAppendPointEvent(hooks.PostAppendPointPayload{
				SessionID: s.id,
				Seq:       env.Seq,
				YKeys:     s.projector.YKeys(),
				Point:     s.pending,
			}))
			s.pending, s.hasPending = series.Point{}, false
		}
	case reconciler.DroppedStale, reconciler.DroppedIncomplete:
		s.trigger(ctx, hooks.NewEntryDroppedEvent(hooks.EntryDroppedPayload{
			SessionID:   s.id,
			Seq:         env.Seq,
			LastApplied: lastApplied,
			Reason:      decision.String(),
		}))
	}
	return decision, nil
}

// Run processes envelopes until ctx is done or the live channel closes, then
// closes the session. It returns nil when the channel was closed, ctx.Err()
// when the context ended it, and the channel error otherwise. A malformed
// envelope (*core.ProtocolError from the channel) is skipped and counted in
// Malformed; it does not end the session.
func (s *Session) Run(ctx context.Context) error {
	defer s.Close()
	s.logger.Info("Following live feed", "from_seq_num", s.reconciler.LastApplied()+1)

	for {
		_, err := s.Step(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			s.logger.Info("Session cancelled", "last_applied", s.reconciler.LastApplied())
			return ctx.Err()
		}
		if errors.Is(err, core.ErrClosedChannel) {
			s.logger.Info("Live channel closed", "last_applied", s.reconciler.LastApplied())
			return nil
		}
		if core.IsProtocolError(err) {
			s.malformed.Add(1)
			s.logger.Warn("Skipping malformed envelope", "error", err, "last_applied", s.reconciler.LastApplied())
			s.trigger(ctx, hooks.NewEntryDroppedEvent(hooks.EntryDroppedPayload{
				SessionID:   s.id,
				LastApplied: s.reconciler.LastApplied(),
				Reason:      "malformed",
			}))
			continue
		}
		s.logger.Error("Live channel failed", "error", err)
		return err
	}
}

// Close releases the live channel and closes the reconciler. It is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.reconciler.Close()
		s.closeErr = s.live.Close()
		stats := s.reconciler.Stats()
		s.trigger(context.Background(), hooks.NewPostCloseSessionEvent(hooks.PostCloseSessionPayload{
			SessionID:   s.id,
			LastApplied: stats.LastApplied,
			Applied:     stats.Applied,
			Dropped:     stats.Stale + stats.Incomplete + s.malformed.Load(),
		}))
	})
	return s.closeErr
}

// trigger fires a post event. Post hooks cannot fail the session.
func (s *Session) trigger(ctx context.Context, event hooks.HookEvent) {
	if s.opts.Hooks == nil {
		return
	}
	_ = s.opts.Hooks.Trigger(ctx, event)
}

func snapshotEvent(id string, snap *core.Snapshot, points int, took time.Duration, err error) hooks.HookEvent {
	payload := hooks.PostSnapshotPayload{SessionID: id, Points: points, Duration: took, Error: err}
	if snap != nil {
		payload.Seq = snap.Seq
		payload.Entries = len(snap.Entries)
	}
	return hooks.NewPostSnapshotEvent(payload)
}

// Malformed returns how many live envelopes Run skipped because they could
// not be decoded.
func (s *Session) Malformed() uint64 { return s.malformed.Load() }

// ID returns the random session identifier.
func (s *Session) ID() string { return s.id }

// Series returns the latest immutable series.
func (s *Session) Series() *series.Series { return s.buffer.Load() }

// Reconciler exposes the session's reconciler for inspection.
func (s *Session) Reconciler() *reconciler.Reconciler { return s.reconciler }

// Snapshot returns the snapshot the session started from, or nil.
func (s *Session) Snapshot() *core.Snapshot { return s.snapshot }

// SnapshotErr reports why a persistent session started without a snapshot.
func (s *Session) SnapshotErr() error { return s.snapshotErr }
