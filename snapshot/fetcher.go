// Package snapshot fetches the starting point of a session: a sequence
// number together with the ordered historical entries it covers.
package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/INLOpen/mimir/core"
	"github.com/INLOpen/mimir/transport"
)

const opFetch = "snapshot fetch"

// Options configures a Fetcher.
type Options struct {
	// Timeout bounds a single exchange. Zero waits as long as ctx allows.
	Timeout time.Duration
	Logger  *slog.Logger
	Tracer  trace.Tracer
}

// Fetcher performs snapshot exchanges over a transport.RequestChannel.
type Fetcher struct {
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts Options) *Fetcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/INLOpen/mimir/snapshot")
	}
	return &Fetcher{
		timeout: opts.Timeout,
		logger:  logger.With("component", "SnapshotFetcher"),
		tracer:  tracer,
	}
}

// Fetch sends one snapshot request and waits for the response.
//
// A response that cannot be decoded yields a *core.ProtocolError. Exceeding
// the configured timeout yields a *core.TimeoutError; the caller decides
// whether to continue without a snapshot. Other transport errors are returned
// as they are.
func (f *Fetcher) Fetch(ctx context.Context, ch transport.RequestChannel, filterKeys []string) (*core.Snapshot, error) {
	ctx, span := f.tracer.Start(ctx, "snapshot.Fetch")
	defer span.End()
	span.SetAttributes(attribute.StringSlice("snapshot.filter_keys", filterKeys))

	snap, err := f.fetch(ctx, ch, filterKeys)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("snapshot.seq", int64(snap.Seq)),
		attribute.Int("snapshot.entries", len(snap.Entries)),
	)
	return snap, nil
}

func (f *Fetcher) fetch(ctx context.Context, ch transport.RequestChannel, filterKeys []string) (*core.Snapshot, error) {
	reqCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()
	f.logger.Debug("Requesting snapshot", "filter_keys", filterKeys, "timeout", f.timeout)

	raw, err := ch.RequestSnapshot(reqCtx, filterKeys)
	if err != nil {
		// Only our own deadline becomes a TimeoutError; a cancelled or expired
		// parent context is reported as is.
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			f.logger.Warn("Snapshot request timed out", "timeout", f.timeout)
			return nil, &core.TimeoutError{Op: opFetch, After: f.timeout}
		}
		if core.IsTimeoutError(err) {
			f.logger.Warn("Snapshot request timed out in transport", "error", err)
		}
		return nil, err
	}

	if raw.Payload == nil {
		return nil, &core.ProtocolError{Op: opFetch, Msg: "response carries no payload"}
	}
	entries, err := core.DecodeEntries(raw.Payload)
	if err != nil {
		return nil, &core.ProtocolError{Op: opFetch, Msg: "malformed snapshot payload", Err: err}
	}

	f.logger.Info("Snapshot received", "seq_num", raw.Seq, "entries", len(entries), "elapsed", time.Since(start))
	return &core.Snapshot{Seq: raw.Seq, Entries: entries}, nil
}
