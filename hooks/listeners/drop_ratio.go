package listeners

import (
	"context"
	"expvar"
	"io"
	"log/slog"
	"sync"

	"github.com/INLOpen/mimir/hooks"
)

// Process-wide counters; expvar names can only be published once.
var (
	dropMetricsOnce sync.Once
	appliedTotal    *expvar.Int
	droppedTotal    *expvar.Int
)

func initDropMetrics() {
	dropMetricsOnce.Do(func() {
		appliedTotal = expvar.NewInt("mimir_entries_applied_total")
		droppedTotal = expvar.NewInt("mimir_entries_dropped_total")
		expvar.Publish("mimir_drop_ratio", expvar.Func(func() interface{} {
			applied, dropped := appliedTotal.Value(), droppedTotal.Value()
			if applied+dropped == 0 {
				return 0.0
			}
			return float64(dropped) / float64(applied+dropped)
		}))
	})
}

// DropRatioListener counts applied and dropped live entries across all
// sessions of the process and publishes them through expvar.
type DropRatioListener struct {
	logger  *slog.Logger
	applied *expvar.Int
	dropped *expvar.Int
}

// NewDropRatioListener creates a new listener. Register it for both
// EventPostAppendPoint and EventOnEntryDropped.
func NewDropRatioListener(logger *slog.Logger) *DropRatioListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	initDropMetrics()
	return &DropRatioListener{
		logger:  logger.With("component", "DropRatioListener"),
		applied: appliedTotal,
		dropped: droppedTotal,
	}
}

// OnEvent counts the event.
func (l *DropRatioListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	switch event.Type() {
	case hooks.EventPostAppendPoint:
		l.applied.Add(1)
	case hooks.EventOnEntryDropped:
		l.dropped.Add(1)
	case hooks.EventPostCloseSession:
		if p, ok := event.Payload().(hooks.PostCloseSessionPayload); ok {
			l.logger.Info("Session closed", "session_id", p.SessionID,
				"applied", p.Applied, "dropped", p.Dropped,
				"process_applied_total", l.applied.Value(),
				"process_dropped_total", l.dropped.Value())
		}
	}
	return nil
}

// Priority defines the execution order. Lower numbers run first.
func (l *DropRatioListener) Priority() int { return 100 }

// IsAsync is false; the counters are atomic.
func (l *DropRatioListener) IsAsync() bool { return false }
