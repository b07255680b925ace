package listeners

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/INLOpen/mimir/core"
	"github.com/INLOpen/mimir/hooks"
)

// Thresholds defines the min/max acceptable values for a plotted key.
type Thresholds struct {
	Min float64
	Max float64
}

// OutlierRule defines the thresholds for one y-key.
type OutlierRule struct {
	Key        string
	Thresholds Thresholds
}

// OutlierDetectionListener warns about live points whose values fall outside
// the configured thresholds. It never rejects a point.
type OutlierDetectionListener struct {
	logger   *slog.Logger
	rules    map[string]Thresholds
	outliers atomic.Uint64
}

// NewOutlierDetectionListener creates a new listener for detecting outliers.
// A later rule for the same key replaces an earlier one.
func NewOutlierDetectionListener(logger *slog.Logger, rules []OutlierRule) *OutlierDetectionListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ruleMap := make(map[string]Thresholds, len(rules))
	for _, rule := range rules {
		ruleMap[rule.Key] = rule.Thresholds
	}
	return &OutlierDetectionListener{
		logger: logger.With("component", "OutlierDetectionListener"),
		rules:  ruleMap,
	}
}

// OnEvent handles PostAppendPoint events.
func (l *OutlierDetectionListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	if event.Type() != hooks.EventPostAppendPoint {
		return nil
	}
	payload, ok := event.Payload().(hooks.PostAppendPointPayload)
	if !ok {
		l.logger.Error("Received PostAppendPoint event with incorrect payload type", "payload_type", fmt.Sprintf("%T", event.Payload()))
		return nil
	}

	for i, key := range payload.YKeys {
		thresholds, ok := l.rules[key]
		if !ok || i >= len(payload.Point.Y) {
			continue
		}
		value, ok := core.Float64(payload.Point.Y[i])
		if !ok {
			continue
		}
		if value < thresholds.Min || value > thresholds.Max {
			l.outliers.Add(1)
			l.logger.Warn("Outlier detected",
				"seq_num", payload.Seq,
				"x", payload.Point.X,
				"key", key,
				"value", value,
				"min_threshold", thresholds.Min,
				"max_threshold", thresholds.Max,
			)
		}
	}
	return nil
}

// Outliers returns how many values were outside their thresholds so far.
func (l *OutlierDetectionListener) Outliers() uint64 { return l.outliers.Load() }

// Priority defines the execution order.
func (l *OutlierDetectionListener) Priority() int { return 100 }

// IsAsync is false so warnings are logged in feed order.
func (l *OutlierDetectionListener) IsAsync() bool { return false }
