package listeners

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/INLOpen/mimir/hooks"
)

// DropAlerterListener logs a warning for every live entry that is not
// plotted. Useful to spot a projection that does not match the log.
type DropAlerterListener struct {
	logger *slog.Logger
}

// NewDropAlerterListener creates a new listener for dropped entries.
func NewDropAlerterListener(logger *slog.Logger) *DropAlerterListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DropAlerterListener{
		logger: logger.With("component", "DropAlerterListener"),
	}
}

// OnEvent handles the OnEntryDropped event.
func (l *DropAlerterListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	if event.Type() != hooks.EventOnEntryDropped {
		return nil
	}
	payload, ok := event.Payload().(hooks.EntryDroppedPayload)
	if !ok {
		l.logger.Error("Received OnEntryDropped event with incorrect payload type", "payload_type", fmt.Sprintf("%T", event.Payload()))
		return nil
	}
	l.logger.Warn("Live entry dropped",
		"seq_num", payload.Seq,
		"last_applied", payload.LastApplied,
		"reason", payload.Reason,
	)
	return nil
}

// Priority defines the execution order.
func (l *DropAlerterListener) Priority() int { return 100 }

// IsAsync indicates this listener can run in the background.
func (l *DropAlerterListener) IsAsync() bool { return true }
