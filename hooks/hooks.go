package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/INLOpen/mimir/series"
)

// EventType defines the type of a hook event.
type EventType string

const (
	// Session lifecycle events
	EventPreOpenSession   EventType = "PreOpenSession"
	EventPostOpenSession  EventType = "PostOpenSession"
	EventPostCloseSession EventType = "PostCloseSession"

	// Snapshot events
	EventPostSnapshot EventType = "PostSnapshot"

	// Live feed events
	EventPostAppendPoint EventType = "PostAppendPoint"
	EventOnEntryDropped  EventType = "OnEntryDropped"
)

// HookManager defines the interface for managing and triggering hooks.
type HookManager interface {
	// Register adds a listener for a specific event type.
	Register(eventType EventType, listener HookListener)
	// Trigger fires all registered listeners for a given event.
	// Pre events always run synchronously and the first error aborts the
	// operation; Post and On events honour the listener's IsAsync.
	Trigger(ctx context.Context, event HookEvent) error
	// Stop waits for all asynchronous listeners to complete.
	Stop()
}

// HookEvent is the interface that all event objects must implement.
type HookEvent interface {
	Type() EventType
	Payload() interface{}
}

// BaseEvent provides a base implementation for HookEvent.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// HookListener defines the interface for components that want to listen to events.
type HookListener interface {
	// OnEvent is called by the HookManager when a registered event is triggered.
	// Returning an error from a Pre hook cancels the operation. Errors from
	// other hooks are logged.
	OnEvent(ctx context.Context, event HookEvent) error

	// Priority returns the listener's priority. Lower numbers are executed first.
	Priority() int

	// IsAsync indicates if the listener should be called asynchronously.
	IsAsync() bool
}

// PreOpenSessionPayload carries the projection before the session connects.
// Fields are pointers so listeners can rewrite the projection.
type PreOpenSessionPayload struct {
	SessionID  string
	XKey       *string
	YKeys      *[]string
	Persistent *bool
}

// NewPreOpenSessionEvent creates an event for before a session connects.
func NewPreOpenSessionEvent(payload PreOpenSessionPayload) HookEvent {
	return &BaseEvent{eventType: EventPreOpenSession, payload: payload}
}

// PostOpenSessionPayload describes a session that finished opening.
type PostOpenSessionPayload struct {
	SessionID  string
	InitialSeq uint64
	Points     int
	Error      error
}

// NewPostOpenSessionEvent creates an event for after a session opened or failed to.
func NewPostOpenSessionEvent(payload PostOpenSessionPayload) HookEvent {
	return &BaseEvent{eventType: EventPostOpenSession, payload: payload}
}

// PostSnapshotPayload describes a snapshot request.
type PostSnapshotPayload struct {
	SessionID string
	Seq       uint64
	Entries   int
	Points    int
	Duration  time.Duration
	Error     error
}

// NewPostSnapshotEvent creates an event for after a snapshot was fetched.
func NewPostSnapshotEvent(payload PostSnapshotPayload) HookEvent {
	return &BaseEvent{eventType: EventPostSnapshot, payload: payload}
}

// PostAppendPointPayload carries one point appended from the live feed.
// YKeys names the elements of Point.Y.
type PostAppendPointPayload struct {
	SessionID string
	Seq       uint64
	YKeys     []string
	Point     series.Point
}

// NewPostAppendPointEvent creates an event for after a live point was appended.
func NewPostAppendPointEvent(payload PostAppendPointPayload) HookEvent {
	return &BaseEvent{eventType: EventPostAppendPoint, payload: payload}
}

// EntryDroppedPayload describes a live entry that was not plotted.
type EntryDroppedPayload struct {
	SessionID   string
	Seq         uint64
	LastApplied uint64
	Reason      string
}

// NewEntryDroppedEvent creates an event for a dropped live entry.
func NewEntryDroppedEvent(payload EntryDroppedPayload) HookEvent {
	return &BaseEvent{eventType: EventOnEntryDropped, payload: payload}
}

// PostCloseSessionPayload summarises a closed session.
type PostCloseSessionPayload struct {
	SessionID   string
	LastApplied uint64
	Applied     uint64
	Dropped     uint64
}

// NewPostCloseSessionEvent creates an event for after a session closed.
func NewPostCloseSessionEvent(payload PostCloseSessionPayload) HookEvent {
	return &BaseEvent{eventType: EventPostCloseSession, payload: payload}
}

type listenerWithPriority struct {
	listener HookListener
	priority int
}

// DefaultHookManager is a concrete implementation of HookManager.
type DefaultHookManager struct {
	// Listeners per event, kept sorted by priority.
	listeners map[EventType][]*listenerWithPriority
	mu        sync.RWMutex
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// NewHookManager creates a new DefaultHookManager.
func NewHookManager(logger *slog.Logger) HookManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]*listenerWithPriority),
		logger:    logger.With("component", "HookManager"),
	}
}

// Register adds a listener for a specific event type, maintaining priority order.
// Listeners with equal priority run in registration order. The stored slice
// is replaced, never written to, since Trigger iterates it without the lock.
func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &listenerWithPriority{
		listener: listener,
		priority: listener.Priority(),
	}

	l := m.listeners[eventType]
	idx := sort.Search(len(l), func(i int) bool {
		return l[i].priority > item.priority
	})
	m.listeners[eventType] = slices.Insert(slices.Clone(l), idx, item)
}

// Trigger fires all registered listeners for a given event in priority order.
func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	listeners := m.listeners[event.Type()]
	m.mu.RUnlock()

	if len(listeners) == 0 {
		return nil
	}

	isPreHook := strings.HasPrefix(string(event.Type()), "Pre")

	for _, item := range listeners {
		if isPreHook || !item.listener.IsAsync() {
			if isPreHook && item.listener.IsAsync() {
				m.logger.Warn("Listener for Pre-hook requested async execution, but Pre-hooks are always synchronous.", "event", event.Type(), "priority", item.priority)
			}
			if err := item.listener.OnEvent(ctx, event); err != nil {
				if isPreHook {
					return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w", event.Type(), item.priority, err)
				}
				m.logger.Error("Error from synchronous post-hook listener", "event", event.Type(), "priority", item.priority, "error", err)
			}
			continue
		}

		m.wg.Add(1)
		go func(current *listenerWithPriority) {
			defer m.wg.Done()
			if err := current.listener.OnEvent(ctx, event); err != nil {
				m.logger.Error("Error from asynchronous post-hook listener", "event", event.Type(), "priority", current.priority, "error", err)
			}
		}(item)
	}
	return nil
}

// Stop waits for all asynchronous listeners to complete.
func (m *DefaultHookManager) Stop() {
	m.wg.Wait()
}
