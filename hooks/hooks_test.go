package hooks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/mimir/series"
)

// mockListener is a mock implementation of HookListener for testing.
type mockListener struct {
	priority int
	// Signalled from OnEvent, for async tests.
	callSignal chan string
	// Records the order of calls, for sync tests.
	callOrder *[]string
	name      string
	returnErr error
	isAsync   bool
	// Runs inside OnEvent, for payload modification tests.
	onEventFunc func(event HookEvent)
	workDelay   time.Duration
}

func (m *mockListener) OnEvent(ctx context.Context, event HookEvent) error {
	if m.workDelay > 0 {
		time.Sleep(m.workDelay)
	}
	if m.onEventFunc != nil {
		m.onEventFunc(event)
	}
	if m.callOrder != nil {
		*m.callOrder = append(*m.callOrder, m.name)
	}
	if m.callSignal != nil {
		m.callSignal <- m.name
	}
	return m.returnErr
}

func (m *mockListener) Priority() int { return m.priority }
func (m *mockListener) IsAsync() bool { return m.isAsync }

func TestNewHookManager(t *testing.T) {
	manager, ok := NewHookManager(nil).(*DefaultHookManager)
	require.True(t, ok)
	assert.NotNil(t, manager.listeners)
	assert.NotNil(t, manager.logger)
}

func TestDefaultHookManager_Register(t *testing.T) {
	manager := NewHookManager(nil).(*DefaultHookManager)

	manager.Register(EventPostAppendPoint, &mockListener{name: "slow", priority: 10})
	manager.Register(EventPostAppendPoint, &mockListener{name: "first", priority: 1})
	manager.Register(EventPostAppendPoint, &mockListener{name: "middle", priority: 5})
	manager.Register(EventPostAppendPoint, &mockListener{name: "middle2", priority: 5})

	var names []string
	for _, l := range manager.listeners[EventPostAppendPoint] {
		names = append(names, l.listener.(*mockListener).name)
	}
	assert.Equal(t, []string{"first", "middle", "middle2", "slow"}, names)
}

func TestDefaultHookManager_RegisterKeepsPublishedSlice(t *testing.T) {
	manager := NewHookManager(nil).(*DefaultHookManager)
	for i, name := range []string{"a", "b", "c"} {
		manager.Register(EventPostAppendPoint, &mockListener{name: name, priority: 10 + i})
	}
	published := manager.listeners[EventPostAppendPoint]

	manager.Register(EventPostAppendPoint, &mockListener{name: "first", priority: 0})

	var names []string
	for _, l := range published {
		names = append(names, l.listener.(*mockListener).name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
	assert.Len(t, manager.listeners[EventPostAppendPoint], 4)
}

func TestDefaultHookManager_RegisterDuringTrigger(t *testing.T) {
	manager := NewHookManager(nil)
	manager.Register(EventOnEntryDropped, &mockListener{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			manager.Register(EventOnEntryDropped, &mockListener{priority: -i})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = manager.Trigger(context.Background(), NewEntryDroppedEvent(EntryDroppedPayload{Seq: uint64(i)}))
		}
	}()
	wg.Wait()
	manager.Stop()
}

func TestDefaultHookManager_Trigger(t *testing.T) {
	t.Run("pre hooks run in priority order", func(t *testing.T) {
		manager := NewHookManager(nil)
		var order []string
		manager.Register(EventPreOpenSession, &mockListener{name: "b", priority: 10, callOrder: &order})
		manager.Register(EventPreOpenSession, &mockListener{name: "a", priority: 1, callOrder: &order})

		xKey := "step"
		require.NoError(t, manager.Trigger(context.Background(), NewPreOpenSessionEvent(PreOpenSessionPayload{XKey: &xKey})))
		assert.Equal(t, []string{"a", "b"}, order)
	})

	t.Run("pre hook error cancels and stops the chain", func(t *testing.T) {
		manager := NewHookManager(nil)
		var order []string
		boom := errors.New("projection not allowed")
		manager.Register(EventPreOpenSession, &mockListener{name: "a", priority: 1, callOrder: &order, returnErr: boom})
		manager.Register(EventPreOpenSession, &mockListener{name: "b", priority: 2, callOrder: &order})

		err := manager.Trigger(context.Background(), NewPreOpenSessionEvent(PreOpenSessionPayload{}))
		require.ErrorIs(t, err, boom)
		assert.Equal(t, []string{"a"}, order)
	})

	t.Run("pre hook can rewrite the payload", func(t *testing.T) {
		manager := NewHookManager(nil)
		manager.Register(EventPreOpenSession, &mockListener{onEventFunc: func(event HookEvent) {
			p := event.Payload().(PreOpenSessionPayload)
			*p.YKeys = append(*p.YKeys, "lr")
		}})

		yKeys := []string{"loss"}
		require.NoError(t, manager.Trigger(context.Background(), NewPreOpenSessionEvent(PreOpenSessionPayload{YKeys: &yKeys})))
		assert.Equal(t, []string{"loss", "lr"}, yKeys)
	})

	t.Run("post hook errors are logged only", func(t *testing.T) {
		manager := NewHookManager(nil)
		var order []string
		manager.Register(EventOnEntryDropped, &mockListener{name: "a", priority: 1, callOrder: &order, returnErr: errors.New("ignored")})
		manager.Register(EventOnEntryDropped, &mockListener{name: "b", priority: 2, callOrder: &order})

		err := manager.Trigger(context.Background(), NewEntryDroppedEvent(EntryDroppedPayload{Seq: 3, Reason: "dropped_stale"}))
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, order)
	})

	t.Run("async post hooks run in the background", func(t *testing.T) {
		manager := NewHookManager(nil)
		signal := make(chan string, 1)
		manager.Register(EventPostAppendPoint, &mockListener{name: "async", isAsync: true, callSignal: signal, workDelay: 20 * time.Millisecond})

		require.NoError(t, manager.Trigger(context.Background(), NewPostAppendPointEvent(PostAppendPointPayload{
			Seq:   1,
			Point: series.Point{X: 1.0, Y: []any{2.0}},
		})))
		manager.Stop()
		select {
		case name := <-signal:
			assert.Equal(t, "async", name)
		default:
			t.Fatal("async listener did not run before Stop returned")
		}
	})

	t.Run("no listeners", func(t *testing.T) {
		manager := NewHookManager(nil)
		assert.NoError(t, manager.Trigger(context.Background(), NewPostCloseSessionEvent(PostCloseSessionPayload{})))
	})
}

func TestDefaultHookManager_ConcurrentTrigger(t *testing.T) {
	manager := NewHookManager(nil)
	var mu sync.Mutex
	count := 0
	manager.Register(EventPostSnapshot, &mockListener{onEventFunc: func(HookEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	}, isAsync: true})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = manager.Trigger(context.Background(), NewPostSnapshotEvent(PostSnapshotPayload{Seq: 1}))
		}()
	}
	wg.Wait()
	manager.Stop()
	assert.Equal(t, 16, count)
}
