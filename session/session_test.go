package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/mimir/core"
	"github.com/INLOpen/mimir/hooks"
	"github.com/INLOpen/mimir/logstore"
	"github.com/INLOpen/mimir/reconciler"
	"github.com/INLOpen/mimir/series"
	"github.com/INLOpen/mimir/transport"
	"github.com/INLOpen/mimir/transport/local"
)

// fakeLive replays a fixed list of envelopes and then reports the channel
// closed. Errors in failures are returned, in order, before the envelopes.
type fakeLive struct {
	mu       sync.Mutex
	failures []error
	queue    []core.Envelope
	closed   bool
}

func (f *fakeLive) Recv(ctx context.Context) (core.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed && len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return core.Envelope{}, err
	}
	if f.closed || len(f.queue) == 0 {
		return core.Envelope{}, &core.ClosedChannelError{Op: "recv"}
	}
	env := f.queue[0]
	f.queue = f.queue[1:]
	return env, nil
}

func (f *fakeLive) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeRequest struct {
	raw    transport.RawSnapshot
	err    error
	block  bool
	keys   []string
	closed bool
}

func (f *fakeRequest) RequestSnapshot(ctx context.Context, filterKeys []string) (transport.RawSnapshot, error) {
	f.keys = filterKeys
	if f.block {
		<-ctx.Done()
		return transport.RawSnapshot{}, ctx.Err()
	}
	return f.raw, f.err
}

func (f *fakeRequest) Close() error {
	f.closed = true
	return nil
}

type fakeConnector struct {
	live         *fakeLive
	req          *fakeRequest
	subscribeErr error
	requestErr   error
	requested    bool
}

func (f *fakeConnector) Subscribe(ctx context.Context) (transport.LiveChannel, error) {
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	return f.live, nil
}

func (f *fakeConnector) Request(ctx context.Context) (transport.RequestChannel, error) {
	f.requested = true
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	return f.req, nil
}

func envelopes(envs ...core.Envelope) *fakeLive {
	return &fakeLive{queue: envs}
}

func TestSession_SnapshotThenLive(t *testing.T) {
	conn := &fakeConnector{
		live: envelopes(
			core.Envelope{Seq: 3, Entry: core.LogEntry{"x": 0.0, "y": 0.0}},
			core.Envelope{Seq: 6, Entry: core.LogEntry{"x": 3.0, "y": 30.0}},
			core.Envelope{Seq: 6, Entry: core.LogEntry{"x": 3.0, "y": 30.0}},
		),
		req: &fakeRequest{raw: transport.RawSnapshot{Seq: 5, Payload: []byte(`[{"x":1,"y":10},{"x":2,"y":20}]`)}},
	}

	s, err := Open(context.Background(), conn, Options{Persistent: true, XKey: "x", YKeys: []string{"y"}})
	require.NoError(t, err)
	assert.NoError(t, s.SnapshotErr())
	assert.True(t, conn.req.closed, "request channel is released after the snapshot")
	require.NotNil(t, s.Snapshot())
	assert.Equal(t, uint64(5), s.Snapshot().Seq)

	require.NoError(t, s.Run(context.Background()))

	got := s.Series()
	assert.Equal(t, []any{1.0, 2.0, 3.0}, got.X())
	assert.Equal(t, []any{10.0, 20.0, 30.0}, got.Y("y"))
	assert.Equal(t, uint64(6), s.Reconciler().LastApplied())
	assert.Equal(t, reconciler.StateClosed, s.Reconciler().State())
}

func TestSession_NotPersistentSkipsSnapshot(t *testing.T) {
	conn := &fakeConnector{
		live: envelopes(core.Envelope{Seq: 1, Entry: core.LogEntry{"x": 5, "y": 50}}),
	}

	s, err := Open(context.Background(), conn, Options{Persistent: false, XKey: "x", YKeys: []string{"y"}})
	require.NoError(t, err)
	assert.False(t, conn.requested, "no request channel is opened")
	assert.Equal(t, 0, s.Series().Len())
	assert.Equal(t, uint64(0), s.Reconciler().LastApplied())

	d, err := s.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reconciler.Applied, d)
	assert.Equal(t, []any{5}, s.Series().X())
	require.NoError(t, s.Close())
}

func TestSession_SnapshotTimeoutFallsBack(t *testing.T) {
	conn := &fakeConnector{
		live: envelopes(core.Envelope{Seq: 2, Entry: core.LogEntry{"x": 1, "y": 1}}),
		req:  &fakeRequest{block: true},
	}

	s, err := Open(context.Background(), conn, Options{
		Persistent:      true,
		XKey:            "x",
		YKeys:           []string{"y"},
		SnapshotTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Error(t, s.SnapshotErr(), "caller is told that no snapshot was obtained")
	assert.True(t, core.IsTimeoutError(s.SnapshotErr()))
	assert.Nil(t, s.Snapshot())
	assert.Equal(t, uint64(0), s.Reconciler().LastApplied())

	d, err := s.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reconciler.Applied, d)
	require.NoError(t, s.Close())
}

func TestSession_FatalErrorsReleaseLiveChannel(t *testing.T) {
	testCases := []struct {
		name  string
		conn  *fakeConnector
		check func(error) bool
	}{
		{
			name:  "null snapshot",
			conn:  &fakeConnector{live: envelopes(), req: &fakeRequest{raw: transport.RawSnapshot{Seq: 7, Payload: []byte(`null`)}}},
			check: core.IsProtocolError,
		},
		{
			name:  "malformed snapshot",
			conn:  &fakeConnector{live: envelopes(), req: &fakeRequest{raw: transport.RawSnapshot{Seq: 1, Payload: []byte(`nope`)}}},
			check: core.IsProtocolError,
		},
		{
			name: "request endpoint unreachable",
			conn: &fakeConnector{live: envelopes(), requestErr: &core.ConnectionError{
				Addr: "tcp://localhost:5556", Role: "request", Err: errors.New("refused")}},
			check: core.IsConnectionError,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := Open(context.Background(), tc.conn, Options{Persistent: true, XKey: "x", YKeys: []string{"y"}})
			require.Error(t, err)
			assert.Nil(t, s)
			assert.True(t, tc.check(err), "unexpected error: %v", err)
			assert.True(t, tc.conn.live.closed, "live channel must be closed on error paths")
		})
	}
}

func TestSession_SubscribeConnectionError(t *testing.T) {
	conn := &fakeConnector{subscribeErr: &core.ConnectionError{Addr: "tcp://nowhere:5557", Role: "subscribe", Err: errors.New("no such host")}}
	_, err := Open(context.Background(), conn, Options{XKey: "x", YKeys: []string{"y"}})
	require.Error(t, err)
	assert.True(t, core.IsConnectionError(err))
}

func TestSession_InvalidProjection(t *testing.T) {
	_, err := Open(context.Background(), &fakeConnector{live: envelopes()}, Options{XKey: "x"})
	require.Error(t, err)
	assert.True(t, core.IsValidationError(err))
}

func TestSession_ExtraSinksSeeSnapshotFirst(t *testing.T) {
	var got []any
	sink := series.SinkFunc(func(p series.Point) { got = append(got, p.X) })
	conn := &fakeConnector{
		live: envelopes(core.Envelope{Seq: 8, Entry: core.LogEntry{"x": 3.0, "y": 3.0}}),
		req:  &fakeRequest{raw: transport.RawSnapshot{Seq: 7, Payload: []byte(`[{"x":1,"y":1},{"x":2},{"x":2,"y":2}]`)}},
	}

	s, err := Open(context.Background(), conn, Options{
		Persistent:     true,
		XKey:           "x",
		YKeys:          []string{"y"},
		FilterSnapshot: true,
		Sinks:          []series.Sink{sink},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, conn.req.keys)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []any{1.0, 2.0, 3.0}, got)
}

func TestSession_StepAfterCloseIsRejected(t *testing.T) {
	conn := &fakeConnector{live: envelopes(core.Envelope{Seq: 1, Entry: core.LogEntry{"x": 1, "y": 1}})}
	s, err := Open(context.Background(), conn, Options{XKey: "x", YKeys: []string{"y"}})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	d, err := s.Step(context.Background())
	assert.Equal(t, reconciler.Rejected, d)
	assert.ErrorIs(t, err, core.ErrClosedChannel)
}

func TestSession_LocalStoreEndToEnd(t *testing.T) {
	store := logstore.New(logstore.Options{MaxLen: 100})
	// Snapshot entries travel as JSON, so numbers come back as float64.
	store.Append(core.LogEntry{"step": 1.0, "loss": 0.9})
	store.Append(core.LogEntry{"step": 2.0, "loss": 0.7})
	store.Append(core.LogEntry{"note": "checkpoint"})

	s, err := Open(context.Background(), local.NewConnector(store), Options{
		Persistent: true,
		XKey:       "step",
		YKeys:      []string{"loss"},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), s.Reconciler().LastApplied())
	assert.Equal(t, 2, s.Series().Len())

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	store.Append(core.LogEntry{"step": 3.0, "loss": 0.5})
	store.Append(core.LogEntry{"step": 4.0})
	store.Append(core.LogEntry{"step": 5.0, "loss": 0.4})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, s.Reconciler().WaitApplied(waitCtx, 6))

	cancel()
	assert.ErrorIs(t, <-runErr, context.Canceled)

	got := s.Series()
	assert.Equal(t, []any{1.0, 2.0, 3.0, 5.0}, got.X())
	assert.Equal(t, []any{0.9, 0.7, 0.5, 0.4}, got.Y("loss"))
}

type recordingListener struct {
	mu     sync.Mutex
	events []hooks.HookEvent
	err    error
}

func (l *recordingListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return l.err
}

func (l *recordingListener) Priority() int { return 0 }
func (l *recordingListener) IsAsync() bool { return false }

func (l *recordingListener) types() []hooks.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []hooks.EventType
	for _, e := range l.events {
		out = append(out, e.Type())
	}
	return out
}

func TestSession_Hooks(t *testing.T) {
	conn := &fakeConnector{
		live: envelopes(
			core.Envelope{Seq: 2, Entry: core.LogEntry{"x": 0.0, "y": 0.0}},
			core.Envelope{Seq: 3, Entry: core.LogEntry{"x": 3.0, "y": 30.0}},
			core.Envelope{Seq: 4, Entry: core.LogEntry{"x": 4.0}},
		),
		req: &fakeRequest{raw: transport.RawSnapshot{Seq: 2, Payload: []byte(`[{"x":1,"y":10},{"x":2,"y":20}]`)}},
	}
	rec := &recordingListener{}
	manager := hooks.NewHookManager(nil)
	for _, et := range []hooks.EventType{
		hooks.EventPreOpenSession, hooks.EventPostSnapshot, hooks.EventPostOpenSession,
		hooks.EventPostAppendPoint, hooks.EventOnEntryDropped, hooks.EventPostCloseSession,
	} {
		manager.Register(et, rec)
	}

	s, err := Open(context.Background(), conn, Options{Persistent: true, XKey: "x", YKeys: []string{"y"}, Hooks: manager})
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))
	manager.Stop()

	assert.Equal(t, []hooks.EventType{
		hooks.EventPreOpenSession,
		hooks.EventPostSnapshot,
		hooks.EventPostOpenSession,
		hooks.EventOnEntryDropped,
		hooks.EventPostAppendPoint,
		hooks.EventOnEntryDropped,
		hooks.EventPostCloseSession,
	}, rec.types())

	snap := rec.events[1].Payload().(hooks.PostSnapshotPayload)
	assert.Equal(t, uint64(2), snap.Seq)
	assert.Equal(t, 2, snap.Points)

	appended := rec.events[4].Payload().(hooks.PostAppendPointPayload)
	assert.Equal(t, uint64(3), appended.Seq)
	assert.Equal(t, []string{"y"}, appended.YKeys)
	assert.Equal(t, series.Point{X: 3.0, Y: []any{30.0}}, appended.Point)

	assert.Equal(t, "dropped_stale", rec.events[3].Payload().(hooks.EntryDroppedPayload).Reason)
	assert.Equal(t, "dropped_incomplete", rec.events[5].Payload().(hooks.EntryDroppedPayload).Reason)

	closed := rec.events[6].Payload().(hooks.PostCloseSessionPayload)
	assert.Equal(t, uint64(4), closed.LastApplied)
	assert.Equal(t, uint64(1), closed.Applied)
	assert.Equal(t, uint64(2), closed.Dropped)
}

type projectionRewriter struct{}

func (projectionRewriter) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	p := event.Payload().(hooks.PreOpenSessionPayload)
	if *p.XKey == "forbidden" {
		return errors.New("projection refused")
	}
	*p.YKeys = append(*p.YKeys, "z")
	*p.Persistent = false
	return nil
}

func (projectionRewriter) Priority() int { return 0 }
func (projectionRewriter) IsAsync() bool { return false }

func TestSession_PreOpenHook(t *testing.T) {
	manager := hooks.NewHookManager(nil)
	manager.Register(hooks.EventPreOpenSession, projectionRewriter{})

	yKeys := []string{"y"}
	conn := &fakeConnector{live: envelopes()}
	s, err := Open(context.Background(), conn, Options{Persistent: true, XKey: "x", YKeys: yKeys, Hooks: manager})
	require.NoError(t, err)
	assert.Equal(t, []string{"y", "z"}, s.Series().YKeys())
	assert.False(t, conn.requested, "the hook turned the session non persistent")
	assert.Equal(t, []string{"y"}, yKeys, "caller's slice is untouched")
	require.NoError(t, s.Close())

	_, err = Open(context.Background(), &fakeConnector{live: envelopes()}, Options{XKey: "forbidden", YKeys: yKeys, Hooks: manager})
	require.ErrorContains(t, err, "projection refused")
}

func TestSession_RunSkipsMalformedEnvelopes(t *testing.T) {
	live := envelopes(core.Envelope{Seq: 1, Entry: core.LogEntry{"x": 1.0, "y": 2.0}})
	live.failures = []error{
		&core.ProtocolError{Op: "recv", Msg: "bad sequence frame"},
		&core.ProtocolError{Op: "recv", Msg: "expected 2 frames, got 3"},
	}
	s, err := Open(context.Background(), &fakeConnector{live: live}, Options{XKey: "x", YKeys: []string{"y"}})
	require.NoError(t, err)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []any{1.0}, s.Series().X())
	assert.Equal(t, uint64(1), s.Reconciler().LastApplied())
	assert.Equal(t, uint64(2), s.Malformed())
}

func TestSession_RunStopsOnConnectionError(t *testing.T) {
	live := envelopes(core.Envelope{Seq: 1, Entry: core.LogEntry{"x": 1.0, "y": 2.0}})
	live.failures = []error{&core.ConnectionError{Addr: "tcp://localhost:5557", Role: "subscribe", Err: errors.New("reset")}}
	s, err := Open(context.Background(), &fakeConnector{live: live}, Options{XKey: "x", YKeys: []string{"y"}})
	require.NoError(t, err)

	err = s.Run(context.Background())
	assert.True(t, core.IsConnectionError(err), "unexpected error: %v", err)
	assert.Equal(t, 0, s.Series().Len())
	assert.True(t, live.closed)
}

func TestSession_LogLinesNameOneComponent(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	conn := &fakeConnector{
		live: envelopes(core.Envelope{Seq: 3, Entry: core.LogEntry{"x": 0.0, "y": 0.0}}),
		req:  &fakeRequest{raw: transport.RawSnapshot{Seq: 5, Payload: []byte(`[{"x":1,"y":10}]`)}},
	}
	s, err := Open(context.Background(), conn, Options{Persistent: true, XKey: "x", YKeys: []string{"y"}, Logger: logger})
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	components := map[string]bool{}
	for _, line := range strings.Split(strings.TrimSpace(logBuf.String()), "\n") {
		assert.LessOrEqual(t, strings.Count(line, `"component":`), 1, line)
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		assert.Equal(t, s.ID(), rec["session_id"], line)
		if c, ok := rec["component"].(string); ok {
			components[c] = true
		}
	}
	assert.True(t, components["Session"])
	assert.True(t, components["Reconciler"])
	assert.True(t, components["SnapshotFetcher"])
}
