package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/mimir/core"
	"github.com/INLOpen/mimir/transport"
)

// MockRequestChannel is a mock implementation of transport.RequestChannel.
type MockRequestChannel struct {
	mock.Mock
}

var _ transport.RequestChannel = (*MockRequestChannel)(nil)

func (m *MockRequestChannel) RequestSnapshot(ctx context.Context, filterKeys []string) (transport.RawSnapshot, error) {
	args := m.Called(ctx, filterKeys)
	return args.Get(0).(transport.RawSnapshot), args.Error(1)
}

func (m *MockRequestChannel) Close() error {
	return m.Called().Error(0)
}

// blockingChannel never answers until ctx is done.
type blockingChannel struct{}

func (blockingChannel) RequestSnapshot(ctx context.Context, _ []string) (transport.RawSnapshot, error) {
	<-ctx.Done()
	return transport.RawSnapshot{}, ctx.Err()
}

func (blockingChannel) Close() error { return nil }

func TestFetcher_Fetch(t *testing.T) {
	keys := []string{"x", "y"}

	testCases := []struct {
		name      string
		raw       transport.RawSnapshot
		rawErr    error
		wantSeq   uint64
		wantLen   int
		checkErr  func(error) bool
		expectErr bool
	}{
		{
			name:    "valid snapshot",
			raw:     transport.RawSnapshot{Seq: 5, Payload: []byte(`[{"x":1,"y":10},{"x":2,"y":20}]`)},
			wantSeq: 5,
			wantLen: 2,
		},
		{
			name:    "empty history",
			raw:     transport.RawSnapshot{Seq: 0, Payload: []byte(`[]`)},
			wantSeq: 0,
			wantLen: 0,
		},
		{
			name:      "malformed payload",
			raw:       transport.RawSnapshot{Seq: 5, Payload: []byte(`{"x":1}`)},
			expectErr: true,
			checkErr:  core.IsProtocolError,
		},
		{
			name:      "element is not an object",
			raw:       transport.RawSnapshot{Seq: 5, Payload: []byte(`[{"x":1}, "oops"]`)},
			expectErr: true,
			checkErr:  core.IsProtocolError,
		},
		{
			name:      "null payload",
			raw:       transport.RawSnapshot{Seq: 7, Payload: []byte(`null`)},
			expectErr: true,
			checkErr:  core.IsProtocolError,
		},
		{
			name:      "missing payload",
			raw:       transport.RawSnapshot{Seq: 5},
			expectErr: true,
			checkErr:  core.IsProtocolError,
		},
		{
			name:      "transport error passes through",
			rawErr:    &core.ConnectionError{Addr: "tcp://localhost:5556", Role: "request", Err: errors.New("refused")},
			expectErr: true,
			checkErr:  core.IsConnectionError,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ch := new(MockRequestChannel)
			ch.On("RequestSnapshot", mock.Anything, keys).Return(tc.raw, tc.rawErr).Once()

			f := NewFetcher(Options{})
			snap, err := f.Fetch(context.Background(), ch, keys)
			ch.AssertExpectations(t)

			if tc.expectErr {
				require.Error(t, err)
				assert.Nil(t, snap)
				assert.True(t, tc.checkErr(err), "unexpected error type: %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantSeq, snap.Seq)
			assert.Len(t, snap.Entries, tc.wantLen)
		})
	}
}

func TestFetcher_Timeout(t *testing.T) {
	f := NewFetcher(Options{Timeout: 20 * time.Millisecond})

	snap, err := f.Fetch(context.Background(), blockingChannel{}, nil)
	require.Error(t, err)
	assert.Nil(t, snap)
	assert.True(t, core.IsTimeoutError(err))
	assert.False(t, core.IsProtocolError(err))
}

func TestFetcher_ParentCancellationIsNotATimeout(t *testing.T) {
	f := NewFetcher(Options{Timeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Fetch(ctx, blockingChannel{}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, core.IsTimeoutError(err))
}

func TestFetcher_EntriesKeepOrder(t *testing.T) {
	ch := new(MockRequestChannel)
	ch.On("RequestSnapshot", mock.Anything, []string(nil)).
		Return(transport.RawSnapshot{Seq: 3, Payload: []byte(`[{"x":3},{"x":1},{"x":2}]`)}, nil)

	snap, err := NewFetcher(Options{}).Fetch(context.Background(), ch, nil)
	require.NoError(t, err)
	require.Len(t, snap.Entries, 3)
	assert.Equal(t, float64(3), snap.Entries[0]["x"])
	assert.Equal(t, float64(2), snap.Entries[2]["x"])
}
