package zmq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/mimir/core"
)

func frames(parts ...string) [][]byte {
	out := make([][]byte, len(parts))
	for i, p := range parts {
		out[i] = []byte(p)
	}
	return out
}

func TestDecodeLive(t *testing.T) {
	testCases := []struct {
		name      string
		parts     [][]byte
		want      core.Envelope
		expectErr bool
	}{
		{name: "object", parts: frames("7", `{"x":1}`), want: core.Envelope{Seq: 7, Entry: core.LogEntry{"x": 1.0}}},
		{name: "malformed entry keeps seq", parts: frames("8", `[1,2]`), want: core.Envelope{Seq: 8}},
		{name: "bad seq", parts: frames("eight", `{}`), expectErr: true},
		{name: "missing frame", parts: frames("9"), expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeLive(tc.parts)
			if tc.expectErr {
				require.Error(t, err)
				assert.True(t, core.IsProtocolError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRequestRoundTrip(t *testing.T) {
	req, err := encodeRequest(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{requestCommand}, req)
	keys, err := decodeRequest(frames(req...))
	require.NoError(t, err)
	assert.Empty(t, keys)

	req, err = encodeRequest([]string{"x", "y"})
	require.NoError(t, err)
	keys, err = decodeRequest(frames(req...))
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, keys)

	_, err = decodeRequest(frames("GIMME"))
	assert.True(t, core.IsProtocolError(err))
}

func TestDecodeReply(t *testing.T) {
	raw, err := decodeReply(frames("12", `[{"x":1}]`))
	require.NoError(t, err)
	assert.Equal(t, uint64(12), raw.Seq)
	assert.Equal(t, `[{"x":1}]`, string(raw.Payload))

	_, err = decodeReply(frames("-1", `""`))
	assert.True(t, core.IsProtocolError(err))
}
