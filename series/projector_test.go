package series

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/mimir/core"
)

func TestNewProjector_Validation(t *testing.T) {
	testCases := []struct {
		name  string
		xKey  string
		yKeys []string
	}{
		{"empty x", "", []string{"loss"}},
		{"no y keys", "iteration", nil},
		{"empty y key", "iteration", []string{"loss", ""}},
		{"duplicate y key", "iteration", []string{"loss", "loss"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewProjector(tc.xKey, tc.yKeys...)
			require.Error(t, err)
			assert.True(t, core.IsValidationError(err))
		})
	}
}

func TestProjector_Project(t *testing.T) {
	p, err := NewProjector("iteration", "loss", "accuracy")
	require.NoError(t, err)

	testCases := []struct {
		name  string
		entry core.LogEntry
		ok    bool
		want  Point
	}{
		{
			name:  "all keys present",
			entry: core.LogEntry{"iteration": 1, "loss": 0.5, "accuracy": 0.9, "extra": "ignored"},
			ok:    true,
			want:  Point{X: 1, Y: []any{0.5, 0.9}},
		},
		{
			name:  "missing x",
			entry: core.LogEntry{"loss": 0.5, "accuracy": 0.9},
		},
		{
			name:  "partial y match is dropped",
			entry: core.LogEntry{"iteration": 1, "loss": 0.5},
		},
		{
			name:  "nil entry",
			entry: nil,
		},
		{
			name:  "explicit null values still count as present",
			entry: core.LogEntry{"iteration": 2, "loss": nil, "accuracy": nil},
			ok:    true,
			want:  Point{X: 2, Y: []any{nil, nil}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pt, ok := p.Project(tc.entry)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, pt)
			}
		})
	}
}

func TestProjector_ProjectAllKeepsOrder(t *testing.T) {
	p, err := NewProjector("x", "y")
	require.NoError(t, err)

	points := p.ProjectAll([]core.LogEntry{
		{"x": 1, "y": 10},
		{"x": 9},
		{"x": 2, "y": 20},
	})
	require.Len(t, points, 2)
	assert.Equal(t, 1, points[0].X)
	assert.Equal(t, 2, points[1].X)
	assert.Equal(t, []string{"x", "y"}, p.Keys())
}
