package series

import (
	"sync"
	"sync/atomic"
)

// Series is an immutable view of the projected data. X and every Y column
// have the same length. Values obtained from a Series must not be modified.
type Series struct {
	yKeys []string
	x     []any
	y     [][]any
}

// Len returns the number of points.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.x)
}

// X returns the x values. The slice is shared and must be treated as
// read-only; its capacity is clipped so appending to it copies.
func (s *Series) X() []any {
	if s == nil {
		return nil
	}
	return clip(s.x)
}

// Y returns the y values for key, or nil if the key is not tracked.
func (s *Series) Y(key string) []any {
	if s == nil {
		return nil
	}
	for i, k := range s.yKeys {
		if k == key {
			return clip(s.y[i])
		}
	}
	return nil
}

// YKeys returns the tracked y-keys.
func (s *Series) YKeys() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.yKeys...)
}

// Columns returns the series as a map from key name to values, with the
// x-key under "x". Used for JSON rendering.
func (s *Series) Columns() map[string][]any {
	if s == nil {
		return map[string][]any{"x": nil}
	}
	cols := make(map[string][]any, len(s.yKeys)+1)
	cols["x"] = s.X()
	for i, k := range s.yKeys {
		cols[k] = clip(s.y[i])
	}
	return cols
}

// clip hides the spare capacity later Series append into.
func clip(v []any) []any {
	return v[:len(v):len(v)]
}

// appended returns a new Series with p added. The receiver is not modified:
// writes only land beyond its length, so a reader holding the receiver never
// observes them.
func (s *Series) appended(p Point) *Series {
	next := &Series{
		yKeys: s.yKeys,
		x:     append(s.x, p.X),
		y:     make([][]any, len(s.y)),
	}
	for i := range s.y {
		next.y[i] = append(s.y[i], p.Y[i])
	}
	return next
}

// Sink consumes projected points in the exact order they are appended.
type Sink interface {
	Append(p Point)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(p Point)

func (f SinkFunc) Append(p Point) { f(p) }

// Buffer owns a growing series. There must be a single writer; any number of
// readers may call Load concurrently.
type Buffer struct {
	mu      sync.Mutex // serializes writers; readers never take it
	current atomic.Pointer[Series]
}

// NewBuffer creates a Buffer for the given y-keys seeded with points.
func NewBuffer(yKeys []string, points ...Point) *Buffer {
	s := &Series{
		yKeys: append([]string(nil), yKeys...),
		x:     make([]any, 0, len(points)),
		y:     make([][]any, len(yKeys)),
	}
	for i := range s.y {
		s.y[i] = make([]any, 0, len(points))
	}
	for _, p := range points {
		s = s.appended(p)
	}
	b := &Buffer{}
	b.current.Store(s)
	return b
}

// Append publishes a new series with p added. Points with the wrong number of
// y values are ignored.
func (b *Buffer) Append(p Point) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := b.current.Load()
	if len(p.Y) != len(cur.yKeys) {
		return
	}
	b.current.Store(cur.appended(p))
}

// Load returns the latest immutable series.
func (b *Buffer) Load() *Series {
	return b.current.Load()
}

// Tee returns a Sink that forwards each point to every sink in order.
func Tee(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return SinkFunc(func(p Point) {
		for _, s := range filtered {
			s.Append(p)
		}
	})
}
