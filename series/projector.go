package series

import (
	"fmt"

	"github.com/INLOpen/mimir/core"
)

// Point is one projected entry: the x value and the y values in the order of
// the projector's y-keys.
type Point struct {
	X any
	Y []any
}

// Projector projects log entries through an x-key and a set of y-keys.
type Projector struct {
	xKey  string
	yKeys []string
}

// NewProjector validates the keys and returns a Projector.
func NewProjector(xKey string, yKeys ...string) (*Projector, error) {
	if xKey == "" {
		return nil, &core.ValidationError{Field: "x_key", Value: xKey, Message: "x key must not be empty"}
	}
	if len(yKeys) == 0 {
		return nil, &core.ValidationError{Field: "y_keys", Value: "", Message: "at least one y key is required"}
	}
	seen := make(map[string]struct{}, len(yKeys))
	for _, k := range yKeys {
		if k == "" {
			return nil, &core.ValidationError{Field: "y_keys", Value: k, Message: "y key must not be empty"}
		}
		if _, dup := seen[k]; dup {
			return nil, &core.ValidationError{Field: "y_keys", Value: k, Message: "duplicate y key"}
		}
		seen[k] = struct{}{}
	}
	return &Projector{
		xKey:  xKey,
		yKeys: append([]string(nil), yKeys...),
	}, nil
}

// XKey returns the projected x-key.
func (p *Projector) XKey() string { return p.xKey }

// YKeys returns a copy of the projected y-keys.
func (p *Projector) YKeys() []string { return append([]string(nil), p.yKeys...) }

// Keys returns the x-key followed by the y-keys.
func (p *Projector) Keys() []string {
	return append([]string{p.xKey}, p.yKeys...)
}

// Project returns the point for entry. ok is false if the x-key or any y-key
// is missing; partial matches are never projected.
func (p *Projector) Project(entry core.LogEntry) (pt Point, ok bool) {
	x, ok := entry.Lookup(p.xKey)
	if !ok {
		return Point{}, false
	}
	ys := make([]any, len(p.yKeys))
	for i, k := range p.yKeys {
		v, ok := entry.Lookup(k)
		if !ok {
			return Point{}, false
		}
		ys[i] = v
	}
	return Point{X: x, Y: ys}, true
}

// ProjectAll projects entries in order, skipping the ones that do not match.
func (p *Projector) ProjectAll(entries []core.LogEntry) []Point {
	points := make([]Point, 0, len(entries))
	for _, e := range entries {
		if pt, ok := p.Project(e); ok {
			points = append(points, pt)
		}
	}
	return points
}

func (p *Projector) String() string {
	return fmt.Sprintf("x=%s y=%v", p.xKey, p.yKeys)
}
