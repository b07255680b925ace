package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/INLOpen/mimir/series"
)

// PointPrinter is a series.Sink that writes one line per point:
//
//	epoch=3 loss=0.25 accuracy=0.9
type PointPrinter struct {
	mu    sync.Mutex
	w     io.Writer
	xKey  string
	yKeys []string
	x     *color.Color
	y     *color.Color
	n     int
}

var _ series.Sink = (*PointPrinter)(nil)

// NewPointPrinter creates a printer. A nil writer prints to color.Output.
func NewPointPrinter(w io.Writer, xKey string, yKeys []string, noColor bool) *PointPrinter {
	if w == nil {
		w = color.Output
	}
	p := &PointPrinter{
		w:     w,
		xKey:  xKey,
		yKeys: yKeys,
		x:     color.New(color.FgYellow, color.Bold),
		y:     color.New(color.FgGreen),
	}
	if noColor {
		p.x.DisableColor()
		p.y.DisableColor()
	}
	return p
}

func (p *PointPrinter) Append(pt series.Point) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	fmt.Fprint(p.w, p.x.Sprintf("%s=%v", p.xKey, pt.X))
	for i, k := range p.yKeys {
		if i < len(pt.Y) {
			fmt.Fprint(p.w, " ", p.y.Sprintf("%s=%v", k, pt.Y[i]))
		}
	}
	fmt.Fprintln(p.w)
}

// Printed returns the number of points written.
func (p *PointPrinter) Printed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}
