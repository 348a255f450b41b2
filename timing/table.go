// Package timing maps performance-clock time to a horizontal score position
// using a table of control points.
package timing

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
)

// Point pairs a clock time in seconds with a position in score units.
type Point struct {
	Time float64 `json:"time"`
	X    float64 `json:"x"`
}

// Table is a read-only set of control points ordered by Time.
type Table struct {
	points []Point
}

// NewTable copies points and orders them by time.
func NewTable(points []Point) *Table {
	p := make([]Point, len(points))
	copy(p, points)
	sort.SliceStable(p, func(i, j int) bool { return p[i].Time < p[j].Time })
	return &Table{points: p}
}

// Parse decodes a JSON array of {"time","x"} objects.
func Parse(data []byte) (*Table, error) {
	var points []Point
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, fault.Wrap(err, fmsg.WithDesc("parse timing table", "The timing table is not a valid JSON list of points"))
	}
	return NewTable(points), nil
}

// Load reads a timing table from disk.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(err, fmsg.WithDesc("read timing table", "Could not read timing table "+path))
	}
	return Parse(data)
}

// Len returns the number of control points.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.points)
}

// Points returns a copy of the control points.
func (t *Table) Points() []Point {
	out := make([]Point, t.Len())
	if t != nil {
		copy(out, t.points)
	}
	return out
}

// PositionAt interpolates x linearly between the two points bracketing time.
// Times before the first point clamp to it, times after the last clamp to it.
func (t *Table) PositionAt(time float64) float64 {
	n := t.Len()
	if n == 0 {
		return 0
	}
	pts := t.points
	if time <= pts[0].Time {
		return pts[0].X
	}
	if time >= pts[n-1].Time {
		return pts[n-1].X
	}

	// first point strictly after time; its predecessor is <= time
	i := sort.Search(n, func(i int) bool { return pts[i].Time > time })
	prev, next := pts[i-1], pts[i]
	if next.Time == prev.Time {
		return prev.X
	}
	return prev.X + (next.X-prev.X)*(time-prev.Time)/(next.Time-prev.Time)
}

// Viewport scales score units into view units and applies a fixed offset, so
// the cursor stays put while the score slides underneath it.
type Viewport struct {
	Offset      float64 // view units added after scaling
	SourceWidth float64 // full score width in table units
	ViewWidth   float64 // rendered score width in view units
}

// Translate returns the scroll offset for position x.
func (v Viewport) Translate(x float64) float64 {
	if v.SourceWidth <= 0 || v.ViewWidth <= 0 {
		return v.Offset
	}
	return v.Offset - x*(v.ViewWidth/v.SourceWidth)
}

// Fraction returns x as a 0-1 fraction of the table's extent.
func (t *Table) Fraction(x float64) float64 {
	n := t.Len()
	if n < 2 {
		return 0
	}
	lo, hi := t.points[0].X, t.points[n-1].X
	if hi == lo {
		return 0
	}
	f := (x - lo) / (hi - lo)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Duration returns the time of the last control point.
func (t *Table) Duration() float64 {
	n := t.Len()
	if n == 0 {
		return 0
	}
	return t.points[n-1].Time
}
