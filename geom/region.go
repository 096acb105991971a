package geom

import (
	"math"

	"github.com/paulmach/orb"
)

// Segment is a straight line between two planar points.
type Segment struct {
	A, B Point
}

// Region is an axis-aligned rectangle. Containment is inclusive on every
// side.
type Region struct {
	b orb.Bound
}

// NewRegion builds a region from two opposite corners in any order.
func NewRegion(a, b Point) Region {
	return Region{b: orb.Bound{Min: a, Max: a}.Extend(b)}
}

// RegionAround returns the rectangle of the given width and height centred
// on p.
func RegionAround(p Point, width, height float64) Region {
	hw, hh := width/2, height/2
	return NewRegion(Point{p.X() - hw, p.Y() - hh}, Point{p.X() + hw, p.Y() + hh})
}

// BoundOf returns the smallest region containing every point. An empty input
// yields the zero region at the origin.
func BoundOf(points []Point) Region {
	if len(points) == 0 {
		return Region{}
	}
	b := orb.Bound{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		b = b.Extend(p)
	}
	return Region{b: b}
}

func (r Region) Min() Point     { return r.b.Min }
func (r Region) Max() Point     { return r.b.Max }
func (r Region) Width() float64 { return r.b.Max.X() - r.b.Min.X() }

func (r Region) Height() float64 { return r.b.Max.Y() - r.b.Min.Y() }

// Corners, with y growing upwards.
func (r Region) BottomLeft() Point  { return r.b.Min }
func (r Region) BottomRight() Point { return Point{r.b.Max.X(), r.b.Min.Y()} }
func (r Region) TopRight() Point    { return r.b.Max }
func (r Region) TopLeft() Point     { return Point{r.b.Min.X(), r.b.Max.Y()} }

// Contains reports whether p lies inside r or on its border.
func (r Region) Contains(p Point) bool {
	return r.b.Contains(p)
}

// Sides returns the four border segments of r, bottom, right, top, left.
func (r Region) Sides() [4]Segment {
	lo, br, hi, tl := r.BottomLeft(), r.BottomRight(), r.TopRight(), r.TopLeft()
	return [4]Segment{
		{A: lo, B: br},
		{A: br, B: hi},
		{A: hi, B: tl},
		{A: tl, B: lo},
	}
}

// Intersects reports whether the segment touches r, either by crossing a
// side or by having an endpoint inside.
func (r Region) Intersects(s Segment) bool {
	if r.Contains(s.A) || r.Contains(s.B) {
		return true
	}
	for _, side := range r.Sides() {
		if SegmentsIntersect(s.A, s.B, side.A, side.B) {
			return true
		}
	}
	return false
}

// Decompose splits r into a row-major grid of cells of the given size. The
// last row and column are truncated to stay inside r. Non-positive cell
// dimensions yield no cells.
func (r Region) Decompose(width, height float64) []Region {
	if width <= 0 || height <= 0 {
		return nil
	}
	lo, hi := r.b.Min, r.b.Max
	cols := int(math.Ceil(r.Width() / width))
	rows := int(math.Ceil(r.Height() / height))
	if cols == 0 {
		cols = 1
	}
	if rows == 0 {
		rows = 1
	}

	cells := make([]Region, 0, rows*cols)
	for row := 0; row < rows; row++ {
		y0 := lo.Y() + float64(row)*height
		y1 := math.Min(y0+height, hi.Y())
		for col := 0; col < cols; col++ {
			x0 := lo.X() + float64(col)*width
			x1 := math.Min(x0+width, hi.X())
			cells = append(cells, NewRegion(Point{x0, y0}, Point{x1, y1}))
		}
	}
	return cells
}

// SegmentsIntersect reports whether segment p1-p2 and segment q1-q2 share at
// least one point, collinear overlaps included.
func SegmentsIntersect(p1, p2, q1, q2 Point) bool {
	o1 := orientation(p1, p2, q1)
	o2 := orientation(p1, p2, q2)
	o3 := orientation(q1, q2, p1)
	o4 := orientation(q1, q2, p2)

	if o1 != o2 && o3 != o4 {
		return true
	}

	switch {
	case o1 == 0 && onSegment(p1, q1, p2):
		return true
	case o2 == 0 && onSegment(p1, q2, p2):
		return true
	case o3 == 0 && onSegment(q1, p1, q2):
		return true
	case o4 == 0 && onSegment(q1, p2, q2):
		return true
	}
	return false
}

// orientation returns 0 for collinear points, 1 for clockwise and 2 for
// counter-clockwise turns.
func orientation(p, q, r Point) int {
	v := (q.Y()-p.Y())*(r.X()-q.X()) - (q.X()-p.X())*(r.Y()-q.Y())
	switch {
	case v == 0:
		return 0
	case v > 0:
		return 1
	default:
		return 2
	}
}

// onSegment reports whether q lies on segment p-r, given the three points
// are collinear.
func onSegment(p, q, r Point) bool {
	return q.X() <= math.Max(p.X(), r.X()) && q.X() >= math.Min(p.X(), r.X()) &&
		q.Y() <= math.Max(p.Y(), r.Y()) && q.Y() >= math.Min(p.Y(), r.Y())
}
