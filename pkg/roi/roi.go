// Package roi holds the regions of interest that we configure per location, and
// answers the question "does this detection box touch any of these regions?".
package roi

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cyclopcam/railalert/pkg/nn"
)

var ErrEmptyRegion = errors.New("Region has no points")

// Region is either an axis-aligned rectangle (given by two opposite corners) or a polygon.
// Rectangles are stored as their 4 corner points, so both kinds go through the same
// intersection test.
type Region struct {
	IsRect bool       // True if the region was specified as two corners
	Points []nn.Point // Polygon vertices. For a rectangle, the 4 corners in clockwise order.
	Bounds nn.Rect    // Bounding box of Points
}

// Create a rectangular region from two opposite corners
func NewRect(x1, y1, x2, y2 int) Region {
	b := nn.RectFromXYXY(x1, y1, x2, y2)
	return Region{
		IsRect: true,
		Points: []nn.Point{
			{X: b.X, Y: b.Y},
			{X: b.X2(), Y: b.Y},
			{X: b.X2(), Y: b.Y2()},
			{X: b.X, Y: b.Y2()},
		},
		Bounds: b,
	}
}

// Create a polygon region. The polygon is implicitly closed (last point connects to first).
func NewPolygon(points []nn.Point) Region {
	return Region{
		Points: append([]nn.Point(nil), points...),
		Bounds: boundsOf(points),
	}
}

func boundsOf(points []nn.Point) nn.Rect {
	if len(points) == 0 {
		return nn.Rect{}
	}
	x1, y1 := points[0].X, points[0].Y
	x2, y2 := x1, y1
	for _, p := range points[1:] {
		x1 = min(x1, p.X)
		y1 = min(y1, p.Y)
		x2 = max(x2, p.X)
		y2 = max(y2, p.Y)
	}
	return nn.RectFromXYXY(x1, y1, x2, y2)
}

// The JSON form of a region. Exactly one of Rect or Polygon is populated.
type regionJSON struct {
	Rect    [][2]int `json:"rect,omitempty"`
	Polygon [][2]int `json:"polygon,omitempty"`
}

func toPoints(raw [][2]int) []nn.Point {
	points := make([]nn.Point, len(raw))
	for i, p := range raw {
		points[i] = nn.Point{X: p[0], Y: p[1]}
	}
	return points
}

// UnmarshalJSON accepts any of these forms:
//
//	{"rect": [[x1,y1],[x2,y2]]}
//	{"polygon": [[x,y],[x,y],[x,y],...]}
//	[[x1,y1],[x2,y2]]             (two points: a rectangle)
//	[[x,y],[x,y],[x,y],...]       (three or more points: a polygon)
func (r *Region) UnmarshalJSON(b []byte) error {
	var raw [][2]int
	if err := json.Unmarshal(b, &raw); err == nil {
		return r.fromPoints(raw, len(raw) == 2)
	}
	var obj regionJSON
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("Invalid region: %w", err)
	}
	if len(obj.Rect) != 0 {
		if len(obj.Rect) != 2 {
			return fmt.Errorf("A rect region needs exactly 2 corners, but %v were given", len(obj.Rect))
		}
		return r.fromPoints(obj.Rect, true)
	}
	return r.fromPoints(obj.Polygon, false)
}

func (r *Region) fromPoints(raw [][2]int, isRect bool) error {
	if len(raw) == 0 {
		return ErrEmptyRegion
	}
	if isRect {
		*r = NewRect(raw[0][0], raw[0][1], raw[1][0], raw[1][1])
	} else {
		*r = NewPolygon(toPoints(raw))
	}
	return nil
}

func (r Region) MarshalJSON() ([]byte, error) {
	if r.IsRect {
		return json.Marshal(regionJSON{Rect: [][2]int{{r.Bounds.X, r.Bounds.Y}, {r.Bounds.X2(), r.Bounds.Y2()}}})
	}
	raw := make([][2]int, len(r.Points))
	for i, p := range r.Points {
		raw[i] = [2]int{p.X, p.Y}
	}
	return json.Marshal(regionJSON{Polygon: raw})
}

// Intersects returns true if the box intersects the region.
// Touching counts as intersecting, and degenerate (zero width or height) boxes are allowed.
func (r Region) Intersects(box nn.Rect) bool {
	if len(r.Points) == 0 {
		return false
	}
	if !boxesTouch(box, r.Bounds) {
		return false
	}
	if r.IsRect {
		// The bounds of a rectangle are the rectangle
		return true
	}

	corners := [4]nn.Point{
		{X: box.X, Y: box.Y},
		{X: box.X2(), Y: box.Y},
		{X: box.X2(), Y: box.Y2()},
		{X: box.X, Y: box.Y2()},
	}

	// Polygon vertex inside the box
	for _, p := range r.Points {
		if p.X >= box.X && p.X <= box.X2() && p.Y >= box.Y && p.Y <= box.Y2() {
			return true
		}
	}

	// Box corner inside the polygon (this catches a box that is entirely inside the polygon)
	for _, c := range corners {
		if pointInPolygon(c, r.Points) {
			return true
		}
	}

	// Edge crossings
	n := len(r.Points)
	for i := 0; i < n; i++ {
		a := r.Points[i]
		b := r.Points[(i+1)%n]
		for j := 0; j < 4; j++ {
			if segmentsIntersect(a, b, corners[j], corners[(j+1)%4]) {
				return true
			}
		}
	}
	return false
}

// Intersects returns true if the box intersects any of the regions.
// An empty region set never intersects anything.
func Intersects(box nn.Rect, regions []Region) bool {
	for _, r := range regions {
		if r.Intersects(box) {
			return true
		}
	}
	return false
}

// Closed-interval overlap test
func boxesTouch(a, b nn.Rect) bool {
	return a.X <= b.X2() && b.X <= a.X2() && a.Y <= b.Y2() && b.Y <= a.Y2()
}

// Sign of the cross product (b-a) x (c-a), computed in int64 so that it is exact
func orientation(a, b, c nn.Point) int {
	v := int64(b.X-a.X)*int64(c.Y-a.Y) - int64(b.Y-a.Y)*int64(c.X-a.X)
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// Returns true if p lies on the segment a-b, given that p is collinear with a-b
func onSegment(a, b, p nn.Point) bool {
	return p.X >= min(a.X, b.X) && p.X <= max(a.X, b.X) && p.Y >= min(a.Y, b.Y) && p.Y <= max(a.Y, b.Y)
}

// Returns true if the closed segments p1-p2 and q1-q2 share at least one point
func segmentsIntersect(p1, p2, q1, q2 nn.Point) bool {
	o1 := orientation(p1, p2, q1)
	o2 := orientation(p1, p2, q2)
	o3 := orientation(q1, q2, p1)
	o4 := orientation(q1, q2, p2)

	if o1*o2 < 0 && o3*o4 < 0 {
		return true
	}
	if o1 == 0 && onSegment(p1, p2, q1) {
		return true
	}
	if o2 == 0 && onSegment(p1, p2, q2) {
		return true
	}
	if o3 == 0 && onSegment(q1, q2, p1) {
		return true
	}
	if o4 == 0 && onSegment(q1, q2, p2) {
		return true
	}
	return false
}

// Returns true if p is inside the polygon or on its boundary
func pointInPolygon(p nn.Point, poly []nn.Point) bool {
	n := len(poly)
	if n == 0 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a := poly[i]
		b := poly[j]
		if orientation(a, b, p) == 0 && onSegment(a, b, p) {
			return true
		}
		if (a.Y > p.Y) != (b.Y > p.Y) {
			// X coordinate of the edge at p.Y, compared without division:
			// p.X < a.X + (p.Y-a.Y)*(b.X-a.X)/(b.Y-a.Y)
			lhs := int64(p.X-a.X) * int64(b.Y-a.Y)
			rhs := int64(p.Y-a.Y) * int64(b.X-a.X)
			if b.Y-a.Y < 0 {
				lhs, rhs = -lhs, -rhs
			}
			if lhs < rhs {
				inside = !inside
			}
		}
	}
	return inside
}
