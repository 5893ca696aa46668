package nn

import (
	"github.com/chewxy/math32"
)

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Rect is an axis-aligned box in pixel coordinates.
// X,Y is the top-left corner, and X2(),Y2() is the bottom-right corner.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Create a rect from two opposite corners, in any order
func RectFromXYXY(x1, y1, x2, y2 int) Rect {
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  x2 - x1,
		Height: y2 - y1,
	}
}

// Create a rect from a center point and a size (the YOLO "xywh" representation).
// Fractional edges are rounded to the nearest pixel.
func RectFromCenter(cx, cy, width, height float32) Rect {
	width = math32.Abs(width)
	height = math32.Abs(height)
	x1 := int(math32.Round(cx - width/2))
	y1 := int(math32.Round(cy - height/2))
	x2 := int(math32.Round(cx + width/2))
	y2 := int(math32.Round(cy + height/2))
	return RectFromXYXY(x1, y1, x2, y2)
}

func (r Rect) X2() int {
	return r.X + r.Width
}

func (r Rect) Y2() int {
	return r.Y + r.Height
}

func (r Rect) Area() int {
	return r.Width * r.Height
}

func (r Rect) IsEmpty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Width / Height. Returns 0 if the height is zero.
func (r Rect) AspectRatio() float32 {
	if r.Height == 0 {
		return 0
	}
	return float32(r.Width) / float32(r.Height)
}

func (r Rect) Intersection(b Rect) Rect {
	x1 := max(r.X, b.X)
	y1 := max(r.Y, b.Y)
	x2 := min(r.X+r.Width, b.X+b.Width)
	y2 := min(r.Y+r.Height, b.Y+b.Height)
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  max(0, x2-x1),
		Height: max(0, y2-y1),
	}
}

func (r *Rect) Offset(dx, dy int) {
	r.X += dx
	r.Y += dy
}

// Clip the rect to the image bounds [0,0,width,height]
func (r Rect) Clamp(width, height int) Rect {
	return r.Intersection(Rect{X: 0, Y: 0, Width: width, Height: height})
}
