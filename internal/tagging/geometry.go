package tagging

// Point is a position in a frame's coordinate space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned rectangle. Coordinates are frame-local until
// transformed through a frame chain, after which they are top-level
// viewport coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"w"`
	Height float64 `json:"h"`
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Center returns the rectangle's midpoint.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Translate returns a copy shifted by (dx, dy).
func (r Rect) Translate(dx, dy float64) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, Width: r.Width, Height: r.Height}
}

// Intersect returns the overlap of two rectangles. The result may be
// empty; callers should check Empty.
func (r Rect) Intersect(o Rect) Rect {
	x := max(r.X, o.X)
	y := max(r.Y, o.Y)
	x2 := min(r.X+r.Width, o.X+o.Width)
	y2 := min(r.Y+r.Height, o.Y+o.Height)
	return Rect{X: x, Y: y, Width: x2 - x, Height: y2 - y}
}

// Contains reports whether the point lies inside the rectangle
// (edges inclusive).
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.Width && p.Y >= r.Y && p.Y <= r.Y+r.Height
}

// Frame is one document in a page's frame hierarchy. Offset is the
// frame's content-box origin in the parent document's coordinate space;
// Scroll is the frame's own scroll position; Clip is the visible region
// in the frame's client coordinates (origin at 0,0). The root frame has
// a zero Offset and its Clip equals the viewport.
type Frame struct {
	ID       string
	Offset   Point
	Scroll   Point
	Clip     Rect
	Children []*Frame
	Nodes    []NodeDescriptor
}

// FrameTree is a snapshot of a page's frames at one instant.
type FrameTree struct {
	Root     *Frame
	Viewport Rect
}

// TransformChain maps a rectangle from the innermost frame's document
// coordinates to top-level viewport coordinates. The chain runs from the
// owning frame outward to the root. At each level the rectangle is
// shifted by the frame's scroll, clipped to the frame's visible region,
// then translated into the parent's coordinate space. Returns false when
// the rectangle is fully clipped at any level; that means invisible, not
// an error.
func TransformChain(r Rect, chain []*Frame) (Rect, bool) {
	out := r
	for _, f := range chain {
		out = out.Translate(-f.Scroll.X, -f.Scroll.Y)
		out = out.Intersect(f.Clip)
		if out.Empty() {
			return Rect{}, false
		}
		out = out.Translate(f.Offset.X, f.Offset.Y)
	}
	return out, true
}
