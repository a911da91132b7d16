package delaunay

import (
	"math"

	"github.com/paulmach/orb"
)

// orient is negative when a, b, c turn counter-clockwise.
func orient(a, b, c orb.Point) float64 {
	return (a[1]-c[1])*(b[0]-c[0]) - (a[0]-c[0])*(b[1]-c[1])
}

// inCircle reports whether p lies strictly inside the circumcircle of a, b, c.
func inCircle(a, b, c, p orb.Point) bool {
	dx := a[0] - p[0]
	dy := a[1] - p[1]
	ex := b[0] - p[0]
	ey := b[1] - p[1]
	fx := c[0] - p[0]
	fy := c[1] - p[1]

	ap := dx*dx + dy*dy
	bp := ex*ex + ey*ey
	cp := fx*fx + fy*fy

	return dx*(ey*cp-bp*fy)-dy*(ex*cp-bp*fx)+ap*(ex*fy-ey*fx) < 0
}

// circumradius returns the squared circumradius, +Inf for collinear input.
func circumradius(a, b, c orb.Point) float64 {
	dx := b[0] - a[0]
	dy := b[1] - a[1]
	ex := c[0] - a[0]
	ey := c[1] - a[1]

	den := dx*ey - dy*ex
	if den == 0 {
		return math.Inf(1)
	}
	bl := dx*dx + dy*dy
	cl := ex*ex + ey*ey
	d := 0.5 / den

	x := (ey*bl - dy*cl) * d
	y := (dx*cl - ex*bl) * d
	r := x*x + y*y
	if math.IsNaN(r) {
		return math.Inf(1)
	}
	return r
}

// Circumcenter returns the centre of the circle through a, b and c.
// For collinear input the result has infinite or NaN coordinates.
func Circumcenter(a, b, c orb.Point) orb.Point {
	dx := b[0] - a[0]
	dy := b[1] - a[1]
	ex := c[0] - a[0]
	ey := c[1] - a[1]

	bl := dx*dx + dy*dy
	cl := ex*ex + ey*ey
	d := 0.5 / (dx*ey - dy*ex)

	return orb.Point{
		a[0] + (ey*bl-dy*cl)*d,
		a[1] + (dx*cl-ex*bl)*d,
	}
}

// pseudoAngle maps a direction to [0, 1) monotonically with its angle.
func pseudoAngle(dx, dy float64) float64 {
	p := dx / (math.Abs(dx) + math.Abs(dy))
	if dy > 0 {
		return (3 - p) / 4
	}
	return (1 + p) / 4
}

func dist2(a, b orb.Point) float64 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	return dx*dx + dy*dy
}
