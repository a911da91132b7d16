package boundary

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/joeblew999/regionmap/internal/voronoi"
)

// MaxClipAttempts bounds the perturbed retries of one cell.
const MaxClipAttempts = 6

// goldenAngle spreads successive perturbation directions.
const goldenAngle = 2.399963229728653

// ClippedCell is one polygon fragment of a site's cell inside the boundary.
type ClippedCell struct {
	SiteID  string
	Polygon orb.Polygon
	Area    float64
}

var errInvalidFragment = errors.New("invalid fragment")

// Clip intersects cell with the boundary. A cell may yield zero, one or
// several fragments; all are tagged with the cell's site id.
func Clip(cell voronoi.RawCell, b *Boundary) ([]ClippedCell, error) {
	if cell.Degenerate() {
		return nil, nil
	}

	scale := extent(b.Bound().Union(cell.Ring.Bound()))
	var last error
	for attempt := 0; attempt < MaxClipAttempts; attempt++ {
		subject := cell.Ring
		if attempt > 0 {
			subject = perturb(cell.Ring, scale, attempt)
		}
		polys, err := clipPolygon(subject, b, scale)
		if err == nil {
			out := make([]ClippedCell, 0, len(polys))
			for _, p := range polys {
				out = append(out, ClippedCell{SiteID: cell.SiteID, Polygon: p, Area: polygonArea(p)})
			}
			return out, nil
		}
		last = err
	}
	return nil, &ClipFailureError{SiteID: cell.SiteID, Attempts: MaxClipAttempts, Err: last}
}

// ClipAll clips every cell and collects failures by site id.
func ClipAll(cells []voronoi.RawCell, b *Boundary) ([][]ClippedCell, map[string]error) {
	out := make([][]ClippedCell, len(cells))
	failures := make(map[string]error)
	for i, c := range cells {
		frags, err := Clip(c, b)
		if err != nil {
			failures[c.SiteID] = err
			continue
		}
		out[i] = frags
	}
	return out, failures
}

func clipPolygon(subject orb.Ring, b *Boundary, scale float64) ([]orb.Polygon, error) {
	if !finite(subject) {
		return nil, fmt.Errorf("%w: non-finite cell vertex", errInvalidFragment)
	}
	outer, err := intersect(subject, b.Outer())
	if err != nil {
		return nil, err
	}

	polys := make([]orb.Polygon, 0, len(outer))
	for _, r := range outer {
		polys = append(polys, orb.Polygon{r})
	}

	for _, hole := range b.Holes() {
		var next []orb.Polygon
		for _, p := range polys {
			diff, err := subtract(p, hole)
			if err != nil {
				return nil, err
			}
			next = append(next, diff...)
		}
		polys = next
	}

	minArea := scale * scale * 1e-14
	valid := polys[:0]
	for _, p := range polys {
		if err := validate(p); err != nil {
			return nil, err
		}
		if polygonArea(p) <= minArea {
			continue
		}
		valid = append(valid, orient(p))
	}
	return valid, nil
}

// intersect returns subject ∩ clip as simple rings.
func intersect(subject, clipRing orb.Ring) ([]orb.Ring, error) {
	rings, crossed, err := ghClip(subject, clipRing, false)
	if err != nil {
		return nil, err
	}
	if crossed {
		return rings, nil
	}

	switch {
	case planar.RingContains(clipRing, firstVertex(subject)):
		return []orb.Ring{closeRing(openRing(subject))}, nil
	case planar.RingContains(subject, firstVertex(clipRing)):
		return []orb.Ring{closeRing(openRing(clipRing))}, nil
	}
	return nil, nil
}

// subtract removes hole from p. Holes already in p are reassigned to the
// resulting outer ring that contains them.
func subtract(p orb.Polygon, hole orb.Ring) ([]orb.Polygon, error) {
	outer := p[0]
	rings, crossed, err := ghClip(outer, hole, true)
	if err != nil {
		return nil, err
	}

	if !crossed {
		switch {
		case planar.RingContains(hole, firstVertex(outer)):
			return nil, nil
		case planar.RingContains(outer, firstVertex(hole)):
			out := append(orb.Polygon{}, p...)
			return []orb.Polygon{append(out, closeRing(openRing(hole)))}, nil
		}
		return []orb.Polygon{p}, nil
	}

	out := make([]orb.Polygon, 0, len(rings))
	for _, r := range rings {
		out = append(out, orb.Polygon{r})
	}
	for _, h := range p[1:] {
		for i := range out {
			if planar.RingContains(out[i][0], firstVertex(h)) {
				out[i] = append(out[i], h)
				break
			}
		}
	}
	return out, nil
}

// validate rejects fragments with fewer than three distinct vertices or
// self-intersecting rings.
func validate(p orb.Polygon) error {
	for i, r := range p {
		if distinct(r) < 3 {
			return fmt.Errorf("%w: ring %d has %d distinct vertices", errInvalidFragment, i, distinct(r))
		}
		if selfIntersects(r) {
			return fmt.Errorf("%w: ring %d self-intersects", errInvalidFragment, i)
		}
	}
	return nil
}

func selfIntersects(r orb.Ring) bool {
	pts := openRing(r)
	n := len(pts)
	for i := 0; i < n; i++ {
		a0, a1 := pts[i], pts[(i+1)%n]
		for j := i + 1; j < n; j++ {
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			b0, b1 := pts[j], pts[(j+1)%n]
			if properCross(a0, a1, b0, b1) {
				return true
			}
		}
	}
	return false
}

func properCross(a0, a1, b0, b1 orb.Point) bool {
	d1 := turn(b0, b1, a0)
	d2 := turn(b0, b1, a1)
	d3 := turn(a0, a1, b0)
	d4 := turn(a0, a1, b1)
	return d1*d2 < 0 && d3*d4 < 0
}

func turn(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

// orient makes the outer ring CCW and holes CW.
func orient(p orb.Polygon) orb.Polygon {
	for i, r := range p {
		want := orb.CCW
		if i > 0 {
			want = orb.CW
		}
		if r.Orientation() != want {
			r.Reverse()
		}
	}
	return p
}

// perturb translates r by a small, deterministic offset that grows with
// attempt.
func perturb(r orb.Ring, scale float64, attempt int) orb.Ring {
	d := 1e-9 * scale * float64(attempt)
	s, c := math.Sincos(goldenAngle * float64(attempt))
	out := make(orb.Ring, len(r))
	for i, p := range r {
		out[i] = orb.Point{p[0] + d*c, p[1] + d*s}
	}
	return out
}

func extent(b orb.Bound) float64 {
	e := math.Max(b.Right()-b.Left(), b.Top()-b.Bottom())
	if e <= 0 {
		return 1
	}
	return e
}

func finite(r orb.Ring) bool {
	for _, p := range r {
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsInf(p[0], 0) || math.IsInf(p[1], 0) {
			return false
		}
	}
	return true
}

func firstVertex(r orb.Ring) orb.Point {
	if len(r) == 0 {
		return orb.Point{}
	}
	return r[0]
}

func distinct(r orb.Ring) int {
	seen := make(map[orb.Point]struct{}, len(r))
	for _, p := range r {
		seen[p] = struct{}{}
	}
	return len(seen)
}
