// Package voronoi derives per-site Voronoi cells from a Delaunay
// triangulation.
//
// Each cell is the ring of circumcenters of the triangles incident to its
// site, taken in rotational order. Cells of hull sites are open; they are
// closed through far points in the site's normal cone and then clipped to a
// finite frame, so every cell handed to the boundary clipper is a closed,
// convex, finite polygon.
package voronoi

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"

	"github.com/joeblew999/regionmap/internal/delaunay"
)

// RawCell is one site's Voronoi cell before boundary clipping.
type RawCell struct {
	SiteIndex int
	SiteID    string
	Ring      orb.Ring
}

// Area returns the cell area.
func (c RawCell) Area() float64 {
	if len(c.Ring) < 4 {
		return 0
	}
	return math.Abs(planar.Area(c.Ring))
}

// Degenerate reports whether the cell collapsed to zero area.
func (c RawCell) Degenerate() bool {
	return distinctVertices(c.Ring) < 3 || c.Area() == 0
}

// Frame returns the rectangle every cell is closed against: the union of
// the boundary bound and the sites, padded by its own largest extent on
// every side. The result is at least three times the boundary extent in
// each direction.
func Frame(boundary orb.Bound, sites []orb.Point) orb.Bound {
	b := boundary
	for _, p := range sites {
		b = b.Extend(p)
	}
	pad := math.Max(b.Right()-b.Left(), b.Top()-b.Bottom())
	if pad <= 0 {
		pad = 1
	}
	return b.Pad(pad)
}

// Tessellate returns one RawCell per point of tri, tagged with ids.
func Tessellate(tri *delaunay.Triangulation, ids []string, frame orb.Bound) ([]RawCell, error) {
	if len(ids) != len(tri.Points) {
		return nil, fmt.Errorf("voronoi: %d ids for %d points", len(ids), len(tri.Points))
	}

	centers := make([]orb.Point, tri.Len())
	for i := range centers {
		centers[i] = circumcenter(tri, i)
	}

	diag := math.Hypot(frame.Right()-frame.Left(), frame.Top()-frame.Bottom())

	cells := make([]RawCell, len(tri.Points))
	for p := range tri.Points {
		cells[p] = RawCell{
			SiteIndex: p,
			SiteID:    ids[p],
			Ring:      cellRing(tri, centers, p, frame, diag),
		}
	}
	return cells, nil
}

func cellRing(tri *delaunay.Triangulation, centers []orb.Point, p int, frame orb.Bound, diag float64) orb.Ring {
	edges := tri.EdgesAround(p)
	if len(edges) == 0 {
		return orb.Ring{}
	}

	var ring orb.Ring
	for _, e := range edges {
		c := centers[e/3]
		if n := len(ring); n > 0 && ring[n-1] == c {
			continue
		}
		ring = append(ring, c)
	}

	if tri.IsHull(p) {
		ring = closeHullCell(tri, ring, edges, p, diag)
	} else if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
		ring = ring[:len(ring)-1]
	}

	if len(ring) < 3 {
		return closeRing(ring)
	}

	ring = clip.Ring(frame, closeRing(ring))
	if len(ring) > 0 && ring.Orientation() == orb.CW {
		ring.Reverse()
	}
	if n := len(ring); n > 1 && ring[0] == ring[n-1] {
		ring = ring[:n-1]
	}
	return closeRing(canonical(ring))
}

// closeHullCell extends the open chain of a hull site with the two rays
// perpendicular to its hull edges and a far cap through the normal cone.
// Every added point lies inside the true cell, and the cap lies beyond the
// frame, so clipping to the frame yields exactly cell ∩ frame.
func closeHullCell(tri *delaunay.Triangulation, chain orb.Ring, edges []int, p int, diag float64) orb.Ring {
	site := tri.Points[p]

	first := edges[0]
	a := tri.Points[tri.Triangles[first]]
	oa := tri.Points[tri.Triangles[delaunay.PrevHalfedge(first)]]
	n1 := outwardNormal(a, site, oa)

	last := edges[len(edges)-1]
	out := delaunay.NextHalfedge(last)
	b := tri.Points[tri.Triangles[delaunay.NextHalfedge(out)]]
	ob := tri.Points[tri.Triangles[last]]
	n2 := outwardNormal(site, b, ob)

	far := diag
	for _, c := range chain {
		far = math.Max(far, math.Hypot(c[0]-site[0], c[1]-site[1]))
	}
	L := 4 * (far + diag)

	head := chain[0]
	tail := chain[len(chain)-1]

	ring := append(orb.Ring{}, chain...)
	ring = append(ring, add(tail, scale(n2, L)))

	theta := math.Atan2(cross(n2, n1), dot(n2, n1))
	steps := int(math.Ceil(math.Abs(theta) / (math.Pi / 4)))
	if steps < 1 {
		steps = 1
	}
	for j := 0; j <= steps; j++ {
		d := rotate(n2, theta*float64(j)/float64(steps))
		ring = append(ring, add(site, scale(d, L)))
	}

	ring = append(ring, add(head, scale(n1, L)))
	return ring
}

// outwardNormal returns the unit normal of edge (from, to) that points away
// from the opposite vertex o of the triangle on that edge.
func outwardNormal(from, to, o orb.Point) orb.Point {
	dx := to[0] - from[0]
	dy := to[1] - from[1]
	l := math.Hypot(dx, dy)
	if l == 0 {
		return orb.Point{0, 0}
	}
	n := orb.Point{dy / l, -dx / l}
	if dot(n, orb.Point{o[0] - from[0], o[1] - from[1]}) > 0 {
		n = orb.Point{-n[0], -n[1]}
	}
	return n
}

// circumcenter evaluates the face's vertices in coordinate order so the
// same triangle yields the same bits however it is stored.
func circumcenter(tri *delaunay.Triangulation, i int) orb.Point {
	v := tri.Triangle(i)
	pts := []orb.Point{tri.Points[v[0]], tri.Points[v[1]], tri.Points[v[2]]}
	sort.Slice(pts, func(a, b int) bool { return less(pts[a], pts[b]) })

	c := delaunay.Circumcenter(pts[0], pts[1], pts[2])
	if !math.IsNaN(c[0]) && !math.IsNaN(c[1]) && !math.IsInf(c[0], 0) && !math.IsInf(c[1], 0) {
		return c
	}
	// sliver face: fall back to its centroid
	return orb.Point{(pts[0][0] + pts[1][0] + pts[2][0]) / 3, (pts[0][1] + pts[1][1] + pts[2][1]) / 3}
}

func less(a, b orb.Point) bool {
	if a[0] != b[0] {
		return a[0] < b[0]
	}
	return a[1] < b[1]
}

// canonical rotates an open ring to start at its smallest vertex.
func canonical(r orb.Ring) orb.Ring {
	if len(r) == 0 {
		return r
	}
	start := 0
	for i, p := range r {
		if less(p, r[start]) {
			start = i
		}
	}
	out := make(orb.Ring, 0, len(r)+1)
	out = append(out, r[start:]...)
	return append(out, r[:start]...)
}

func closeRing(r orb.Ring) orb.Ring {
	if len(r) == 0 {
		return r
	}
	if r[0] != r[len(r)-1] {
		r = append(r, r[0])
	}
	return r
}

func distinctVertices(r orb.Ring) int {
	seen := make(map[orb.Point]struct{}, len(r))
	for _, p := range r {
		seen[p] = struct{}{}
	}
	return len(seen)
}

func add(a, b orb.Point) orb.Point { return orb.Point{a[0] + b[0], a[1] + b[1]} }
func scale(a orb.Point, k float64) orb.Point { return orb.Point{a[0] * k, a[1] * k} }
func dot(a, b orb.Point) float64 { return a[0]*b[0] + a[1]*b[1] }
func cross(a, b orb.Point) float64 { return a[0]*b[1] - a[1]*b[0] }

func rotate(v orb.Point, a float64) orb.Point {
	s, c := math.Sincos(a)
	return orb.Point{v[0]*c - v[1]*s, v[0]*s + v[1]*c}
}
