// Package delaunay builds Delaunay triangulations of planar point sets.
//
// The construction is a sweep-hull: points are sorted by distance from the
// circumcenter of a seed triangle and added one at a time to a convex hull,
// legalizing edges by flipping as they go. Output is stored as flat
// half-edge arrays, which is what the Voronoi step walks.
//
// Triangulate is a pure function of its input. The insertion order is fixed
// by (distance, x, y, index), so identical input always yields an identical
// triangulation, including for cocircular point sets.
package delaunay

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// epsilon is the near-duplicate tolerance used while sweeping.
var epsilon = math.Pow(2, -52)

// Triangulation is a Delaunay triangulation in half-edge form.
//
// Triangles[3t], Triangles[3t+1], Triangles[3t+2] are the point indices of
// face t. Half-edge e runs from Triangles[e] to Triangles[NextHalfedge(e)];
// Halfedges[e] is the opposite half-edge in the adjacent face, or -1 when e
// lies on the convex hull.
type Triangulation struct {
	Points    []orb.Point
	Triangles []int
	Halfedges []int
	Hull      []int

	inedges []int
}

// Triangulate computes the Delaunay triangulation of points.
// It returns a *DegenerateInputError when fewer than three distinct points
// are given or when every point lies on a single line.
func Triangulate(points []orb.Point) (*Triangulation, error) {
	n := len(points)
	distinct := countDistinct(points)
	if n < 3 || distinct < 3 {
		return nil, &DegenerateInputError{Points: n, Distinct: distinct, Reason: "fewer than 3 distinct points"}
	}
	for _, p := range points {
		if !finite(p) {
			return nil, &DegenerateInputError{Points: n, Distinct: distinct, Reason: "non-finite coordinate"}
		}
	}

	b := newBuilder(points)
	if !b.run() {
		return nil, &DegenerateInputError{Points: n, Distinct: distinct, Reason: "all points are collinear"}
	}

	t := &Triangulation{
		Points:    points,
		Triangles: b.triangles,
		Halfedges: b.halfedges,
		Hull:      b.hull,
	}
	t.indexInedges()
	return t, nil
}

// NextHalfedge returns the half-edge following e within its triangle.
func NextHalfedge(e int) int {
	if e%3 == 2 {
		return e - 2
	}
	return e + 1
}

// PrevHalfedge returns the half-edge preceding e within its triangle.
func PrevHalfedge(e int) int {
	if e%3 == 0 {
		return e + 2
	}
	return e - 1
}

// Len returns the number of triangles.
func (t *Triangulation) Len() int {
	return len(t.Triangles) / 3
}

// Triangle returns the three point indices of face i.
func (t *Triangulation) Triangle(i int) [3]int {
	return [3]int{t.Triangles[3*i], t.Triangles[3*i+1], t.Triangles[3*i+2]}
}

// Circumcenter returns the circumcenter of face i.
func (t *Triangulation) Circumcenter(i int) orb.Point {
	a := t.Points[t.Triangles[3*i]]
	b := t.Points[t.Triangles[3*i+1]]
	c := t.Points[t.Triangles[3*i+2]]
	return Circumcenter(a, b, c)
}

// EdgesAround returns the half-edges that end at point p, in rotational
// order. For a hull point the walk starts at the incoming hull edge, so the
// sequence covers every incident triangle exactly once.
func (t *Triangulation) EdgesAround(p int) []int {
	start := t.inedges[p]
	if start == -1 {
		return nil
	}
	var edges []int
	e := start
	for {
		edges = append(edges, e)
		e = t.Halfedges[NextHalfedge(e)]
		if e == -1 || e == start {
			break
		}
		if len(edges) > len(t.Halfedges) {
			break
		}
	}
	return edges
}

// TrianglesAround returns the faces incident to point p in rotational order.
func (t *Triangulation) TrianglesAround(p int) []int {
	edges := t.EdgesAround(p)
	tris := make([]int, len(edges))
	for i, e := range edges {
		tris[i] = e / 3
	}
	return tris
}

// Neighbors returns the points connected to p by a triangulation edge.
func (t *Triangulation) Neighbors(p int) []int {
	edges := t.EdgesAround(p)
	if len(edges) == 0 {
		return nil
	}
	out := make([]int, 0, len(edges)+1)
	for _, e := range edges {
		out = append(out, t.Triangles[e])
	}
	last := NextHalfedge(edges[len(edges)-1])
	if t.Halfedges[last] == -1 {
		out = append(out, t.Triangles[NextHalfedge(last)])
	}
	return out
}

// IsHull reports whether point p lies on the convex hull.
func (t *Triangulation) IsHull(p int) bool {
	e := t.inedges[p]
	return e != -1 && t.Halfedges[e] == -1
}

func (t *Triangulation) indexInedges() {
	t.inedges = make([]int, len(t.Points))
	for i := range t.inedges {
		t.inedges[i] = -1
	}
	for e := range t.Halfedges {
		p := t.Triangles[NextHalfedge(e)]
		if t.Halfedges[e] == -1 || t.inedges[p] == -1 {
			t.inedges[p] = e
		}
	}
}

// builder holds the sweep state.
type builder struct {
	coords []orb.Point

	ids   []int
	dists []float64

	hullPrev  []int
	hullNext  []int
	hullTri   []int
	hullHash  []int
	hashSize  int
	hullStart int
	center    orb.Point

	triangles []int
	halfedges []int
	hull      []int

	edgeStack [512]int
}

func newBuilder(points []orb.Point) *builder {
	n := len(points)
	hashSize := int(math.Ceil(math.Sqrt(float64(n))))
	maxTriangles := 2*n - 5
	if maxTriangles < 1 {
		maxTriangles = 1
	}
	return &builder{
		coords:    points,
		ids:       make([]int, n),
		dists:     make([]float64, n),
		hullPrev:  make([]int, n),
		hullNext:  make([]int, n),
		hullTri:   make([]int, n),
		hullHash:  make([]int, hashSize),
		hashSize:  hashSize,
		triangles: make([]int, 0, maxTriangles*3),
		halfedges: make([]int, 0, maxTriangles*3),
	}
}

// run performs the sweep. It returns false when the points are collinear.
func (b *builder) run() bool {
	coords := b.coords
	n := len(coords)

	bound := orb.Bound{Min: coords[0], Max: coords[0]}
	for i, p := range coords {
		bound = bound.Extend(p)
		b.ids[i] = i
	}
	c := bound.Center()

	// seed point closest to the centre
	i0, i1, i2 := -1, -1, -1
	minDist := math.Inf(1)
	for i, p := range coords {
		if d := dist2(c, p); d < minDist {
			i0, minDist = i, d
		}
	}
	p0 := coords[i0]

	// closest point to the seed
	minDist = math.Inf(1)
	for i, p := range coords {
		if i == i0 {
			continue
		}
		if d := dist2(p0, p); d < minDist && d > 0 {
			i1, minDist = i, d
		}
	}
	if i1 == -1 {
		return false
	}
	p1 := coords[i1]

	// third point forming the smallest circumcircle with the first two
	minRadius := math.Inf(1)
	for i, p := range coords {
		if i == i0 || i == i1 {
			continue
		}
		if r := circumradius(p0, p1, p); r < minRadius {
			i2, minRadius = i, r
		}
	}
	if math.IsInf(minRadius, 1) || i2 == -1 {
		return false
	}
	p2 := coords[i2]

	if orient(p0, p1, p2) < 0 {
		i1, i2 = i2, i1
		p1, p2 = p2, p1
	}

	b.center = Circumcenter(p0, p1, p2)
	for i, p := range coords {
		b.dists[i] = dist2(p, b.center)
	}

	sort.SliceStable(b.ids, func(x, y int) bool {
		a, z := b.ids[x], b.ids[y]
		if b.dists[a] != b.dists[z] {
			return b.dists[a] < b.dists[z]
		}
		pa, pz := coords[a], coords[z]
		if pa[0] != pz[0] {
			return pa[0] < pz[0]
		}
		if pa[1] != pz[1] {
			return pa[1] < pz[1]
		}
		return a < z
	})

	b.hullStart = i0
	hullSize := 3

	b.hullNext[i0], b.hullPrev[i2] = i1, i1
	b.hullNext[i1], b.hullPrev[i0] = i2, i2
	b.hullNext[i2], b.hullPrev[i1] = i0, i0

	b.hullTri[i0] = 0
	b.hullTri[i1] = 1
	b.hullTri[i2] = 2

	for i := range b.hullHash {
		b.hullHash[i] = -1
	}
	b.hullHash[b.hashKey(p0)] = i0
	b.hullHash[b.hashKey(p1)] = i1
	b.hullHash[b.hashKey(p2)] = i2

	b.addTriangle(i0, i1, i2, -1, -1, -1)

	var prev orb.Point
	for k, i := range b.ids {
		p := coords[i]

		// skip near-duplicate points
		if k > 0 && math.Abs(p[0]-prev[0]) <= epsilon && math.Abs(p[1]-prev[1]) <= epsilon {
			continue
		}
		prev = p

		if i == i0 || i == i1 || i == i2 {
			continue
		}

		// find a visible edge on the hull using the edge hash
		start := 0
		key := b.hashKey(p)
		for j := 0; j < b.hashSize; j++ {
			start = b.hullHash[(key+j)%b.hashSize]
			if start != -1 && start != b.hullNext[start] {
				break
			}
		}
		if start == -1 {
			continue
		}

		start = b.hullPrev[start]
		e := start
		for {
			q := b.hullNext[e]
			if orient(p, coords[e], coords[q]) < 0 {
				break
			}
			e = q
			if e == start {
				e = -1
				break
			}
		}
		if e == -1 {
			// near-duplicate that slipped through; the point gets no faces
			continue
		}

		t := b.addTriangle(e, i, b.hullNext[e], -1, -1, b.hullTri[e])
		b.hullTri[i] = b.legalize(t + 2)
		b.hullTri[e] = t
		hullSize++

		// walk forward through the hull
		nx := b.hullNext[e]
		for {
			q := b.hullNext[nx]
			if orient(p, coords[nx], coords[q]) >= 0 {
				break
			}
			t = b.addTriangle(nx, i, q, b.hullTri[i], -1, b.hullTri[nx])
			b.hullTri[i] = b.legalize(t + 2)
			b.hullNext[nx] = nx
			hullSize--
			nx = q
		}

		// walk backward from the other side
		if e == start {
			for {
				q := b.hullPrev[e]
				if orient(p, coords[q], coords[e]) >= 0 {
					break
				}
				t = b.addTriangle(q, i, e, -1, b.hullTri[e], b.hullTri[q])
				b.legalize(t + 2)
				b.hullTri[q] = t
				b.hullNext[e] = e
				hullSize--
				e = q
			}
		}

		b.hullStart = e
		b.hullPrev[i] = e
		b.hullNext[e] = i
		b.hullPrev[nx] = i
		b.hullNext[i] = nx

		b.hullHash[b.hashKey(p)] = i
		b.hullHash[b.hashKey(coords[e])] = e
	}

	b.hull = make([]int, hullSize)
	e := b.hullStart
	for i := 0; i < hullSize; i++ {
		b.hull[i] = e
		e = b.hullNext[e]
	}

	return n >= 3 && len(b.triangles) > 0
}

func (b *builder) hashKey(p orb.Point) int {
	a := pseudoAngle(p[0]-b.center[0], p[1]-b.center[1])
	if math.IsNaN(a) {
		return 0
	}
	k := int(math.Floor(a*float64(b.hashSize))) % b.hashSize
	if k < 0 {
		k += b.hashSize
	}
	return k
}

func (b *builder) legalize(a int) int {
	i := 0
	ar := 0

	for {
		bb := b.halfedges[a]
		a0 := a - a%3
		ar = a0 + (a+2)%3

		if bb == -1 {
			// hull edge
			if i == 0 {
				break
			}
			i--
			a = b.edgeStack[i]
			continue
		}

		b0 := bb - bb%3
		al := a0 + (a+1)%3
		bl := b0 + (bb+2)%3

		p0 := b.triangles[ar]
		pr := b.triangles[a]
		pl := b.triangles[al]
		p1 := b.triangles[bl]

		illegal := inCircle(b.coords[p0], b.coords[pr], b.coords[pl], b.coords[p1])

		if illegal {
			b.triangles[a] = p1
			b.triangles[bb] = p0

			hbl := b.halfedges[bl]

			// edge swapped on the other side of the hull; fix the reference
			if hbl == -1 {
				e := b.hullStart
				for {
					if b.hullTri[e] == bl {
						b.hullTri[e] = a
						break
					}
					e = b.hullPrev[e]
					if e == b.hullStart {
						break
					}
				}
			}
			b.link(a, hbl)
			b.link(bb, b.halfedges[ar])
			b.link(ar, bl)

			br := b0 + (bb+1)%3
			if i < len(b.edgeStack) {
				b.edgeStack[i] = br
				i++
			}
		} else {
			if i == 0 {
				break
			}
			i--
			a = b.edgeStack[i]
		}
	}

	return ar
}

func (b *builder) link(a, c int) {
	b.halfedges[a] = c
	if c != -1 {
		b.halfedges[c] = a
	}
}

func (b *builder) addTriangle(i0, i1, i2, a, bb, c int) int {
	t := len(b.triangles)
	b.triangles = append(b.triangles, i0, i1, i2)
	b.halfedges = append(b.halfedges, -1, -1, -1)
	b.link(t, a)
	b.link(t+1, bb)
	b.link(t+2, c)
	return t
}

func countDistinct(points []orb.Point) int {
	seen := make(map[orb.Point]struct{}, len(points))
	for _, p := range points {
		seen[p] = struct{}{}
	}
	return len(seen)
}

func finite(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}
