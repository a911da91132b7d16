package boundary

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// errDegenerate means an intersection fell on a vertex or two edges
// overlapped. The caller perturbs the subject and tries again.
var errDegenerate = errors.New("degenerate intersection")

// paramEps is the edge-parameter band treated as touching an endpoint.
const paramEps = 1e-9

type vertex struct {
	p         orb.Point
	next      *vertex
	prev      *vertex
	neighbor  *vertex
	alpha     float64
	intersect bool
	entry     bool
	visited   bool
}

type vlist struct {
	first *vertex
	orig  []*vertex
	size  int
}

func newVList(r orb.Ring) *vlist {
	pts := openRing(r)
	l := &vlist{orig: make([]*vertex, len(pts)), size: len(pts)}
	for i, p := range pts {
		l.orig[i] = &vertex{p: p}
	}
	for i, v := range l.orig {
		v.next = l.orig[(i+1)%len(pts)]
		v.prev = l.orig[(i+len(pts)-1)%len(pts)]
	}
	if len(pts) > 0 {
		l.first = l.orig[0]
	}
	return l
}

// insertBetween places v after start, ordered by alpha among the
// intersection vertices already inserted before end.
func (l *vlist) insertBetween(v, start, end *vertex) {
	cur := start.next
	for cur != end && cur.alpha < v.alpha {
		cur = cur.next
	}
	v.next = cur
	v.prev = cur.prev
	cur.prev.next = v
	cur.prev = v
	l.size++
}

func (l *vlist) firstUnvisited() *vertex {
	v := l.first
	for i := 0; i < l.size; i++ {
		if v.intersect && !v.visited {
			return v
		}
		v = v.next
	}
	return nil
}

// ghClip runs Greiner–Hormann on two simple rings. With invertSubject
// false it returns subject ∩ clip; with invertSubject true it returns
// subject − clip. crossed is false when the rings do not cross, leaving
// the caller to resolve containment.
func ghClip(subject, clipRing orb.Ring, invertSubject bool) (rings []orb.Ring, crossed bool, err error) {
	s := newVList(subject)
	c := newVList(clipRing)
	if s.size < 3 || c.size < 3 {
		return nil, false, nil
	}

	// phase 1: intersections between original edges
	found := 0
	for i, s0 := range s.orig {
		s1 := s.orig[(i+1)%len(s.orig)]
		for j, c0 := range c.orig {
			c1 := c.orig[(j+1)%len(c.orig)]
			a, b, hit, err := segmentIntersection(s0.p, s1.p, c0.p, c1.p)
			if err != nil {
				return nil, false, err
			}
			if !hit {
				continue
			}
			p := orb.Point{s0.p[0] + a*(s1.p[0]-s0.p[0]), s0.p[1] + a*(s1.p[1]-s0.p[1])}
			vs := &vertex{p: p, alpha: a, intersect: true}
			vc := &vertex{p: p, alpha: b, intersect: true}
			vs.neighbor = vc
			vc.neighbor = vs
			s.insertBetween(vs, s0, s1)
			c.insertBetween(vc, c0, c1)
			found++
		}
	}
	if found == 0 {
		return nil, false, nil
	}

	// phase 2: entry/exit flags
	closedClip := closeRing(openRing(clipRing))
	closedSubject := closeRing(openRing(subject))

	sEntry := !planar.RingContains(closedClip, s.first.p)
	if invertSubject {
		sEntry = !sEntry
	}
	v := s.first
	for i := 0; i < s.size; i++ {
		if v.intersect {
			v.entry = sEntry
			sEntry = !sEntry
		}
		v = v.next
	}

	cEntry := !planar.RingContains(closedSubject, c.first.p)
	v = c.first
	for i := 0; i < c.size; i++ {
		if v.intersect {
			v.entry = cEntry
			cEntry = !cEntry
		}
		v = v.next
	}

	// phase 3: trace result rings
	limit := 2 * (s.size + c.size)
	for {
		start := s.firstUnvisited()
		if start == nil {
			break
		}
		ring := orb.Ring{start.p}
		cur := start
		steps := 0
		for {
			cur.visited = true
			cur.neighbor.visited = true
			forward := cur.entry
			for {
				if forward {
					cur = cur.next
				} else {
					cur = cur.prev
				}
				ring = append(ring, cur.p)
				steps++
				if cur.intersect || steps > limit {
					break
				}
			}
			cur = cur.neighbor
			if cur.visited || steps > limit {
				break
			}
		}
		if steps > limit {
			return nil, true, errDegenerate
		}
		rings = append(rings, closeRing(dedupe(ring)))
	}
	return rings, true, nil
}

// segmentIntersection intersects p0p1 with q0q1. a and b are the edge
// parameters of a proper crossing. Touching at an endpoint or overlapping
// collinear edges report errDegenerate.
func segmentIntersection(p0, p1, q0, q1 orb.Point) (a, b float64, hit bool, err error) {
	r := orb.Point{p1[0] - p0[0], p1[1] - p0[1]}
	s := orb.Point{q1[0] - q0[0], q1[1] - q0[1]}
	qp := orb.Point{q0[0] - p0[0], q0[1] - p0[1]}

	den := cross(r, s)
	rl := math.Hypot(r[0], r[1])
	sl := math.Hypot(s[0], s[1])
	if rl == 0 || sl == 0 {
		return 0, 0, false, nil
	}

	if math.Abs(den) <= 1e-12*rl*sl {
		// parallel; overlapping collinear edges are degenerate
		if math.Abs(cross(qp, r)) > 1e-12*rl*math.Max(rl, sl) {
			return 0, 0, false, nil
		}
		t0 := dot(qp, r) / (rl * rl)
		t1 := t0 + dot(s, r)/(rl*rl)
		lo, hi := math.Min(t0, t1), math.Max(t0, t1)
		if hi < -paramEps || lo > 1+paramEps {
			return 0, 0, false, nil
		}
		return 0, 0, false, errDegenerate
	}

	a = cross(qp, s) / den
	b = cross(qp, r) / den

	if a < -paramEps || a > 1+paramEps || b < -paramEps || b > 1+paramEps {
		return 0, 0, false, nil
	}
	if a <= paramEps || a >= 1-paramEps || b <= paramEps || b >= 1-paramEps {
		return 0, 0, false, errDegenerate
	}
	return a, b, true, nil
}

func openRing(r orb.Ring) orb.Ring {
	if len(r) > 1 && r[0] == r[len(r)-1] {
		return r[:len(r)-1]
	}
	return r
}

func closeRing(r orb.Ring) orb.Ring {
	if len(r) == 0 {
		return r
	}
	if r[0] != r[len(r)-1] {
		out := make(orb.Ring, len(r), len(r)+1)
		copy(out, r)
		return append(out, r[0])
	}
	return r
}

func dedupe(r orb.Ring) orb.Ring {
	out := make(orb.Ring, 0, len(r))
	for _, p := range r {
		if n := len(out); n > 0 && out[n-1] == p {
			continue
		}
		out = append(out, p)
	}
	return out
}

func cross(a, b orb.Point) float64 { return a[0]*b[1] - a[1]*b[0] }
func dot(a, b orb.Point) float64 { return a[0]*b[0] + a[1]*b[1] }
