// Package boundary loads the outer administrative boundary and clips
// Voronoi cells to it.
package boundary

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Boundary is the outer ring plus optional holes every cell is clipped to.
type Boundary struct {
	Polygon orb.Polygon
}

// New validates p and returns it as a Boundary with a CCW outer ring and
// CW holes.
func New(p orb.Polygon) (*Boundary, error) {
	b := &Boundary{Polygon: normalize(p)}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate rejects rings with fewer than four points or zero area.
func (b *Boundary) Validate() error {
	if b == nil || len(b.Polygon) == 0 {
		return errors.New("boundary: empty polygon")
	}
	for i, r := range b.Polygon {
		if len(r) < 4 {
			return fmt.Errorf("boundary: ring %d has %d points", i, len(r))
		}
		if r[0] != r[len(r)-1] {
			return fmt.Errorf("boundary: ring %d is not closed", i)
		}
		a := planar.Area(r)
		if a == 0 || math.IsNaN(a) {
			return fmt.Errorf("boundary: ring %d has zero area", i)
		}
	}
	return nil
}

// Outer returns the outer ring.
func (b *Boundary) Outer() orb.Ring { return b.Polygon[0] }

// Holes returns the interior rings.
func (b *Boundary) Holes() []orb.Ring { return b.Polygon[1:] }

// Bound returns the bounding box of the outer ring.
func (b *Boundary) Bound() orb.Bound { return b.Polygon[0].Bound() }

// Area returns the boundary area with holes removed.
func (b *Boundary) Area() float64 { return polygonArea(b.Polygon) }

// Contains reports whether p lies inside the outer ring and outside every
// hole.
func (b *Boundary) Contains(p orb.Point) bool { return planar.PolygonContains(b.Polygon, p) }

// Project returns a copy of b with every vertex mapped through f.
func (b *Boundary) Project(f func(orb.Point) orb.Point) *Boundary {
	out := make(orb.Polygon, len(b.Polygon))
	for i, r := range b.Polygon {
		nr := make(orb.Ring, len(r))
		for j, p := range r {
			nr[j] = f(p)
		}
		out[i] = nr
	}
	return &Boundary{Polygon: normalize(out)}
}

// Load reads a boundary from a GeoJSON file.
func Load(path string) (*Boundary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("boundary: read %s: %w", path, err)
	}
	b, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("boundary: %s: %w", path, err)
	}
	return b, nil
}

// Parse accepts a GeoJSON Polygon, MultiPolygon (largest member), Feature
// or FeatureCollection (first polygonal feature).
func Parse(data []byte) (*Boundary, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}

	var g orb.Geometry
	switch probe.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("parse feature collection: %w", err)
		}
		for _, f := range fc.Features {
			if polygonal(f.Geometry) {
				g = f.Geometry
				break
			}
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("parse feature: %w", err)
		}
		g = f.Geometry
	default:
		geom, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("parse geometry: %w", err)
		}
		g = geom.Geometry()
	}

	switch geom := g.(type) {
	case orb.Polygon:
		return New(geom)
	case orb.MultiPolygon:
		return New(largest(geom))
	case nil:
		return nil, errors.New("no polygon found")
	default:
		return nil, fmt.Errorf("unsupported geometry %s", g.GeoJSONType())
	}
}

func polygonal(g orb.Geometry) bool {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return true
	}
	return false
}

func largest(mp orb.MultiPolygon) orb.Polygon {
	var best orb.Polygon
	bestArea := -1.0
	for _, p := range mp {
		if a := polygonArea(p); a > bestArea {
			best, bestArea = p, a
		}
	}
	return best
}

// normalize closes every ring, orients the outer ring CCW and holes CW.
func normalize(p orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, 0, len(p))
	for i, r := range p {
		r = closeRing(dedupe(r))
		r = append(orb.Ring(nil), r...)
		want := orb.CCW
		if i > 0 {
			want = orb.CW
		}
		if len(r) >= 4 && r.Orientation() != want {
			r.Reverse()
		}
		out = append(out, r)
	}
	return out
}

func polygonArea(p orb.Polygon) float64 {
	if len(p) == 0 {
		return 0
	}
	a := math.Abs(planar.Area(p[0]))
	for _, h := range p[1:] {
		a -= math.Abs(planar.Area(h))
	}
	return a
}
