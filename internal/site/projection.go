package site

import (
	"math"

	"github.com/paulmach/orb"
)

// Projection is an equirectangular projection around a reference point.
// Plane units are meters east and north of the reference.
type Projection struct {
	Origin orb.Point // lon, lat

	cosLat float64
}

// NewProjection returns a projection centred on origin (lon, lat).
func NewProjection(origin orb.Point) Projection {
	c := math.Cos(deg2rad(origin.Lat()))
	if c < 1e-6 {
		c = 1e-6
	}
	return Projection{Origin: origin, cosLat: c}
}

// Forward maps (lon, lat) into the plane.
func (p Projection) Forward(ll orb.Point) orb.Point {
	cl := p.cos()
	return orb.Point{
		orb.EarthRadius * deg2rad(ll.Lon()-p.Origin.Lon()) * cl,
		orb.EarthRadius * deg2rad(ll.Lat()-p.Origin.Lat()),
	}
}

// Inverse maps a plane point back to (lon, lat).
func (p Projection) Inverse(xy orb.Point) orb.Point {
	cl := p.cos()
	return orb.Point{
		p.Origin.Lon() + rad2deg(xy[0]/(orb.EarthRadius*cl)),
		p.Origin.Lat() + rad2deg(xy[1]/orb.EarthRadius),
	}
}

func (p Projection) cos() float64 {
	if p.cosLat == 0 {
		return 1
	}
	return p.cosLat
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
func rad2deg(r float64) float64 { return r * 180 / math.Pi }
