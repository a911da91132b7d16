package pipeline

import (
	"errors"

	"github.com/paulmach/orb"

	"github.com/joeblew999/regionmap/internal/boundary"
	"github.com/joeblew999/regionmap/internal/site"
)

// ErrStaleComputation is returned for a result whose snapshot was
// superseded before it could be published.
var ErrStaleComputation = errors.New("stale computation")

// Status tags a Result.
type Status int

const (
	StatusOK Status = iota
	StatusDegenerateInput
	StatusClipFailure
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDegenerateInput:
		return "degenerate_input"
	case StatusClipFailure:
		return "clip_failure"
	}
	return "unknown"
}

// MarkerReason says why a site is drawn as a marker instead of a region.
type MarkerReason string

const (
	ReasonDegenerateInput MarkerReason = "degenerate_input"
	ReasonClipFailure     MarkerReason = "clip_failure"
	ReasonCovered         MarkerReason = "covered"
)

// Cell groups the clipped fragments of one site.
type Cell struct {
	SiteID    string
	SiteIndex int
	Fragments []boundary.ClippedCell
	Area      float64
	Bound     orb.Bound
}

// MultiPolygon returns the fragments as one geometry.
func (c Cell) MultiPolygon() orb.MultiPolygon {
	mp := make(orb.MultiPolygon, len(c.Fragments))
	for i, f := range c.Fragments {
		mp[i] = f.Polygon
	}
	return mp
}

// Marker is a site rendered as a point.
type Marker struct {
	SiteID     string
	Coordinate orb.Point
	Reason     MarkerReason
}

// Result is the renderable output for one snapshot. Every site of the
// snapshot appears exactly once, either in Cells or in Markers.
type Result struct {
	Version  uint64
	Status   Status
	Snapshot *site.Snapshot
	Cells    []Cell
	Markers  []Marker

	// Failures holds the clip error of every site that fell back to a
	// marker because clipping failed.
	Failures map[string]error

	// CoveredBy maps a site without a region to the site whose region
	// covers it.
	CoveredBy map[string]string

	Notice string
	Err    error

	cellIndex map[string]int
}

// Cell returns the region of id.
func (r *Result) Cell(id string) (Cell, bool) {
	if r == nil {
		return Cell{}, false
	}
	i, ok := r.cellIndex[id]
	if !ok {
		return Cell{}, false
	}
	return r.Cells[i], true
}

// Marker returns the marker of id.
func (r *Result) Marker(id string) (Marker, bool) {
	if r == nil {
		return Marker{}, false
	}
	for _, m := range r.Markers {
		if m.SiteID == id {
			return m, true
		}
	}
	return Marker{}, false
}

// Degraded reports whether any site fell back to a marker.
func (r *Result) Degraded() bool {
	return r != nil && len(r.Markers) > 0
}

// TotalArea sums every region's area.
func (r *Result) TotalArea() float64 {
	a := 0.0
	for _, c := range r.Cells {
		a += c.Area
	}
	return a
}

func (r *Result) index() {
	r.cellIndex = make(map[string]int, len(r.Cells))
	for i, c := range r.Cells {
		r.cellIndex[c.SiteID] = i
	}
}
