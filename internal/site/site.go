// Package site holds the named point locations the map is built from and
// the store that publishes them as immutable, versioned snapshots.
package site

import (
	"github.com/paulmach/orb"
)

// Record is a site as delivered by a source, in geographic coordinates.
type Record struct {
	ID               string  `json:"id" required:"true" minLength:"1" doc:"Unique site identifier" example:"3203012005"`
	Name             string  `json:"name" required:"true" doc:"Display name" example:"Kebonpedes"`
	ParentRegionName string  `json:"parentRegionName" doc:"Name of the containing region" example:"Kebonpedes"`
	Latitude         float64 `json:"latitude" minimum:"-90" maximum:"90" doc:"Latitude in degrees" example:"-6.9541"`
	Longitude        float64 `json:"longitude" minimum:"-180" maximum:"180" doc:"Longitude in degrees" example:"106.9405"`
}

// Site is one named location. Location is (lon, lat); Coordinate is the
// projected position in the map plane.
type Site struct {
	ID               string
	Name             string
	ParentRegionName string
	Location         orb.Point
	Coordinate       orb.Point
}

// Record converts s back to its source form.
func (s Site) Record() Record {
	return Record{
		ID:               s.ID,
		Name:             s.Name,
		ParentRegionName: s.ParentRegionName,
		Latitude:         s.Location.Lat(),
		Longitude:        s.Location.Lon(),
	}
}

// Snapshot is an immutable, ordered set of sites. Version increases with
// every replacement in the Store that produced it.
type Snapshot struct {
	Version uint64
	Sites   []Site

	index map[string]int
}

// NewSnapshot builds a snapshot over sites. The slice is not copied.
func NewSnapshot(version uint64, sites []Site) *Snapshot {
	idx := make(map[string]int, len(sites))
	for i, s := range sites {
		idx[s.ID] = i
	}
	return &Snapshot{Version: version, Sites: sites, index: idx}
}

// Len returns the number of sites.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Sites)
}

// Lookup returns the site with the given id.
func (s *Snapshot) Lookup(id string) (Site, bool) {
	i, ok := s.Index(id)
	if !ok {
		return Site{}, false
	}
	return s.Sites[i], true
}

// Index returns the position of id in Sites.
func (s *Snapshot) Index(id string) (int, bool) {
	if s == nil {
		return 0, false
	}
	i, ok := s.index[id]
	return i, ok
}

// Has reports whether id belongs to the snapshot.
func (s *Snapshot) Has(id string) bool {
	_, ok := s.Index(id)
	return ok
}

// IDs returns the site ids in snapshot order.
func (s *Snapshot) IDs() []string {
	ids := make([]string, s.Len())
	for i := range ids {
		ids[i] = s.Sites[i].ID
	}
	return ids
}

// Points returns the projected coordinates in snapshot order.
func (s *Snapshot) Points() []orb.Point {
	pts := make([]orb.Point, s.Len())
	for i := range pts {
		pts[i] = s.Sites[i].Coordinate
	}
	return pts
}

// Bound returns the bound of the projected coordinates.
func (s *Snapshot) Bound() orb.Bound {
	if s.Len() == 0 {
		return orb.Bound{}
	}
	return orb.MultiPoint(s.Points()).Bound()
}

// Filter returns the sites for which keep reports true, in snapshot order.
func (s *Snapshot) Filter(keep func(Site) bool) []Site {
	var out []Site
	for _, st := range s.sitesOrEmpty() {
		if keep(st) {
			out = append(out, st)
		}
	}
	return out
}

// Without returns a snapshot at version with the given ids removed.
func (s *Snapshot) Without(version uint64, ids ...string) *Snapshot {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := s.Filter(func(st Site) bool {
		_, gone := drop[st.ID]
		return !gone
	})
	return NewSnapshot(version, kept)
}

func (s *Snapshot) sitesOrEmpty() []Site {
	if s == nil {
		return nil
	}
	return s.Sites
}
