// Package export turns a computed map into GeoJSON in geographic
// coordinates.
package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"

	"github.com/joeblew999/regionmap/internal/pipeline"
)

// Feature kinds.
const (
	KindRegion = "region"
	KindMarker = "marker"
)

// Cells encodes every region of res as a Polygon or MultiPolygon and every
// marker as a Point. inverse maps plane coordinates back to lon/lat; nil
// keeps plane coordinates.
func Cells(res *pipeline.Result, inverse func(orb.Point) orb.Point) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if res == nil || res.Snapshot == nil {
		return fc
	}
	for _, c := range res.Cells {
		s, ok := res.Snapshot.Lookup(c.SiteID)
		if !ok {
			continue
		}
		var g orb.Geometry = c.MultiPolygon()
		if len(c.Fragments) == 1 {
			g = c.Fragments[0].Polygon
		}
		f := geojson.NewFeature(toGeo(g, inverse))
		f.ID = s.ID
		f.Properties["id"] = s.ID
		f.Properties["name"] = s.Name
		f.Properties["parentRegionName"] = s.ParentRegionName
		f.Properties["kind"] = KindRegion
		f.Properties["areaKm2"] = c.Area / 1e6
		fc.Append(f)
	}
	for _, m := range res.Markers {
		s, ok := res.Snapshot.Lookup(m.SiteID)
		if !ok {
			continue
		}
		f := geojson.NewFeature(toGeo(m.Coordinate, inverse))
		f.ID = s.ID
		f.Properties["id"] = s.ID
		f.Properties["name"] = s.Name
		f.Properties["parentRegionName"] = s.ParentRegionName
		f.Properties["kind"] = KindMarker
		f.Properties["reason"] = string(m.Reason)
		if by, ok := res.CoveredBy[m.SiteID]; ok {
			f.Properties["coveredBy"] = by
		}
		fc.Append(f)
	}
	return fc
}

// toGeo projects a copy of g; project.Geometry works in place.
func toGeo(g orb.Geometry, inverse func(orb.Point) orb.Point) orb.Geometry {
	if inverse == nil {
		return orb.Clone(g)
	}
	return project.Geometry(orb.Clone(g), inverse)
}

// WriteFile writes fc as GeoJSON, creating the directory.
func WriteFile(path string, fc *geojson.FeatureCollection) error {
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal geojson: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
