// Package tiler cuts region features into gzipped Mapbox vector tiles and
// packs them into a PMTiles archive. Everything is pure Go.
package tiler

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"

	"github.com/joeblew999/regionmap/internal/pmtiles"
)

// MaxZoom is the deepest zoom the tiler generates.
const MaxZoom = 14

// tileExtent is the MVT coordinate extent of one tile.
const tileExtent = 4096

// ProgressFunc receives progress in percent and a status line.
type ProgressFunc func(progress int, status string)

// Config controls tile generation.
type Config struct {
	Name     string
	Layer    string
	MinZoom  int
	MaxZoom  int
	Progress ProgressFunc
}

func (c Config) normalized() Config {
	if c.Layer == "" {
		c.Layer = "regions"
	}
	if c.Name == "" {
		c.Name = c.Layer
	}
	if c.MinZoom < 0 {
		c.MinZoom = 0
	}
	if c.MaxZoom <= 0 || c.MaxZoom > MaxZoom {
		c.MaxZoom = MaxZoom
	}
	if c.MinZoom > c.MaxZoom {
		c.MinZoom = c.MaxZoom
	}
	return c
}

func (c Config) progress(p int, status string) {
	if c.Progress != nil {
		c.Progress(p, status)
	}
}

// Build generates the tiles of every zoom level in cfg. Features must be
// in lon/lat.
func Build(fc *geojson.FeatureCollection, cfg Config) (map[maptile.Tile][]byte, error) {
	cfg = cfg.normalized()
	tiles := make(map[maptile.Tile][]byte)
	levels := cfg.MaxZoom - cfg.MinZoom + 1
	for i, z := 0, cfg.MinZoom; z <= cfg.MaxZoom; i, z = i+1, z+1 {
		level, err := buildZoom(fc, maptile.Zoom(z), cfg.Layer)
		if err != nil {
			return nil, fmt.Errorf("zoom %d: %w", z, err)
		}
		for t, data := range level {
			tiles[t] = data
		}
		cfg.progress(10+80*(i+1)/levels, fmt.Sprintf("zoom %d: %d tiles", z, len(level)))
	}
	return tiles, nil
}

// Write builds the tiles and writes the archive to w.
func Write(w io.Writer, fc *geojson.FeatureCollection, cfg Config) error {
	cfg = cfg.normalized()
	cfg.progress(5, "building tiles")
	tiles, err := Build(fc, cfg)
	if err != nil {
		return err
	}
	err = pmtiles.Write(w, tiles, pmtiles.Metadata{
		Name:    cfg.Name,
		Layer:   cfg.Layer,
		MinZoom: uint8(cfg.MinZoom),
		MaxZoom: uint8(cfg.MaxZoom),
		Bound:   collectionBound(fc),
	})
	if err != nil {
		return fmt.Errorf("write pmtiles: %w", err)
	}
	cfg.progress(100, fmt.Sprintf("%d tiles written", len(tiles)))
	return nil
}

// WriteFile writes the archive to path, creating its directory.
func WriteFile(path string, fc *geojson.FeatureCollection, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create tiles directory: %w", err)
	}
	var buf bytes.Buffer
	if err := Write(&buf, fc, cfg); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func buildZoom(fc *geojson.FeatureCollection, zoom maptile.Zoom, layerName string) (map[maptile.Tile][]byte, error) {
	byTile := make(map[maptile.Tile][]*geojson.Feature)
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		for _, t := range tilesInBounds(f.Geometry.Bound(), zoom) {
			byTile[t] = append(byTile[t], f)
		}
	}

	out := make(map[maptile.Tile][]byte, len(byTile))
	for t, features := range byTile {
		data, err := encodeTile(t, features, layerName)
		if err != nil {
			return nil, err
		}
		if data != nil {
			out[t] = data
		}
	}
	return out, nil
}

// encodeTile returns nil when no feature survives clipping.
func encodeTile(t maptile.Tile, features []*geojson.Feature, layerName string) ([]byte, error) {
	bound := t.Bound()
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		if !intersects(f.Geometry, bound) {
			continue
		}
		// mvt clips and projects in place
		c := geojson.NewFeature(orb.Clone(f.Geometry))
		for k, v := range f.Properties {
			c.Properties[k] = v
		}
		fc.Append(c)
	}
	if len(fc.Features) == 0 {
		return nil, nil
	}

	layer := mvt.NewLayer(layerName, fc)
	if eps := simplifyEpsilon(t.Z); eps > 0 {
		layer.Simplify(simplify.DouglasPeucker(eps))
	}
	layer.Clip(bound)
	layer.ProjectToTile(t)
	layer.RemoveEmpty(0.5, 0.5)
	if len(layer.Features) == 0 {
		return nil, nil
	}
	return mvt.MarshalGzipped(mvt.Layers{layer})
}

// intersects refines the bounding box test for areal geometry.
func intersects(g orb.Geometry, bound orb.Bound) bool {
	if !g.Bound().Intersects(bound) {
		return false
	}
	switch g := g.(type) {
	case orb.Point:
		return bound.Contains(g)
	case orb.Polygon:
		for _, p := range g[0] {
			if bound.Contains(p) {
				return true
			}
		}
		corners := []orb.Point{bound.Min, {bound.Max[0], bound.Min[1]}, bound.Max, {bound.Min[0], bound.Max[1]}}
		for _, p := range corners {
			if planar.PolygonContains(g, p) {
				return true
			}
		}
		// an edge may still cross the tile between corners
		return edgeCrosses(g[0], bound)
	case orb.MultiPolygon:
		for _, p := range g {
			if intersects(p, bound) {
				return true
			}
		}
		return false
	}
	return true
}

func edgeCrosses(r orb.Ring, b orb.Bound) bool {
	sides := [4][2]orb.Point{
		{b.Min, {b.Max[0], b.Min[1]}},
		{{b.Max[0], b.Min[1]}, b.Max},
		{b.Max, {b.Min[0], b.Max[1]}},
		{{b.Min[0], b.Max[1]}, b.Min},
	}
	for i := 0; i+1 < len(r); i++ {
		for _, s := range sides {
			if segmentsCross(r[i], r[i+1], s[0], s[1]) {
				return true
			}
		}
	}
	return false
}

func segmentsCross(a, b, c, d orb.Point) bool {
	d1 := orient(c, d, a)
	d2 := orient(c, d, b)
	d3 := orient(a, b, c)
	d4 := orient(a, b, d)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

func orient(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

// tilesInBounds returns all tiles at a zoom level that intersect a bounding box.
func tilesInBounds(bounds orb.Bound, zoom maptile.Zoom) []maptile.Tile {
	minTile := maptile.At(bounds.Min, zoom)
	maxTile := maptile.At(bounds.Max, zoom)

	minX, maxX := minTile.X, maxTile.X
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	minY, maxY := minTile.Y, maxTile.Y
	if minY > maxY {
		minY, maxY = maxY, minY
	}

	var tiles []maptile.Tile
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			tiles = append(tiles, maptile.New(x, y, zoom))
		}
	}
	return tiles
}

// simplifyEpsilon is about one tile unit in degrees, or zero at the
// deepest zoom.
func simplifyEpsilon(zoom maptile.Zoom) float64 {
	if zoom >= MaxZoom {
		return 0
	}
	return 360.0 / float64(tileExtent) / float64(uint64(1)<<zoom)
}

func collectionBound(fc *geojson.FeatureCollection) orb.Bound {
	var b orb.Bound
	first := true
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		if first {
			b, first = f.Geometry.Bound(), false
			continue
		}
		b = b.Union(f.Geometry.Bound())
	}
	return b
}
