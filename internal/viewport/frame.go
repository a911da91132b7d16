package viewport

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"

	"github.com/joeblew999/regionmap/internal/pipeline"
)

// RenderFrame is everything a renderer needs to draw one frame.
type RenderFrame struct {
	Version      uint64         `json:"version" doc:"Snapshot version the frame was built from"`
	State        State          `json:"state"`
	Polygons     []PolygonLayer `json:"polygons"`
	Markers      []Marker       `json:"markers"`
	Labels       []Label        `json:"labels"`
	Tooltip      *Tooltip       `json:"tooltip,omitempty"`
	Hovered      string         `json:"hovered,omitempty"`
	Selected     string         `json:"selected,omitempty"`
	SearchActive bool           `json:"searchActive"`
	Notice       string         `json:"notice,omitempty" doc:"User-facing message when regions could not be drawn"`
	Tiles        []maptile.Tile `json:"tiles,omitempty" doc:"Basemap tiles covering the view"`
}

// PolygonLayer is one site's region.
type PolygonLayer struct {
	SiteID      string           `json:"siteId"`
	Rings       orb.MultiPolygon `json:"rings"`
	Highlighted bool             `json:"highlighted"`
	Dimmed      bool             `json:"dimmed"`
	Hovered     bool             `json:"hovered"`
	Selected    bool             `json:"selected"`
}

// Marker is a site drawn as a point. Degraded markers stand in for sites
// without a region and are drawn whatever the markers layer says.
type Marker struct {
	SiteID      string    `json:"siteId"`
	Name        string    `json:"name"`
	Coordinate  orb.Point `json:"coordinate"`
	Screen      orb.Point `json:"screen"`
	Degraded    bool      `json:"degraded"`
	Reason      string    `json:"reason,omitempty"`
	Highlighted bool      `json:"highlighted"`
	Dimmed      bool      `json:"dimmed"`
}

// Label is a site name anchored inside its region.
type Label struct {
	SiteID   string    `json:"siteId"`
	Text     string    `json:"text"`
	Position orb.Point `json:"position"`
	Screen   orb.Point `json:"screen"`
}

// Tooltip describes the hovered site.
type Tooltip struct {
	SiteID           string    `json:"siteId"`
	Name             string    `json:"name"`
	ParentRegionName string    `json:"parentRegionName"`
	AreaKm2          float64   `json:"areaKm2"`
	CoveredBy        string    `json:"coveredBy,omitempty"`
	Screen           orb.Point `json:"screen"`
}

// Frame builds the render frame for the current state. It never returns
// an empty frame for a non-empty snapshot: sites without regions are
// always present as markers.
func (c *Controller) Frame() RenderFrame {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := RenderFrame{
		State:        c.state.clone(),
		Hovered:      c.hovered,
		Selected:     c.selected,
		SearchActive: c.searchActive,
	}
	res := c.result
	if res == nil {
		return f
	}
	f.Version = res.Version
	f.Notice = res.Notice

	view := c.visibleBound()
	resolution := c.resolution()
	pad := c.opts.PickRadiusPx * resolution
	padded := view.Pad(pad)

	var simplifier *simplify.DouglasPeuckerSimplifier
	if c.state.Zoom < c.opts.SimplifyBelowZoom {
		simplifier = simplify.DouglasPeucker(c.opts.SimplifyTolerancePx * resolution)
	}

	if c.state.ActiveLayers[LayerRegions] {
		for _, cell := range res.Cells {
			if !cell.Bound.Intersects(view) {
				continue
			}
			highlighted, dimmed := c.emphasis(cell.SiteID)
			f.Polygons = append(f.Polygons, PolygonLayer{
				SiteID:      cell.SiteID,
				Rings:       simplifyCell(cell, simplifier),
				Highlighted: highlighted,
				Dimmed:      dimmed,
				Hovered:     cell.SiteID == c.hovered,
				Selected:    cell.SiteID == c.selected,
			})
		}
	}

	showAll := c.state.ActiveLayers[LayerMarkers]
	for _, m := range c.markers {
		if !m.degraded && !showAll {
			continue
		}
		if !padded.Contains(m.point) {
			continue
		}
		highlighted, dimmed := c.emphasis(m.siteID)
		name := ""
		if s, ok := res.Snapshot.Lookup(m.siteID); ok {
			name = s.Name
		}
		f.Markers = append(f.Markers, Marker{
			SiteID:      m.siteID,
			Name:        name,
			Coordinate:  m.point,
			Screen:      c.toScreen(m.point),
			Degraded:    m.degraded,
			Reason:      string(m.reason),
			Highlighted: highlighted,
			Dimmed:      dimmed,
		})
	}

	if c.state.ActiveLayers[LayerLabels] {
		for _, cell := range res.Cells {
			pos := labelPosition(cell)
			if !view.Contains(pos) {
				continue
			}
			s, _ := res.Snapshot.Lookup(cell.SiteID)
			f.Labels = append(f.Labels, Label{
				SiteID:   cell.SiteID,
				Text:     s.Name,
				Position: pos,
				Screen:   c.toScreen(pos),
			})
		}
	}

	if c.hovered != "" {
		f.Tooltip = c.tooltip(res, c.hovered)
	}
	if c.opts.Unproject != nil {
		f.Tiles = coverTiles(view, c.state.Zoom, c.opts.Unproject, c.opts.MaxTiles)
	}
	return f
}

func (c *Controller) emphasis(id string) (highlighted, dimmed bool) {
	if !c.searchActive {
		return false, false
	}
	if c.matched[id] {
		return true, false
	}
	return false, true
}

func (c *Controller) tooltip(res *pipeline.Result, id string) *Tooltip {
	s, ok := res.Snapshot.Lookup(id)
	if !ok {
		return nil
	}
	t := &Tooltip{
		SiteID:           id,
		Name:             s.Name,
		ParentRegionName: s.ParentRegionName,
		CoveredBy:        res.CoveredBy[id],
		Screen:           c.hoverScreen,
	}
	if cell, ok := res.Cell(id); ok {
		t.AreaKm2 = cell.Area / 1e6
	}
	return t
}

// simplifyCell returns the cell's rings, simplified when s is set. A ring
// that would collapse keeps its original shape.
func simplifyCell(cell pipeline.Cell, s *simplify.DouglasPeuckerSimplifier) orb.MultiPolygon {
	mp := cell.MultiPolygon()
	if s == nil {
		return mp
	}
	out := make(orb.MultiPolygon, 0, len(mp))
	for _, poly := range mp {
		np := make(orb.Polygon, 0, len(poly))
		for _, r := range poly {
			sr, ok := s.Simplify(r.Clone()).(orb.Ring)
			if !ok || len(sr) < 4 {
				sr = r
			}
			np = append(np, sr)
		}
		out = append(out, np)
	}
	return out
}

// labelPosition returns the centroid of the largest fragment, or the first
// vertex when the centroid falls outside it.
func labelPosition(cell pipeline.Cell) orb.Point {
	var best orb.Polygon
	bestArea := -1.0
	for _, f := range cell.Fragments {
		if f.Area > bestArea {
			best, bestArea = f.Polygon, f.Area
		}
	}
	if len(best) == 0 || len(best[0]) == 0 {
		return cell.Bound.Center()
	}
	centroid, _ := planar.CentroidArea(best)
	if planar.PolygonContains(best, centroid) {
		return centroid
	}
	return best[0][0]
}

const (
	maxTileZoom = 19
	maxLatitude = 85.05112877980659
)

// coverTiles returns the basemap tiles covering view, dropping zoom levels
// until at most limit tiles are needed.
func coverTiles(view orb.Bound, zoom float64, unproject func(orb.Point) orb.Point, limit int) []maptile.Tile {
	ll := orb.Bound{Min: unproject(view.Min), Max: unproject(view.Max)}
	ll.Min[1] = math.Max(ll.Min[1], -maxLatitude)
	ll.Max[1] = math.Min(ll.Max[1], maxLatitude)
	ll.Min[0] = math.Max(ll.Min[0], -180)
	ll.Max[0] = math.Min(ll.Max[0], 180)

	z := int(math.Floor(zoom))
	if z > maxTileZoom {
		z = maxTileZoom
	}
	for ; z >= 0; z-- {
		if tileCount(ll, uint32(z)) <= limit {
			return tilesInBounds(ll, uint32(z))
		}
	}
	return nil
}

func tileCount(bounds orb.Bound, zoom uint32) int {
	a := maptile.At(bounds.Min, maptile.Zoom(zoom))
	b := maptile.At(bounds.Max, maptile.Zoom(zoom))
	dx := int(a.X) - int(b.X)
	dy := int(a.Y) - int(b.Y)
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	return (dx + 1) * (dy + 1)
}

// tilesInBounds returns all tiles at a zoom level that intersect a bounding box.
func tilesInBounds(bounds orb.Bound, zoom uint32) []maptile.Tile {
	minTile := maptile.At(bounds.Min, maptile.Zoom(zoom))
	maxTile := maptile.At(bounds.Max, maptile.Zoom(zoom))

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
			tiles = append(tiles, maptile.New(x, y, maptile.Zoom(zoom)))
		}
	}
	return tiles
}
