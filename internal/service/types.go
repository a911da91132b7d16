// Package service wires the site store, the recompute engine and the
// per-client map sessions together for the HTTP layer.
package service

import "time"

// MapSummary describes the published map.
type MapSummary struct {
	Version  uint64     `json:"version" doc:"Snapshot version of the published result"`
	Status   string     `json:"status" enum:"ok,degenerate_input,clip_failure,pending" doc:"Result status"`
	Sites    int        `json:"sites" doc:"Number of sites"`
	Regions  int        `json:"regions" doc:"Sites drawn as regions"`
	Markers  int        `json:"markers" doc:"Sites drawn as markers"`
	AreaKm2  float64    `json:"areaKm2" doc:"Total region area in square kilometres"`
	Notice   string     `json:"notice,omitempty" doc:"User-facing message when regions could not be drawn"`
	Bound    [4]float64 `json:"bound" doc:"Boundary extent as [minLon, minLat, maxLon, maxLat]"`
	Source   string     `json:"source" doc:"Where sites are loaded from" example:"file:data/sites.json"`
	Sessions int        `json:"sessions" doc:"Mounted map sessions"`
}

// SessionInfo describes one mounted map.
type SessionInfo struct {
	ID      string    `json:"id" doc:"Session identifier" example:"0b6f8f2e-3c61-4a44-9a57-0f1d1b0e5c2a"`
	Created time.Time `json:"created" doc:"Creation time"`
	Version uint64    `json:"version" doc:"Version of the result the session renders"`
	Query   string    `json:"query" doc:"Current search text"`
}

// SourceFile represents a site or boundary data file.
type SourceFile struct {
	Name     string `json:"name" doc:"File name" example:"sites.geojson"`
	Size     string `json:"size" doc:"Human-readable file size" example:"1.2 MB"`
	FileType string `json:"fileType" doc:"File type" example:"GeoJSON"`
}

// TileFile represents a PMTiles file.
type TileFile struct {
	Name    string `json:"name" doc:"PMTiles file name" example:"regions.pmtiles"`
	Size    string `json:"size" doc:"Human-readable file size" example:"5.4 MB"`
	MinZoom int    `json:"minZoom,omitempty" doc:"Lowest zoom in the archive"`
	MaxZoom int    `json:"maxZoom,omitempty" doc:"Highest zoom in the archive"`
	Tiles   uint64 `json:"tiles,omitempty" doc:"Number of addressed tiles"`
}
