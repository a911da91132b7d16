// Package viewport is the interactive layer controller: it owns the view
// state of one mounted map, resolves pointer input to sites and builds the
// render frame.
package viewport

import (
	"errors"

	"github.com/paulmach/orb"
)

// Layer names accepted by ToggleLayer.
const (
	LayerRegions = "regions"
	LayerMarkers = "markers"
	LayerLabels  = "labels"
)

// BaseResolution is the plane units per pixel at zoom 0. Each zoom level
// halves it.
const BaseResolution = 156543.03392804097

var (
	ErrUnknownLayer = errors.New("unknown layer")
	ErrClosed       = errors.New("controller closed")
)

// Options configures a Controller.
type Options struct {
	Width, Height int

	MinZoom, MaxZoom float64

	// BaseResolution overrides the package constant, mainly for tests.
	BaseResolution float64

	// PickRadiusPx is the marker hit radius in screen pixels.
	PickRadiusPx float64

	// Rings are simplified below this zoom with a tolerance of
	// SimplifyTolerancePx pixels.
	SimplifyBelowZoom   float64
	SimplifyTolerancePx float64

	// Layers holds the initial layer visibility. Missing layers start on.
	Layers map[string]bool

	// InitialBound is fitted on New and Reset when set.
	InitialBound orb.Bound

	// Unproject maps plane points to lon/lat for basemap tile coverage.
	// Tiles are omitted when nil.
	Unproject func(orb.Point) orb.Point
	MaxTiles  int
}

// DefaultOptions returns the options used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		Width:               1024,
		Height:              768,
		MinZoom:             8,
		MaxZoom:             18,
		BaseResolution:      BaseResolution,
		PickRadiusPx:        12,
		SimplifyBelowZoom:   12,
		SimplifyTolerancePx: 1,
		MaxTiles:            64,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Width <= 0 {
		o.Width = d.Width
	}
	if o.Height <= 0 {
		o.Height = d.Height
	}
	if o.MinZoom == 0 && o.MaxZoom == 0 {
		o.MinZoom, o.MaxZoom = d.MinZoom, d.MaxZoom
	}
	if o.MaxZoom < o.MinZoom {
		o.MinZoom, o.MaxZoom = o.MaxZoom, o.MinZoom
	}
	if o.BaseResolution <= 0 {
		o.BaseResolution = d.BaseResolution
	}
	if o.PickRadiusPx <= 0 {
		o.PickRadiusPx = d.PickRadiusPx
	}
	if o.SimplifyTolerancePx <= 0 {
		o.SimplifyTolerancePx = d.SimplifyTolerancePx
	}
	if o.MaxTiles <= 0 {
		o.MaxTiles = d.MaxTiles
	}
	return o
}

func validLayer(name string) bool {
	switch name {
	case LayerRegions, LayerMarkers, LayerLabels:
		return true
	}
	return false
}

// State is the view state of one controller.
type State struct {
	Center       orb.Point       `json:"center" doc:"View centre in plane coordinates"`
	Zoom         float64         `json:"zoom" doc:"Zoom level"`
	Fullscreen   bool            `json:"fullscreen"`
	ActiveLayers map[string]bool `json:"activeLayers" doc:"Layer visibility by name"`
	Width        int             `json:"width" doc:"Viewport width in pixels"`
	Height       int             `json:"height" doc:"Viewport height in pixels"`
}

func (s State) clone() State {
	layers := make(map[string]bool, len(s.ActiveLayers))
	for k, v := range s.ActiveLayers {
		layers[k] = v
	}
	s.ActiveLayers = layers
	return s
}
