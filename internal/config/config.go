// Package config loads the map configuration: where the boundary and the
// sites come from and how the interactive map behaves.
package config

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joeblew999/regionmap/internal/search"
	"github.com/joeblew999/regionmap/internal/site"
	"github.com/joeblew999/regionmap/internal/viewport"
)

// Site source kinds.
const (
	SourceFile   = "file"
	SourceHTTP   = "http"
	SourceDuckDB = "duckdb"
)

var ErrInvalid = errors.New("invalid config")

// Config is the map configuration file.
type Config struct {
	// Boundary is the GeoJSON file of the administrative boundary.
	Boundary string `yaml:"boundary"`
	Sites    Sites  `yaml:"sites"`
	Map      Map    `yaml:"map"`
	Engine   Engine `yaml:"engine"`
}

// Sites says where site records are loaded from.
type Sites struct {
	Kind string `yaml:"kind"`
	// Location is a file path for file and duckdb sources and a URL for
	// http sources.
	Location string        `yaml:"location"`
	Query    string        `yaml:"query"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Map holds the interactive map defaults.
type Map struct {
	Width               int             `yaml:"width"`
	Height              int             `yaml:"height"`
	MinZoom             float64         `yaml:"min_zoom"`
	MaxZoom             float64         `yaml:"max_zoom"`
	FocusZoom           float64         `yaml:"focus_zoom"`
	PickRadiusPx        float64         `yaml:"pick_radius_px"`
	SimplifyBelowZoom   float64         `yaml:"simplify_below_zoom"`
	SimplifyTolerancePx float64         `yaml:"simplify_tolerance_px"`
	Layers              map[string]bool `yaml:"layers"`
	Basemap             bool            `yaml:"basemap"`
	MaxTiles            int             `yaml:"max_tiles"`
	TickInterval        time.Duration   `yaml:"tick_interval"`
	SuggestionLimit     int             `yaml:"suggestion_limit"`
}

// Engine tunes the recompute pipeline.
type Engine struct {
	Workers   int `yaml:"workers"`
	CacheSize int `yaml:"cache_size"`
}

// Default returns the configuration used for anything a file leaves out.
func Default() Config {
	vp := viewport.DefaultOptions()
	return Config{
		Boundary: "boundary.geojson",
		Sites: Sites{
			Kind:     SourceFile,
			Location: "sites.json",
			Timeout:  30 * time.Second,
		},
		Map: Map{
			Width:               vp.Width,
			Height:              vp.Height,
			MinZoom:             vp.MinZoom,
			MaxZoom:             vp.MaxZoom,
			FocusZoom:           search.DefaultFocusZoom,
			PickRadiusPx:        vp.PickRadiusPx,
			SimplifyBelowZoom:   vp.SimplifyBelowZoom,
			SimplifyTolerancePx: vp.SimplifyTolerancePx,
			Layers: map[string]bool{
				viewport.LayerRegions: true,
				viewport.LayerMarkers: true,
				viewport.LayerLabels:  true,
			},
			Basemap:         true,
			MaxTiles:        vp.MaxTiles,
			TickInterval:    50 * time.Millisecond,
			SuggestionLimit: 10,
		},
		Engine: Engine{CacheSize: 4},
	}
}

// Load reads the file at path. An empty path yields the defaults. Relative
// boundary and site paths are resolved against the file's directory.
func Load(path string) (Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	cfg.resolve(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) resolve(dir string) {
	c.Boundary = resolvePath(dir, c.Boundary)
	if c.Sites.Kind != SourceHTTP {
		c.Sites.Location = resolvePath(dir, c.Sites.Location)
	}
}

func resolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Boundary == "" {
		return fmt.Errorf("%w: boundary is required", ErrInvalid)
	}
	switch c.Sites.Kind {
	case SourceFile, SourceHTTP:
		if c.Sites.Location == "" {
			return fmt.Errorf("%w: sites.location is required for %s sources", ErrInvalid, c.Sites.Kind)
		}
	case SourceDuckDB:
		if c.Sites.Location == "" && c.Sites.Query == "" {
			return fmt.Errorf("%w: duckdb sources need sites.location or sites.query", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown sites.kind %q", ErrInvalid, c.Sites.Kind)
	}

	m := c.Map
	if m.MinZoom < 0 || m.MaxZoom < m.MinZoom {
		return fmt.Errorf("%w: zoom range [%g, %g]", ErrInvalid, m.MinZoom, m.MaxZoom)
	}
	if m.FocusZoom < m.MinZoom || m.FocusZoom > m.MaxZoom {
		return fmt.Errorf("%w: focus_zoom %g outside [%g, %g]", ErrInvalid, m.FocusZoom, m.MinZoom, m.MaxZoom)
	}
	if m.PickRadiusPx <= 0 {
		return fmt.Errorf("%w: pick_radius_px must be positive", ErrInvalid)
	}
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("%w: viewport %dx%d", ErrInvalid, m.Width, m.Height)
	}
	if m.TickInterval <= 0 {
		return fmt.Errorf("%w: tick_interval must be positive", ErrInvalid)
	}
	for name := range m.Layers {
		switch name {
		case viewport.LayerRegions, viewport.LayerMarkers, viewport.LayerLabels:
		default:
			return fmt.Errorf("%w: %w %q", ErrInvalid, viewport.ErrUnknownLayer, name)
		}
	}
	if c.Engine.Workers < 0 || c.Engine.CacheSize < 0 {
		return fmt.Errorf("%w: engine settings must not be negative", ErrInvalid)
	}
	return nil
}

// ViewportOptions maps the map settings onto controller options.
func (c Config) ViewportOptions() viewport.Options {
	o := viewport.DefaultOptions()
	m := c.Map
	o.Width, o.Height = m.Width, m.Height
	o.MinZoom, o.MaxZoom = m.MinZoom, m.MaxZoom
	o.PickRadiusPx = m.PickRadiusPx
	o.SimplifyBelowZoom = m.SimplifyBelowZoom
	o.SimplifyTolerancePx = m.SimplifyTolerancePx
	o.MaxTiles = m.MaxTiles
	o.Layers = make(map[string]bool, len(m.Layers))
	for k, v := range m.Layers {
		o.Layers[k] = v
	}
	return o
}

// Source builds the configured site source. conn is only used by duckdb
// sources.
func (c Config) Source(conn *sql.DB) (site.Source, error) {
	s := c.Sites
	switch s.Kind {
	case SourceFile:
		return site.FileSource{Path: s.Location}, nil
	case SourceHTTP:
		return site.HTTPSource{URL: s.Location, Client: &http.Client{Timeout: s.Timeout}}, nil
	case SourceDuckDB:
		if conn == nil {
			return nil, fmt.Errorf("%w: duckdb source without a database", ErrInvalid)
		}
		if s.Query != "" {
			return site.DuckDBSource{DB: conn, Query: s.Query}, nil
		}
		src, err := site.NewDuckDBFileSource(conn, s.Location)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	return nil, fmt.Errorf("%w: unknown sites.kind %q", ErrInvalid, s.Kind)
}
