package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/regionmap/internal/tiler"
)

// TilerService generates PMTiles archives from the published regions or
// from a GeoJSON source file.
type TilerService struct {
	tiles   *TileService
	sources *SourceService
	maps    *MapService
	logger  *slog.Logger
}

// NewTilerService creates a new tiler service. maps may be nil, in which
// case only source files can be tiled.
func NewTilerService(tiles *TileService, sources *SourceService, maps *MapService, logger *slog.Logger) *TilerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TilerService{tiles: tiles, sources: sources, maps: maps, logger: logger}
}

// TileGenerateOptions contains options for tile generation.
type TileGenerateOptions struct {
	OutputName string `json:"outputName" required:"true" minLength:"1" doc:"Output PMTiles name" example:"regions"`
	SourceFile string `json:"sourceFile,omitempty" doc:"GeoJSON source file; the published regions when empty" example:"kecamatan.geojson"`
	LayerName  string `json:"layerName,omitempty" doc:"Layer name in tiles" default:"regions"`
	MinZoom    int    `json:"minZoom,omitempty" minimum:"0" maximum:"14" doc:"Minimum zoom level"`
	MaxZoom    int    `json:"maxZoom,omitempty" minimum:"0" maximum:"14" doc:"Maximum zoom level" default:"12"`
}

// ProgressFunc is called with progress updates during tile generation.
type ProgressFunc = tiler.ProgressFunc

// Generate writes the archive and returns its description.
func (s *TilerService) Generate(ctx context.Context, opts TileGenerateOptions, onProgress ProgressFunc) (TileFile, error) {
	if opts.MaxZoom == 0 {
		opts.MaxZoom = 12
	}
	if opts.MinZoom > opts.MaxZoom {
		return TileFile{}, fmt.Errorf("%w: minZoom %d above maxZoom %d", ErrInvalidFile, opts.MinZoom, opts.MaxZoom)
	}
	out, err := s.tiles.Path(opts.OutputName)
	if err != nil {
		return TileFile{}, err
	}

	fc, err := s.features(opts.SourceFile)
	if err != nil {
		return TileFile{}, err
	}
	if err := ctx.Err(); err != nil {
		return TileFile{}, err
	}

	cfg := tiler.Config{
		Name:     strings.TrimSuffix(filepath.Base(out), ".pmtiles"),
		Layer:    opts.LayerName,
		MinZoom:  opts.MinZoom,
		MaxZoom:  opts.MaxZoom,
		Progress: onProgress,
	}
	if err := tiler.WriteFile(out, fc, cfg); err != nil {
		return TileFile{}, fmt.Errorf("tile generation failed: %w", err)
	}
	s.logger.Info("tiles generated", "file", out, "features", len(fc.Features), "minZoom", opts.MinZoom, "maxZoom", opts.MaxZoom)
	return s.tiles.Inspect(filepath.Base(out))
}

func (s *TilerService) features(source string) (*geojson.FeatureCollection, error) {
	if source == "" {
		if s.maps == nil {
			return nil, ErrNoResult
		}
		return s.maps.Cells()
	}
	if strings.ToLower(filepath.Ext(source)) != ".geojson" {
		return nil, fmt.Errorf("%w: only GeoJSON sources can be tiled", ErrInvalidFile)
	}
	path, err := s.sources.Path(source)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	return fc, nil
}
