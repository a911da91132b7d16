package service

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeblew999/regionmap/internal/pmtiles"
)

// TileService manages PMTiles files.
type TileService struct {
	tilesDir string
}

// NewTileService creates a new tile service.
func NewTileService(dataDir string) *TileService {
	return &TileService{
		tilesDir: filepath.Join(dataDir, "tiles"),
	}
}

// List returns all available PMTiles files.
func (s *TileService) List() ([]TileFile, error) {
	entries, err := os.ReadDir(s.tilesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []TileFile{}, nil
		}
		return nil, err
	}

	files := []TileFile{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filepath.Ext(entry.Name()) != ".pmtiles" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, TileFile{
			Name: entry.Name(),
			Size: formatSize(info.Size()),
		})
	}

	return files, nil
}

// Path validates name and returns where the archive lives. The file need
// not exist.
func (s *TileService) Path(name string) (string, error) {
	if !strings.HasSuffix(name, ".pmtiles") {
		name += ".pmtiles"
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") || name == ".pmtiles" {
		return "", fmt.Errorf("%w: %q", ErrInvalidFile, name)
	}
	return filepath.Join(s.tilesDir, name), nil
}

// Inspect reads the header of an archive.
func (s *TileService) Inspect(name string) (TileFile, error) {
	path, err := s.Path(name)
	if err != nil {
		return TileFile{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return TileFile{}, err
	}
	defer f.Close()

	buf := make([]byte, pmtiles.HeaderLen)
	if _, err := io.ReadFull(f, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return TileFile{}, fmt.Errorf("%w: %s is not a pmtiles archive", ErrInvalidFile, name)
		}
		return TileFile{}, err
	}
	h, err := pmtiles.ReadHeader(buf)
	if err != nil {
		return TileFile{}, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	info, err := f.Stat()
	if err != nil {
		return TileFile{}, err
	}
	return TileFile{
		Name:    filepath.Base(path),
		Size:    formatSize(info.Size()),
		MinZoom: int(h.MinZoom),
		MaxZoom: int(h.MaxZoom),
		Tiles:   h.AddressedTilesCount,
	}, nil
}

// Remove deletes an archive.
func (s *TileService) Remove(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// TilesDir returns the path to the tiles directory.
func (s *TileService) TilesDir() string {
	return s.tilesDir
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
