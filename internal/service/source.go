package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeblew999/regionmap/internal/db"
	"github.com/joeblew999/regionmap/internal/site"
)

// ErrInvalidFile is returned for file names that escape the data directory
// or have an unsupported extension.
var ErrInvalidFile = errors.New("invalid file")

// Supported source file extensions and their types.
var sourceTypes = map[string]string{
	".geojson":    "GeoJSON",
	".json":       "JSON",
	".ndjson":     "JSON",
	".csv":        "CSV",
	".tsv":        "CSV",
	".parquet":    "Parquet",
	".geoparquet": "Parquet",
}

// SourceService manages site and boundary files under the data directory.
type SourceService struct {
	sourcesDir string
	conn       *sql.DB
}

// NewSourceService creates a new source service. conn may be nil, in which
// case only GeoJSON and JSON files can be read.
func NewSourceService(dataDir string, conn *sql.DB) *SourceService {
	return &SourceService{
		sourcesDir: filepath.Join(dataDir, "sources"),
		conn:       conn,
	}
}

// List returns all available source files.
func (s *SourceService) List() ([]SourceFile, error) {
	entries, err := os.ReadDir(s.sourcesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SourceFile{}, nil
		}
		return nil, err
	}

	files := []SourceFile{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		fileType, ok := sourceTypes[strings.ToLower(filepath.Ext(entry.Name()))]
		if !ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, SourceFile{
			Name:     entry.Name(),
			Size:     formatSize(info.Size()),
			FileType: fileType,
		})
	}

	return files, nil
}

// Path validates name and returns its absolute location.
func (s *SourceService) Path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFile, name)
	}
	if _, ok := sourceTypes[strings.ToLower(filepath.Ext(name))]; !ok {
		return "", fmt.Errorf("%w: unsupported file type %s", ErrInvalidFile, filepath.Ext(name))
	}
	path := filepath.Join(s.sourcesDir, name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s not found", os.ErrNotExist, name)
		}
		return "", err
	}
	return path, nil
}

// Source returns a site source reading name. GeoJSON and JSON arrays are
// decoded directly; tables go through DuckDB.
func (s *SourceService) Source(name string) (site.Source, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".geojson", ".json":
		return site.FileSource{Path: path}, nil
	}
	if s.conn == nil {
		return nil, fmt.Errorf("%w: %s needs the database", ErrInvalidFile, name)
	}
	return site.NewDuckDBFileSource(s.conn, path)
}

// Load reads the records of name.
func (s *SourceService) Load(ctx context.Context, name string) ([]site.Record, error) {
	src, err := s.Source(name)
	if err != nil {
		return nil, err
	}
	return src.Load(ctx)
}

// Preview returns up to limit raw rows of a table file.
func (s *SourceService) Preview(ctx context.Context, name string, limit int) ([]string, []map[string]any, error) {
	if s.conn == nil {
		return nil, nil, errors.New("database not available")
	}
	path, err := s.Path(name)
	if err != nil {
		return nil, nil, err
	}
	if strings.ToLower(filepath.Ext(name)) == ".geojson" {
		return nil, nil, fmt.Errorf("%w: preview needs a table file", ErrInvalidFile)
	}
	rel, err := db.FileRelation(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	if limit <= 0 {
		limit = 20
	}
	return db.QueryMaps(ctx, s.conn, fmt.Sprintf("SELECT * FROM %s LIMIT %d", rel, limit))
}
