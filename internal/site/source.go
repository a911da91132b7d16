package site

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/regionmap/internal/db"
)

// Source delivers the full site list.
type Source interface {
	Load(ctx context.Context) ([]Record, error)
	String() string
}

// FileSource reads a JSON array of records or a GeoJSON FeatureCollection
// of points.
type FileSource struct {
	Path string
}

func (s FileSource) String() string { return "file:" + s.Path }

func (s FileSource) Load(ctx context.Context) ([]Record, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read sites: %w", err)
	}
	if ext := strings.ToLower(filepath.Ext(s.Path)); ext == ".geojson" {
		return DecodeGeoJSON(data)
	}
	return DecodeJSON(data)
}

// HTTPSource fetches a JSON array of records.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

func (s HTTPSource) String() string { return s.URL }

func (s HTTPSource) Load(ctx context.Context) ([]Record, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sites: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch sites: %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read sites: %w", err)
	}
	return DecodeJSON(data)
}

// DuckDBSource reads records with a SQL query. The query must return the
// columns id, name, parent_region_name, latitude and longitude.
type DuckDBSource struct {
	DB    *sql.DB
	Query string
}

// NewDuckDBFileSource reads a CSV, Parquet or JSON table file through
// DuckDB.
func NewDuckDBFileSource(conn *sql.DB, path string) (DuckDBSource, error) {
	rel, err := db.FileRelation(path)
	if err != nil {
		return DuckDBSource{}, err
	}
	return DuckDBSource{
		DB:    conn,
		Query: "SELECT id, name, parent_region_name, latitude, longitude FROM " + rel,
	}, nil
}

func (s DuckDBSource) String() string { return "duckdb:" + s.Query }

func (s DuckDBSource) Load(ctx context.Context) ([]Record, error) {
	if s.DB == nil {
		return nil, fmt.Errorf("duckdb source: no database")
	}
	rows, err := s.DB.QueryContext(ctx, s.Query)
	if err != nil {
		return nil, fmt.Errorf("query sites: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r            Record
			id           any
			name, parent sql.NullString
		)
		if err := rows.Scan(&id, &name, &parent, &r.Latitude, &r.Longitude); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		r.ID = fmt.Sprint(id)
		r.Name = name.String
		r.ParentRegionName = parent.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read sites: %w", err)
	}
	return out, nil
}

// DecodeJSON parses a JSON array of records.
func DecodeJSON(data []byte) ([]Record, error) {
	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("decode sites: %w", err)
	}
	return recs, nil
}

// DecodeGeoJSON parses a FeatureCollection of Point features. The id comes
// from the feature id or the "id" property.
func DecodeGeoJSON(data []byte) ([]Record, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode sites: %w", err)
	}

	recs := make([]Record, 0, len(fc.Features))
	for i, f := range fc.Features {
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			return nil, fmt.Errorf("decode sites: feature %d is not a point", i)
		}
		id := f.Properties.MustString("id", "")
		if id == "" && f.ID != nil {
			id = fmt.Sprint(f.ID)
		}
		recs = append(recs, Record{
			ID:               id,
			Name:             f.Properties.MustString("name", ""),
			ParentRegionName: f.Properties.MustString("parentRegionName", ""),
			Latitude:         pt.Lat(),
			Longitude:        pt.Lon(),
		})
	}
	return recs, nil
}

// ToGeoJSON encodes a snapshot as a FeatureCollection of points.
func ToGeoJSON(s *Snapshot) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, st := range s.sitesOrEmpty() {
		f := geojson.NewFeature(st.Location)
		f.ID = st.ID
		f.Properties["id"] = st.ID
		f.Properties["name"] = st.Name
		f.Properties["parentRegionName"] = st.ParentRegionName
		fc.Append(f)
	}
	return fc
}
