package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/regionmap/internal/config"
	"github.com/joeblew999/regionmap/internal/logger"
)

const boundaryJSON = `{"type":"Feature","properties":{"name":"Test"},"geometry":{"type":"Polygon","coordinates":[[[106.8,-7.0],[107.0,-7.0],[107.0,-6.8],[106.8,-6.8],[106.8,-7.0]]]}}`

const sitesJSON = `[
  {"id":"a","name":"Kebonpedes","parentRegionName":"Sukabumi","longitude":106.90,"latitude":-6.90},
  {"id":"b","name":"Cicurug","parentRegionName":"Sukabumi","longitude":106.85,"latitude":-6.90},
  {"id":"c","name":"Cidahu","parentRegionName":"Sukabumi","longitude":106.95,"latitude":-6.90},
  {"id":"d","name":"Ciawi","parentRegionName":"Bogor","longitude":106.90,"latitude":-6.85}
]`

func newServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "boundary.geojson"), []byte(boundaryJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sites.json"), []byte(sitesJSON), 0o644))

	cfg := config.Default()
	cfg.Boundary = filepath.Join(dir, "boundary.geojson")
	cfg.Sites.Location = filepath.Join(dir, "sites.json")

	srv, err := New(Config{
		Host:       "localhost",
		Port:       "0",
		DataDir:    dir,
		Map:        cfg,
		InMemoryDB: true,
		Logger:     logger.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	require.NoError(t, srv.Load(context.Background()))
	return srv
}

func get(srv http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestServerRoutes(t *testing.T) {
	srv := newServer(t)

	rec := get(srv, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Values("Link"), `</api/v1/sessions>; rel="sessions"`)
	assert.Contains(t, rec.Header().Values("Link"), `</openapi.json>; rel="service-desc"`)

	rec = get(srv, http.MethodGet, "/api/v1/map")
	require.Equal(t, http.StatusOK, rec.Code)
	var sum struct {
		Status  string `json:"status"`
		Regions int    `json:"regions"`
		Source  string `json:"source"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, "ok", sum.Status)
	assert.Equal(t, 4, sum.Regions)
	assert.Contains(t, sum.Source, "sites.json")

	rec = get(srv, http.MethodGet, "/api/v1/info")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"db":true`)

	assert.Equal(t, http.StatusNotFound, get(srv, http.MethodGet, "/nope").Code)
}

func TestMetricsAndTiles(t *testing.T) {
	srv := newServer(t)

	rec := get(srv, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "regionmap_recompute_total")

	rec = get(srv, http.MethodOptions, "/tiles/regions.pmtiles")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestOpenAPI(t *testing.T) {
	srv := newServer(t)
	spec := srv.OpenAPI()
	for _, p := range []string{"/health", "/api/v1/map/cells", "/api/v1/sessions/{session}/frame", "/api/v1/sessions/{session}/events", "/api/v1/tables"} {
		assert.Contains(t, spec.Paths, p)
	}
	op := spec.Paths["/api/v1/map"].Get
	require.NotNil(t, op)
	assert.Contains(t, op.Responses["200"].Links, "alternate")
}

func TestViewer(t *testing.T) {
	srv := newServer(t)

	rec := get(srv, http.MethodGet, "/viewer?width=640&height=480")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, "/api/v1/sessions/")
	assert.Contains(t, body, `width="640"`)
	assert.Contains(t, body, `height="480"`)
	assert.Len(t, srv.Map().Sessions(), 1)
}
