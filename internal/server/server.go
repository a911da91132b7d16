// Package server assembles the HTTP server: the Huma API, the Datastar
// streams, metrics and the static files.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/joeblew999/regionmap/internal/api"
	"github.com/joeblew999/regionmap/internal/boundary"
	"github.com/joeblew999/regionmap/internal/config"
	"github.com/joeblew999/regionmap/internal/db"
	"github.com/joeblew999/regionmap/internal/humastar"
	"github.com/joeblew999/regionmap/internal/metrics"
	"github.com/joeblew999/regionmap/internal/service"
	"github.com/joeblew999/regionmap/internal/templates"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string
	WebDir  string // Path to web/ directory for static files and templates

	// Map is the map configuration; its boundary is loaded on New.
	Map config.Config

	// InMemoryDB opens DuckDB without a file, mainly for tests.
	InMemoryDB bool

	Logger *slog.Logger
}

// Server is the regionmap HTTP server.
type Server struct {
	config   Config
	logger   *slog.Logger
	mux      *http.ServeMux
	humaAPI  huma.API
	db       *sql.DB
	services *api.Services
	links    *humastar.Links
}

// New creates a new server. Sites are not loaded until Load.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	mux := http.NewServeMux()

	// Create Huma API with humago (pure stdlib) adapter
	humaConfig := huma.DefaultConfig("regionmap API", api.Version)
	humaConfig.Info.Description = "Region synthesis from named sites: Voronoi regions clipped to an administrative boundary, with interactive map sessions."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}

	s := &Server{
		config: cfg,
		logger: cfg.Logger,
		mux:    mux,
	}
	humaConfig.Transformers = append(humaConfig.Transformers, func(ctx huma.Context, status string, v any) (any, error) {
		return s.links.Transformer()(ctx, status, v)
	})
	s.humaAPI = humago.New(mux, humaConfig)

	// DuckDB is optional: CSV and Parquet sources need it, GeoJSON does not.
	dbCfg := db.Config{DataDir: cfg.DataDir, DBName: "regionmap"}
	var conn *sql.DB
	var err error
	if cfg.InMemoryDB {
		dbCfg.DataDir = ""
		conn, err = db.Open(dbCfg)
	} else {
		conn, err = db.Get(dbCfg)
	}
	if err != nil {
		s.logger.Warn("duckdb unavailable", "error", err)
	} else {
		s.db = conn
	}

	geo, err := boundary.Load(cfg.Map.Boundary)
	if err != nil {
		return nil, fmt.Errorf("boundary: %w", err)
	}
	source, err := cfg.Map.Source(s.db)
	if err != nil {
		return nil, fmt.Errorf("sites: %w", err)
	}
	maps, err := service.NewMap(service.MapOptions{
		Config:   cfg.Map,
		Boundary: geo,
		Source:   source,
		Logger:   s.logger,
	})
	if err != nil {
		return nil, err
	}

	fragmentsDir := ""
	if cfg.WebDir != "" {
		dir := filepath.Join(cfg.WebDir, "templates", "fragments")
		// the built-in fragments are used unless the web dir overrides them
		if matches, _ := filepath.Glob(filepath.Join(dir, "*.html")); len(matches) > 0 {
			fragmentsDir = dir
		}
	}
	renderer, err := templates.New(fragmentsDir)
	if err != nil {
		maps.Close()
		return nil, fmt.Errorf("templates: %w", err)
	}
	if fragmentsDir != "" {
		s.logger.Info("loaded fragment templates", "dir", fragmentsDir)
	}

	tiles := service.NewTileService(cfg.DataDir)
	sources := service.NewSourceService(cfg.DataDir, s.db)
	s.services = &api.Services{
		Map:      maps,
		Tile:     tiles,
		Source:   sources,
		Tiler:    service.NewTilerService(tiles, sources, maps, s.logger),
		Renderer: renderer,
	}

	s.routes()
	return s, nil
}

// Load reads the configured sites and publishes the first map.
func (s *Server) Load(ctx context.Context) error {
	res, err := s.services.Map.Reload(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("map published", "version", res.Version, "status", res.Status.String(), "regions", len(res.Cells), "markers", len(res.Markers))
	return nil
}

// Map returns the map service.
func (s *Server) Map() *service.MapService {
	return s.services.Map
}

// OpenAPI returns the OpenAPI spec.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close closes server resources.
func (s *Server) Close() error {
	s.services.Map.Close()
	if s.config.InMemoryDB && s.db != nil {
		return s.db.Close()
	}
	return db.Close()
}

func (s *Server) routes() {
	// Register Huma REST API routes (OpenAPI-documented JSON endpoints)
	huma.AutoRegister(s.humaAPI, api.NewAPIHandler(s.services))
	api.NewInfoHandler(s.config.DataDir, s.db != nil).RegisterRoutes(s.humaAPI)
	api.NewDBHandler(s.db).RegisterRoutes(s.humaAPI)

	// after every route is registered
	s.links = humastar.AutoLinks(s.humaAPI, api.StaticLinks())

	s.mux.Handle("/metrics", metrics.Handler())
	s.mux.Handle("/tiles/", http.StripPrefix("/tiles/", s.handleTiles(s.services.Tile.TilesDir())))

	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	}
	s.mux.HandleFunc("GET /viewer", s.handleViewer)
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	for _, link := range s.links.Root() {
		w.Header().Add("Link", link)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "regionmap",
		"status":  "running",
	})
}

// handleViewer mounts a new session and serves the Datastar page bound to it.
// The page closes the session when its event stream disconnects.
func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	width, _ := strconv.Atoi(r.URL.Query().Get("width"))
	height, _ := strconv.Atoi(r.URL.Query().Get("height"))
	sess, err := s.services.Map.CreateSession(width, height)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	st := sess.Controller.State()
	html, err := s.services.Renderer.Render("viewer", map[string]any{
		"Session": sess.ID,
		"Width":   st.Width,
		"Height":  st.Height,
	})
	if err != nil {
		s.logger.Error("render viewer", "error", err)
		_ = s.services.Map.CloseSession(sess.ID)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}

func (s *Server) handleTiles(tilesDir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		http.FileServer(http.Dir(tilesDir)).ServeHTTP(w, r)
	})
}
