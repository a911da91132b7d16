package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/regionmap/internal/config"
	"github.com/joeblew999/regionmap/internal/export"
	"github.com/joeblew999/regionmap/internal/logger"
	"github.com/joeblew999/regionmap/internal/server"
	"github.com/joeblew999/regionmap/internal/tiler"
)

// Options defines all CLI flags and env vars for the server.
// Flags: --host, --port, --data-dir, --web-dir, --config
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_WEB_DIR, SERVICE_CONFIG
type Options struct {
	Host    string `doc:"Host to bind to" default:"0.0.0.0"`
	Port    int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir string `doc:"Directory for boundary, site, tile and database files" default:".data"`
	WebDir  string `doc:"Path to web/ directory" default:"web"`
	Config  string `doc:"Map configuration file; <data-dir>/regionmap.yaml when present" short:"c"`
}

// loadConfig reads --config, else <data-dir>/regionmap.yaml, else the
// defaults with their files looked up in the data dir.
func loadConfig(opts *Options) (config.Config, error) {
	path := opts.Config
	if path == "" {
		candidate := filepath.Join(opts.DataDir, "regionmap.yaml")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	cfg.Boundary = filepath.Join(opts.DataDir, cfg.Boundary)
	cfg.Sites.Location = filepath.Join(opts.DataDir, cfg.Sites.Location)
	return cfg, cfg.Validate()
}

func newServer(opts *Options) (*server.Server, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	return server.New(server.Config{
		Host:    opts.Host,
		Port:    fmt.Sprintf("%d", opts.Port),
		DataDir: opts.DataDir,
		WebDir:  opts.WebDir,
		Map:     cfg,
		Logger:  logger.L(),
	})
}

// loaded returns a server with the sites published.
func loaded(opts *Options) (*server.Server, error) {
	srv, err := newServer(opts)
	if err != nil {
		return nil, err
	}
	if err := srv.Load(context.Background()); err != nil {
		srv.Close()
		return nil, err
	}
	return srv, nil
}

func fatal(msg string, err error) {
	logger.L().Error(msg, "error", err)
	os.Exit(1)
}

func main() {
	_ = godotenv.Load()
	log := logger.Setup()

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var httpSrv *http.Server

		hooks.OnStart(func() {
			srv, err := newServer(opts)
			if err != nil {
				fatal("server setup failed", err)
			}
			defer srv.Close()
			if err := srv.Load(context.Background()); err != nil {
				log.Warn("sites not loaded, serving an empty map", "error", err)
			}

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("regionmap API server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Data:    %s\n", opts.DataDir)
			fmt.Println()
			fmt.Printf("  Map:     %s/api/v1/map\n", baseURL)
			fmt.Printf("  Viewer:  %s/viewer\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics: %s/metrics\n", baseURL)
			fmt.Println()

			httpSrv = &http.Server{Addr: addr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fatal("server error", err)
			}
		})

		hooks.OnStop(func() {
			if httpSrv == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(ctx); err != nil {
				log.Error("shutdown", "error", err)
			}
		})
	})

	cli.Root().Use = "regionmap"
	cli.Root().Short = "Region maps synthesised from named sites"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv, err := newServer(opts)
			if err != nil {
				fatal("server setup failed", err)
			}
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fatal("marshal spec", err)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// export subcommand: write the published map as GeoJSON
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Compute the map and write it as GeoJSON",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv, err := loaded(opts)
			if err != nil {
				fatal("load map", err)
			}
			defer srv.Close()
			fc, err := srv.Map().Cells()
			if err != nil {
				fatal("build cells", err)
			}
			out, _ := cmd.Flags().GetString("output")
			if err := export.WriteFile(out, fc); err != nil {
				fatal("write geojson", err)
			}
			sum := srv.Map().Summary()
			log.Info("map exported", "file", out, "status", sum.Status, "regions", sum.Regions, "markers", sum.Markers)
		}),
	}
	exportCmd.Flags().StringP("output", "o", "regions.geojson", "Output GeoJSON file")
	cli.Root().AddCommand(exportCmd)

	// tiles subcommand: write the published map as a PMTiles archive
	tilesCmd := &cobra.Command{
		Use:   "tiles",
		Short: "Compute the map and write it as vector tiles (PMTiles)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv, err := loaded(opts)
			if err != nil {
				fatal("load map", err)
			}
			defer srv.Close()
			fc, err := srv.Map().Cells()
			if err != nil {
				fatal("build cells", err)
			}
			out, _ := cmd.Flags().GetString("output")
			minZoom, _ := cmd.Flags().GetInt("min-zoom")
			maxZoom, _ := cmd.Flags().GetInt("max-zoom")
			err = tiler.WriteFile(out, fc, tiler.Config{
				MinZoom: minZoom,
				MaxZoom: maxZoom,
				Progress: func(p int, status string) {
					log.Info("tiling", "progress", p, "status", status)
				},
			})
			if err != nil {
				fatal("write tiles", err)
			}
		}),
	}
	tilesCmd.Flags().StringP("output", "o", filepath.Join(".data", "tiles", "regions.pmtiles"), "Output PMTiles file")
	tilesCmd.Flags().Int("min-zoom", 0, "Minimum zoom level")
	tilesCmd.Flags().Int("max-zoom", 12, "Maximum zoom level")
	cli.Root().AddCommand(tilesCmd)

	cli.Run()
}
