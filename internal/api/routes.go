// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/regionmap/internal/humastar"
	"github.com/joeblew999/regionmap/internal/pipeline"
	"github.com/joeblew999/regionmap/internal/service"
	"github.com/joeblew999/regionmap/internal/site"
	"github.com/joeblew999/regionmap/internal/templates"
	"github.com/joeblew999/regionmap/internal/viewport"
)

// Version is reported by the health and info endpoints.
const Version = "0.1.0"

// Services holds the service dependencies for API handlers.
type Services struct {
	Map      *service.MapService
	Tile     *service.TileService
	Source   *service.SourceService
	Tiler    *service.TilerService
	Renderer *templates.Renderer
}

// Types

type IDInput struct {
	ID string `path:"id" doc:"Site ID" example:"3203012005"`
}

type NameInput struct {
	Name string `path:"name" doc:"File name" example:"sites.geojson"`
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status    string `json:"status" doc:"Health status" example:"ok"`
	Version   string `json:"version" doc:"API version" example:"0.1.0"`
	MapStatus string `json:"mapStatus" doc:"Status of the published map" example:"ok"`
}

type SummaryOutput struct {
	Body service.MapSummary
}

type CellsOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

type SitesInput struct {
	Query  string `query:"q" doc:"Case-insensitive match on name or parent region" example:"ci"`
	Offset int    `query:"offset" minimum:"0" default:"0" doc:"Items to skip"`
	Limit  int    `query:"limit" minimum:"0" maximum:"1000" default:"100" doc:"Page size, 0 for all"`
}

type SitesOutput struct {
	Body humastar.PageBody[site.Record]
}

// SiteBody is one site and how it is drawn.
type SiteBody struct {
	site.Record
	Kind      string  `json:"kind" enum:"region,marker,pending" doc:"How the site is drawn"`
	AreaKm2   float64 `json:"areaKm2,omitempty" doc:"Region area in square kilometres"`
	Reason    string  `json:"reason,omitempty" doc:"Why the site is drawn as a marker"`
	CoveredBy string  `json:"coveredBy,omitempty" doc:"Site whose region covers this one"`
}

var siteActions = []humastar.ActionDef{
	{Rel: "delete", Pattern: "/api/v1/sites/%s", Method: "DELETE", Title: "Remove site"},
}

// Actions implements humastar.Actor.
func (b SiteBody) Actions() []humastar.Action {
	return humastar.ActionsFor(b.ID, siteActions)
}

type ReplaceSitesInput struct {
	Body []site.Record
}

type PreviewInput struct {
	NameInput
	Limit int `query:"limit" minimum:"1" maximum:"500" default:"20" doc:"Rows to return"`
}

type PreviewBody struct {
	Columns []string         `json:"columns" doc:"Column names"`
	Rows    []map[string]any `json:"rows" doc:"First rows of the file"`
	Count   int              `json:"count" doc:"Number of rows returned"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
	humastar.Handler
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc, Handler: humastar.Handler{Renderer: svc.Renderer}}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterMap registers the published map routes.
func (h *APIHandler) RegisterMap(api huma.API) {
	huma.Get(api, "/api/v1/map", h.GetMap, huma.OperationTags("map"))
	huma.Get(api, "/api/v1/map/cells", h.GetCells, huma.OperationTags("map"), func(op *huma.Operation) {
		op.Summary = "Get the map as GeoJSON"
		op.Description = "Regions are Polygon or MultiPolygon features, sites without a region are Point features. Coordinates are lon/lat."
	})
	huma.Post(api, "/api/v1/map/reload", h.ReloadMap, huma.OperationTags("map"))
}

// RegisterSites registers site CRUD routes.
func (h *APIHandler) RegisterSites(api huma.API) {
	huma.Get(api, "/api/v1/sites", h.GetSites, huma.OperationTags("sites"))
	huma.Put(api, "/api/v1/sites", h.ReplaceSites, huma.OperationTags("sites"))
	huma.Get(api, "/api/v1/sites/{id}", h.GetSite, huma.OperationTags("sites"))
	huma.Delete(api, "/api/v1/sites/{id}", h.DeleteSite, huma.OperationTags("sites"))
}

// RegisterSources registers source listing routes.
func (h *APIHandler) RegisterSources(api huma.API) {
	huma.Get(api, "/api/v1/sources", h.GetSources, huma.OperationTags("sources"))
	huma.Get(api, "/api/v1/sources/{name}/preview", h.PreviewSource, huma.OperationTags("sources"))
}

// RegisterTiles registers tile listing and generation routes.
func (h *APIHandler) RegisterTiles(api huma.API) {
	huma.Get(api, "/api/v1/tiles", h.GetTiles, huma.OperationTags("tiles"))
	huma.Post(api, "/api/v1/tiles", h.GenerateTiles, huma.OperationTags("tiles"))
	huma.Get(api, "/api/v1/tiles/{name}", h.GetTile, huma.OperationTags("tiles"))
	huma.Delete(api, "/api/v1/tiles/{name}", h.DeleteTile, huma.OperationTags("tiles"))
	huma.Post(api, "/api/v1/tiles/generate", h.GenerateTilesStream, huma.OperationTags(humastar.StreamTag))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	body := HealthBody{Status: "ok", Version: Version, MapStatus: "pending"}
	if h.svc.Map != nil {
		body.MapStatus = h.svc.Map.Summary().Status
	}
	return &struct{ Body HealthBody }{Body: body}, nil
}

func (h *APIHandler) maps() (*service.MapService, error) {
	if h.svc.Map == nil {
		return nil, huma.Error503ServiceUnavailable("map not available")
	}
	return h.svc.Map, nil
}

func (h *APIHandler) GetMap(ctx context.Context, input *struct{}) (*SummaryOutput, error) {
	m, err := h.maps()
	if err != nil {
		return nil, err
	}
	return &SummaryOutput{Body: m.Summary()}, nil
}

func (h *APIHandler) GetCells(ctx context.Context, input *struct{}) (*CellsOutput, error) {
	m, err := h.maps()
	if err != nil {
		return nil, err
	}
	fc, err := m.Cells()
	if err != nil {
		return nil, httpError(err)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return nil, huma.Error500InternalServerError("encode cells", err)
	}
	return &CellsOutput{ContentType: "application/geo+json", Body: data}, nil
}

func (h *APIHandler) ReloadMap(ctx context.Context, input *struct{}) (*SummaryOutput, error) {
	m, err := h.maps()
	if err != nil {
		return nil, err
	}
	if _, err := m.Reload(ctx); err != nil {
		return nil, httpError(err)
	}
	return &SummaryOutput{Body: m.Summary()}, nil
}

func (h *APIHandler) GetSites(ctx context.Context, input *SitesInput) (*SitesOutput, error) {
	m, err := h.maps()
	if err != nil {
		return nil, err
	}
	sites := m.Sites(input.Query)
	records := make([]site.Record, len(sites))
	for i, s := range sites {
		records[i] = s.Record()
	}
	return &SitesOutput{Body: humastar.Page(records, input.Offset, input.Limit)}, nil
}

func (h *APIHandler) GetSite(ctx context.Context, input *IDInput) (*struct{ Body SiteBody }, error) {
	m, err := h.maps()
	if err != nil {
		return nil, err
	}
	s, ok := m.Site(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("site not found")
	}
	body := SiteBody{Record: s.Record(), Kind: "pending"}
	if res, err := m.Result(); err == nil {
		if cell, ok := res.Cell(s.ID); ok {
			body.Kind = "region"
			body.AreaKm2 = cell.Area / 1e6
		} else if mk, ok := res.Marker(s.ID); ok {
			body.Kind = "marker"
			body.Reason = string(mk.Reason)
			body.CoveredBy = res.CoveredBy[s.ID]
		}
	}
	return &struct{ Body SiteBody }{Body: body}, nil
}

func (h *APIHandler) ReplaceSites(ctx context.Context, input *ReplaceSitesInput) (*SummaryOutput, error) {
	m, err := h.maps()
	if err != nil {
		return nil, err
	}
	if _, err := m.Replace(ctx, input.Body); err != nil {
		return nil, httpError(err)
	}
	return &SummaryOutput{Body: m.Summary()}, nil
}

func (h *APIHandler) DeleteSite(ctx context.Context, input *IDInput) (*struct{ Body MessageBody }, error) {
	m, err := h.maps()
	if err != nil {
		return nil, err
	}
	if _, ok := m.Site(input.ID); !ok {
		return nil, huma.Error404NotFound("site not found")
	}
	if _, err := m.Remove(ctx, input.ID); err != nil {
		return nil, httpError(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Site removed"}}, nil
}

func (h *APIHandler) GetSources(ctx context.Context, input *struct{}) (*struct{ Body []service.SourceFile }, error) {
	if h.svc.Source == nil {
		return &struct{ Body []service.SourceFile }{Body: []service.SourceFile{}}, nil
	}
	sources, err := h.svc.Source.List()
	if err != nil {
		return &struct{ Body []service.SourceFile }{Body: []service.SourceFile{}}, nil
	}
	return &struct{ Body []service.SourceFile }{Body: sources}, nil
}

func (h *APIHandler) PreviewSource(ctx context.Context, input *PreviewInput) (*struct{ Body PreviewBody }, error) {
	if h.svc.Source == nil {
		return nil, huma.Error503ServiceUnavailable("sources not available")
	}
	cols, rows, err := h.svc.Source.Preview(ctx, input.Name, input.Limit)
	if err != nil {
		return nil, httpError(err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return &struct{ Body PreviewBody }{Body: PreviewBody{Columns: cols, Rows: rows, Count: len(rows)}}, nil
}

func (h *APIHandler) GetTiles(ctx context.Context, input *struct{}) (*struct{ Body []service.TileFile }, error) {
	if h.svc.Tile == nil {
		return &struct{ Body []service.TileFile }{Body: []service.TileFile{}}, nil
	}
	tiles, err := h.svc.Tile.List()
	if err != nil {
		return &struct{ Body []service.TileFile }{Body: []service.TileFile{}}, nil
	}
	return &struct{ Body []service.TileFile }{Body: tiles}, nil
}

func (h *APIHandler) GetTile(ctx context.Context, input *NameInput) (*struct{ Body service.TileFile }, error) {
	if h.svc.Tile == nil {
		return nil, huma.Error404NotFound("tiles not available")
	}
	tf, err := h.svc.Tile.Inspect(input.Name)
	if err != nil {
		return nil, httpError(err)
	}
	return &struct{ Body service.TileFile }{Body: tf}, nil
}

func (h *APIHandler) DeleteTile(ctx context.Context, input *NameInput) (*struct{ Body MessageBody }, error) {
	if h.svc.Tile == nil {
		return nil, huma.Error404NotFound("tiles not available")
	}
	if err := h.svc.Tile.Remove(input.Name); err != nil {
		return nil, httpError(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Tiles deleted"}}, nil
}

func (h *APIHandler) GenerateTiles(ctx context.Context, input *struct{ Body service.TileGenerateOptions }) (*struct{ Body service.TileFile }, error) {
	if h.svc.Tiler == nil {
		return nil, huma.Error503ServiceUnavailable("tiler not available")
	}
	tf, err := h.svc.Tiler.Generate(ctx, input.Body, nil)
	if err != nil {
		return nil, httpError(err)
	}
	return &struct{ Body service.TileFile }{Body: tf}, nil
}

// GenerateTilesStream generates tiles from Datastar signals and streams
// progress as tileProgress and tileStatus signals.
func (h *APIHandler) GenerateTilesStream(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	opts := service.TileGenerateOptions{
		OutputName: signals.String("tileoutputname"),
		SourceFile: signals.String("tilesourcefile"),
		LayerName:  signals.String("tilelayername"),
		MinZoom:    int(signals.Float("tileminzoom")),
		MaxZoom:    int(signals.Float("tilemaxzoom")),
	}
	return h.Stream(func(sse humastar.SSE) {
		if h.svc.Tiler == nil {
			sse.Error("tiler not available")
			return
		}
		if strings.TrimSpace(opts.OutputName) == "" {
			sse.Error("Output name is required")
			return
		}
		tf, err := h.svc.Tiler.Generate(ctx, opts, func(p int, status string) {
			sse.Signals(map[string]any{"tileProgress": p, "tileStatus": status})
		})
		if err != nil {
			sse.Error("Tile generation failed: " + err.Error())
			return
		}
		sse.Signals(map[string]any{
			"tileProgress": 100,
			"tileStatus":   "Complete: " + tf.Name,
			"success":      "Tiles generated: " + tf.Name,
		})
	}), nil
}

// httpError maps service errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, os.ErrNotExist):
		return huma.Error404NotFound("not found", err)
	case errors.Is(err, service.ErrNoResult):
		return huma.Error503ServiceUnavailable(err.Error())
	case errors.Is(err, site.ErrInvalidRecord):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, service.ErrInvalidFile), errors.Is(err, viewport.ErrUnknownLayer):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, pipeline.ErrStaleComputation):
		return huma.Error409Conflict("superseded by a newer update")
	case errors.Is(err, context.Canceled):
		return huma.NewError(499, "request canceled")
	}
	return huma.Error500InternalServerError("internal error", err)
}
