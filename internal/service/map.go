package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/regionmap/internal/boundary"
	"github.com/joeblew999/regionmap/internal/config"
	"github.com/joeblew999/regionmap/internal/export"
	"github.com/joeblew999/regionmap/internal/pipeline"
	"github.com/joeblew999/regionmap/internal/search"
	"github.com/joeblew999/regionmap/internal/site"
)

// ErrNoResult is returned before the first result has been published.
var ErrNoResult = errors.New("no result published yet")

// MapOptions configures a MapService.
type MapOptions struct {
	Config config.Config
	// Boundary is in lon/lat.
	Boundary *boundary.Boundary
	Source   site.Source
	Bus      *EventBus
	Logger   *slog.Logger
}

// MapService owns the site store and the recompute engine and keeps every
// mounted session in step with the published result.
type MapService struct {
	cfg    config.Config
	logger *slog.Logger
	bus    *EventBus

	geo    *boundary.Boundary
	proj   site.Projection
	store  *site.Store
	engine *pipeline.Engine
	source site.Source

	ctx        context.Context
	cancel     context.CancelFunc
	unsub      func()
	unsubStore func()

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMap projects the boundary around its centre and starts an engine
// over it. No sites are loaded until Reload or Replace.
func NewMap(opts MapOptions) (*MapService, error) {
	if opts.Boundary == nil {
		return nil, errors.New("map: boundary is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Bus == nil {
		opts.Bus = NewEventBus()
	}

	proj := site.NewProjection(opts.Boundary.Bound().Center())
	plane := opts.Boundary.Project(proj.Forward)
	engine, err := pipeline.NewEngine(plane, pipeline.Options{Workers: opts.Config.Engine.Workers}, opts.Config.Engine.CacheSize, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("map: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &MapService{
		cfg:      opts.Config,
		logger:   opts.Logger,
		bus:      opts.Bus,
		geo:      opts.Boundary,
		proj:     proj,
		store:    site.NewStore(proj, opts.Logger),
		engine:   engine,
		source:   opts.Source,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
	m.unsub = engine.Subscribe(m.onResult)
	m.unsubStore = m.store.Subscribe(engine.Submit)
	return m, nil
}

// onResult runs under the engine's publish lock.
func (m *MapService) onResult(res *pipeline.Result) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.apply(res)
	}
	m.bus.Publish(Event{Kind: EventResult, Version: res.Version, Status: res.Status.String()})
}

// Reload loads the configured source and publishes the new map.
func (m *MapService) Reload(ctx context.Context) (*pipeline.Result, error) {
	if m.source == nil {
		return nil, errors.New("no site source configured")
	}
	records, err := m.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", m.source, err)
	}
	return m.Replace(ctx, records)
}

// Replace publishes records as the new site set.
func (m *MapService) Replace(ctx context.Context, records []site.Record) (*pipeline.Result, error) {
	snap, err := m.store.Replace(records)
	if err != nil {
		return nil, err
	}
	return m.await(ctx, snap)
}

// Remove drops sites and publishes the smaller map.
func (m *MapService) Remove(ctx context.Context, ids ...string) (*pipeline.Result, error) {
	return m.await(ctx, m.store.Remove(ids...))
}

// await waits for the background recompute of snap to be published. It
// returns pipeline.ErrStaleComputation when a newer set replaced it first.
func (m *MapService) await(ctx context.Context, snap *site.Snapshot) (*pipeline.Result, error) {
	if _, err := m.engine.Result(ctx, snap); err != nil {
		return nil, err
	}
	return m.engine.Wait(ctx, snap.Version)
}

// Snapshot returns the current sites.
func (m *MapService) Snapshot() *site.Snapshot { return m.store.Snapshot() }

// Result returns the published result.
func (m *MapService) Result() (*pipeline.Result, error) {
	res := m.engine.Current()
	if res == nil {
		return nil, ErrNoResult
	}
	return res, nil
}

// Projection returns the lon/lat to plane projection.
func (m *MapService) Projection() site.Projection { return m.proj }

// Boundary returns the boundary in lon/lat.
func (m *MapService) Boundary() *boundary.Boundary { return m.geo }

// Bus returns the event bus sessions publish to.
func (m *MapService) Bus() *EventBus { return m.bus }

// Config returns the map configuration.
func (m *MapService) Config() config.Config { return m.cfg }

// Sites returns the sites whose name or parent region matches query, or
// every site for a blank query.
func (m *MapService) Sites(query string) []site.Site {
	snap := m.store.Snapshot()
	ids := search.Match(snap, query)
	if strings.TrimSpace(query) == "" {
		return slices.Clone(snap.Sites)
	}
	out := make([]site.Site, 0, len(ids))
	for _, id := range ids {
		if s, ok := snap.Lookup(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// Site returns one site.
func (m *MapService) Site(id string) (site.Site, bool) {
	return m.store.Snapshot().Lookup(id)
}

// Cells returns the published map as lon/lat GeoJSON.
func (m *MapService) Cells() (*geojson.FeatureCollection, error) {
	res, err := m.Result()
	if err != nil {
		return nil, err
	}
	return export.Cells(res, m.proj.Inverse), nil
}

// Summary describes the published map.
func (m *MapService) Summary() MapSummary {
	b := m.geo.Bound()
	s := MapSummary{
		Status:   "pending",
		Sites:    m.store.Snapshot().Len(),
		Bound:    [4]float64{b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()},
		Sessions: m.sessionCount(),
	}
	if m.source != nil {
		s.Source = m.source.String()
	}
	if res := m.engine.Current(); res != nil {
		s.Version = res.Version
		s.Status = res.Status.String()
		s.Sites = res.Snapshot.Len()
		s.Regions = len(res.Cells)
		s.Markers = len(res.Markers)
		s.AreaKm2 = res.TotalArea() / 1e6
		s.Notice = res.Notice
	}
	return s
}

// ToGeo maps a plane point to lon/lat.
func (m *MapService) ToGeo(p orb.Point) orb.Point { return m.proj.Inverse(p) }

// Close ends every session and stops the engine.
func (m *MapService) Close() {
	m.unsubStore()
	m.unsub()
	m.cancel()
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
	m.engine.Close()
}
