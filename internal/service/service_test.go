package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/regionmap/internal/boundary"
	"github.com/joeblew999/regionmap/internal/config"
	"github.com/joeblew999/regionmap/internal/logger"
	"github.com/joeblew999/regionmap/internal/pipeline"
	"github.com/joeblew999/regionmap/internal/site"
)

var testRecords = []site.Record{
	{ID: "a", Name: "Kebonpedes", ParentRegionName: "Sukabumi", Longitude: 106.90, Latitude: -6.90},
	{ID: "b", Name: "Cicurug", ParentRegionName: "Sukabumi", Longitude: 106.85, Latitude: -6.90},
	{ID: "c", Name: "Cidahu", ParentRegionName: "Sukabumi", Longitude: 106.95, Latitude: -6.90},
	{ID: "d", Name: "Ciawi", ParentRegionName: "Bogor", Longitude: 106.90, Latitude: -6.85},
	{ID: "e", Name: "Parungkuda", ParentRegionName: "Sukabumi", Longitude: 106.90, Latitude: -6.95},
}

func geoBoundary(t *testing.T) *boundary.Boundary {
	t.Helper()
	b, err := boundary.New(orb.Polygon{{{106.8, -7.0}, {107.0, -7.0}, {107.0, -6.8}, {106.8, -6.8}, {106.8, -7.0}}})
	require.NoError(t, err)
	return b
}

func writeSites(t *testing.T, dir string, records []site.Record) string {
	t.Helper()
	data, err := json.Marshal(records)
	require.NoError(t, err)
	path := filepath.Join(dir, "sites.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newMap(t *testing.T) (*MapService, *EventBus) {
	t.Helper()
	bus := NewEventBus()
	m, err := NewMap(MapOptions{
		Config:   config.Default(),
		Boundary: geoBoundary(t),
		Source:   site.FileSource{Path: writeSites(t, t.TempDir(), testRecords)},
		Bus:      bus,
		Logger:   logger.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, bus
}

func drain(ch chan Event) []Event {
	var out []Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestReloadPublishesResult(t *testing.T) {
	m, bus := newMap(t)
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	_, err := m.Result()
	assert.ErrorIs(t, err, ErrNoResult)
	assert.Equal(t, "pending", m.Summary().Status)

	res, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusOK, res.Status)
	assert.Len(t, res.Cells, 5)

	sum := m.Summary()
	assert.Equal(t, "ok", sum.Status)
	assert.Equal(t, 5, sum.Regions)
	assert.InDelta(t, 106.8, sum.Bound[0], 1e-9)
	assert.Greater(t, sum.AreaKm2, 400.0)

	events := drain(ch)
	require.NotEmpty(t, events)
	assert.Equal(t, EventResult, events[len(events)-1].Kind)
	assert.Equal(t, res.Version, events[len(events)-1].Version)
}

func TestReplaceRejectsInvalidRecords(t *testing.T) {
	m, _ := newMap(t)
	_, err := m.Replace(context.Background(), []site.Record{{ID: "", Name: "x"}})
	assert.ErrorIs(t, err, site.ErrInvalidRecord)
}

func TestSitesFilter(t *testing.T) {
	m, _ := newMap(t)
	_, err := m.Reload(context.Background())
	require.NoError(t, err)

	assert.Len(t, m.Sites(""), 5)
	ci := m.Sites("ci")
	require.Len(t, ci, 3)
	assert.Equal(t, "b", ci[0].ID)
	assert.Empty(t, m.Sites("zzz"))

	s, ok := m.Site("d")
	require.True(t, ok)
	assert.Equal(t, "Ciawi", s.Name)
}

func TestCellsAreGeographic(t *testing.T) {
	m, _ := newMap(t)
	_, err := m.Reload(context.Background())
	require.NoError(t, err)

	fc, err := m.Cells()
	require.NoError(t, err)
	require.Len(t, fc.Features, 5)
	b := fc.Features[0].Geometry.Bound()
	assert.GreaterOrEqual(t, b.Min.Lon(), 106.8-1e-6)
	assert.LessOrEqual(t, b.Max.Lon(), 107.0+1e-6)
	assert.GreaterOrEqual(t, b.Min.Lat(), -7.0-1e-6)
}

func TestSessionLifecycle(t *testing.T) {
	m, bus := newMap(t)
	_, err := m.Reload(context.Background())
	require.NoError(t, err)

	s, err := m.CreateSession(800, 600)
	require.NoError(t, err)
	assert.Equal(t, 800, s.Controller.State().Width)
	assert.NotNil(t, s.Controller.Result())

	got, err := m.Session(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Len(t, m.Sessions(), 1)

	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	ids := s.Search.SetQuery("kebon")
	assert.Equal(t, []string{"a"}, ids)
	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, Event{Session: s.ID, Kind: EventSearch, IDs: []string{"a"}}, events[0])

	require.True(t, s.Controller.Select("d"))
	events = drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, EventSelect, events[0].Kind)
	assert.Equal(t, "d", events[0].SiteID)

	require.NoError(t, m.CloseSession(s.ID))
	assert.ErrorIs(t, m.CloseSession(s.ID), ErrSessionNotFound)
	_, err = m.Session(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, EventClosed, drain(ch)[0].Kind)
}

func TestSessionFollowsNewResults(t *testing.T) {
	m, _ := newMap(t)
	s, err := m.CreateSession(0, 0)
	require.NoError(t, err)
	assert.Nil(t, s.Controller.Result())

	s.Search.SetQuery("sukabumi")
	_, err = m.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.Version())
	assert.Equal(t, []string{"a", "b", "c", "e"}, s.Search.Matches())

	_, err = m.Remove(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.Version())
	assert.Equal(t, []string{"a", "c", "e"}, s.Search.Matches())
	assert.False(t, s.Controller.Result().Snapshot.Has("b"))
}

func TestSessionIgnoresOlderResult(t *testing.T) {
	m, _ := newMap(t)
	_, err := m.Reload(context.Background())
	require.NoError(t, err)
	s, err := m.CreateSession(0, 0)
	require.NoError(t, err)
	_, err = m.Remove(context.Background(), "e")
	require.NoError(t, err)
	newer := s.Controller.Result()

	s.apply(&pipeline.Result{Version: 1, Snapshot: site.NewSnapshot(1, nil)})
	assert.Same(t, newer, s.Controller.Result())
}

func TestConcurrentWritesPublishLatestSnapshot(t *testing.T) {
	m, _ := newMap(t)
	_, err := m.Reload(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = m.Replace(context.Background(), testRecords)
			} else {
				_, err = m.Remove(context.Background(), "e")
			}
			if err != nil {
				assert.ErrorIs(t, err, pipeline.ErrStaleComputation)
			}
		}()
	}
	wg.Wait()

	res, err := m.Result()
	require.NoError(t, err)
	assert.Equal(t, uint64(9), m.Snapshot().Version)
	assert.Equal(t, m.Snapshot().Version, res.Version)
	assert.Same(t, m.Snapshot(), res.Snapshot)
}

func TestTilerGeneratesFromRegions(t *testing.T) {
	m, _ := newMap(t)
	_, err := m.Reload(context.Background())
	require.NoError(t, err)

	dir := t.TempDir()
	tiles := NewTileService(dir)
	ts := NewTilerService(tiles, NewSourceService(dir, nil), m, logger.Discard())

	var last int
	tf, err := ts.Generate(context.Background(), TileGenerateOptions{OutputName: "regions", MaxZoom: 6}, func(p int, _ string) { last = p })
	require.NoError(t, err)
	assert.Equal(t, 100, last)
	assert.Equal(t, "regions.pmtiles", tf.Name)
	assert.Equal(t, 6, tf.MaxZoom)
	assert.Positive(t, tf.Tiles)

	list, err := tiles.List()
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, tiles.Remove("regions"))
	_, err = tiles.Inspect("regions")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestTilerRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	ts := NewTilerService(NewTileService(dir), NewSourceService(dir, nil), nil, logger.Discard())
	ctx := context.Background()

	_, err := ts.Generate(ctx, TileGenerateOptions{OutputName: "../x"}, nil)
	assert.ErrorIs(t, err, ErrInvalidFile)
	_, err = ts.Generate(ctx, TileGenerateOptions{OutputName: "x"}, nil)
	assert.ErrorIs(t, err, ErrNoResult)
	_, err = ts.Generate(ctx, TileGenerateOptions{OutputName: "x", SourceFile: "sites.csv"}, nil)
	assert.ErrorIs(t, err, ErrInvalidFile)
	_, err = ts.Generate(ctx, TileGenerateOptions{OutputName: "x", MinZoom: 5, MaxZoom: 2}, nil)
	assert.ErrorIs(t, err, ErrInvalidFile)
}

func TestSourceService(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "sources")
	require.NoError(t, os.MkdirAll(src, 0o755))
	writeSites(t, src, testRecords)
	require.NoError(t, os.WriteFile(filepath.Join(src, "notes.txt"), []byte("x"), 0o644))

	s := NewSourceService(dir, nil)
	files, err := s.List()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, SourceFile{Name: "sites.json", Size: files[0].Size, FileType: "JSON"}, files[0])

	recs, err := s.Load(context.Background(), "sites.json")
	require.NoError(t, err)
	assert.Len(t, recs, 5)

	_, err = s.Path("../sites.json")
	assert.ErrorIs(t, err, ErrInvalidFile)
	_, err = s.Path("notes.txt")
	assert.ErrorIs(t, err, ErrInvalidFile)
	_, err = s.Path("missing.json")
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = s.Source("table.csv")
	assert.Error(t, err)

	empty, err := NewSourceService(t.TempDir(), nil).List()
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestTileInspectRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	tiles := NewTileService(dir)
	require.NoError(t, os.MkdirAll(tiles.TilesDir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tiles.TilesDir(), "bad.pmtiles"), []byte("nope"), 0o644))
	_, err := tiles.Inspect("bad.pmtiles")
	assert.ErrorIs(t, err, ErrInvalidFile)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", formatSize(512))
	assert.Equal(t, "1.5 KB", formatSize(1536))
	assert.Equal(t, "2.0 MB", formatSize(2<<20))
}

func TestEventBus(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe()
	bus.Publish(Event{Kind: EventResult})
	select {
	case e := <-ch:
		assert.True(t, e.For("any"))
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	assert.False(t, Event{Session: "x"}.For("y"))
	bus.Unsubscribe(ch)
	bus.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}
