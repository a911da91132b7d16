package search

import (
	"context"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/regionmap/internal/boundary"
	"github.com/joeblew999/regionmap/internal/logger"
	"github.com/joeblew999/regionmap/internal/pipeline"
	"github.com/joeblew999/regionmap/internal/site"
	"github.com/joeblew999/regionmap/internal/viewport"
)

type fakeController struct {
	highlighted []string
	active      bool
	focused     []string
	selected    []string
	level       float64
}

func (f *fakeController) Highlight(ids []string, active bool) {
	f.highlighted, f.active = ids, active
}

func (f *fakeController) Focus(id string, level float64) bool {
	f.focused = append(f.focused, id)
	f.level = level
	return true
}

func (f *fakeController) Select(id string) bool {
	f.selected = append(f.selected, id)
	return true
}

type sink struct{ results [][]string }

func (s *sink) OnSearchResultsChange(ids []string) { s.results = append(s.results, ids) }

func snapshot(version uint64) *site.Snapshot {
	return site.NewSnapshot(version, []site.Site{
		{ID: "a", Name: "Kebonpedes", ParentRegionName: "Sukabumi", Coordinate: orb.Point{2, 2}},
		{ID: "b", Name: "Cicurug", ParentRegionName: "Sukabumi", Coordinate: orb.Point{8, 2}},
		{ID: "c", Name: "Cibadak", ParentRegionName: "Sukabumi", Coordinate: orb.Point{5, 8}},
		{ID: "d", Name: "Ciawi", ParentRegionName: "Bogor", Coordinate: orb.Point{5, 5}},
		{ID: "e", Name: "Straße", ParentRegionName: "ÄRZTE", Coordinate: orb.Point{1, 9}},
	})
}

func newCoordinator(snap *site.Snapshot) (*Coordinator, *fakeController, *sink) {
	ctrl, s := &fakeController{}, &sink{}
	return New(ctrl, s, snap, Options{FocusZoom: 13, Logger: logger.Discard()}), ctrl, s
}

func TestSingleMatchFocuses(t *testing.T) {
	c, ctrl, s := newCoordinator(snapshot(1))

	ids := c.SetQuery("kebon")
	assert.Equal(t, []string{"a"}, ids)
	assert.True(t, c.Active())
	assert.Equal(t, []string{"a"}, ctrl.highlighted)
	assert.True(t, ctrl.active)
	assert.Equal(t, []string{"a"}, ctrl.focused)
	assert.Equal(t, 13.0, ctrl.level)
	assert.Equal(t, [][]string{{"a"}}, s.results)
	assert.Empty(t, c.Suggestions(5))
}

func TestMultipleMatchesSuggest(t *testing.T) {
	c, ctrl, _ := newCoordinator(snapshot(1))

	ids := c.SetQuery("  CI ")
	assert.Equal(t, []string{"b", "c", "d"}, ids)
	assert.Empty(t, ctrl.focused)

	sugg := c.Suggestions(2)
	require.Len(t, sugg, 2)
	assert.Equal(t, Suggestion{SiteID: "b", Name: "Cicurug", ParentRegionName: "Sukabumi"}, sugg[0])
	assert.Len(t, c.Suggestions(0), 3)

	assert.True(t, c.Choose("c"))
	assert.False(t, c.Choose("a"))
	assert.Equal(t, []string{"c"}, ctrl.focused)
	assert.Equal(t, []string{"c"}, ctrl.selected)
}

func TestParentRegionMatches(t *testing.T) {
	c, _, _ := newCoordinator(snapshot(1))
	assert.Equal(t, []string{"a", "b", "c"}, c.SetQuery("sukabumi"))
	assert.Equal(t, []string{"d"}, c.SetQuery("BOG"))
}

func TestUnicodeFolding(t *testing.T) {
	c, _, _ := newCoordinator(snapshot(1))
	assert.Equal(t, []string{"e"}, c.SetQuery("STRASSE"))
	assert.Equal(t, []string{"e"}, c.SetQuery("ärzte"))
}

func TestBlankQueryEndsSearch(t *testing.T) {
	c, ctrl, s := newCoordinator(snapshot(1))
	c.SetQuery("ci")
	require.True(t, c.Active())

	for _, q := range []string{"", "   ", "\t\n"} {
		ids := c.SetQuery(q)
		assert.Empty(t, ids)
		assert.False(t, c.Active())
		assert.False(t, ctrl.active)
	}
	assert.Len(t, s.results, 4)
}

func TestNoMatchIsStillActive(t *testing.T) {
	c, ctrl, _ := newCoordinator(snapshot(1))
	ids := c.SetQuery("zzz")
	assert.Empty(t, ids)
	assert.NotNil(t, ids)
	assert.True(t, c.Active())
	assert.True(t, ctrl.active)
}

func TestReset(t *testing.T) {
	c, ctrl, s := newCoordinator(snapshot(1))
	c.SetQuery("ci")
	c.Reset()
	assert.Empty(t, c.Query())
	assert.Empty(t, c.Matches())
	assert.False(t, c.Active())
	assert.False(t, ctrl.active)
	assert.Nil(t, s.results[len(s.results)-1])
}

func TestRefreshRerunsQuery(t *testing.T) {
	c, ctrl, s := newCoordinator(snapshot(1))
	c.SetQuery("kebon")
	require.Len(t, ctrl.focused, 1)

	// same matches: nothing emitted
	c.Refresh(snapshot(2))
	assert.Len(t, s.results, 1)

	ids := c.Refresh(snapshot(3).Without(4, "a"))
	assert.Empty(t, ids)
	assert.Len(t, s.results, 2)
	assert.Len(t, ctrl.focused, 1, "refresh must not refocus")

	c.Reset()
	assert.Nil(t, c.Refresh(snapshot(5)))
}

func TestDrivesViewportController(t *testing.T) {
	b, err := boundary.New(orb.Polygon{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}})
	require.NoError(t, err)
	snap := snapshot(1)
	res, err := pipeline.Compute(context.Background(), snap, b, pipeline.Options{Workers: 1})
	require.NoError(t, err)

	var got [][]string
	ctrl := viewport.New(viewport.Options{Width: 100, Height: 100, MaxZoom: 16, BaseResolution: 1}, nil)
	defer ctrl.Close()
	ctrl.SetResult(res)

	c := New(ctrl, viewport.SinkFuncs{SearchResults: func(ids []string) { got = append(got, ids) }}, snap, Options{FocusZoom: 6})

	c.SetQuery("kebon")
	st := ctrl.State()
	assert.Equal(t, orb.Point{2, 2}, st.Center)
	assert.Equal(t, 6.0, st.Zoom)

	f := ctrl.Frame()
	assert.True(t, f.SearchActive)
	for _, p := range f.Polygons {
		assert.Equal(t, p.SiteID == "a", p.Highlighted, p.SiteID)
		assert.Equal(t, p.SiteID != "a", p.Dimmed, p.SiteID)
	}

	var selected []string
	chooser := viewport.New(viewport.Options{Width: 100, Height: 100, MaxZoom: 16, BaseResolution: 1},
		viewport.SinkFuncs{Select: func(id string) { selected = append(selected, id) }})
	defer chooser.Close()
	chooser.SetResult(res)
	cc := New(chooser, nil, snap, Options{FocusZoom: 6})
	cc.SetQuery("ci")
	require.True(t, cc.Choose("b"))
	assert.Equal(t, "b", chooser.Selected())
	assert.Equal(t, []string{"b"}, selected)
	assert.Equal(t, orb.Point{8, 2}, chooser.State().Center)

	c.SetQuery("zzz")
	for _, p := range ctrl.Frame().Polygons {
		assert.True(t, p.Dimmed)
	}

	c.Reset()
	for _, p := range ctrl.Frame().Polygons {
		assert.False(t, p.Highlighted || p.Dimmed)
	}
	assert.Len(t, got, 3)
}

func TestMatch(t *testing.T) {
	snap := snapshot(1)
	assert.Equal(t, []string{"a"}, Match(snap, "Kebon"))
	assert.Equal(t, []string{"b", "c", "d"}, Match(snap, "ci"))
	assert.Empty(t, Match(snap, " "))
	assert.Empty(t, Match(nil, "ci"))
}
