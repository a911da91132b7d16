package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/regionmap/internal/boundary"
	"github.com/joeblew999/regionmap/internal/delaunay"
	"github.com/joeblew999/regionmap/internal/logger"
	"github.com/joeblew999/regionmap/internal/site"
)

func squareBoundary(t *testing.T, size float64) *boundary.Boundary {
	t.Helper()
	b, err := boundary.New(orb.Polygon{{{0, 0}, {size, 0}, {size, size}, {0, size}, {0, 0}}})
	require.NoError(t, err)
	return b
}

func snapshot(version uint64, pts []orb.Point) *site.Snapshot {
	sites := make([]site.Site, len(pts))
	for i, p := range pts {
		sites[i] = site.Site{ID: fmt.Sprintf("s%02d", i), Name: fmt.Sprintf("Site %d", i), Coordinate: p}
	}
	return site.NewSnapshot(version, sites)
}

func randomPoints(n int, seed int64, size float64) []orb.Point {
	r := rand.New(rand.NewSource(seed))
	pts := make([]orb.Point, n)
	for i := range pts {
		pts[i] = orb.Point{r.Float64() * size, r.Float64() * size}
	}
	return pts
}

func compute(t *testing.T, snap *site.Snapshot, b *boundary.Boundary) *Result {
	t.Helper()
	res, err := Compute(context.Background(), snap, b, Options{Workers: 4})
	require.NoError(t, err)
	return res
}

func TestComputePlusShape(t *testing.T) {
	snap := snapshot(1, []orb.Point{{5, 5}, {5, 2}, {5, 8}, {2, 5}, {8, 5}})
	res := compute(t, snap, squareBoundary(t, 10))

	assert.Equal(t, StatusOK, res.Status)
	require.Len(t, res.Cells, 5)
	assert.Empty(t, res.Markers)

	center, ok := res.Cell("s00")
	require.True(t, ok)
	assert.InDelta(t, 9.0, center.Area, 1e-9)
	for _, id := range []string{"s01", "s02", "s03", "s04"} {
		c, ok := res.Cell(id)
		require.True(t, ok)
		assert.InDelta(t, 22.75, c.Area, 1e-5, id)
	}
	assert.InDelta(t, 100.0, res.TotalArea(), 1e-5)
}

func TestComputePartitionAndBijection(t *testing.T) {
	b := squareBoundary(t, 1000)
	pts := randomPoints(150, 21, 1000)
	// a few sites outside the boundary
	pts = append(pts, orb.Point{-300, 500}, orb.Point{1500, 1400})
	snap := snapshot(1, pts)
	res := compute(t, snap, b)

	assert.InEpsilon(t, b.Area(), res.TotalArea(), 1e-6)

	seen := make(map[string]int)
	for _, c := range res.Cells {
		seen[c.SiteID]++
	}
	for _, m := range res.Markers {
		seen[m.SiteID]++
	}
	require.Len(t, seen, snap.Len())
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
		assert.True(t, snap.Has(id))
	}

	for _, c := range res.Cells {
		s := snap.Sites[c.SiteIndex]
		if !b.Contains(s.Coordinate) {
			continue
		}
		inside := false
		for _, f := range c.Fragments {
			inside = inside || planar.PolygonContains(f.Polygon, s.Coordinate)
		}
		assert.True(t, inside, "site %s outside its own region", c.SiteID)
	}
}

func TestComputeCoversNonConvexBoundaryOnce(t *testing.T) {
	b, err := boundary.New(orb.Polygon{
		{{0, 0}, {100, 0}, {100, 40}, {40, 40}, {40, 100}, {0, 100}, {0, 0}},
		{{10, 10}, {25, 10}, {25, 25}, {10, 25}, {10, 10}},
	})
	require.NoError(t, err)
	res := compute(t, snapshot(1, randomPoints(120, 31, 100)), b)
	require.Equal(t, StatusOK, res.Status)

	// sample offsets never land on the integer boundary edges
	for x := 0.37; x < 100; x += 1.93 {
		for y := 0.41; y < 100; y += 1.87 {
			p := orb.Point{x, y}
			n := 0
			for _, c := range res.Cells {
				if c.Bound.Contains(p) && planar.MultiPolygonContains(c.MultiPolygon(), p) {
					n++
				}
			}
			if b.Contains(p) {
				assert.Equal(t, 1, n, "point %v covered by %d regions", p, n)
			} else {
				assert.Zero(t, n, "point %v outside the boundary is covered", p)
			}
		}
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	b := squareBoundary(t, 500)
	snap := snapshot(1, randomPoints(90, 8, 500))
	first := compute(t, snap, b)
	second := compute(t, snap, b)
	assert.Equal(t, first.Cells, second.Cells)
	assert.Equal(t, first.Markers, second.Markers)
}

func TestComputeDegenerateInput(t *testing.T) {
	b := squareBoundary(t, 10)
	cases := map[string][]orb.Point{
		"two sites": {{1, 1}, {5, 5}},
		"collinear": {{1, 1}, {2, 2}, {3, 3}},
		"empty":     nil,
	}
	for name, pts := range cases {
		t.Run(name, func(t *testing.T) {
			res := compute(t, snapshot(3, pts), b)
			assert.Equal(t, StatusDegenerateInput, res.Status)
			assert.True(t, errors.Is(res.Err, delaunay.ErrDegenerateInput))
			assert.NotEmpty(t, res.Notice)
			assert.Empty(t, res.Cells)
			require.Len(t, res.Markers, len(pts))
			for i, m := range res.Markers {
				assert.Equal(t, ReasonDegenerateInput, m.Reason)
				assert.Equal(t, pts[i], m.Coordinate)
			}
		})
	}
}

func TestComputeCoveredSites(t *testing.T) {
	b := squareBoundary(t, 10)
	// s03 lies outside the boundary and its cell misses it entirely
	snap := snapshot(1, []orb.Point{{2, 2}, {8, 2}, {5, 8}, {5, 30}})
	res := compute(t, snap, b)

	assert.Equal(t, StatusOK, res.Status)
	m, ok := res.Marker("s03")
	require.True(t, ok)
	assert.Equal(t, ReasonCovered, m.Reason)
	assert.Equal(t, "s02", res.CoveredBy["s03"])
	assert.InDelta(t, 100.0, res.TotalArea(), 1e-6)
}

func TestComputeRemovalIsLocal(t *testing.T) {
	b := squareBoundary(t, 1000)
	pts := randomPoints(80, 13, 1000)
	before := snapshot(1, pts)

	tri, err := delaunay.Triangulate(pts)
	require.NoError(t, err)
	removed := -1
	for i := range pts {
		if !tri.IsHull(i) {
			removed = i
			break
		}
	}
	require.GreaterOrEqual(t, removed, 0)
	removedID := before.Sites[removed].ID
	adjacent := map[string]bool{removedID: true}
	for _, n := range tri.Neighbors(removed) {
		adjacent[before.Sites[n].ID] = true
	}

	after := before.Without(2, removedID)
	r1 := compute(t, before, b)
	r2 := compute(t, after, b)

	_, ok := r2.Cell(removedID)
	assert.False(t, ok)

	changed := 0
	for _, c := range r1.Cells {
		if c.SiteID == removedID {
			continue
		}
		next, ok := r2.Cell(c.SiteID)
		require.True(t, ok, c.SiteID)
		if adjacent[c.SiteID] {
			if next.Area > c.Area {
				changed++
			}
			continue
		}
		assert.Equal(t, c.Fragments, next.Fragments, "non-adjacent cell %s changed", c.SiteID)
	}
	assert.Positive(t, changed)
	assert.InEpsilon(t, r1.TotalArea(), r2.TotalArea(), 1e-7)
}

func TestComputeHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Compute(ctx, snapshot(1, randomPoints(50, 2, 100)), squareBoundary(t, 100), Options{Workers: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(squareBoundary(t, 100), Options{Workers: 2}, 2, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestEngineMemoizesByVersion(t *testing.T) {
	e := newEngine(t)
	snap := snapshot(7, randomPoints(40, 4, 100))

	var wg sync.WaitGroup
	results := make([]*Result, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.Result(context.Background(), snap)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()
	for _, r := range results[1:] {
		assert.Same(t, results[0], r)
	}

	again, err := e.Result(context.Background(), snap)
	require.NoError(t, err)
	assert.Same(t, results[0], again)
}

func TestEngineDropsSupersededResults(t *testing.T) {
	e := newEngine(t)
	var published []uint64
	unsub := e.Subscribe(func(r *Result) { published = append(published, r.Version) })
	defer unsub()

	newer, err := e.Update(context.Background(), snapshot(2, randomPoints(20, 1, 100)))
	require.NoError(t, err)

	_, err = e.Update(context.Background(), snapshot(1, randomPoints(20, 2, 100)))
	assert.ErrorIs(t, err, ErrStaleComputation)

	assert.Same(t, newer, e.Current())
	assert.Equal(t, []uint64{2}, published)
}

func TestEngineSubmitPublishesLatest(t *testing.T) {
	e := newEngine(t)
	got := make(chan *Result, 8)
	e.Subscribe(func(r *Result) { got <- r })

	for v := uint64(1); v <= 3; v++ {
		e.Submit(snapshot(v, randomPoints(30, int64(v), 100)))
	}

	deadline := time.After(10 * time.Second)
	for {
		select {
		case r := <-got:
			if r.Version == 3 {
				assert.Equal(t, uint64(3), e.Current().Version)
				return
			}
			assert.Less(t, r.Version, uint64(3))
		case <-deadline:
			t.Fatal("latest result never published")
		}
	}
}

func TestEngineWait(t *testing.T) {
	e := newEngine(t)

	e.Submit(snapshot(1, randomPoints(30, 5, 100)))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := e.Wait(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Version)
	assert.Same(t, res, e.Current())

	e.Submit(snapshot(3, randomPoints(30, 6, 100)))
	_, err = e.Wait(ctx, 2)
	assert.ErrorIs(t, err, ErrStaleComputation)

	res, err = e.Wait(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.Version)

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	_, err = e.Wait(short, 4)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEngineRejectsInvalidBoundary(t *testing.T) {
	_, err := NewEngine(&boundary.Boundary{}, Options{}, 0, nil)
	assert.Error(t, err)
}
