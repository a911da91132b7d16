package voronoi

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/regionmap/internal/delaunay"
)

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("s%d", i)
	}
	return out
}

func tessellate(t *testing.T, pts []orb.Point, boundary orb.Bound) ([]RawCell, orb.Bound) {
	t.Helper()
	tri, err := delaunay.Triangulate(pts)
	require.NoError(t, err)
	frame := Frame(boundary, pts)
	cells, err := Tessellate(tri, ids(len(pts)), frame)
	require.NoError(t, err)
	require.Len(t, cells, len(pts))
	return cells, frame
}

func boundArea(b orb.Bound) float64 {
	return (b.Right() - b.Left()) * (b.Top() - b.Bottom())
}

func TestFrameIsAtLeastTwiceTheBoundary(t *testing.T) {
	b := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 4}}
	f := Frame(b, []orb.Point{{1, 1}, {9, 3}})
	assert.GreaterOrEqual(t, f.Right()-f.Left(), 20.0)
	assert.GreaterOrEqual(t, f.Top()-f.Bottom(), 8.0)
	assert.True(t, f.Contains(b.Min))
	assert.True(t, f.Contains(b.Max))
}

func TestPlusCenterCell(t *testing.T) {
	pts := []orb.Point{{5, 5}, {5, 2}, {5, 8}, {2, 5}, {8, 5}}
	cells, frame := tessellate(t, pts, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}})

	center := cells[0]
	assert.Equal(t, "s0", center.SiteID)
	assert.InDelta(t, 9.0, center.Area(), 1e-9)
	for _, p := range center.Ring {
		assert.InDelta(t, 1.5, math.Max(math.Abs(p[0]-5), math.Abs(p[1]-5)), 1e-9)
	}

	total := 0.0
	for _, c := range cells {
		assert.False(t, c.Degenerate())
		total += c.Area()
	}
	assert.InEpsilon(t, boundArea(frame), total, 1e-9)
}

func TestCellsPartitionTheFrame(t *testing.T) {
	r := rand.New(rand.NewSource(99))
	pts := make([]orb.Point, 250)
	for i := range pts {
		pts[i] = orb.Point{r.Float64() * 500, r.Float64() * 300}
	}
	cells, frame := tessellate(t, pts, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{500, 300}})

	total := 0.0
	for i, c := range cells {
		require.GreaterOrEqual(t, len(c.Ring), 4, "cell %d", i)
		assert.Equal(t, c.Ring[0], c.Ring[len(c.Ring)-1])
		assert.Equal(t, orb.CCW, c.Ring.Orientation())
		assert.True(t, planar.RingContains(c.Ring, pts[i]), "site %d outside its cell", i)
		total += c.Area()
	}
	assert.InEpsilon(t, boundArea(frame), total, 1e-8)
}

func TestCellsAreNearestSiteRegions(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	pts := make([]orb.Point, 60)
	for i := range pts {
		pts[i] = orb.Point{r.Float64() * 100, r.Float64() * 100}
	}
	cells, _ := tessellate(t, pts, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{100, 100}})

	for k := 0; k < 500; k++ {
		q := orb.Point{r.Float64() * 100, r.Float64() * 100}
		nearest, best := -1, math.Inf(1)
		for i, p := range pts {
			if d := planar.DistanceSquared(p, q); d < best {
				nearest, best = i, d
			}
		}
		assert.True(t, planar.RingContains(cells[nearest].Ring, q), "query %v not in cell of nearest site %d", q, nearest)
	}
}

func TestTessellateIsDeterministic(t *testing.T) {
	pts := []orb.Point{{1, 1}, {4, 2}, {2, 6}, {7, 7}, {9, 1}, {5, 4}}
	b := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 8}}
	first, _ := tessellate(t, pts, b)
	second, _ := tessellate(t, pts, b)
	assert.Equal(t, first, second)
}

func TestTessellateRejectsIDMismatch(t *testing.T) {
	tri, err := delaunay.Triangulate([]orb.Point{{0, 0}, {1, 0}, {0, 1}})
	require.NoError(t, err)
	_, err = Tessellate(tri, []string{"a"}, orb.Bound{Max: orb.Point{1, 1}})
	assert.Error(t, err)
}

func TestCocircularSitesKeepEveryCell(t *testing.T) {
	pts := []orb.Point{{0, 1}, {1, 0}, {0, -1}, {-1, 0}}
	cells, _ := tessellate(t, pts, orb.Bound{Min: orb.Point{-2, -2}, Max: orb.Point{2, 2}})
	for _, c := range cells {
		assert.False(t, c.Degenerate())
		assert.Greater(t, c.Area(), 0.0)
	}
}
