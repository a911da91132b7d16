package delaunay

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plus() []orb.Point {
	return []orb.Point{{5, 5}, {5, 2}, {5, 8}, {2, 5}, {8, 5}}
}

func randomPoints(n int, seed int64) []orb.Point {
	r := rand.New(rand.NewSource(seed))
	pts := make([]orb.Point, n)
	for i := range pts {
		pts[i] = orb.Point{r.Float64() * 1000, r.Float64() * 1000}
	}
	return pts
}

func TestTriangulateSquare(t *testing.T) {
	tri, err := Triangulate([]orb.Point{{0, 0}, {10, 0}, {10, 10}, {0, 10}})
	require.NoError(t, err)
	assert.Equal(t, 2, tri.Len())
	assert.Len(t, tri.Hull, 4)
	for i := 0; i < 4; i++ {
		assert.True(t, tri.IsHull(i))
	}
}

func TestTriangulatePlus(t *testing.T) {
	tri, err := Triangulate(plus())
	require.NoError(t, err)
	assert.Equal(t, 4, tri.Len())
	assert.False(t, tri.IsHull(0))

	n := tri.Neighbors(0)
	sort.Ints(n)
	assert.Equal(t, []int{1, 2, 3, 4}, n)
	assert.Len(t, tri.TrianglesAround(0), 4)

	// every arm touches the centre and its two adjacent arms
	for arm := 1; arm <= 4; arm++ {
		assert.True(t, tri.IsHull(arm))
		assert.Len(t, tri.Neighbors(arm), 3)
		assert.Len(t, tri.TrianglesAround(arm), 2)
	}
}

func TestTriangulateDegenerate(t *testing.T) {
	cases := map[string][]orb.Point{
		"empty":      nil,
		"two points": {{0, 0}, {1, 1}},
		"duplicates": {{0, 0}, {0, 0}, {1, 1}, {1, 1}},
		"collinear":  {{0, 0}, {1, 1}, {2, 2}, {3, 3}, {10, 10}},
		"vertical":   {{4, 0}, {4, 1}, {4, 7}},
	}
	for name, pts := range cases {
		t.Run(name, func(t *testing.T) {
			tri, err := Triangulate(pts)
			require.Error(t, err)
			assert.Nil(t, tri)
			assert.True(t, errors.Is(err, ErrDegenerateInput))

			var de *DegenerateInputError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, len(pts), de.Points)
		})
	}
}

func TestTriangulateNonFinite(t *testing.T) {
	_, err := Triangulate([]orb.Point{{0, 0}, {1, 0}, {math.NaN(), 1}})
	assert.ErrorIs(t, err, ErrDegenerateInput)
}

func TestDelaunayProperty(t *testing.T) {
	pts := randomPoints(300, 42)
	tri, err := Triangulate(pts)
	require.NoError(t, err)

	for i := 0; i < tri.Len(); i++ {
		v := tri.Triangle(i)
		c := tri.Circumcenter(i)
		r := math.Sqrt(dist2(c, pts[v[0]]))
		for j, p := range pts {
			if j == v[0] || j == v[1] || j == v[2] {
				continue
			}
			d := math.Sqrt(dist2(c, p))
			assert.GreaterOrEqual(t, d, r-1e-7*r, "point %d inside circumcircle of face %d", j, i)
		}
	}
}

func TestTriangleCountMatchesEuler(t *testing.T) {
	pts := randomPoints(200, 7)
	tri, err := Triangulate(pts)
	require.NoError(t, err)
	assert.Equal(t, 2*len(pts)-len(tri.Hull)-2, tri.Len())
}

func TestHalfedgesAreSymmetric(t *testing.T) {
	tri, err := Triangulate(randomPoints(150, 3))
	require.NoError(t, err)
	hullEdges := 0
	for e, o := range tri.Halfedges {
		if o == -1 {
			hullEdges++
			continue
		}
		assert.Equal(t, e, tri.Halfedges[o])
		assert.Equal(t, tri.Triangles[e], tri.Triangles[NextHalfedge(o)])
	}
	assert.Equal(t, len(tri.Hull), hullEdges)
}

func TestTriangulateIsDeterministic(t *testing.T) {
	pts := randomPoints(120, 11)
	// cocircular ring plus centre exercises tie-breaking
	for k := 0; k < 12; k++ {
		a := float64(k) * math.Pi / 6
		pts = append(pts, orb.Point{2000 + 50*math.Cos(a), 2000 + 50*math.Sin(a)})
	}
	pts = append(pts, orb.Point{2000, 2000})

	first, err := Triangulate(pts)
	require.NoError(t, err)
	second, err := Triangulate(pts)
	require.NoError(t, err)

	assert.Equal(t, first.Triangles, second.Triangles)
	assert.Equal(t, first.Halfedges, second.Halfedges)
	assert.Equal(t, first.Hull, second.Hull)
}

func TestEdgesAroundCoversEveryFace(t *testing.T) {
	pts := randomPoints(80, 5)
	tri, err := Triangulate(pts)
	require.NoError(t, err)

	seen := make(map[int]int)
	for p := range pts {
		for _, f := range tri.TrianglesAround(p) {
			seen[f]++
		}
	}
	require.Len(t, seen, tri.Len())
	for f, n := range seen {
		assert.Equal(t, 3, n, "face %d", f)
	}
}
