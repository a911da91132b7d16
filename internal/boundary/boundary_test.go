package boundary

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const polygonJSON = `{"type":"Polygon","coordinates":[[[0,0],[0,10],[10,10],[10,0],[0,0]]]}`

func TestParsePolygonNormalizesOrientation(t *testing.T) {
	b, err := Parse([]byte(polygonJSON))
	require.NoError(t, err)
	assert.Equal(t, orb.CCW, b.Outer().Orientation())
	assert.InDelta(t, 100.0, b.Area(), 1e-12)
	assert.True(t, b.Contains(orb.Point{5, 5}))
	assert.False(t, b.Contains(orb.Point{15, 5}))
}

func TestParseFeature(t *testing.T) {
	data := `{"type":"Feature","properties":{"name":"Kabupaten"},"geometry":` + polygonJSON + `}`
	b, err := Parse([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}, b.Bound())
}

func TestParseFeatureCollectionSkipsPoints(t *testing.T) {
	data := `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[1,1]}},
		{"type":"Feature","properties":{},"geometry":` + polygonJSON + `}
	]}`
	b, err := Parse([]byte(data))
	require.NoError(t, err)
	assert.InDelta(t, 100.0, b.Area(), 1e-12)
}

func TestParseMultiPolygonKeepsLargest(t *testing.T) {
	data := `{"type":"MultiPolygon","coordinates":[
		[[[0,0],[1,0],[1,1],[0,1],[0,0]]],
		[[[5,5],[9,5],[9,9],[5,9],[5,5]],[[6,6],[7,6],[7,7],[6,7],[6,6]]]
	]}`
	b, err := Parse([]byte(data))
	require.NoError(t, err)
	require.Len(t, b.Polygon, 2)
	assert.InDelta(t, 15.0, b.Area(), 1e-12)
	assert.Equal(t, orb.CW, b.Holes()[0].Orientation())
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"not json":   `{`,
		"point":      `{"type":"Point","coordinates":[1,2]}`,
		"no polygon": `{"type":"FeatureCollection","features":[]}`,
		"flat ring":  `{"type":"Polygon","coordinates":[[[0,0],[1,1],[2,2],[0,0]]]}`,
		"short ring": `{"type":"Polygon","coordinates":[[[0,0],[1,1],[0,0]]]}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boundary.geojson")
	require.NoError(t, os.WriteFile(path, []byte(polygonJSON), 0o644))

	b, err := Load(path)
	require.NoError(t, err)
	assert.NoError(t, b.Validate())

	_, err = Load(filepath.Join(t.TempDir(), "missing.geojson"))
	assert.Error(t, err)
}

func TestProject(t *testing.T) {
	b, err := Parse([]byte(polygonJSON))
	require.NoError(t, err)
	p := b.Project(func(pt orb.Point) orb.Point { return orb.Point{pt[0] * 2, pt[1] * 3} })
	assert.InDelta(t, 600.0, p.Area(), 1e-9)
	assert.InDelta(t, 100.0, b.Area(), 1e-12)
}
