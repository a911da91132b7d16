package pmtiles

import (
	"bytes"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZxyToID(t *testing.T) {
	assert.Equal(t, uint64(0), ZxyToID(0, 0, 0))
	assert.Equal(t, uint64(1), ZxyToID(1, 0, 0))
	assert.Equal(t, uint64(2), ZxyToID(1, 0, 1))
	assert.Equal(t, uint64(3), ZxyToID(1, 1, 1))
	assert.Equal(t, uint64(4), ZxyToID(1, 1, 0))
	assert.Equal(t, uint64(5), ZxyToID(2, 0, 0))
}

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		SpecVersion: 3, RootOffset: 127, RootLength: 10, TileDataLength: 99,
		Clustered: true, InternalCompression: Gzip, TileCompression: Gzip, TileType: Mvt,
		MinZoom: 2, MaxZoom: 9, MinLonE7: -1069000000, MaxLatE7: -60000000, CenterLonE7: 1068000000,
	}
	got, err := ReadHeader(SerializeHeader(h))
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = ReadHeader([]byte("short"))
	assert.Error(t, err)
	_, err = ReadHeader(make([]byte, HeaderLen))
	assert.Error(t, err)
}

func TestEntriesRoundTrip(t *testing.T) {
	entries := []Entry{
		{TileID: 1, Offset: 0, Length: 10, RunLength: 1},
		{TileID: 2, Offset: 10, Length: 5, RunLength: 2},
		{TileID: 7, Offset: 0, Length: 10, RunLength: 1},
	}
	for _, c := range []Compression{NoCompression, Gzip} {
		d, err := SerializeEntries(entries, c)
		require.NoError(t, err)
		got, err := ReadEntries(d, c)
		require.NoError(t, err)
		assert.Equal(t, entries, got)
	}
	_, err := SerializeEntries(entries, Compression(9))
	assert.Error(t, err)
}

func TestWriteDeduplicates(t *testing.T) {
	same := []byte("same tile")
	tiles := map[maptile.Tile][]byte{
		maptile.New(0, 0, 1): same,
		maptile.New(0, 1, 1): same,
		maptile.New(1, 1, 1): []byte("other"),
		maptile.New(0, 0, 0): []byte("root"),
	}
	var buf bytes.Buffer
	meta := Metadata{Name: "regions", Layer: "regions", MinZoom: 0, MaxZoom: 1,
		Bound: orb.Bound{Min: orb.Point{106.5, -7.4}, Max: orb.Point{107.1, -6.7}}}
	require.NoError(t, Write(&buf, tiles, meta))

	data := buf.Bytes()
	h, err := ReadHeader(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), h.AddressedTilesCount)
	assert.Equal(t, uint64(3), h.TileContentsCount)
	assert.Equal(t, uint64(3), h.TileEntriesCount, "ids 1 and 2 share content and form one run")
	assert.Equal(t, int32(1065000000), h.MinLonE7)
	assert.Equal(t, uint64(len(data)), h.TileDataOffset+h.TileDataLength)

	entries, err := ReadEntries(data[h.RootOffset:h.RootOffset+h.RootLength], h.InternalCompression)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(0), entries[0].TileID)
	assert.Equal(t, uint32(2), entries[1].RunLength)

	tileData := data[h.TileDataOffset:]
	e := entries[1]
	assert.Equal(t, same, tileData[e.Offset:e.Offset+uint64(e.Length)])

	assert.ErrorIs(t, Write(&buf, nil, meta), ErrNoTiles)
}
