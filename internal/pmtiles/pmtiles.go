// Package pmtiles writes single-directory PMTiles v3 archives of gzipped
// vector tiles.
//
// The encoding follows https://github.com/protomaps/PMTiles/blob/main/spec/v3/spec.md.
// Directory and header code is derived from github.com/protomaps/go-pmtiles
// (BSD-3-Clause), without its SQLite-backed MBTiles conversion.
package pmtiles

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// Compression is the compression applied to tiles and directories.
type Compression uint8

const (
	UnknownCompression Compression = 0
	NoCompression      Compression = 1
	Gzip               Compression = 2
)

// TileType is the format of individual tile contents.
type TileType uint8

const (
	UnknownTileType TileType = 0
	Mvt             TileType = 1
)

// HeaderLen is the size of the fixed binary header.
const HeaderLen = 127

var ErrNoTiles = errors.New("no tiles to write")

// Header is the PMTiles v3 header.
type Header struct {
	SpecVersion         uint8
	RootOffset          uint64
	RootLength          uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafDirectoryOffset uint64
	LeafDirectoryLength uint64
	TileDataOffset      uint64
	TileDataLength      uint64
	AddressedTilesCount uint64
	TileEntriesCount    uint64
	TileContentsCount   uint64
	Clustered           bool
	InternalCompression Compression
	TileCompression     Compression
	TileType            TileType
	MinZoom             uint8
	MaxZoom             uint8
	MinLonE7            int32
	MinLatE7            int32
	MaxLonE7            int32
	MaxLatE7            int32
	CenterZoom          uint8
	CenterLonE7         int32
	CenterLatE7         int32
}

// Entry is one directory entry.
type Entry struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// Metadata describes the archive. Bound is in lon/lat.
type Metadata struct {
	Name        string
	Description string
	Layer       string
	MinZoom     uint8
	MaxZoom     uint8
	Bound       orb.Bound
}

// TileID converts a tile to its Hilbert tile id.
func TileID(t maptile.Tile) uint64 {
	return ZxyToID(uint8(t.Z), t.X, t.Y)
}

// ZxyToID converts (z, x, y) to a Hilbert tile id.
func ZxyToID(z uint8, x uint32, y uint32) uint64 {
	var acc uint64 = (1<<(z*2) - 1) / 3
	n := uint32(z - 1)
	for s := uint32(1 << n); s > 0; s >>= 1 {
		rx := s & x
		ry := s & y
		acc += uint64((3*rx)^ry) << n
		x, y = rotate(s, x, y, rx, ry)
		n--
	}
	return acc
}

func rotate(n uint32, x uint32, y uint32, rx uint32, ry uint32) (uint32, uint32) {
	if ry == 0 {
		if rx != 0 {
			x = n - 1 - x
			y = n - 1 - y
		}
		return y, x
	}
	return x, y
}

// Write encodes tiles, already gzipped MVT, as an archive. Identical tile
// contents are stored once.
func Write(w io.Writer, tiles map[maptile.Tile][]byte, meta Metadata) error {
	if len(tiles) == 0 {
		return ErrNoTiles
	}

	ids := make([]uint64, 0, len(tiles))
	byID := make(map[uint64][]byte, len(tiles))
	for t, data := range tiles {
		id := TileID(t)
		ids = append(ids, id)
		byID[id] = data
	}
	slices.Sort(ids)

	var (
		entries  []Entry
		data     bytes.Buffer
		offsets  = make(map[[32]byte]uint64)
		contents uint64
	)
	for _, id := range ids {
		tile := byID[id]
		sum := sha256.Sum256(tile)
		off, seen := offsets[sum]
		if !seen {
			off = uint64(data.Len())
			offsets[sum] = off
			data.Write(tile)
			contents++
		}
		last := len(entries) - 1
		if seen && last >= 0 && entries[last].Offset == off && entries[last].TileID+uint64(entries[last].RunLength) == id {
			entries[last].RunLength++
			continue
		}
		entries = append(entries, Entry{TileID: id, Offset: off, Length: uint32(len(tile)), RunLength: 1})
	}

	root, err := SerializeEntries(entries, Gzip)
	if err != nil {
		return fmt.Errorf("serialize directory: %w", err)
	}
	metadata, err := SerializeMetadata(map[string]any{
		"name":        meta.Name,
		"description": meta.Description,
		"format":      "pbf",
		"compression": "gzip",
		"minzoom":     meta.MinZoom,
		"maxzoom":     meta.MaxZoom,
		"vector_layers": []map[string]any{
			{"id": meta.Layer, "minzoom": meta.MinZoom, "maxzoom": meta.MaxZoom},
		},
	}, Gzip)
	if err != nil {
		return fmt.Errorf("serialize metadata: %w", err)
	}

	center := meta.Bound.Center()
	h := Header{
		SpecVersion:         3,
		RootOffset:          HeaderLen,
		RootLength:          uint64(len(root)),
		MetadataOffset:      HeaderLen + uint64(len(root)),
		MetadataLength:      uint64(len(metadata)),
		TileDataOffset:      HeaderLen + uint64(len(root)) + uint64(len(metadata)),
		TileDataLength:      uint64(data.Len()),
		AddressedTilesCount: uint64(len(ids)),
		TileEntriesCount:    uint64(len(entries)),
		TileContentsCount:   contents,
		Clustered:           true,
		InternalCompression: Gzip,
		TileCompression:     Gzip,
		TileType:            Mvt,
		MinZoom:             meta.MinZoom,
		MaxZoom:             meta.MaxZoom,
		MinLonE7:            e7(meta.Bound.Min[0]),
		MinLatE7:            e7(meta.Bound.Min[1]),
		MaxLonE7:            e7(meta.Bound.Max[0]),
		MaxLatE7:            e7(meta.Bound.Max[1]),
		CenterZoom:          meta.MinZoom,
		CenterLonE7:         e7(center[0]),
		CenterLatE7:         e7(center[1]),
	}

	for _, part := range [][]byte{SerializeHeader(h), root, metadata, data.Bytes()} {
		if _, err := w.Write(part); err != nil {
			return err
		}
	}
	return nil
}

func e7(deg float64) int32 { return int32(math.Round(deg * 1e7)) }

// SerializeHeader encodes a header.
func SerializeHeader(h Header) []byte {
	b := make([]byte, HeaderLen)
	copy(b[0:7], "PMTiles")
	b[7] = 3
	le := binary.LittleEndian
	for i, v := range []uint64{
		h.RootOffset, h.RootLength, h.MetadataOffset, h.MetadataLength,
		h.LeafDirectoryOffset, h.LeafDirectoryLength, h.TileDataOffset, h.TileDataLength,
		h.AddressedTilesCount, h.TileEntriesCount, h.TileContentsCount,
	} {
		le.PutUint64(b[8+i*8:], v)
	}
	if h.Clustered {
		b[96] = 0x1
	}
	b[97] = uint8(h.InternalCompression)
	b[98] = uint8(h.TileCompression)
	b[99] = uint8(h.TileType)
	b[100] = h.MinZoom
	b[101] = h.MaxZoom
	le.PutUint32(b[102:], uint32(h.MinLonE7))
	le.PutUint32(b[106:], uint32(h.MinLatE7))
	le.PutUint32(b[110:], uint32(h.MaxLonE7))
	le.PutUint32(b[114:], uint32(h.MaxLatE7))
	b[118] = h.CenterZoom
	le.PutUint32(b[119:], uint32(h.CenterLonE7))
	le.PutUint32(b[123:], uint32(h.CenterLatE7))
	return b
}

// ReadHeader decodes the header at the start of d.
func ReadHeader(d []byte) (Header, error) {
	var h Header
	if len(d) < HeaderLen {
		return h, errors.New("buffer too small for header")
	}
	if string(d[0:7]) != "PMTiles" {
		return h, errors.New("magic number not detected")
	}
	le := binary.LittleEndian
	u := func(i int) uint64 { return le.Uint64(d[8+i*8:]) }

	h.SpecVersion = d[7]
	h.RootOffset, h.RootLength = u(0), u(1)
	h.MetadataOffset, h.MetadataLength = u(2), u(3)
	h.LeafDirectoryOffset, h.LeafDirectoryLength = u(4), u(5)
	h.TileDataOffset, h.TileDataLength = u(6), u(7)
	h.AddressedTilesCount, h.TileEntriesCount, h.TileContentsCount = u(8), u(9), u(10)
	h.Clustered = d[96] == 0x1
	h.InternalCompression = Compression(d[97])
	h.TileCompression = Compression(d[98])
	h.TileType = TileType(d[99])
	h.MinZoom = d[100]
	h.MaxZoom = d[101]
	h.MinLonE7 = int32(le.Uint32(d[102:]))
	h.MinLatE7 = int32(le.Uint32(d[106:]))
	h.MaxLonE7 = int32(le.Uint32(d[110:]))
	h.MaxLatE7 = int32(le.Uint32(d[114:]))
	h.CenterZoom = d[118]
	h.CenterLonE7 = int32(le.Uint32(d[119:]))
	h.CenterLatE7 = int32(le.Uint32(d[123:]))
	return h, nil
}

// SerializeMetadata encodes the metadata JSON.
func SerializeMetadata(metadata map[string]any, compression Compression) ([]byte, error) {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return compress(raw, compression)
}

// SerializeEntries encodes a directory.
func SerializeEntries(entries []Entry, compression Compression) ([]byte, error) {
	var b bytes.Buffer
	tmp := make([]byte, binary.MaxVarintLen64)
	put := func(v uint64) {
		n := binary.PutUvarint(tmp, v)
		b.Write(tmp[:n])
	}

	put(uint64(len(entries)))
	lastID := uint64(0)
	for _, e := range entries {
		put(e.TileID - lastID)
		lastID = e.TileID
	}
	for _, e := range entries {
		put(uint64(e.RunLength))
	}
	for _, e := range entries {
		put(uint64(e.Length))
	}
	for i, e := range entries {
		if i > 0 && e.Offset == entries[i-1].Offset+uint64(entries[i-1].Length) {
			put(0)
		} else {
			put(e.Offset + 1)
		}
	}
	return compress(b.Bytes(), compression)
}

// ReadEntries decodes a directory.
func ReadEntries(d []byte, compression Compression) ([]Entry, error) {
	raw, err := decompress(d, compression)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(raw)
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, n)
	lastID := uint64(0)
	for i := range entries {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		lastID += v
		entries[i].TileID = lastID
	}
	for i := range entries {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		entries[i].RunLength = uint32(v)
	}
	for i := range entries {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		entries[i].Length = uint32(v)
	}
	for i := range entries {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		if v == 0 && i > 0 {
			entries[i].Offset = entries[i-1].Offset + uint64(entries[i-1].Length)
		} else {
			entries[i].Offset = v - 1
		}
	}
	return entries, nil
}

func compress(raw []byte, c Compression) ([]byte, error) {
	switch c {
	case NoCompression:
		return raw, nil
	case Gzip:
		var b bytes.Buffer
		w, err := gzip.NewWriterLevel(&b, gzip.BestCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return b.Bytes(), nil
	}
	return nil, fmt.Errorf("compression %d not supported", c)
}

func decompress(d []byte, c Compression) ([]byte, error) {
	switch c {
	case NoCompression:
		return d, nil
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(d))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	}
	return nil, fmt.Errorf("compression %d not supported", c)
}
