package elevationmap

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/paulmach/orb"
)

var errShortPayload = errors.New("short payload")

// A Tile is a rectangular patch of elevation samples covering one angular
// step in latitude and longitude, north-east of its southwest corner.
type Tile struct {
	Rows               uint16
	Columns            uint16
	SouthwestLatitude  int8
	SouthwestLongitude int16
	Size               uint32 // Compressed payload size in bytes.
	DataOffset         int    // Offset of the compressed payload in the map buffer.
	data               []byte // Compressed payload, a sub-slice of the map buffer.
}

// CompressedData returns t's compressed payload. It shares memory with the
// buffer that t was parsed from and must not be modified.
func (t *Tile) CompressedData() []byte {
	return t.data
}

// Contains returns whether latitude and longitude lie within t's half-open
// bounds, which include the southwest edges and exclude the northeast edges.
func (t *Tile) Contains(latitude, longitude float64, angularStepsLatitude, angularStepsLongitude uint8) bool {
	southwestLatitude := float64(t.SouthwestLatitude)
	southwestLongitude := float64(t.SouthwestLongitude)
	return southwestLatitude <= latitude && latitude < southwestLatitude+float64(angularStepsLatitude) &&
		southwestLongitude <= longitude && longitude < southwestLongitude+float64(angularStepsLongitude)
}

// Bound returns t's bounds.
func (t *Tile) Bound(angularStepsLatitude, angularStepsLongitude uint8) orb.Bound {
	return orb.Bound{
		Min: orb.Point{float64(t.SouthwestLongitude), float64(t.SouthwestLatitude)},
		Max: orb.Point{
			float64(t.SouthwestLongitude) + float64(angularStepsLongitude),
			float64(t.SouthwestLatitude) + float64(angularStepsLatitude),
		},
	}
}

// ElevationGrid decompresses t into a new ElevationGrid with elevations in
// feet. The angular steps are those of the map that t belongs to.
func (t *Tile) ElevationGrid(angularStepsLatitude, angularStepsLongitude uint8) (*ElevationGrid, error) {
	rows, columns := int(t.Rows), int(t.Columns)
	tileData, err := t.decompressData(2 * rows * columns)
	if err != nil {
		return nil, err
	}
	return &ElevationGrid{
		SouthwestLatitude:  float64(t.SouthwestLatitude),
		SouthwestLongitude: float64(t.SouthwestLongitude),
		NortheastLatitude:  float64(t.SouthwestLatitude) + float64(angularStepsLatitude),
		NortheastLongitude: float64(t.SouthwestLongitude) + float64(angularStepsLongitude),
		Rows:               rows,
		Columns:            columns,
		Elevations:         decodeTileData(tileData),
	}, nil
}

// decompressData decompresses t's payload, which must decompress to exactly
// n bytes.
func (t *Tile) decompressData(n int) ([]byte, error) {
	r, err := newDecompressor(t.data)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// Read one byte more than expected to detect oversized payloads.
	tileData, err := io.ReadAll(io.LimitReader(r, int64(n)+1))
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil, errShortPayload
	case err != nil:
		return nil, err
	case len(tileData) != n:
		return nil, fmt.Errorf("decompressed %d bytes, expected %d", len(tileData), n)
	default:
		return tileData, nil
	}
}

// newDecompressor returns a reader for the gzip, zlib, or raw DEFLATE stream
// in data, detected by its leading bytes.
func newDecompressor(data []byte) (io.ReadCloser, error) {
	switch {
	case len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b:
		return gzip.NewReader(bytes.NewReader(data))
	case len(data) >= 2 && data[0]&0x0f == 8 && binary.BigEndian.Uint16(data)%31 == 0:
		return zlib.NewReader(bytes.NewReader(data))
	default:
		return flate.NewReader(bytes.NewReader(data)), nil
	}
}

// decodeTileData decodes little-endian samples in meters into elevations in
// feet.
func decodeTileData(tileData []byte) []int16 {
	elevations := make([]int16, len(tileData)/2)
	for i := range elevations {
		meters := int16(binary.LittleEndian.Uint16(tileData[2*i : 2*i+2]))
		elevations[i] = metersToFeet(meters)
	}
	return elevations
}
