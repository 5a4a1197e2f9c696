package elevationmap_test

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"strconv"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/paulmach/orb"

	"github.com/twpayne/go-elevationmap"
)

type testTile struct {
	southwestLatitude  int8
	southwestLongitude int16
	rows               int
	columns            int
	elevations         []int16
}

func newTestMap(t *testing.T, header elevationmap.Header, tiles []testTile, options ...elevationmap.MapOption) *elevationmap.Map {
	t.Helper()
	w := elevationmap.NewWriter(header)
	for _, tile := range tiles {
		assert.NoError(t, w.AddTile(tile.southwestLatitude, tile.southwestLongitude, tile.rows, tile.columns, tile.elevations))
	}
	m, err := elevationmap.NewMap(w.Bytes(), options...)
	assert.NoError(t, err)
	return m
}

func appendTileRecord(data []byte, rows, columns uint16, southwestLatitude int8, southwestLongitude int16, payload []byte) []byte {
	data = binary.LittleEndian.AppendUint16(data, rows)
	data = binary.LittleEndian.AppendUint16(data, columns)
	data = append(data, byte(southwestLatitude))
	data = binary.LittleEndian.AppendUint16(data, uint16(southwestLongitude))
	data = binary.LittleEndian.AppendUint32(data, uint32(len(payload)))
	return append(data, payload...)
}

func gzipSamples(t *testing.T, samples []int16) []byte {
	t.Helper()
	var b bytes.Buffer
	w := gzip.NewWriter(&b)
	assert.NoError(t, binary.Write(w, binary.LittleEndian, samples))
	assert.NoError(t, w.Close())
	return b.Bytes()
}

var scenarioHeader = elevationmap.Header{
	LatitudeMin:           10,
	LatitudeMax:           11,
	LongitudeMin:          20,
	LongitudeMax:          21,
	AngularStepsLatitude:  1,
	AngularStepsLongitude: 1,
	HorizontalResolution:  30,
}

var scenarioTiles = []testTile{
	{
		southwestLatitude:  10,
		southwestLongitude: 20,
		rows:               2,
		columns:            2,
		elevations: []int16{
			0, -1,
			50, 100,
		},
	},
}

func TestNewMap(t *testing.T) {
	m := newTestMap(t, scenarioHeader, scenarioTiles)
	assert.Equal(t, scenarioHeader, m.Header)
	assert.Equal(t, orb.Bound{Min: orb.Point{20, 10}, Max: orb.Point{21, 11}}, m.Bound())

	tiles := m.Tiles()
	assert.Equal(t, 1, len(tiles))
	assert.Equal(t, uint16(2), tiles[0].Rows)
	assert.Equal(t, uint16(2), tiles[0].Columns)
	assert.Equal(t, int8(10), tiles[0].SouthwestLatitude)
	assert.Equal(t, int16(20), tiles[0].SouthwestLongitude)
	assert.Equal(t, elevationmap.HeaderLen+elevationmap.TileHeaderLen, tiles[0].DataOffset)
	assert.Equal(t, int(tiles[0].Size), len(tiles[0].CompressedData()))
	assert.Equal(t, orb.Bound{Min: orb.Point{20, 10}, Max: orb.Point{21, 11}}, tiles[0].Bound(1, 1))
}

func TestNewMap_NoTiles(t *testing.T) {
	m, err := elevationmap.NewMap(elevationmap.NewWriter(scenarioHeader).Bytes())
	assert.NoError(t, err)
	assert.Equal(t, 0, len(m.Tiles()))
	elevation, err := m.ElevationAt(10.5, 20.5)
	assert.NoError(t, err)
	assert.Equal(t, elevationmap.NoData, elevation)
}

func TestNewMap_FormatError(t *testing.T) {
	header := elevationmap.NewWriter(scenarioHeader).Bytes()
	payload := gzipSamples(t, []int16{1, 2, 3, 4})
	tile := appendTileRecord(nil, 2, 2, 10, 20, payload)

	for _, tc := range []struct {
		name     string
		data     []byte
		expected *elevationmap.FormatError
	}{
		{
			name: "empty",
			data: nil,
			expected: &elevationmap.FormatError{
				Field: "latitude_min",
				Need:  2,
			},
		},
		{
			name: "truncated_header",
			data: header[:13],
			expected: &elevationmap.FormatError{
				Field:  "horizontal_resolution",
				Offset: 10,
				Need:   4,
				Have:   3,
			},
		},
		{
			name: "truncated_tile_header",
			data: append(bytes.Clone(header), tile[:5]...),
			expected: &elevationmap.FormatError{
				Field:  "southwest_longitude",
				Offset: 19,
				Need:   2,
			},
		},
		{
			name: "truncated_payload",
			data: append(bytes.Clone(header), tile[:len(tile)-1]...),
			expected: &elevationmap.FormatError{
				Field:  "payload",
				Offset: 25,
				Need:   len(payload),
				Have:   len(payload) - 1,
			},
		},
		{
			name: "trailing_byte",
			data: append(append(bytes.Clone(header), tile...), 0),
			expected: &elevationmap.FormatError{
				Field:  "rows",
				Offset: 25 + len(payload),
				Need:   2,
				Have:   1,
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m, err := elevationmap.NewMap(tc.data)
			assert.Zero(t, m)
			assert.IsError(t, err, elevationmap.ErrFormat)
			var formatError *elevationmap.FormatError
			assert.True(t, errors.As(err, &formatError))
			assert.Equal(t, tc.expected, formatError)
		})
	}
}

func TestMap_ElevationAt(t *testing.T) {
	for _, useTileIndex := range []bool{false, true} {
		t.Run(strconv.FormatBool(useTileIndex), func(t *testing.T) {
			m := newTestMap(t, scenarioHeader, scenarioTiles, elevationmap.WithTileIndex(useTileIndex))
			for _, tc := range []struct {
				name      string
				latitude  float64
				longitude float64
				expected  int16
			}{
				{name: "north_west", latitude: 10.9, longitude: 20.1, expected: 0},
				{name: "north_east", latitude: 10.9, longitude: 20.9, expected: -1},
				{name: "south_west", latitude: 10.1, longitude: 20.1, expected: 164},
				{name: "south_east", latitude: 10.1, longitude: 20.9, expected: 328},
				{name: "southwest_corner", latitude: 10, longitude: 20, expected: 164},
				{name: "northeast_corner", latitude: 11, longitude: 21, expected: -1},
				{name: "north_edge", latitude: 11, longitude: 20.5, expected: -1},
				{name: "east_edge", latitude: 10.5, longitude: 21, expected: -1},
				{name: "below_north_edge", latitude: 10.999999999, longitude: 20.1, expected: 0},
				{name: "south", latitude: 9.9, longitude: 20.5, expected: -1},
				{name: "west", latitude: 10.5, longitude: 19.9, expected: -1},
				{name: "null_island", latitude: 0, longitude: 0, expected: -1},
			} {
				t.Run(tc.name, func(t *testing.T) {
					actual, err := m.ElevationAt(tc.latitude, tc.longitude)
					assert.NoError(t, err)
					assert.Equal(t, tc.expected, actual)
				})
			}
		})
	}
}

func TestMap_ElevationAt_DecompressionError(t *testing.T) {
	good := gzipSamples(t, []int16{100, 100, 100, 100})
	for _, tc := range []struct {
		name    string
		payload []byte
	}{
		{
			name:    "empty",
			payload: nil,
		},
		{
			name:    "garbage",
			payload: []byte{0x1f, 0x8b, 0xff, 0xff, 0xff, 0xff},
		},
		{
			name:    "truncated",
			payload: good[:len(good)-10],
		},
		{
			name:    "too_few_samples",
			payload: gzipSamples(t, []int16{100, 100, 100}),
		},
		{
			name:    "too_many_samples",
			payload: gzipSamples(t, []int16{100, 100, 100, 100, 100}),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			data := bytes.Clone(elevationmap.NewWriter(scenarioHeader).Bytes())
			data = appendTileRecord(data, 2, 2, 10, 20, tc.payload)
			data = appendTileRecord(data, 2, 2, 12, 20, good)
			m, err := elevationmap.NewMap(data)
			assert.NoError(t, err)

			_, err = m.ElevationAt(10.5, 20.5)
			assert.IsError(t, err, elevationmap.ErrDecompression)
			var decompressionError *elevationmap.DecompressionError
			assert.True(t, errors.As(err, &decompressionError))
			assert.Equal(t, 0, decompressionError.Index)

			// Other tiles are unaffected.
			elevation, err := m.ElevationAt(12.5, 20.5)
			assert.NoError(t, err)
			assert.Equal(t, int16(328), elevation)
		})
	}
}

func TestMap_RoundTrip(t *testing.T) {
	r := rand.New(rand.NewPCG(0, 0))
	header := elevationmap.Header{
		LatitudeMin:           -4,
		LatitudeMax:           4,
		LongitudeMin:          -170,
		LongitudeMax:          -162,
		AngularStepsLatitude:  2,
		AngularStepsLongitude: 4,
		HorizontalResolution:  90,
	}
	var tiles []testTile
	for southwestLatitude := -4; southwestLatitude < 4; southwestLatitude += 2 {
		for southwestLongitude := -170; southwestLongitude < -162; southwestLongitude += 4 {
			rows, columns := 1+r.IntN(16), 1+r.IntN(16)
			elevations := make([]int16, rows*columns)
			for i := range elevations {
				if r.IntN(8) == 0 {
					elevations[i] = elevationmap.NoData
				} else {
					elevations[i] = int16(r.IntN(9000) - 500)
				}
			}
			tiles = append(tiles, testTile{
				southwestLatitude:  int8(southwestLatitude),
				southwestLongitude: int16(southwestLongitude),
				rows:               rows,
				columns:            columns,
				elevations:         elevations,
			})
		}
	}
	m := newTestMap(t, header, tiles)
	assert.Equal(t, len(tiles), len(m.Tiles()))

	for i, tile := range m.Tiles() {
		grid, err := tile.ElevationGrid(header.AngularStepsLatitude, header.AngularStepsLongitude)
		assert.NoError(t, err)
		assert.Equal(t, float64(tiles[i].southwestLatitude), grid.SouthwestLatitude)
		assert.Equal(t, float64(tiles[i].southwestLongitude), grid.SouthwestLongitude)
		assert.Equal(t, float64(tiles[i].southwestLatitude)+2, grid.NortheastLatitude)
		assert.Equal(t, float64(tiles[i].southwestLongitude)+4, grid.NortheastLongitude)
		assert.Equal(t, tiles[i].rows, grid.Rows)
		assert.Equal(t, tiles[i].columns, grid.Columns)
		for j, meters := range tiles[i].elevations {
			if meters == elevationmap.NoData {
				assert.Equal(t, elevationmap.NoData, grid.Elevations[j])
			} else {
				assert.Equal(t, int16(math.Round(float64(meters)*elevationmap.FeetPerMeter)), grid.Elevations[j])
			}
		}
	}

	// Queries match a direct lookup in the containing tile's grid.
	for range 4096 {
		latitude := -4 + 8*r.Float64()
		longitude := -170 + 8*r.Float64()
		tile, ok := m.TileAt(latitude, longitude)
		assert.True(t, ok)
		assert.True(t, tile.Contains(latitude, longitude, header.AngularStepsLatitude, header.AngularStepsLongitude))
		grid, err := tile.ElevationGrid(header.AngularStepsLatitude, header.AngularStepsLongitude)
		assert.NoError(t, err)
		row, column := grid.WorldToGridIndices(latitude, longitude)
		expected := grid.Elevations[row*grid.Columns+column]

		actual, err := m.ElevationAt(latitude, longitude)
		assert.NoError(t, err)
		assert.Equal(t, expected, actual)
	}
}

func TestMap_FirstTileWins(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 1))
	header := elevationmap.Header{
		LatitudeMin:           10,
		LatitudeMax:           14,
		LongitudeMin:          20,
		LongitudeMax:          24,
		AngularStepsLatitude:  2,
		AngularStepsLongitude: 2,
	}
	constantTile := func(southwestLatitude int8, southwestLongitude int16, elevation int16) testTile {
		return testTile{
			southwestLatitude:  southwestLatitude,
			southwestLongitude: southwestLongitude,
			rows:               1,
			columns:            1,
			elevations:         []int16{elevation},
		}
	}

	for _, tc := range []struct {
		name  string
		tiles []testTile
	}{
		{
			name: "aligned",
			tiles: []testTile{
				constantTile(12, 22, 1),
				constantTile(10, 20, 2),
				constantTile(10, 22, 3),
				constantTile(10, 20, 4),
				constantTile(12, 20, 5),
			},
		},
		{
			name: "unaligned",
			tiles: []testTile{
				constantTile(11, 21, 1),
				constantTile(10, 20, 2),
				constantTile(10, 22, 3),
				constantTile(12, 20, 4),
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			indexed := newTestMap(t, header, tc.tiles, elevationmap.WithTileIndex(true))
			scanned := newTestMap(t, header, tc.tiles, elevationmap.WithTileIndex(false))
			for range 1024 {
				latitude := 9 + 6*r.Float64()
				longitude := 19 + 6*r.Float64()

				var expected int16 = elevationmap.NoData
				for _, tile := range tc.tiles {
					if float64(tile.southwestLatitude) <= latitude && latitude < float64(tile.southwestLatitude)+2 &&
						float64(tile.southwestLongitude) <= longitude && longitude < float64(tile.southwestLongitude)+2 {
						expected = int16(math.Round(float64(tile.elevations[0]) * elevationmap.FeetPerMeter))
						break
					}
				}

				actual, err := indexed.ElevationAt(latitude, longitude)
				assert.NoError(t, err)
				assert.Equal(t, expected, actual)

				actual, err = scanned.ElevationAt(latitude, longitude)
				assert.NoError(t, err)
				assert.Equal(t, expected, actual)
			}
		})
	}
}

func TestMap_ElevationsAt(t *testing.T) {
	m := newTestMap(t, scenarioHeader, scenarioTiles)
	points := []orb.Point{
		{20.1, 10.9},
		{20.9, 10.1},
		{20.5, 11},
		{20.9, 10.9},
		{20.1, 10.1},
	}
	actual, err := m.ElevationsAt(points)
	assert.NoError(t, err)
	assert.Equal(t, []int16{0, 328, -1, -1, 164}, actual)

	for i, point := range points {
		elevation, err := m.ElevationAt(point.Lat(), point.Lon())
		assert.NoError(t, err)
		assert.Equal(t, actual[i], elevation)
	}
}

func TestMap_ElevationsAt_DecompressionError(t *testing.T) {
	data := bytes.Clone(elevationmap.NewWriter(scenarioHeader).Bytes())
	data = appendTileRecord(data, 2, 2, 10, 20, gzipSamples(t, []int16{100, 100, 100, 100}))
	var points []orb.Point
	for i := 1; i < 8; i++ {
		data = appendTileRecord(data, 2, 2, int8(10+i), 20, []byte{0xff})
		points = append(points, orb.Point{20.5, float64(10+i) + 0.5})
	}
	points = append(points, orb.Point{20.5, 10.5})
	slices.Reverse(points)
	m, err := elevationmap.NewMap(data)
	assert.NoError(t, err)

	for range 64 {
		elevations, err := m.ElevationsAt(points)
		assert.Zero(t, elevations)
		assert.IsError(t, err, elevationmap.ErrDecompression)
		var decompressionError *elevationmap.DecompressionError
		assert.True(t, errors.As(err, &decompressionError))
		assert.Equal(t, 1, decompressionError.Index)
	}
}
