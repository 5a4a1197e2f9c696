// Package elevationmap reads elevations from compact maps of gzip-compressed
// tiles.
package elevationmap

import (
	"maps"
	"slices"

	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "elevationmap_queries_total",
		Help: "The total number of elevation queries",
	})
	noTileQueries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "elevationmap_no_tile_total",
		Help: "The total number of elevation queries outside every tile",
	})
	tileLoads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "elevationmap_tile_loads_total",
		Help: "The total number of tiles decompressed",
	})
	decompressionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "elevationmap_decompression_errors_total",
		Help: "The total number of tiles that failed to decompress",
	})
)

// A Header holds the map-level fields of an elevation map.
type Header struct {
	LatitudeMin           int16
	LatitudeMax           int16
	LongitudeMin          int16
	LongitudeMax          int16
	AngularStepsLatitude  uint8   // Degrees of latitude covered by each tile.
	AngularStepsLongitude uint8   // Degrees of longitude covered by each tile.
	HorizontalResolution  float32 // Meters per sample, informational only.
}

// A Map is an elevation map parsed from a buffer. The buffer is shared with
// the map's tiles and must not be modified while the map is in use.
type Map struct {
	Header
	tiles        []Tile
	useTileIndex bool
	blockIndex   blockIndex
}

// A MapOption sets an option on a Map.
type MapOption func(*Map)

// WithTileIndex sets whether tiles are selected with an index keyed by their
// position in the grid of angular steps. The index is only used if every
// tile is aligned to that grid, and it always selects the same tile as a
// linear scan. It is enabled by default.
func WithTileIndex(useTileIndex bool) MapOption {
	return func(m *Map) {
		m.useTileIndex = useTileIndex
	}
}

// NewMap parses data into a new Map. Tiles are not decompressed until they
// are queried.
func NewMap(data []byte, options ...MapOption) (*Map, error) {
	m := &Map{
		useTileIndex: true,
	}
	for _, option := range options {
		option(m)
	}

	d := &decoder{data: data}
	m.Header = d.header()
	for d.err == nil && d.remaining() > 0 {
		tile := d.tile()
		if d.err == nil {
			m.tiles = append(m.tiles, tile)
		}
	}
	if d.err != nil {
		return nil, d.err
	}

	if m.useTileIndex {
		m.blockIndex = newBlockIndex(m.tiles, m.AngularStepsLatitude, m.AngularStepsLongitude)
	}

	return m, nil
}

// Bound returns m's declared bounds.
func (m *Map) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{float64(m.LongitudeMin), float64(m.LatitudeMin)},
		Max: orb.Point{float64(m.LongitudeMax), float64(m.LatitudeMax)},
	}
}

// Tiles returns m's tiles in storage order. The result must not be modified.
func (m *Map) Tiles() []Tile {
	return m.tiles
}

// TileAt returns the first tile that contains latitude and longitude.
func (m *Map) TileAt(latitude, longitude float64) (*Tile, bool) {
	i, ok := m.tileIndexAt(latitude, longitude)
	if !ok {
		return nil, false
	}
	return &m.tiles[i], true
}

// ElevationAt returns the elevation in feet at latitude and longitude. If no
// tile contains the point then it returns NoData and no error.
func (m *Map) ElevationAt(latitude, longitude float64) (int16, error) {
	queries.Inc()
	i, ok := m.tileIndexAt(latitude, longitude)
	if !ok {
		noTileQueries.Inc()
		return NoData, nil
	}
	grid, err := m.elevationGrid(i)
	if err != nil {
		return NoData, err
	}
	return grid.ElevationAt(latitude, longitude), nil
}

// ElevationsAt returns the elevations in feet at points. It is faster than
// calling [Map.ElevationAt] for each point as each tile is decompressed at most
// once per call. Tiles are loaded in storage order, so if several tiles fail
// to decompress the error is for the first of them.
func (m *Map) ElevationsAt(points []orb.Point) ([]int16, error) {
	elevations := make([]int16, len(points))

	// Group indexes by tile index.
	indexesByTileIndex := make(map[int][]int)
	for index, point := range points {
		queries.Inc()
		tileIndex, ok := m.tileIndexAt(point.Lat(), point.Lon())
		if !ok {
			noTileQueries.Inc()
			elevations[index] = NoData
			continue
		}
		indexesByTileIndex[tileIndex] = append(indexesByTileIndex[tileIndex], index)
	}

	// Populate elevations one tile at a time.
	for _, tileIndex := range slices.Sorted(maps.Keys(indexesByTileIndex)) {
		grid, err := m.elevationGrid(tileIndex)
		if err != nil {
			return nil, err
		}
		for _, index := range indexesByTileIndex[tileIndex] {
			elevations[index] = grid.ElevationAt(points[index].Lat(), points[index].Lon())
		}
	}

	return elevations, nil
}

// elevationGrid decompresses the tile at index i.
func (m *Map) elevationGrid(i int) (*ElevationGrid, error) {
	tileLoads.Inc()
	grid, err := m.tiles[i].ElevationGrid(m.AngularStepsLatitude, m.AngularStepsLongitude)
	if err != nil {
		decompressionErrors.Inc()
		return nil, &DecompressionError{
			Index: i,
			Err:   err,
		}
	}
	return grid, nil
}

// tileIndexAt returns the index of the first tile that contains latitude and
// longitude.
func (m *Map) tileIndexAt(latitude, longitude float64) (int, bool) {
	if m.blockIndex != nil {
		if i, ok := m.blockIndex.lookup(latitude, longitude, m.AngularStepsLatitude, m.AngularStepsLongitude); ok && m.contains(i, latitude, longitude) {
			return i, true
		}
	}
	for i := range m.tiles {
		if m.contains(i, latitude, longitude) {
			return i, true
		}
	}
	return 0, false
}

func (m *Map) contains(i int, latitude, longitude float64) bool {
	return m.tiles[i].Contains(latitude, longitude, m.AngularStepsLatitude, m.AngularStepsLongitude)
}
