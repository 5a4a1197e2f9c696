package elevationmap

import "math"

// NoData is the elevation returned where there is no data.
const NoData int16 = -1

// FeetPerMeter converts stored meters to returned feet.
const FeetPerMeter = 3.28084

// An ElevationGrid is the decompressed raster of a single tile. Elevations
// are in feet, in row-major order, with row 0 being the northernmost row.
type ElevationGrid struct {
	SouthwestLatitude  float64
	SouthwestLongitude float64
	NortheastLatitude  float64
	NortheastLongitude float64
	Rows               int
	Columns            int
	Elevations         []int16
}

// WorldToGridIndices returns the row and column of the sample containing
// latitude and longitude. The point must lie within the grid's half-open
// bounds; other points can give indices outside the grid.
func (g *ElevationGrid) WorldToGridIndices(latitude, longitude float64) (row, column int) {
	rows, columns := float64(g.Rows), float64(g.Columns)

	latRange := g.NortheastLatitude - g.SouthwestLatitude
	latDelta := latitude - g.SouthwestLatitude
	row = int(min(rows-math.Floor((latDelta/latRange)*rows), rows) - 1)

	longRange := g.NortheastLongitude - g.SouthwestLongitude
	longDelta := longitude - g.SouthwestLongitude
	column = int(min(math.Floor((longDelta/longRange)*columns), columns-1))

	return row, column
}

// ElevationAt returns the elevation at latitude and longitude, which should
// lie within g's bounds. Indices are clamped into the grid, so points that
// round onto the northeast edge still read the edge sample.
func (g *ElevationGrid) ElevationAt(latitude, longitude float64) int16 {
	if g.Rows <= 0 || g.Columns <= 0 || len(g.Elevations) < g.Rows*g.Columns {
		return NoData
	}
	row, column := g.WorldToGridIndices(latitude, longitude)
	row = min(max(row, 0), g.Rows-1)
	column = min(max(column, 0), g.Columns-1)
	return g.Elevations[row*g.Columns+column]
}

// metersToFeet converts a stored sample to feet, leaving NoData unchanged.
// Results beyond the range of int16 saturate.
func metersToFeet(meters int16) int16 {
	if meters == NoData {
		return NoData
	}
	feet := math.Round(float64(meters) * FeetPerMeter)
	return int16(min(max(feet, math.MinInt16), math.MaxInt16))
}
