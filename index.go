package elevationmap

import "math"

// A blockCoord is the position of a tile in the grid of angular steps.
type blockCoord struct {
	R int // Latitude block.
	C int // Longitude block.
}

// A blockIndex maps block coordinates to the index of the first tile with
// those coordinates. It is only built when every tile's southwest corner is
// a multiple of the angular steps.
type blockIndex map[blockCoord]int

// newBlockIndex returns an index of tiles, or nil if the tiles are not aligned
// to the angular steps.
func newBlockIndex(tiles []Tile, angularStepsLatitude, angularStepsLongitude uint8) blockIndex {
	if angularStepsLatitude == 0 || angularStepsLongitude == 0 {
		return nil
	}
	stepsLatitude, stepsLongitude := int(angularStepsLatitude), int(angularStepsLongitude)
	index := make(blockIndex, len(tiles))
	for i := range tiles {
		southwestLatitude := int(tiles[i].SouthwestLatitude)
		southwestLongitude := int(tiles[i].SouthwestLongitude)
		if southwestLatitude%stepsLatitude != 0 || southwestLongitude%stepsLongitude != 0 {
			return nil
		}
		key := blockCoord{
			R: southwestLatitude / stepsLatitude,
			C: southwestLongitude / stepsLongitude,
		}
		if _, ok := index[key]; !ok {
			index[key] = i
		}
	}
	return index
}

// lookup returns the index of the tile that probably contains latitude and
// longitude. The caller must check containment.
func (x blockIndex) lookup(latitude, longitude float64, angularStepsLatitude, angularStepsLongitude uint8) (int, bool) {
	r := math.Floor(latitude / float64(angularStepsLatitude))
	c := math.Floor(longitude / float64(angularStepsLongitude))
	if math.IsNaN(r) || math.IsNaN(c) || math.Abs(r) > math.MaxInt16 || math.Abs(c) > math.MaxInt16 {
		return 0, false
	}
	i, ok := x[blockCoord{R: int(r), C: int(c)}]
	return i, ok
}
