// Package geotiff reads elevation samples from tiled GeoTIFF digital
// elevation models, for use as an elevationmap.Source.
package geotiff

// A Coord is a pixel coordinate.
type Coord struct {
	X int
	Y int
}

// A TileCoord is a tile coordinate.
type TileCoord struct {
	C int // Column.
	R int // Row.
}
