package geotiff

import (
	"io/fs"
	"slices"
)

// NewEUDEMFile opens an EU-DEM v1.1 file. Their GeoKeys declare a
// user-defined projection that is equivalent to EPSG:3035.
func NewEUDEMFile(fsys fs.FS, filename string, options ...FileOption) (*File, error) {
	return NewFile(fsys, filename, slices.Concat(
		[]FileOption{
			WithSRID(3035),
			WithNorthingEasting(),
		},
		options,
	)...)
}
