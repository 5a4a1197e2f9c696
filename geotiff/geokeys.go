package geotiff

import "errors"

var errParse = errors.New("parse error")

type GeoKey uint16

const (
	GeoKeyGTModelType  GeoKey = 1024
	GeoKeyGTRasterType GeoKey = 1025
	GeoKeyGTCitation   GeoKey = 1026

	GeoKeyGeodeticCRS            GeoKey = 2048
	GeoKeyGeogCitation           GeoKey = 2049
	GeoKeyGeodeticDatum          GeoKey = 2050
	GeoKeyAngularUnits           GeoKey = 2054
	GeoKeyEllipsoid              GeoKey = 2056
	GeoKeyEllipsoidSemiMajorAxis GeoKey = 2057
	GeoKeyEllipsoidInvFlattening GeoKey = 2059

	GeoKeyProjectedCRS GeoKey = 3072
	GeoKeyPCSCitation  GeoKey = 3073
	GeoKeyLinearUnits  GeoKey = 3076

	GeoKeyVertical      GeoKey = 4096
	GeoKeyVerticalUnits GeoKey = 4099
)

// Values of GeoKeyGTModelType.
const (
	ModelTypeProjected  = 1
	ModelTypeGeographic = 2
)

// Values of GeoKeyGTRasterType.
const (
	RasterPixelIsArea  = 1
	RasterPixelIsPoint = 2
)

// userDefined is the key value for user-defined parameters.
const userDefined = 32767

// TIFF tags that hold GeoKey values.
const (
	tagGeoDoubleParams = 34736
	tagGeoASCIIParams  = 34737
)

type ParsedGeoKeys struct {
	Params       map[GeoKey]int
	DoubleParams map[GeoKey]float64
	ASCIIParams  map[GeoKey]string
}

func ParseGeoKeys(directory []uint16, doubleParams []float64, asciiParams []byte) (*ParsedGeoKeys, error) {
	if len(directory) < 4 {
		return nil, errParse
	}

	if keyDirectoryVersion := int(directory[0]); keyDirectoryVersion != 1 {
		return nil, errParse
	}
	if keyRevision := int(directory[1]); keyRevision != 1 {
		return nil, errParse
	}
	if minorRevision := int(directory[2]); minorRevision != 0 && minorRevision != 1 {
		return nil, errParse
	}
	numberOfKeys := int(directory[3])
	if len(directory) != 4+4*numberOfKeys {
		return nil, errParse
	}

	parsedGeoKeys := &ParsedGeoKeys{
		Params:       make(map[GeoKey]int),
		DoubleParams: make(map[GeoKey]float64),
		ASCIIParams:  make(map[GeoKey]string),
	}
	for i := range numberOfKeys {
		keyValues := directory[4+4*i : 4+4*(i+1)]
		key := GeoKey(keyValues[0])
		tiffTagLocation := int(keyValues[1])
		numberOfValues := int(keyValues[2])
		index := int(keyValues[3])
		switch tiffTagLocation {
		case 0:
			if numberOfValues != 1 {
				return nil, errParse
			}
			parsedGeoKeys.Params[key] = index
		case tagGeoDoubleParams:
			if numberOfValues != 1 {
				return nil, errors.ErrUnsupported
			}
			if index >= len(doubleParams) {
				return nil, errParse
			}
			parsedGeoKeys.DoubleParams[key] = doubleParams[index]
		case tagGeoASCIIParams:
			if index+numberOfValues > len(asciiParams) {
				return nil, errParse
			}
			parsedGeoKeys.ASCIIParams[key] = string(asciiParams[index : index+numberOfValues])
		default:
			return nil, errors.ErrUnsupported
		}
	}
	return parsedGeoKeys, nil
}

// SRID returns the EPSG code of the coordinate reference system declared by
// k, or zero if it is not declared or is user-defined.
func (k *ParsedGeoKeys) SRID() int {
	var srid int
	switch k.Params[GeoKeyGTModelType] {
	case ModelTypeProjected:
		srid = k.Params[GeoKeyProjectedCRS]
	case ModelTypeGeographic:
		srid = k.Params[GeoKeyGeodeticCRS]
	}
	if srid == userDefined {
		return 0
	}
	return srid
}
