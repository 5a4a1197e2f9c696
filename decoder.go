package elevationmap

import (
	"encoding/binary"
	"math"
)

const (
	// HeaderLen is the length of the map header in bytes.
	HeaderLen = 14

	// TileHeaderLen is the length of a tile record header in bytes.
	TileHeaderLen = 11
)

// A decoder reads little-endian fields from a map buffer, checking bounds
// before every read.
type decoder struct {
	data   []byte
	offset int
	err    error
}

// next returns the next n bytes for field, or nil if there are fewer than n
// bytes left. The first failure is recorded in d.err and all later reads
// fail.
func (d *decoder) next(field string, n int) []byte {
	if d.err != nil {
		return nil
	}
	if have := len(d.data) - d.offset; n < 0 || have < n {
		d.err = &FormatError{
			Field:  field,
			Offset: d.offset,
			Need:   n,
			Have:   have,
		}
		return nil
	}
	b := d.data[d.offset : d.offset+n : d.offset+n]
	d.offset += n
	return b
}

func (d *decoder) remaining() int {
	return len(d.data) - d.offset
}

func (d *decoder) uint8(field string) uint8 {
	if b := d.next(field, 1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) int8(field string) int8 {
	return int8(d.uint8(field))
}

func (d *decoder) uint16(field string) uint16 {
	if b := d.next(field, 2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) int16(field string) int16 {
	return int16(d.uint16(field))
}

func (d *decoder) uint32(field string) uint32 {
	if b := d.next(field, 4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) float32(field string) float32 {
	return math.Float32frombits(d.uint32(field))
}

// header decodes the map header.
func (d *decoder) header() Header {
	return Header{
		LatitudeMin:           d.int16("latitude_min"),
		LatitudeMax:           d.int16("latitude_max"),
		LongitudeMin:          d.int16("longitude_min"),
		LongitudeMax:          d.int16("longitude_max"),
		AngularStepsLatitude:  d.uint8("angular_steps_latitude"),
		AngularStepsLongitude: d.uint8("angular_steps_longitude"),
		HorizontalResolution:  d.float32("horizontal_resolution"),
	}
}

// tile decodes the tile record at the current offset, including its payload.
func (d *decoder) tile() Tile {
	tile := Tile{
		Rows:               d.uint16("rows"),
		Columns:            d.uint16("columns"),
		SouthwestLatitude:  d.int8("southwest_latitude"),
		SouthwestLongitude: d.int16("southwest_longitude"),
		Size:               d.uint32("payload_size"),
	}
	tile.DataOffset = d.offset
	if uint64(tile.Size) > uint64(math.MaxInt) {
		tile.data = d.next("payload", -1)
	} else {
		tile.data = d.next("payload", int(tile.Size))
	}
	return tile
}
