package elevationmap

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"math"
)

// A Writer encodes an elevation map.
type Writer struct {
	buffer           bytes.Buffer
	compressionLevel int
	tiles            int
}

// A WriterOption sets an option on a Writer.
type WriterOption func(*Writer)

// WithCompressionLevel sets the gzip compression level of tile payloads.
func WithCompressionLevel(compressionLevel int) WriterOption {
	return func(w *Writer) {
		w.compressionLevel = compressionLevel
	}
}

// NewWriter returns a new Writer that has written header.
func NewWriter(header Header, options ...WriterOption) *Writer {
	w := &Writer{
		compressionLevel: gzip.BestCompression,
	}
	for _, option := range options {
		option(w)
	}
	w.buffer.Write(appendHeader(make([]byte, 0, HeaderLen), header))
	return w
}

// appendHeader appends the encoding of header to b.
func appendHeader(b []byte, header Header) []byte {
	b = binary.LittleEndian.AppendUint16(b, uint16(header.LatitudeMin))
	b = binary.LittleEndian.AppendUint16(b, uint16(header.LatitudeMax))
	b = binary.LittleEndian.AppendUint16(b, uint16(header.LongitudeMin))
	b = binary.LittleEndian.AppendUint16(b, uint16(header.LongitudeMax))
	b = append(b, header.AngularStepsLatitude, header.AngularStepsLongitude)
	return binary.LittleEndian.AppendUint32(b, math.Float32bits(header.HorizontalResolution))
}

// AddTile appends a tile. elevations are in meters, in row-major order with
// the northernmost row first, and use NoData for missing samples.
func (w *Writer) AddTile(southwestLatitude int8, southwestLongitude int16, rows, columns int, elevations []int16) error {
	if rows < 0 || rows > math.MaxUint16 || columns < 0 || columns > math.MaxUint16 {
		return fmt.Errorf("%dx%d: invalid tile size", rows, columns)
	}
	if len(elevations) != rows*columns {
		return fmt.Errorf("got %d elevations, expected %d", len(elevations), rows*columns)
	}

	var payload bytes.Buffer
	gw, err := gzip.NewWriterLevel(&payload, w.compressionLevel)
	if err != nil {
		return err
	}
	if err := binary.Write(gw, binary.LittleEndian, elevations); err != nil {
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}

	tileHeader := struct {
		Rows               uint16
		Columns            uint16
		SouthwestLatitude  int8
		SouthwestLongitude int16
		Size               uint32
	}{
		Rows:               uint16(rows),
		Columns:            uint16(columns),
		SouthwestLatitude:  southwestLatitude,
		SouthwestLongitude: southwestLongitude,
		Size:               uint32(payload.Len()),
	}
	if err := binary.Write(&w.buffer, binary.LittleEndian, tileHeader); err != nil {
		return err
	}
	w.buffer.Write(payload.Bytes())
	w.tiles++
	return nil
}

// Bytes returns the encoded map. It is only valid until the next call to
// AddTile.
func (w *Writer) Bytes() []byte {
	return w.buffer.Bytes()
}

// Tiles returns the number of tiles written.
func (w *Writer) Tiles() int {
	return w.tiles
}
