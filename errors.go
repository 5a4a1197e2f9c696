package elevationmap

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat is matched by every error returned for a truncated or
	// malformed map buffer.
	ErrFormat = errors.New("truncated or malformed buffer")

	// ErrDecompression is matched by every error returned when a tile's
	// payload cannot be decompressed into its grid.
	ErrDecompression = errors.New("tile decompression failed")
)

// A FormatError is returned when a read from the map buffer would exceed its
// bounds.
type FormatError struct {
	Field  string // Field being read.
	Offset int    // Offset of the field in the buffer.
	Need   int    // Bytes needed by the field.
	Have   int    // Bytes remaining at Offset.
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: %s at offset %d: need %d bytes, have %d", ErrFormat, e.Field, e.Offset, e.Need, e.Have)
}

func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// A DecompressionError is returned when the tile at Index cannot be loaded.
type DecompressionError struct {
	Index int
	Err   error
}

func (e *DecompressionError) Error() string {
	return fmt.Sprintf("tile %d: %s: %v", e.Index, ErrDecompression, e.Err)
}

func (e *DecompressionError) Is(target error) bool {
	return target == ErrDecompression
}

func (e *DecompressionError) Unwrap() error {
	return e.Err
}
