package elevationmap

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// A Source returns elevations in meters at points. Missing elevations are
// represented by NaNs.
type Source interface {
	Samples(ctx context.Context, points []orb.Point) ([]float64, error)
}

// Build samples source on a grid of rows by columns samples per tile,
// covering header's bounds in steps of header's angular steps, and returns
// the encoded map. Samples are taken at the center of each cell. Tiles with
// no data are omitted.
func Build(ctx context.Context, source Source, header Header, rows, columns int, options ...WriterOption) ([]byte, error) {
	if header.AngularStepsLatitude == 0 || header.AngularStepsLongitude == 0 {
		return nil, errors.New("angular steps must be positive")
	}
	if rows <= 0 || rows > math.MaxUint16 || columns <= 0 || columns > math.MaxUint16 {
		return nil, fmt.Errorf("%dx%d: invalid tile size", rows, columns)
	}
	if header.LatitudeMin < math.MinInt8 || header.LatitudeMax > math.MaxInt8+1 {
		return nil, fmt.Errorf("latitudes %d..%d: out of range", header.LatitudeMin, header.LatitudeMax)
	}

	w := NewWriter(header, options...)
	stepsLatitude, stepsLongitude := int(header.AngularStepsLatitude), int(header.AngularStepsLongitude)
	points := make([]orb.Point, rows*columns)
	elevations := make([]int16, rows*columns)
	for southwestLatitude := int(header.LatitudeMin); southwestLatitude < int(header.LatitudeMax); southwestLatitude += stepsLatitude {
		for southwestLongitude := int(header.LongitudeMin); southwestLongitude < int(header.LongitudeMax); southwestLongitude += stepsLongitude {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			northeastLatitude := float64(southwestLatitude + stepsLatitude)
			for row := range rows {
				latitude := northeastLatitude - (float64(row)+0.5)*float64(stepsLatitude)/float64(rows)
				for column := range columns {
					longitude := float64(southwestLongitude) + (float64(column)+0.5)*float64(stepsLongitude)/float64(columns)
					points[row*columns+column] = orb.Point{longitude, latitude}
				}
			}

			samples, err := source.Samples(ctx, points)
			if err != nil {
				return nil, err
			}
			if len(samples) != len(points) {
				return nil, fmt.Errorf("got %d samples, expected %d", len(samples), len(points))
			}
			if !sampleElevations(elevations, samples) {
				continue
			}

			if err := w.AddTile(int8(southwestLatitude), int16(southwestLongitude), rows, columns, elevations); err != nil {
				return nil, err
			}
		}
	}
	return w.Bytes(), nil
}

// sampleElevations converts samples in meters to elevations, and returns
// whether any sample had data.
func sampleElevations(elevations []int16, samples []float64) bool {
	hasData := false
	for i, sample := range samples {
		if math.IsNaN(sample) {
			elevations[i] = NoData
			continue
		}
		hasData = true
		elevation := int16(min(max(math.Round(sample), math.MinInt16), math.MaxInt16))
		if elevation == NoData {
			// -1m is indistinguishable from no data.
			elevation = 0
		}
		elevations[i] = elevation
	}
	return hasData
}
