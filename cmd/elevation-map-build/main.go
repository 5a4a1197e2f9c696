package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/twpayne/go-elevationmap"
	"github.com/twpayne/go-elevationmap/geotiff"
)

func run() error {
	sourceDir := flag.String("source-dir", os.Getenv("ELEVATION_SOURCE_DIR"), "directory of one degree GeoTIFF files")
	euDEMFile := flag.String("eu_dem-file", "", "EU-DEM v1.1 GeoTIFF file, used instead of -source-dir")
	output := flag.String("output", "elevation.map", "output path")
	latitudeMin := flag.Int("lat-min", -56, "minimum latitude")
	latitudeMax := flag.Int("lat-max", 60, "maximum latitude")
	longitudeMin := flag.Int("lon-min", -180, "minimum longitude")
	longitudeMax := flag.Int("lon-max", 180, "maximum longitude")
	angularSteps := flag.Int("steps", 1, "degrees of latitude and longitude per tile")
	rows := flag.Int("rows", 120, "rows per tile")
	columns := flag.Int("columns", 120, "columns per tile")
	verbose := flag.Bool("verbose", false, "verbose")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *angularSteps <= 0 || *angularSteps > 255 {
		return fmt.Errorf("%d: invalid steps", *angularSteps)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var source elevationmap.Source
	switch {
	case *euDEMFile != "":
		file, err := geotiff.NewEUDEMFile(os.DirFS(filepath.Dir(*euDEMFile)), filepath.Base(*euDEMFile))
		if err != nil {
			return err
		}
		defer file.Close()
		source = file
	case *sourceDir != "":
		tileSet, err := geotiff.NewTileSet(os.DirFS(*sourceDir))
		if err != nil {
			return err
		}
		defer tileSet.Close()
		source = tileSet
	default:
		return errors.New("one of -source-dir or -eu_dem-file is required")
	}

	// Approximate meters per sample at the equator.
	horizontalResolution := float32(*angularSteps) * 111320 / float32(max(*rows, *columns))
	header := elevationmap.Header{
		LatitudeMin:           int16(*latitudeMin),
		LatitudeMax:           int16(*latitudeMax),
		LongitudeMin:          int16(*longitudeMin),
		LongitudeMax:          int16(*longitudeMax),
		AngularStepsLatitude:  uint8(*angularSteps),
		AngularStepsLongitude: uint8(*angularSteps),
		HorizontalResolution:  horizontalResolution,
	}

	start := time.Now()
	logger.Info("building", "header", header, "rows", *rows, "columns", *columns)
	data, err := elevationmap.Build(ctx, source, header, *rows, *columns)
	if err != nil {
		return err
	}

	m, err := elevationmap.NewMap(data)
	if err != nil {
		return err
	}
	logger.Info("built", "tiles", len(m.Tiles()), "bytes", len(data), "duration", time.Since(start))

	return os.WriteFile(*output, data, 0o666)
}

func main() {
	if err := run(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
