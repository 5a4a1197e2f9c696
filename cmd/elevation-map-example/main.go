package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/twpayne/go-elevationmap"
)

func run() error {
	mapPath := flag.String("map", os.Getenv("ELEVATION_MAP_PATH"), "path to elevation map")
	flag.Parse()

	if flag.NArg() != 2 {
		return errors.New("syntax: elevation-map-example latitude longitude")
	}
	lat, err := strconv.ParseFloat(flag.Arg(0), 64)
	if err != nil {
		return err
	}
	lon, err := strconv.ParseFloat(flag.Arg(1), 64)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(*mapPath)
	if err != nil {
		return err
	}
	m, err := elevationmap.NewMap(data)
	if err != nil {
		return err
	}

	elevation, err := m.ElevationAt(lat, lon)
	if err != nil {
		return err
	}
	fmt.Println(elevation)

	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
