package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/twpayne/go-elevationmap"
)

type elevationResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Elevation *int16  `json:"elevation"`
}

type server struct {
	logger  *slog.Logger
	limiter *rate.Limiter
	m       *elevationmap.Map
}

func (s *server) handleElevation(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}

	lat, err := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if err != nil {
		http.Error(w, "invalid lat", http.StatusBadRequest)
		return
	}
	lon, err := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err != nil {
		http.Error(w, "invalid lon", http.StatusBadRequest)
		return
	}

	elevation, err := s.m.ElevationAt(lat, lon)
	if err != nil {
		s.logger.Error("elevation", "lat", lat, "lon", lon, "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	response := elevationResponse{
		Latitude:  lat,
		Longitude: lon,
	}
	if elevation != elevationmap.NoData {
		response.Elevation = &elevation
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Debug("encode", "err", err)
	}
}

func run() error {
	mapPath := flag.String("map", os.Getenv("ELEVATION_MAP_PATH"), "path to elevation map")
	addr := flag.String("addr", ":8080", "listen address")
	rps := flag.Float64("rps", 100, "maximum requests per second")
	verbose := flag.Bool("verbose", false, "verbose")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *mapPath == "" {
		return errors.New("-map is required")
	}
	data, err := os.ReadFile(*mapPath)
	if err != nil {
		return err
	}
	m, err := elevationmap.NewMap(data)
	if err != nil {
		return err
	}
	logger.Info("loaded", "map", *mapPath, "tiles", len(m.Tiles()), "bound", m.Bound())

	s := &server{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(*rps), max(int(*rps), 1)),
		m:       m,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /elevation", s.handleElevation)
	mux.Handle("GET /metrics", promhttp.Handler())

	logger.Info("listening", "addr", *addr)
	return http.ListenAndServe(*addr, mux)
}

func main() {
	if err := run(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
