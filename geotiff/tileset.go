package geotiff

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	missingFileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geotiff_missing_file_cache_hits_total",
		Help: "The total number of hits on the missing file cache",
	})
	missingFileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geotiff_missing_file_cache_misses_total",
		Help: "The total number of misses on the missing file cache",
	})
	fileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geotiff_file_cache_hits_total",
		Help: "The total number of hits on the open file cache",
	})
	fileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geotiff_file_cache_misses_total",
		Help: "The total number of misses on the open file cache",
	})
	fileCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geotiff_file_cache_evictions_total",
		Help: "The total number of evictions from the open file cache",
	})
)

// A TileFilenameFunc returns the filename of the one degree by one degree
// file whose southwest corner is at the tile coordinate.
type TileFilenameFunc func(TileCoord) string

// A TileSet is a set of GeoTIFF files, each covering one degree of latitude
// and longitude. Files are opened when first needed. Missing files have no
// data. Files evicted from the cache are closed once no call to Samples is
// in progress.
type TileSet struct {
	mutex            sync.Mutex
	fsys             fs.FS
	tileFilenameFunc TileFilenameFunc
	missingFiles     sync.Map
	fileOptions      []FileOption
	cacheSize        int
	fileCache        *lru.Cache[TileCoord, *File]
	closeMutex       sync.Mutex
	users            int
	evictedFiles     []*File
}

// A TileSetOption sets an option on a TileSet.
type TileSetOption func(*TileSet)

// NewTileSet returns a new TileSet reading files from fsys.
func NewTileSet(fsys fs.FS, options ...TileSetOption) (*TileSet, error) {
	s := &TileSet{
		fsys:             fsys,
		tileFilenameFunc: DegreeFilename,
		cacheSize:        32,
	}
	for _, option := range options {
		option(s)
	}

	var err error
	s.fileCache, err = lru.NewWithEvict(s.cacheSize, func(key TileCoord, value *File) {
		fileCacheEvictions.Inc()
		s.closeWhenUnused(value)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// WithCacheSize sets the maximum number of open files.
func WithCacheSize(cacheSize int) TileSetOption {
	return func(s *TileSet) {
		s.cacheSize = cacheSize
	}
}

// WithFileOptions sets the options used to open each file.
func WithFileOptions(fileOptions ...FileOption) TileSetOption {
	return func(s *TileSet) {
		s.fileOptions = fileOptions
	}
}

// WithTileFilenameFunc sets the function that names each file.
func WithTileFilenameFunc(tileFilenameFunc TileFilenameFunc) TileSetOption {
	return func(s *TileSet) {
		s.tileFilenameFunc = tileFilenameFunc
	}
}

// DegreeFilename returns filenames like N45E006.tif, naming the southwest
// corner of each file.
func DegreeFilename(tileCoord TileCoord) string {
	latitudeHemisphere, latitude := 'N', tileCoord.R
	if latitude < 0 {
		latitudeHemisphere, latitude = 'S', -latitude
	}
	longitudeHemisphere, longitude := 'E', tileCoord.C
	if longitude < 0 {
		longitudeHemisphere, longitude = 'W', -longitude
	}
	return fmt.Sprintf("%c%02d%c%03d.tif", latitudeHemisphere, latitude, longitudeHemisphere, longitude)
}

// Close closes all open files.
func (s *TileSet) Close() error {
	s.fileCache.Purge()
	return nil
}

// Samples returns the elevations in meters at points, which are longitude,
// latitude pairs in EPSG:4326. Missing samples are represented by NaNs.
func (s *TileSet) Samples(ctx context.Context, points []orb.Point) ([]float64, error) {
	s.acquire()
	defer s.release()

	samples := make([]float64, len(points))

	// Group indexes by tile coord.
	type groupStruct struct {
		points  []orb.Point
		indexes []int
	}
	groupsByTileCoord := make(map[TileCoord]groupStruct)
	for index, point := range points {
		tileCoord, ok := degreeTileCoord(point)
		if !ok {
			samples[index] = math.NaN()
			continue
		}
		group := groupsByTileCoord[tileCoord]
		group.points = append(group.points, point)
		group.indexes = append(group.indexes, index)
		groupsByTileCoord[tileCoord] = group
	}

	// Populate samples one tile at a time.
	for tileCoord, group := range groupsByTileCoord {
		file, err := s.getFileCached(tileCoord)
		if err != nil {
			return nil, err
		}
		if file == nil {
			for _, index := range group.indexes {
				samples[index] = math.NaN()
			}
			continue
		}
		localSamples, err := file.Samples(ctx, group.points)
		if err != nil {
			return nil, err
		}
		for localIndex, index := range group.indexes {
			samples[index] = localSamples[localIndex]
		}
	}

	return samples, nil
}

// acquire marks that files may be in use.
func (s *TileSet) acquire() {
	s.closeMutex.Lock()
	defer s.closeMutex.Unlock()
	s.users++
}

// release marks that the caller's files are no longer in use, closing
// evicted files if there are no other users.
func (s *TileSet) release() {
	s.closeMutex.Lock()
	defer s.closeMutex.Unlock()
	s.users--
	if s.users > 0 {
		return
	}
	for _, file := range s.evictedFiles {
		_ = file.Close()
	}
	s.evictedFiles = nil
}

// closeWhenUnused closes file now if there are no users, otherwise when the
// last user releases.
func (s *TileSet) closeWhenUnused(file *File) {
	s.closeMutex.Lock()
	defer s.closeMutex.Unlock()
	if s.users > 0 {
		s.evictedFiles = append(s.evictedFiles, file)
		return
	}
	_ = file.Close()
}

// getFile opens the file at the given tile coordinate.
func (s *TileSet) getFile(tileCoord TileCoord) (*File, error) {
	filename := s.tileFilenameFunc(tileCoord)
	switch file, err := NewFile(s.fsys, filename, s.fileOptions...); {
	case errors.Is(err, fs.ErrNotExist):
		s.missingFiles.Store(tileCoord, struct{}{})
		missingFileCacheMisses.Inc()
		return nil, nil
	case err != nil:
		return nil, err
	default:
		return file, nil
	}
}

// getFileCached returns the file at the given tile coordinate, using the
// cache if possible.
func (s *TileSet) getFileCached(tileCoord TileCoord) (*File, error) {
	if _, ok := s.missingFiles.Load(tileCoord); ok {
		missingFileCacheHits.Inc()
		return nil, nil
	}

	if file, ok := s.fileCache.Get(tileCoord); ok {
		fileCacheHits.Inc()
		return file, nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.missingFiles.Load(tileCoord); ok {
		missingFileCacheHits.Inc()
		return nil, nil
	}

	if file, ok := s.fileCache.Get(tileCoord); ok {
		fileCacheHits.Inc()
		return file, nil
	}

	fileCacheMisses.Inc()

	file, err := s.getFile(tileCoord)
	if err != nil || file == nil {
		return nil, err
	}

	s.fileCache.Add(tileCoord, file)

	return file, nil
}

// degreeTileCoord returns the tile coordinate of the one degree by one degree
// file containing point.
func degreeTileCoord(point orb.Point) (TileCoord, bool) {
	longitude, latitude := point.Lon(), point.Lat()
	if !(-180 <= longitude && longitude < 180 && -90 <= latitude && latitude < 90) {
		return TileCoord{}, false
	}
	return TileCoord{
		C: int(math.Floor(longitude)),
		R: int(math.Floor(latitude)),
	}, true
}
