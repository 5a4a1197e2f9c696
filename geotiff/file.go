package geotiff

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	"github.com/maypok86/otter/v2"
	"github.com/paulmach/orb"
	"github.com/twpayne/go-proj/v10"
	"golang.org/x/image/tiff/lzw"
)

const sridWGS84 = 4326

// TIFF compression schemes.
const (
	compressionNone         = 1
	compressionLZW          = 5
	compressionDeflate      = 8
	compressionDeflateAdobe = 32946
)

// TIFF sample formats.
const (
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

var errShortRead = errors.New("short read")

// A File is an open GeoTIFF file containing a single band of elevations in
// meters.
type File struct {
	file                      *os.File
	imageWidth                int
	imageLength               int
	tileWidth                 int
	tileLength                int
	tilesAcross               int
	tilesDown                 int
	tileOffsets               []uint64
	tileByteCounts            []uint64
	compression               int
	sampleFormat              int
	bytesPerSample            int
	tileSampleCount           int
	tileByteCountUncompressed int
	noData                    float64
	tileCacheSizeBytes        int
	tileSamplesCache          *otter.Cache[TileCoord, []float64]
	srid                      int
	northingFirst             bool
	pj                        *proj.PJ
	scaleX                    float64
	scaleY                    float64
	translateX                float64
	translateY                float64
}

// A FileOption sets an option on a File.
type FileOption func(*File)

// A geoTIFFIFD is a struct into which github.com/google/tiff can unmarshal an
// IFD.
type geoTIFFIFD struct {
	ImageWidth          uint16    `tiff:"field,tag=256"`
	ImageLength         uint16    `tiff:"field,tag=257"`
	BitsPerSample       uint16    `tiff:"field,tag=258"`
	Compression         uint16    `tiff:"field,tag=259"`
	SamplesPerPixel     uint16    `tiff:"field,tag=277"`
	PlanarConfiguration uint16    `tiff:"field,tag=284"`
	Predictor           uint16    `tiff:"field,tag=317"`
	TileWidth           uint16    `tiff:"field,tag=322"`
	TileLength          uint16    `tiff:"field,tag=323"`
	TileOffsets         []uint64  `tiff:"field,tag=324"`
	TileByteCounts      []uint64  `tiff:"field,tag=325"`
	SampleFormat        uint16    `tiff:"field,tag=339"`
	ModelPixelScaleTag  []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag    []float64 `tiff:"field,tag=33922"`
	GeoKeyDirectoryTag  []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag  []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag   string    `tiff:"field,tag=34737"`
	GDALNoData          string    `tiff:"field,tag=42113"`
}

// NewFile opens filename in fsys.
func NewFile(fsys fs.FS, filename string, options ...FileOption) (*File, error) {
	var err error
	ok := false

	f := &File{
		tileCacheSizeBytes: 64 << 20, // 64MB.
	}
	for _, option := range options {
		option(f)
	}

	file, err := fsys.Open(filename)
	if err != nil {
		return nil, err
	}
	if _, ok := file.(*os.File); !ok {
		_ = file.Close()
		return nil, errors.ErrUnsupported
	}
	f.file = file.(*os.File)
	defer func() {
		if !ok {
			_ = f.file.Close()
		}
	}()

	tiffTIFF, err := tiff.Parse(f.file, tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	if len(tiffTIFF.IFDs()) == 0 {
		return nil, fmt.Errorf("%s: no IFDs", filename)
	}

	// Overviews follow the full resolution image.
	var ifd geoTIFFIFD
	if err := tiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	switch {
	case ifd.BitsPerSample == 16 && ifd.SampleFormat == sampleFormatInt:
	case ifd.BitsPerSample == 32 && ifd.SampleFormat == sampleFormatFloat:
	default:
		return nil, fmt.Errorf("%s: %d-bit sample format %d: %w", filename, ifd.BitsPerSample, ifd.SampleFormat, errors.ErrUnsupported)
	}
	switch ifd.Compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateAdobe:
	default:
		return nil, fmt.Errorf("%s: compression %d: %w", filename, ifd.Compression, errors.ErrUnsupported)
	}
	if ifd.SamplesPerPixel != 1 ||
		ifd.PlanarConfiguration > 1 ||
		ifd.Predictor > 1 ||
		ifd.TileWidth == 0 || ifd.TileLength == 0 ||
		len(ifd.ModelPixelScaleTag) != 3 ||
		len(ifd.ModelTiepointTag) != 6 || ifd.ModelTiepointTag[0] != 0 || ifd.ModelTiepointTag[1] != 0 {
		return nil, fmt.Errorf("%s: %w", filename, errors.ErrUnsupported)
	}

	f.imageWidth = int(ifd.ImageWidth)
	f.imageLength = int(ifd.ImageLength)
	f.tileWidth = int(ifd.TileWidth)
	f.tileLength = int(ifd.TileLength)
	f.tilesAcross = (f.imageWidth + f.tileWidth - 1) / f.tileWidth
	f.tilesDown = (f.imageLength + f.tileLength - 1) / f.tileLength
	tilesPerImage := f.tilesAcross * f.tilesDown
	if len(ifd.TileByteCounts) != tilesPerImage || len(ifd.TileOffsets) != tilesPerImage {
		return nil, errors.New("incorrect number of tile byte counts or offsets")
	}
	f.tileOffsets = ifd.TileOffsets
	f.tileByteCounts = ifd.TileByteCounts
	f.compression = int(ifd.Compression)
	f.sampleFormat = int(ifd.SampleFormat)
	f.bytesPerSample = int(ifd.BitsPerSample) / 8
	f.tileSampleCount = f.tileWidth * f.tileLength
	f.tileByteCountUncompressed = f.tileSampleCount * f.bytesPerSample

	f.noData = math.NaN()
	if noData := strings.TrimRight(ifd.GDALNoData, "\x00 "); noData != "" {
		f.noData, err = strconv.ParseFloat(noData, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: no data: %w", filename, err)
		}
		if f.sampleFormat == sampleFormatFloat {
			f.noData = float64(float32(f.noData))
		}
	}

	f.tileSamplesCache, err = newTileSamplesCache(f.tileCacheSizeBytes, f.tileSampleCount)
	if err != nil {
		return nil, err
	}

	f.scaleX, f.scaleY = ifd.ModelPixelScaleTag[0], ifd.ModelPixelScaleTag[1]
	if f.scaleX <= 0 || f.scaleY <= 0 {
		return nil, fmt.Errorf("%s: %w", filename, errors.ErrUnsupported)
	}
	f.translateX, f.translateY = ifd.ModelTiepointTag[3], ifd.ModelTiepointTag[4]

	switch geoKeys, err := ParseGeoKeys(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, []byte(ifd.GeoASCIIParamsTag)); {
	case err == nil:
		if geoKeys.Params[GeoKeyGTRasterType] == RasterPixelIsPoint {
			f.translateX -= f.scaleX / 2
			f.translateY += f.scaleY / 2
		}
		if f.srid == 0 {
			f.srid = geoKeys.SRID()
		}
	case f.srid == 0:
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	switch f.srid {
	case 0:
		return nil, fmt.Errorf("%s: unknown coordinate reference system: %w", filename, errors.ErrUnsupported)
	case sridWGS84:
	default:
		f.pj, err = proj.NewCRSToCRS("epsg:4326", "epsg:"+strconv.Itoa(f.srid), nil)
		if err != nil {
			return nil, err
		}
	}

	ok = true
	return f, nil
}

// WithSRID sets the EPSG code of the file's coordinate reference system,
// overriding its GeoKeys.
func WithSRID(srid int) FileOption {
	return func(f *File) {
		f.srid = srid
	}
}

// WithNorthingEasting sets that the file's coordinate reference system has
// northing, easting axis order, like EPSG:3035.
func WithNorthingEasting() FileOption {
	return func(f *File) {
		f.northingFirst = true
	}
}

// WithTileCacheSize sets the size of the decoded tile cache in bytes.
func WithTileCacheSize(tileCacheSize int) FileOption {
	return func(f *File) {
		f.tileCacheSizeBytes = tileCacheSize
	}
}

func (f *File) Close() error {
	return f.file.Close()
}

// SRID returns the EPSG code of f's coordinate reference system.
func (f *File) SRID() int {
	return f.srid
}

// Samples returns the elevations in meters at points, which are longitude,
// latitude pairs in EPSG:4326. Missing samples are represented by NaNs.
func (f *File) Samples(ctx context.Context, points []orb.Point) ([]float64, error) {
	localCoords, err := f.localCoords(points)
	if err != nil {
		return nil, err
	}

	samples := make([]float64, len(localCoords))

	// Group indexes by local tile coord.
	indexesByLocalTileCoord := make(map[TileCoord][]int)
	for index, localCoord := range localCoords {
		localTileCoord, ok := f.localTileCoord(localCoord)
		if !ok {
			samples[index] = math.NaN()
			continue
		}
		indexesByLocalTileCoord[localTileCoord] = append(indexesByLocalTileCoord[localTileCoord], index)
	}

	// Populate samples one local tile at a time.
	for localTileCoord, indexes := range indexesByLocalTileCoord {
		slices.Sort(indexes)
		switch tileSamples, err := f.getTileSamplesCached(ctx, localTileCoord); {
		case errors.Is(err, otter.ErrNotFound):
			for _, index := range indexes {
				samples[index] = math.NaN()
			}
		case err != nil:
			return nil, err
		default:
			for _, index := range indexes {
				samples[index] = f.tileSample(tileSamples, localCoords[index])
			}
		}
	}

	return samples, nil
}

// localCoords returns the pixel coordinates of points.
func (f *File) localCoords(points []orb.Point) ([]Coord, error) {
	coords := make([][]float64, len(points))
	for i, point := range points {
		coords[i] = []float64{point.Lon(), point.Lat()}
	}
	if f.pj != nil {
		// EPSG:4326 has latitude, longitude axis order.
		flipCoords(coords)
		if err := f.pj.ForwardFloat64Slices(coords); err != nil {
			return nil, err
		}
		if f.northingFirst {
			flipCoords(coords)
		}
	}

	localCoords := make([]Coord, len(coords))
	for i, coord := range coords {
		localCoords[i] = f.localCoord(coord[0], coord[1])
	}
	return localCoords, nil
}

// localCoord returns the pixel coordinate of x and y in f's coordinate
// reference system.
func (f *File) localCoord(x, y float64) Coord {
	localX := math.Floor((x - f.translateX) / f.scaleX)
	localY := math.Floor((f.translateY - y) / f.scaleY)
	if math.IsNaN(localX) || math.IsNaN(localY) || math.IsInf(localX, 0) || math.IsInf(localY, 0) {
		return Coord{X: -1, Y: -1}
	}
	return Coord{
		X: int(max(min(localX, math.MaxInt32), math.MinInt32)),
		Y: int(max(min(localY, math.MaxInt32), math.MinInt32)),
	}
}

// localTileCoord returns the local tile coord for a given coordinate.
func (f *File) localTileCoord(localCoord Coord) (TileCoord, bool) {
	if localCoord.X < 0 || f.imageWidth <= localCoord.X || localCoord.Y < 0 || f.imageLength <= localCoord.Y {
		return TileCoord{}, false
	}
	return TileCoord{
		C: localCoord.X / f.tileWidth,
		R: localCoord.Y / f.tileLength,
	}, true
}

// getCompressedTileData returns the compressed tile data for the data at
// localTileCoord. If the tile is sparse, it returns the error
// otter.ErrNotFound.
func (f *File) getCompressedTileData(localTileCoord TileCoord) ([]byte, error) {
	tileIndex := localTileCoord.C + f.tilesAcross*localTileCoord.R
	tileByteCount := f.tileByteCounts[tileIndex]
	tileOffset := f.tileOffsets[tileIndex]
	if tileByteCount == 0 {
		return nil, otter.ErrNotFound
	}
	compressedData := make([]byte, tileByteCount)
	switch n, err := f.file.ReadAt(compressedData, int64(tileOffset)); {
	case n == int(tileByteCount):
		return compressedData, nil
	case err != nil:
		return nil, err
	default:
		return nil, errShortRead
	}
}

// decompressTileData decompresses the tile data in compressedData.
func (f *File) decompressTileData(compressedData []byte) ([]byte, error) {
	var r io.Reader
	switch f.compression {
	case compressionNone:
		r = bytes.NewReader(compressedData)
	case compressionLZW:
		lzwReader := lzw.NewReader(bytes.NewReader(compressedData), lzw.MSB, 8)
		defer lzwReader.Close()
		r = lzwReader
	default:
		zlibReader, err := zlib.NewReader(bytes.NewReader(compressedData))
		if err != nil {
			return nil, err
		}
		defer zlibReader.Close()
		r = zlibReader
	}
	tileData := make([]byte, f.tileByteCountUncompressed)
	if _, err := io.ReadFull(r, tileData); err != nil {
		return nil, err
	}
	return tileData, nil
}

// decodeTileData decodes tileData.
func (f *File) decodeTileData(tileData []byte) []float64 {
	tileSamples := make([]float64, f.tileSampleCount)
	for i := range f.tileSampleCount {
		var sample float64
		switch f.sampleFormat {
		case sampleFormatInt:
			sample = float64(int16(binary.LittleEndian.Uint16(tileData[2*i : 2*i+2])))
		default:
			sample = float64(math.Float32frombits(binary.LittleEndian.Uint32(tileData[4*i : 4*i+4])))
		}
		if sample == f.noData {
			sample = math.NaN()
		}
		tileSamples[i] = sample
	}
	return tileSamples
}

// getTileSamples returns the tile samples at localTileCoord.
func (f *File) getTileSamples(ctx context.Context, localTileCoord TileCoord) ([]float64, error) {
	compressedTileData, err := f.getCompressedTileData(localTileCoord)
	if err != nil {
		return nil, err
	}
	tileData, err := f.decompressTileData(compressedTileData)
	if err != nil {
		return nil, err
	}
	return f.decodeTileData(tileData), nil
}

// getTileSamplesCached returns the tile at localTileCoord using f's cache.
func (f *File) getTileSamplesCached(ctx context.Context, localTileCoord TileCoord) ([]float64, error) {
	return f.tileSamplesCache.Get(ctx, localTileCoord, otter.LoaderFunc[TileCoord, []float64](f.getTileSamples))
}

// tileSample returns the sample from tileSamples at localCoord.
func (f *File) tileSample(tileSamples []float64, localCoord Coord) float64 {
	return tileSamples[localCoord.X%f.tileWidth+(localCoord.Y%f.tileLength)*f.tileWidth]
}

func newTileSamplesCache(tileCacheSizeBytes, tileSampleCount int) (*otter.Cache[TileCoord, []float64], error) {
	tileCacheCount := max(tileCacheSizeBytes/(8*max(tileSampleCount, 1)), 1)
	return otter.New(&otter.Options[TileCoord, []float64]{
		MaximumSize: tileCacheCount,
	})
}

func flipCoords(coords [][]float64) {
	for i, coord := range coords {
		coords[i][0], coords[i][1] = coord[1], coord[0]
	}
}
