// Package render turns numeric slices into colorized rasters and PNGs.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"
	"gonum.org/v1/gonum/floats"

	"github.com/depthslice/server/pkg/colormap"
)

// Normalization selects how sample values become palette positions.
type Normalization string

const (
	// NormalizeIndex reads each value as an entry of the 256-entry palette,
	// clamped to [0, 255]. This is how integer data is colored when handed
	// to a palette without explicit scaling.
	NormalizeIndex Normalization = "index"
	// NormalizeMinMax stretches the slice's own min..max onto the palette.
	NormalizeMinMax Normalization = "minmax"
)

var (
	// ErrEmptyRaster is returned when encoding a raster with no pixels.
	ErrEmptyRaster = errors.New("raster has no pixels")
	// ErrUnknownColormap is returned for colormap names not registered.
	ErrUnknownColormap = errors.New("unknown colormap")
	// ErrUnknownNormalization is returned for unsupported normalization modes.
	ErrUnknownNormalization = errors.New("unknown normalization")
)

// Matrix is a row-major grid of sample values.
type Matrix interface {
	Dims() (rows, cols int)
	Values() []float64
}

// Config contains renderer configuration.
type Config struct {
	DefaultColormap string
	Normalize       Normalization
	MaxScale        int
}

// Options override the defaults for one render.
type Options struct {
	Colormap  string
	Normalize Normalization
	Scale     int
}

// SliceRenderer renders slices with a palette.
type SliceRenderer struct {
	config     Config
	bufferPool sync.Pool
	colormaps  map[string]*colormap.Colormap
}

// NewSliceRenderer creates a new slice renderer.
func NewSliceRenderer(cfg Config) *SliceRenderer {
	if cfg.DefaultColormap == "" {
		cfg.DefaultColormap = colormap.Default
	}
	if cfg.Normalize == "" {
		cfg.Normalize = NormalizeIndex
	}
	if cfg.MaxScale <= 0 {
		cfg.MaxScale = 16
	}

	r := &SliceRenderer{
		config: cfg,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
		colormaps: make(map[string]*colormap.Colormap),
	}

	for _, name := range colormap.Names() {
		r.colormaps[name], _ = colormap.Lookup(name)
	}

	return r
}

// Resolve fills unset options with defaults and validates them.
func (r *SliceRenderer) Resolve(opts Options) (Options, error) {
	if opts.Colormap == "" {
		opts.Colormap = r.config.DefaultColormap
	}
	if _, ok := r.colormaps[opts.Colormap]; !ok {
		return opts, fmt.Errorf("%w: %q", ErrUnknownColormap, opts.Colormap)
	}
	if opts.Normalize == "" {
		opts.Normalize = r.config.Normalize
	}
	switch opts.Normalize {
	case NormalizeIndex, NormalizeMinMax:
	default:
		return opts, fmt.Errorf("%w: %q", ErrUnknownNormalization, opts.Normalize)
	}
	if opts.Scale <= 0 {
		opts.Scale = 1
	}
	if opts.Scale > r.config.MaxScale {
		return opts, fmt.Errorf("scale %d exceeds maximum %d", opts.Scale, r.config.MaxScale)
	}
	return opts, nil
}

// Render maps every sample independently through the palette. The raster
// has one pixel per sample, rows top to bottom. NaN samples are transparent.
func (r *SliceRenderer) Render(m Matrix, opts Options) (*image.RGBA, error) {
	opts, err := r.Resolve(opts)
	if err != nil {
		return nil, err
	}
	cmap := r.colormaps[opts.Colormap]

	rows, cols := m.Dims()
	img := image.NewRGBA(image.Rect(0, 0, cols, rows))
	if rows == 0 || cols == 0 {
		return img, nil
	}

	values := m.Values()
	lookup := indexLookup(cmap)
	if opts.Normalize == NormalizeMinMax {
		lookup = minMaxLookup(cmap, values)
	}

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			c := lookup(values[i*cols+j])
			off := img.PixOffset(j, i)
			img.Pix[off+0] = c.R
			img.Pix[off+1] = c.G
			img.Pix[off+2] = c.B
			img.Pix[off+3] = c.A
		}
	}
	return img, nil
}

// RenderPNG renders m and encodes it as PNG.
func (r *SliceRenderer) RenderPNG(m Matrix, opts Options) ([]byte, error) {
	opts, err := r.Resolve(opts)
	if err != nil {
		return nil, err
	}
	img, err := r.Render(m, opts)
	if err != nil {
		return nil, err
	}
	return r.EncodePNG(img, opts.Scale)
}

// EncodePNG encodes img, drawing each pixel as a scale x scale block.
func (r *SliceRenderer) EncodePNG(img *image.RGBA, scale int) ([]byte, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, ErrEmptyRaster
	}
	if scale <= 1 {
		return r.encode(img)
	}

	dc := gg.NewContext(b.Dx()*scale, b.Dy()*scale)
	size := float64(scale)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dc.SetColor(img.RGBAAt(x, y))
			dc.DrawRectangle(float64(x-b.Min.X)*size, float64(y-b.Min.Y)*size, size, size)
			dc.Fill()
		}
	}
	return r.encode(dc.Image())
}

func (r *SliceRenderer) encode(img image.Image) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, img); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

func indexLookup(cmap *colormap.Colormap) func(float64) color.RGBA {
	return func(v float64) color.RGBA {
		if math.IsNaN(v) {
			return colormap.Bad
		}
		return cmap.Index(int(math.Max(0, math.Min(v, colormap.Size-1))))
	}
}

// minMaxLookup stretches the finite min and max of values over the
// palette. A flat slice maps to the first color.
func minMaxLookup(cmap *colormap.Colormap, values []float64) func(float64) color.RGBA {
	finite := values
	if floats.HasNaN(values) {
		finite = make([]float64, 0, len(values))
		for _, v := range values {
			if !math.IsNaN(v) {
				finite = append(finite, v)
			}
		}
	}
	if len(finite) == 0 {
		return func(float64) color.RGBA { return colormap.Bad }
	}

	lo, hi := floats.Min(finite), floats.Max(finite)
	span := hi - lo
	return func(v float64) color.RGBA {
		if math.IsNaN(v) {
			return colormap.Bad
		}
		if span == 0 {
			return cmap.Index(0)
		}
		return cmap.RGBA((v - lo) / span)
	}
}
