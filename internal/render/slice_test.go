package render

import (
	"bytes"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depthslice/server/pkg/colormap"
)

type grid struct {
	rows, cols int
	values     []float64
}

func (g grid) Dims() (int, int)  { return g.rows, g.cols }
func (g grid) Values() []float64 { return g.values }

func newTestRenderer() *SliceRenderer {
	return NewSliceRenderer(Config{DefaultColormap: "viridis", Normalize: NormalizeIndex, MaxScale: 8})
}

func TestRender_ShapeAndRange(t *testing.T) {
	r := newTestRenderer()
	g := grid{rows: 3, cols: 5, values: make([]float64, 15)}
	for i := range g.values {
		g.values[i] = float64(i*40 - 100)
	}

	img, err := r.Render(g, Options{})
	require.NoError(t, err)

	b := img.Bounds()
	assert.Equal(t, 5, b.Dx())
	assert.Equal(t, 3, b.Dy())
	assert.Len(t, img.Pix, 3*5*4)
}

func TestRender_IndexNormalizationClamps(t *testing.T) {
	r := newTestRenderer()
	g := grid{rows: 1, cols: 4, values: []float64{-50, 0, 255, 9000}}

	img, err := r.Render(g, Options{})
	require.NoError(t, err)

	low := colormap.Viridis.Index(0)
	high := colormap.Viridis.Index(255)
	assert.Equal(t, low, img.RGBAAt(0, 0))
	assert.Equal(t, low, img.RGBAAt(1, 0))
	assert.Equal(t, high, img.RGBAAt(2, 0))
	assert.Equal(t, high, img.RGBAAt(3, 0))
}

func TestRender_IndexHitsTableEntries(t *testing.T) {
	r := newTestRenderer()
	g := grid{rows: 1, cols: 4, values: []float64{64, 128, 192, 64.9}}

	img, err := r.Render(g, Options{})
	require.NoError(t, err)

	assert.Equal(t, color.RGBA{59, 82, 139, 255}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{33, 145, 140, 255}, img.RGBAAt(1, 0))
	assert.Equal(t, color.RGBA{94, 201, 98, 255}, img.RGBAAt(2, 0))
	// Fractional samples truncate to their entry.
	assert.Equal(t, img.RGBAAt(0, 0), img.RGBAAt(3, 0))
}

func TestRender_NaNIsTransparent(t *testing.T) {
	r := newTestRenderer()
	g := grid{rows: 1, cols: 2, values: []float64{math.NaN(), 10}}

	for _, mode := range []Normalization{NormalizeIndex, NormalizeMinMax} {
		img, err := r.Render(g, Options{Normalize: mode})
		require.NoError(t, err)
		assert.Equal(t, colormap.Bad, img.RGBAAt(0, 0), "mode %s", mode)
		assert.Equal(t, uint8(255), img.RGBAAt(1, 0).A, "mode %s", mode)
	}
}

func TestRender_MinMaxNormalization(t *testing.T) {
	r := newTestRenderer()
	g := grid{rows: 1, cols: 3, values: []float64{1000, 1500, 2000}}

	img, err := r.Render(g, Options{Colormap: "gray", Normalize: NormalizeMinMax})
	require.NoError(t, err)

	assert.Equal(t, color.RGBA{0, 0, 0, 255}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{128, 128, 128, 255}, img.RGBAAt(1, 0))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, img.RGBAAt(2, 0))
}

func TestRender_MinMaxFlatAndNaN(t *testing.T) {
	r := newTestRenderer()
	g := grid{rows: 1, cols: 3, values: []float64{7, math.NaN(), 7}}

	img, err := r.Render(g, Options{Colormap: "gray", Normalize: NormalizeMinMax})
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, img.RGBAAt(0, 0))
	assert.Equal(t, colormap.Bad, img.RGBAAt(1, 0))
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, img.RGBAAt(2, 0))
}

func TestRender_InvalidOptions(t *testing.T) {
	r := newTestRenderer()
	g := grid{rows: 1, cols: 1, values: []float64{1}}

	_, err := r.Render(g, Options{Colormap: "jet"})
	assert.ErrorIs(t, err, ErrUnknownColormap)

	_, err = r.Render(g, Options{Normalize: "log"})
	assert.ErrorIs(t, err, ErrUnknownNormalization)

	_, err = r.Render(g, Options{Scale: 9})
	assert.Error(t, err)
}

func TestRenderPNG(t *testing.T) {
	r := newTestRenderer()
	g := grid{rows: 2, cols: 3, values: []float64{0, 50, 100, 150, 200, 250}}

	data, err := r.RenderPNG(g, Options{})
	require.NoError(t, err)
	assertPNG(t, data)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())
}

func TestRenderPNG_Scaled(t *testing.T) {
	r := newTestRenderer()
	g := grid{rows: 2, cols: 2, values: []float64{0, 255, 255, 0}}

	data, err := r.RenderPNG(g, Options{Colormap: "gray", Scale: 4})
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, 8, img.Bounds().Dy())

	// Block centers carry the source pixel color.
	r0, _, _, _ := img.At(1, 1).RGBA()
	r1, _, _, _ := img.At(5, 1).RGBA()
	assert.Equal(t, uint32(0), r0)
	assert.Equal(t, uint32(0xffff), r1)
}

func TestEncodePNG_Empty(t *testing.T) {
	r := newTestRenderer()
	img, err := r.Render(grid{}, Options{})
	require.NoError(t, err)

	_, err = r.EncodePNG(img, 1)
	assert.ErrorIs(t, err, ErrEmptyRaster)
}

func assertPNG(t *testing.T, body []byte) {
	t.Helper()
	// PNG magic bytes: 0x89 0x50 0x4E 0x47 0x0D 0x0A 0x1A 0x0A
	pngMagic := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	require.GreaterOrEqual(t, len(body), 8, "response too short to be a valid PNG")
	assert.Equal(t, pngMagic, body[:8])
}
