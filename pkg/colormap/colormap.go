// Package colormap provides color schemes for visualization.
package colormap

import (
	"image/color"
	"math"
	"sort"
)

// Default is the palette used when a request does not name one.
const Default = "viridis"

// Size is the number of entries in every lookup table.
const Size = 256

// Bad is the color of NaN samples.
var Bad = color.RGBA{}

// Colormap is a 256-entry lookup table. Colors are looked up, never
// interpolated, so integer samples hit their table entry exactly.
type Colormap struct {
	colors [Size]color.RGBA
}

// listed builds a table from RGB fractions, scaling by 255 and rounding
// to nearest.
func listed(data *[Size][3]float64) *Colormap {
	c := &Colormap{}
	for i, rgb := range data {
		c.colors[i] = color.RGBA{R: to8(rgb[0]), G: to8(rgb[1]), B: to8(rgb[2]), A: 255}
	}
	return c
}

func to8(f float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(f, 1)) * 255))
}

// Index returns table entry i, clamped to [0, Size-1].
func (c *Colormap) Index(i int) color.RGBA {
	if i < 0 {
		i = 0
	}
	if i >= Size {
		i = Size - 1
	}
	return c.colors[i]
}

// RGBA returns the color for a normalized value t. The unit interval is
// split into Size equal bins; values outside it take the end colors and
// NaN takes Bad.
func (c *Colormap) RGBA(t float64) color.RGBA {
	if math.IsNaN(t) {
		return Bad
	}
	if t <= 0 {
		return c.colors[0]
	}
	if t >= 1 {
		return c.colors[Size-1]
	}
	return c.Index(int(t * Size))
}

// Viridis colormap (matplotlib viridis)
var Viridis = listed(&viridisData)

// Gray is a black to white ramp.
var Gray = func() *Colormap {
	c := &Colormap{}
	for i := range c.colors {
		v := uint8(i)
		c.colors[i] = color.RGBA{R: v, G: v, B: v, A: 255}
	}
	return c
}()

var registry = map[string]*Colormap{
	"viridis": Viridis,
	"gray":    Gray,
}

// Lookup returns the named colormap.
func Lookup(name string) (*Colormap, bool) {
	c, ok := registry[name]
	return c, ok
}

// Names lists the registered colormaps in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
