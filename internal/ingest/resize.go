package ingest

import (
	"math"
)

type tap struct {
	x int
	w float64 // weight of x+1
}

// linearTaps maps each destination column to its source column and blend
// weight using pixel-center alignment: src = (dst+0.5)*scale - 0.5,
// clamped to the edges.
func linearTaps(srcW, dstW int) []tap {
	taps := make([]tap, dstW)
	scale := float64(srcW) / float64(dstW)
	for dx := range taps {
		fx := (float64(dx)+0.5)*scale - 0.5
		sx := int(math.Floor(fx))
		fx -= float64(sx)
		if sx < 0 {
			sx, fx = 0, 0
		}
		if sx >= srcW-1 {
			sx, fx = srcW-1, 0
		}
		taps[dx] = tap{x: sx, w: fx}
	}
	return taps
}

// ResizeColumns linearly resamples every row of a row-major rows x srcW
// matrix to dstW columns. The row count is unchanged. Results round half
// to even and saturate to int16.
func ResizeColumns(src []int16, rows, srcW, dstW int) []int16 {
	dst := make([]int16, rows*dstW)
	if rows == 0 || srcW == 0 || dstW == 0 {
		return dst
	}

	taps := linearTaps(srcW, dstW)
	for i := 0; i < rows; i++ {
		in := src[i*srcW : (i+1)*srcW]
		out := dst[i*dstW : (i+1)*dstW]
		for dx, tp := range taps {
			v := float64(in[tp.x])
			if tp.w != 0 {
				v += (float64(in[tp.x+1]) - v) * tp.w
			}
			out[dx] = saturate16(math.RoundToEven(v))
		}
	}
	return dst
}

func saturate16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
