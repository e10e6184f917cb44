// Package store persists depth-indexed images as relational tables.
//
// Every image is one table: N integer sample columns named "0".."N-1"
// followed by a trailing "depth" column. Readers rely on that column order
// rather than on introspection, so the depth column must stay last.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// DepthColumn is the name of the trailing range-key column.
const DepthColumn = "depth"

var (
	// ErrShape is returned when an Image's slices disagree with its width.
	ErrShape = errors.New("image shape mismatch")
	// ErrNoColumns is returned when a queried table has no columns at all.
	ErrNoColumns = errors.New("table has no columns")
)

// Store is the image catalog and range-query backend.
type Store interface {
	// ListTables returns every table in the public namespace.
	ListTables(ctx context.Context) ([]string, error)
	// QueryRange returns the rows whose depth lies in [minDepth, maxDepth],
	// ordered by depth, with the last column split off as the depth.
	QueryRange(ctx context.Context, table string, minDepth, maxDepth float64) (*Range, error)
	// Describe returns row count, sample column count and depth bounds.
	Describe(ctx context.Context, table string) (*Info, error)
	// ReplaceTable drops any table with this name and writes img in its place.
	ReplaceTable(ctx context.Context, table string, img *Image) error
	Close() error
}

// Image is a table to be written: Samples is row-major with Width columns
// per row, and Depth holds one value per row.
type Image struct {
	Width   int
	Samples []int16
	Depth   []float64
}

// Rows returns the number of rows.
func (img *Image) Rows() int {
	return len(img.Depth)
}

// Validate checks that the sample buffer matches Width x Rows.
func (img *Image) Validate() error {
	if img.Width < 1 {
		return fmt.Errorf("%w: width %d", ErrShape, img.Width)
	}
	if len(img.Samples) != img.Width*len(img.Depth) {
		return fmt.Errorf("%w: %d samples for %d rows x %d columns", ErrShape, len(img.Samples), len(img.Depth), img.Width)
	}
	return nil
}

// Row returns row i of the samples.
func (img *Image) Row(i int) []int16 {
	return img.Samples[i*img.Width : (i+1)*img.Width]
}

// Range is the result of a depth range query. Values is row-major.
type Range struct {
	Cols   int
	Values []float64
	Depth  []float64
}

// Rows returns the number of rows.
func (r *Range) Rows() int {
	return len(r.Depth)
}

// Info summarizes a stored image.
type Info struct {
	Name     string  `json:"name"`
	Rows     int     `json:"rows"`
	Cols     int     `json:"cols"`
	MinDepth float64 `json:"min_depth"`
	MaxDepth float64 `json:"max_depth"`
}

// sampleColumns returns the positional column names "0".."n-1".
func sampleColumns(n int) []string {
	cols := make([]string, n)
	for i := range cols {
		cols[i] = strconv.Itoa(i)
	}
	return cols
}

// toFloat converts a scanned driver value to float64. NULL becomes NaN.
func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case nil:
		return math.NaN(), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case []byte:
		return strconv.ParseFloat(string(x), 64)
	case string:
		return strconv.ParseFloat(x, 64)
	default:
		return 0, fmt.Errorf("unsupported column value type %T", v)
	}
}

// appendRow splits a full table row into samples and the trailing depth.
func appendRow(r *Range, values []any) error {
	if len(values) == 0 {
		return ErrNoColumns
	}
	last := len(values) - 1
	for _, v := range values[:last] {
		f, err := toFloat(v)
		if err != nil {
			return err
		}
		r.Values = append(r.Values, f)
	}
	d, err := toFloat(values[last])
	if err != nil {
		return fmt.Errorf("depth column: %w", err)
	}
	r.Depth = append(r.Depth, d)
	return nil
}
