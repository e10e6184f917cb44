package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidCSV marks input that cannot be turned into an image.
var ErrInvalidCSV = errors.New("invalid image csv")

const (
	depthHeader  = "depth"
	samplePrefix = "col"
)

// missing holds the tokens read as a missing value, matching the usual
// dataframe defaults.
var missing = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

// Frame is a parsed CSV image before column resampling. Samples is
// row-major with len(Columns) values per row.
type Frame struct {
	Columns []string
	Samples []int16
	Depth   []float64
	// Dropped counts rows discarded for containing a missing value.
	Dropped int
}

// Rows returns the number of kept rows.
func (f *Frame) Rows() int {
	return len(f.Depth)
}

// ReadCSV parses a headed CSV with a depth column and col* sample columns.
// Rows with a missing value in any column are dropped. Sample values are
// truncated toward zero and clamped to int16.
func ReadCSV(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidCSV)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	width := len(header)
	depthIdx := -1
	var sampleIdx []int
	f := &Frame{}
	for i, name := range header {
		switch {
		case name == depthHeader:
			depthIdx = i
		case strings.HasPrefix(name, samplePrefix):
			sampleIdx = append(sampleIdx, i)
			f.Columns = append(f.Columns, name)
		}
	}
	if depthIdx < 0 {
		return nil, fmt.Errorf("%w: no %q column", ErrInvalidCSV, depthHeader)
	}
	if len(sampleIdx) == 0 {
		return nil, fmt.Errorf("%w: no %s* columns", ErrInvalidCSV, samplePrefix)
	}

	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
		}
		if hasMissing(record, width) {
			f.Dropped++
			continue
		}

		depth, err := parseNumber(record[depthIdx])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: depth: %v", ErrInvalidCSV, line, err)
		}
		for k, idx := range sampleIdx {
			v, err := parseNumber(record[idx])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %s: %v", ErrInvalidCSV, line, f.Columns[k], err)
			}
			f.Samples = append(f.Samples, toInt16(v))
		}
		f.Depth = append(f.Depth, depth)
	}

	if f.Rows() == 0 {
		return nil, fmt.Errorf("%w: no complete rows (%d dropped)", ErrInvalidCSV, f.Dropped)
	}
	return f, nil
}

// hasMissing reports whether a record has a missing token or is shorter
// than the header.
func hasMissing(record []string, width int) bool {
	if len(record) < width {
		return true
	}
	for _, field := range record[:width] {
		if _, ok := missing[field]; ok {
			return true
		}
	}
	return false
}

func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func toInt16(v float64) int16 {
	v = math.Trunc(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
