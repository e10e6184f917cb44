// Package ingest converts depth-indexed CSV files into stored images.
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/depthslice/server/internal/logging"
	"github.com/depthslice/server/internal/store"
)

var logger = logging.NewLogger()

const (
	// DefaultName is the base table name when none is given.
	DefaultName = "example_image"
	// DefaultTargetWidth is the stored sample column count.
	DefaultTargetWidth = 150
)

// Config contains ingester configuration.
type Config struct {
	Store       store.Store
	TargetWidth int
}

// Ingester reads CSV images, resamples their columns and writes them to the store.
type Ingester struct {
	store       store.Store
	targetWidth int
}

// Result describes a completed ingestion.
type Result struct {
	Table   string `json:"table"`
	Rows    int    `json:"rows"`
	Cols    int    `json:"cols"`
	Dropped int    `json:"dropped_rows"`
}

// Message is the human readable success line.
func (r *Result) Message() string {
	return fmt.Sprintf("Success. Image has been uploaded to db with name '%s'", r.Table)
}

// New creates an ingester.
func New(cfg Config) *Ingester {
	width := cfg.TargetWidth
	if width <= 0 {
		width = DefaultTargetWidth
	}
	return &Ingester{store: cfg.Store, targetWidth: width}
}

// TableName builds the "{name}_{rows}_{cols}" table name.
func TableName(name string, rows, cols int) string {
	return fmt.Sprintf("%s_%d_%d", name, rows, cols)
}

// IngestFile ingests the CSV at path. Files ending in .gz or .zst are
// decompressed on the fly.
func (in *Ingester) IngestFile(ctx context.Context, path, name string) (*Result, error) {
	rc, err := open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return in.Ingest(ctx, rc, name)
}

// Ingest reads a CSV image from r and stores it under a name derived from
// name, the kept row count and the target width. An existing table with
// the same name is replaced.
func (in *Ingester) Ingest(ctx context.Context, r io.Reader, name string) (*Result, error) {
	if name == "" {
		name = DefaultName
	}

	frame, err := ReadCSV(r)
	if err != nil {
		return nil, err
	}

	rows := frame.Rows()
	img := &store.Image{
		Width:   in.targetWidth,
		Samples: ResizeColumns(frame.Samples, rows, len(frame.Columns), in.targetWidth),
		Depth:   frame.Depth,
	}

	table := TableName(name, rows, in.targetWidth)
	if err := in.store.ReplaceTable(ctx, table, img); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", table, err)
	}

	logger.Info().
		Str("table", table).
		Int("rows", rows).
		Int("source_cols", len(frame.Columns)).
		Int("dropped_rows", frame.Dropped).
		Msg("image ingested")

	return &Result{
		Table:   table,
		Rows:    rows,
		Cols:    in.targetWidth,
		Dropped: frame.Dropped,
	}, nil
}

// open returns a reader for path, decompressing by extension.
func open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	rc, err := Decompress(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &stackedCloser{Reader: rc, closers: []io.Closer{rc, f}}, nil
}

// Decompress wraps r in a gzip or zstd reader when filename ends in .gz or
// .zst. Closing the result does not close r.
func Decompress(r io.Reader, filename string) (io.ReadCloser, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".gz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip %s: %v", ErrInvalidCSV, filename, err)
		}
		return zr, nil
	case ".zst":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd %s: %v", ErrInvalidCSV, filename, err)
		}
		return zstdCloser{zr}, nil
	default:
		return io.NopCloser(r), nil
	}
}

type stackedCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedCloser) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type zstdCloser struct {
	*zstd.Decoder
}

func (z zstdCloser) Close() error {
	z.Decoder.Close()
	return nil
}
