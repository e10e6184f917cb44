// Package service provides business logic for the slice server.
package service

import (
	"context"
	"errors"
	"io"
	"os"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/depthslice/server/internal/cache"
	"github.com/depthslice/server/internal/ingest"
	"github.com/depthslice/server/internal/logging"
	"github.com/depthslice/server/internal/render"
	"github.com/depthslice/server/internal/store"
)

var logger = logging.NewLogger()

// SliceServiceConfig contains slice service configuration.
type SliceServiceConfig struct {
	Store        store.Store
	Cache        *cache.Manager
	Renderer     *render.SliceRenderer
	Ingester     *ingest.Ingester
	QueryTimeout time.Duration
}

// SliceService lists images, reads depth slices, renders them and ingests
// new images.
type SliceService struct {
	store        store.Store
	cache        *cache.Manager
	renderer     *render.SliceRenderer
	ingester     *ingest.Ingester
	queryTimeout time.Duration

	// generation is bumped on every ingestion so renders started before it
	// cannot repopulate the cache with stale keys.
	generation atomic.Uint64
}

// NewSliceService creates a new slice service.
func NewSliceService(cfg SliceServiceConfig) *SliceService {
	return &SliceService{
		store:        cfg.Store,
		cache:        cfg.Cache,
		renderer:     cfg.Renderer,
		ingester:     cfg.Ingester,
		queryTimeout: cfg.QueryTimeout,
	}
}

// Slice is a depth range of an image. It implements render.Matrix.
type Slice struct {
	Image string
	rng   *store.Range
}

// Dims returns rows and sample columns.
func (s *Slice) Dims() (int, int) {
	return s.rng.Rows(), s.rng.Cols
}

// Values returns the row-major samples.
func (s *Slice) Values() []float64 {
	return s.rng.Values
}

// Depth returns the depth of each row.
func (s *Slice) Depth() []float64 {
	return s.rng.Depth
}

// Rows returns the number of rows.
func (s *Slice) Rows() int {
	return s.rng.Rows()
}

// SliceRequest is a render request.
type SliceRequest struct {
	Image    string
	MinDepth float64
	MaxDepth float64
	Options  render.Options
}

func (s *SliceService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

// ListImages returns the names of every stored table.
func (s *SliceService) ListImages(ctx context.Context) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	names, err := s.store.ListTables(ctx)
	if err != nil {
		return nil, &Error{Kind: KindDatabase, Err: err}
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// exists checks catalog membership. The catalog is read fresh every time.
func (s *SliceService) exists(ctx context.Context, name string) error {
	names, err := s.ListImages(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(names, name) {
		return &Error{Kind: KindNotFound, Msg: NotFoundMessage(name)}
	}
	return nil
}

// GetSlice returns the rows of image with depth in [minDepth, maxDepth].
// An inverted range yields an empty slice.
func (s *SliceService) GetSlice(ctx context.Context, name string, minDepth, maxDepth float64) (*Slice, error) {
	if err := s.exists(ctx, name); err != nil {
		return nil, err
	}
	return s.querySlice(ctx, name, minDepth, maxDepth)
}

func (s *SliceService) querySlice(ctx context.Context, name string, minDepth, maxDepth float64) (*Slice, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rng, err := s.store.QueryRange(ctx, name, minDepth, maxDepth)
	if err != nil {
		return nil, &Error{Kind: KindDatabase, Err: err}
	}
	return &Slice{Image: name, rng: rng}, nil
}

// RenderSlice returns the PNG for req, served from cache when possible.
// Membership is checked before the cache so that tables dropped by another
// client stop being served.
func (s *SliceService) RenderSlice(ctx context.Context, req SliceRequest) ([]byte, error) {
	opts, err := s.renderer.Resolve(req.Options)
	if err != nil {
		return nil, newError(KindValidation, err, "invalid render options")
	}
	if err := s.exists(ctx, req.Image); err != nil {
		return nil, err
	}

	gen := s.generation.Load()
	key := cache.SliceKey(req.Image, req.MinDepth, req.MaxDepth, opts.Colormap, string(opts.Normalize), opts.Scale) +
		":" + strconv.FormatUint(gen, 10)
	if data, ok := s.cache.GetPNG(key); ok {
		return data, nil
	}

	slice, err := s.querySlice(ctx, req.Image, req.MinDepth, req.MaxDepth)
	if err != nil {
		return nil, err
	}
	if slice.Rows() == 0 {
		return nil, newError(KindEmpty, nil,
			"No rows of image '%s' lie between depth %v and %v", req.Image, req.MinDepth, req.MaxDepth)
	}

	data, err := s.renderer.RenderPNG(slice, opts)
	if err != nil {
		return nil, err
	}

	if s.generation.Load() == gen {
		if err := s.cache.SetPNG(key, data); err != nil {
			logger.Debug().Err(err).Str("image", req.Image).Msg("slice not cached")
		}
	}
	return data, nil
}

// ImageInfo returns the shape and depth bounds of an image.
func (s *SliceService) ImageInfo(ctx context.Context, name string) (*store.Info, error) {
	if err := s.exists(ctx, name); err != nil {
		return nil, err
	}
	if info, ok := s.cache.GetInfo(name); ok {
		return &info, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	info, err := s.store.Describe(ctx, name)
	if err != nil {
		return nil, &Error{Kind: KindDatabase, Err: err}
	}
	s.cache.SetInfo(*info)
	return info, nil
}

// Ingest stores the CSV image read from r and invalidates cached renders.
func (s *SliceService) Ingest(ctx context.Context, r io.Reader, name string) (*ingest.Result, error) {
	res, err := s.ingester.Ingest(ctx, r, name)
	return s.afterIngest(res, err)
}

// IngestFile stores the CSV image at path and invalidates cached renders.
func (s *SliceService) IngestFile(ctx context.Context, path, name string) (*ingest.Result, error) {
	res, err := s.ingester.IngestFile(ctx, path, name)
	return s.afterIngest(res, err)
}

func (s *SliceService) afterIngest(res *ingest.Result, err error) (*ingest.Result, error) {
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrInvalidCSV):
			return nil, &Error{Kind: KindValidation, Err: err}
		case errors.Is(err, os.ErrNotExist):
			return nil, &Error{Kind: KindNotFound, Err: err}
		default:
			return nil, &Error{Kind: KindDatabase, Err: err}
		}
	}

	s.generation.Add(1)
	if err := s.cache.Invalidate(); err != nil {
		logger.Warn().Err(err).Msg("failed to invalidate caches")
	}
	return res, nil
}

// CacheStats returns cache statistics.
func (s *SliceService) CacheStats() map[string]interface{} {
	return s.cache.Stats()
}
