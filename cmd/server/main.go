// Package main is the entry point for the depth slice server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/depthslice/server/internal/api"
	"github.com/depthslice/server/internal/cache"
	"github.com/depthslice/server/internal/config"
	"github.com/depthslice/server/internal/ingest"
	"github.com/depthslice/server/internal/logging"
	"github.com/depthslice/server/internal/outputs"
	"github.com/depthslice/server/internal/render"
	"github.com/depthslice/server/internal/service"
	"github.com/depthslice/server/internal/store"
)

var logger = logging.NewLogger()

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}

// run wires the server and blocks until shutdown. Resources are released
// by its defers before main decides the exit code.
func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration %s: %w", configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logging.Configure(logging.Config{
		Level:     cfg.Log.Level,
		Pretty:    cfg.Log.Pretty,
		File:      cfg.Log.File,
		MaxSizeMB: cfg.Log.MaxSizeMB,
		MaxAgeDay: cfg.Log.MaxAgeDay,
	}); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open %s image store: %w", cfg.Database.Driver, err)
	}
	defer st.Close()

	cacheManager, err := cache.NewManager(cache.Config{
		PNGCacheSizeMB: cfg.Cache.PNGSizeMB,
		PNGTTL:         time.Duration(cfg.Cache.PNGTTLMinutes) * time.Minute,
		InfoCacheSize:  cfg.Cache.InfoSize,
	})
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	defer cacheManager.Close()

	renderer := render.NewSliceRenderer(render.Config{
		DefaultColormap: cfg.Render.DefaultColormap,
		Normalize:       render.Normalization(cfg.Render.Normalize),
		MaxScale:        cfg.Render.MaxScale,
	})

	ingester := ingest.New(ingest.Config{Store: st, TargetWidth: cfg.Ingest.TargetWidth})

	svc := service.NewSliceService(service.SliceServiceConfig{
		Store:        st,
		Cache:        cacheManager,
		Renderer:     renderer,
		Ingester:     ingester,
		QueryTimeout: cfg.Database.QueryTimeout(),
	})

	out, err := outputs.New(outputs.Config{
		Dir:           cfg.Output.Dir,
		Retention:     time.Duration(cfg.Output.RetentionHours) * time.Hour,
		MaxFiles:      cfg.Output.MaxFiles,
		CleanupPeriod: time.Duration(cfg.Output.CleanupPeriodMinutes) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("initialize output dir %s: %w", cfg.Output.Dir, err)
	}

	seed := func() {
		res, err := svc.IngestFile(ctx, cfg.Ingest.CSVPath, cfg.Ingest.Name)
		if err != nil {
			logger.Error().Err(err).Str("path", cfg.Ingest.CSVPath).Msg("seed image not ingested")
			return
		}
		logger.Info().Str("table", res.Table).Msg(res.Message())
	}
	if cfg.Ingest.OnBoot != nil && *cfg.Ingest.OnBoot {
		seed()
	}

	if cfg.API.LegacyStatusCodes {
		logger.Info().Msg("legacy status codes on: not-found and database errors answer 200")
	} else {
		logger.Info().Msg("legacy status codes off: not-found answers 404, database errors 500")
	}

	router := api.NewRouter(api.RouterConfig{
		Service:           svc,
		Outputs:           out,
		CORSOrigins:       cfg.Server.CORSOrigins,
		LegacyStatusCodes: cfg.API.LegacyStatusCodes,
		RateLimitRPS:      cfg.API.RateLimitRPS,
		RateLimitBurst:    cfg.API.RateLimitBurst,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Int("port", cfg.Server.Port).Str("driver", cfg.Database.Driver).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return out.Run(gctx)
	})

	if cfg.Ingest.Watch {
		g.Go(func() error {
			if err := ingest.Watch(gctx, cfg.Ingest.CSVPath, seed); err != nil {
				logger.Error().Err(err).Str("path", cfg.Ingest.CSVPath).Msg("seed watcher stopped")
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Warn().Msg("shutting down server")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, store.PostgresConfig{DSN: cfg.DSN, MaxConns: cfg.MaxConns})
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
