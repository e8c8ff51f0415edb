package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/plenum/internal/actions"
	"github.com/roach88/plenum/internal/config"
	"github.com/roach88/plenum/internal/engine"
	"github.com/roach88/plenum/internal/media"
	"github.com/roach88/plenum/internal/metrics"
	"github.com/roach88/plenum/internal/models"
	"github.com/roach88/plenum/internal/store"
)

// stack is everything a dispatching command needs.
type stack struct {
	store   *store.Store
	engine  *engine.Engine
	metrics *metrics.Recorder
}

func (s *stack) Close() error { return s.store.Close() }

// openStore opens the configured backing store.
func openStore(ctx context.Context, cfg config.Database) (*store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		slog.Info("opening database", "driver", cfg.Driver)
		return store.OpenPostgres(ctx, cfg.DSN)
	case "sqlite":
		slog.Info("opening database", "driver", cfg.Driver, "path", cfg.Path)
		return store.Open(cfg.Path)
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

// openMedia builds the configured blob service.
func openMedia(ctx context.Context, cfg config.Media) (media.Service, error) {
	switch cfg.Driver {
	case "s3":
		return media.NewS3(ctx, media.S3Config{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			PathStyle: cfg.PathStyle,
		})
	case "memory":
		slog.Warn("media blobs are kept in memory and lost on exit")
		return media.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown media driver %q", cfg.Driver)
}

// openStack wires store, media, models and engine. rec may be nil.
func openStack(ctx context.Context, cfg config.Config, rec *metrics.Recorder) (*stack, error) {
	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	blobs, err := openMedia(ctx, cfg.Media)
	if err != nil {
		return nil, errors.Join(WrapExitError(ExitCommandError, "failed to open media service", err), st.Close())
	}
	schema, err := models.Default()
	if err != nil {
		return nil, errors.Join(WrapExitError(ExitCommandError, "failed to compile models", err), st.Close())
	}

	opts := []engine.Option{engine.WithMaxDepth(cfg.Dispatch.MaxDepth)}
	if rec != nil {
		opts = append(opts, engine.WithMetrics(rec))
	}
	eng := engine.New(st, actions.NewRegistry(blobs), schema, opts...)
	return &stack{store: st, engine: eng, metrics: rec}, nil
}
