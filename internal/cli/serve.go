package cli

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/roach88/plenum/internal/metrics"
	"github.com/roach88/plenum/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the action API over HTTP",
		Long: `Start the HTTP transport in front of the dispatcher.

Routes:
  POST /system/action/handle  public actions (acting user in X-User-Id)
  POST /internal/handle       stack-internal actions, Basic auth with server.internal_auth_password
  GET  /health                liveness and last committed position
  GET  /metrics               Prometheus metrics

Examples:
  plenum serve --db ./plenum.db
  plenum serve --config plenum.yaml --addr :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg := opts.Config
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if !opts.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec := metrics.NewRecorder()
	stk, err := openStack(ctx, cfg, rec)
	if err != nil {
		return err
	}
	defer func() {
		if err := stk.Close(); err != nil {
			slog.Error("error closing database", "error", err)
		}
	}()

	srv := server.New(stk.engine, server.Options{
		InternalAuthPassword: cfg.Server.InternalAuthPassword,
		LockRetries:          cfg.Server.LockRetries,
		Metrics:              rec,
		Position:             stk.store.LastPosition,
	})
	if cfg.Server.InternalAuthPassword == "" {
		slog.Warn("internal route disabled: no internal auth password configured")
	}
	if err := srv.Run(ctx, cfg.Server.Addr); err != nil && err != context.Canceled {
		return WrapExitError(ExitFailure, "server error", err)
	}
	slog.Info("server stopped gracefully")
	return nil
}
