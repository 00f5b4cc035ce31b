package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tripstack/credstore/internal/apiprobe"
	"github.com/tripstack/credstore/internal/conncheck"
	"github.com/tripstack/credstore/internal/httpapi"
	"github.com/tripstack/credstore/internal/metrics"
	"github.com/tripstack/credstore/internal/registry"
	"github.com/tripstack/credstore/internal/store"
)

// NewServeCommand starts the admin HTTP server.
func NewServeCommand(opts *Options) *cobra.Command {
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the credential service",
		Long: `Start the admin HTTP server. On startup the service migrates the
credential table (unless --skip-migrate), sweeps every provider once to
report availability, and then serves the admin API until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := registry.SelfCheck(); err != nil {
				return err
			}
			metrics.Init()

			a, err := buildApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if !skipMigrate {
				if err := store.Migrate(ctx, a.db, a.driver); err != nil {
					return err
				}
			}

			sweepCtx, cancel := context.WithTimeout(ctx, a.cfg.SweepTimeout)
			a.resolver.StartupSweep(sweepCtx)
			cancel()

			prober := apiprobe.New(a.logger)
			runner := conncheck.New(a.store, prober, a.logger, conncheck.WithTimeout(a.cfg.ProbeTimeout))
			api := httpapi.NewServer(a.store, a.resolver, runner, a.logger)

			srv := &http.Server{
				Addr:              a.cfg.ListenAddr,
				Handler:           api,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("admin API listening on %s", a.cfg.ListenAddr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				a.logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "Skip the schema migration on startup")

	return cmd
}
