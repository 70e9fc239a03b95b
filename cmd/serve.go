package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bnema/warmpool/internal/adapters/httpapi"
	"github.com/bnema/warmpool/internal/adapters/metrics"
	"github.com/bnema/warmpool/internal/domain"
	"github.com/bnema/warmpool/internal/ports"
)

func newServeCmd(app *app) *cobra.Command {
	var (
		addr     string
		mode     string
		headful  bool
		noWarmup bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Warm the session pool and serve capabilities over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			poolMode := app.cfg.PoolMode()
			if cmd.Flags().Changed("mode") {
				poolMode = domain.PoolMode(mode).Normalize()
			}
			if err := poolMode.Validate(); err != nil {
				return err
			}
			if !cmd.Flags().Changed("addr") {
				addr = app.cfg.Server.Addr
			}

			driverCfg := app.cfg.Driver()
			if headful {
				driverCfg.Headless = false
			}

			var (
				observer       ports.Observer = ports.NopObserver{}
				metricsHandler http.Handler
				recorder       httpapi.RequestRecorder
			)
			if app.cfg.Metrics.Enabled {
				collector := metrics.NewCollector(app.cfg.Metrics.Namespace, app.logger)
				observer, metricsHandler, recorder = collector, collector.Handler(), collector
			}

			eng, err := app.newEngine(poolMode, driverCfg, observer)
			if err != nil {
				return err
			}

			server := httpapi.NewServer(eng.guard, eng.pool, httpapi.Options{
				RateLimit:       app.cfg.Server.RateLimit,
				RateBurst:       app.cfg.Server.RateBurst,
				MaxBodyBytes:    app.cfg.Server.MaxBodyBytes,
				RequestTimeout:  app.cfg.Server.RequestTimeout,
				ShutdownTimeout: app.cfg.Server.ShutdownTimeout,
				Metrics:         metricsHandler,
				Recorder:        recorder,
				Logger:          app.logger,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			group, groupCtx := errgroup.WithContext(ctx)
			group.Go(func() error {
				return server.ListenAndServe(groupCtx, addr)
			})
			if !noWarmup {
				group.Go(func() error {
					if err := eng.pool.Initialize(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
						app.logger.Warn("pool warm-up failed, sessions start on first request", zap.Error(err))
					}
					return nil
				})
			}

			app.logger.Info("serving",
				zap.String("addr", addr),
				zap.String("mode", string(poolMode)),
				zap.String("platform", driverCfg.URL),
			)
			serveErr := group.Wait()

			if err := eng.shutdown(app.cfg.Pool.DrainTimeout); err != nil {
				app.logger.Warn("close pool", zap.Error(err))
			}
			if serveErr != nil {
				return fmt.Errorf("serve: %w", serveErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&mode, "mode", "", "pool mode: hotswap or reactive (defaults to pool.mode)")
	cmd.Flags().BoolVar(&headful, "headful", false, "show the browser window")
	cmd.Flags().BoolVar(&noWarmup, "no-warmup", false, "start sessions on the first request instead of at startup")

	return cmd
}
