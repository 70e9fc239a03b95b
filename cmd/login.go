package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bnema/warmpool/internal/domain"
	"github.com/bnema/warmpool/internal/ports"
)

func newLoginCmd(app *app) *cobra.Command {
	var (
		headful bool
		timeout time.Duration
		quiet   bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Warm one session, persist its credential and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			driverCfg := app.cfg.Driver()
			if headful {
				driverCfg.Headless = false
			}

			eng, err := app.newEngine(domain.PoolModeReactive, driverCfg, ports.NopObserver{})
			if err != nil {
				return err
			}
			defer func() {
				if err := eng.shutdown(app.cfg.Pool.DrainTimeout); err != nil {
					app.logger.Warn("close login session", zap.Error(err))
				}
			}()

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			initialize := eng.pool.Initialize
			if quiet {
				err = initialize(ctx)
			} else {
				err = runLoginSpinner(ctx, cmd.ErrOrStderr(), "Logging in to "+driverCfg.URL+"...", initialize)
			}
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}

			state, err := app.credentials.State(cmd.Context())
			if err != nil {
				return fmt.Errorf("load login state: %w", err)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "credential captured: %s (session #%s)\n", state.Fingerprint, state.SessionID)
			return err
		},
	}

	cmd.Flags().BoolVar(&headful, "headful", false, "show the browser window")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "give up after this long")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "do not show a spinner")

	return cmd
}
