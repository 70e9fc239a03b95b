package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	statusadapter "github.com/bnema/warmpool/internal/adapters/render/status"
	"github.com/bnema/warmpool/internal/domain"
)

type statusOutput struct {
	State   domain.LoginState    `json:"state"`
	Pool    *domain.PoolSnapshot `json:"pool,omitempty"`
	PoolErr string               `json:"pool_error,omitempty"`
}

func newStatusCmd(app *app) *cobra.Command {
	var (
		server     string
		asJSON     bool
		staleAfter time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted login state and, with --server, the live pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			state, err := app.credentials.State(cmd.Context())
			if err != nil && !errors.Is(err, domain.ErrStateNotFound) {
				return fmt.Errorf("load login state: %w", err)
			}

			out := statusOutput{State: state}
			if server != "" {
				pool, err := fetchPoolSnapshot(cmd, app, server)
				if err != nil {
					out.PoolErr = err.Error()
				} else {
					out.Pool = &pool
				}
			}

			return writeStatusOutput(cmd, app, out, staleAfter, asJSON)
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "base URL of a running warmpool server, e.g. http://127.0.0.1:8080")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of the styled view")
	cmd.Flags().DurationVar(&staleAfter, "stale-after", 24*time.Hour, "mark the credential stale after this age")

	return cmd
}

func fetchPoolSnapshot(cmd *cobra.Command, app *app, server string) (domain.PoolSnapshot, error) {
	url := strings.TrimRight(server, "/") + "/v1/pool"
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
	if err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("build pool request: %w", err)
	}

	resp, err := app.httpClient.Do(req)
	if err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("fetch pool snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.PoolSnapshot{}, fmt.Errorf("fetch pool snapshot: unexpected status %s", resp.Status)
	}

	var snapshot domain.PoolSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("decode pool snapshot: %w", err)
	}
	return snapshot, nil
}

func writeStatusOutput(cmd *cobra.Command, app *app, out statusOutput, staleAfter time.Duration, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	rendered, err := app.statusRenderer(statusadapter.Report{
		State:   out.State,
		Pool:    out.Pool,
		PoolErr: out.PoolErr,
	}, statusadapter.RenderOptions{
		Now:        app.now(),
		StaleAfter: staleAfter,
	})
	if err != nil {
		return fmt.Errorf("render status: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}
