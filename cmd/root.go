package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "warmpool",
		Short:         "warmpool: keep logged-in agent sessions warm and serve their capabilities",
		Long:          "warmpool drives a headless browser against a browser-only AI platform, keeps an active and a standby session logged in, rotates away from exhausted sessions and serves chat, image, speech, search and video calls over HTTP. Configuration lives in ~/.warmpool/config.toml (or $WARMPOOL_CONFIG) with WARMPOOL_* environment overrides.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	rootCmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		app.close()
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(app),
		newLoginCmd(app),
		newStatusCmd(app),
	)

	return rootCmd
}
