package main

import (
	"fmt"

	"PerpGate/internal/di"
	"PerpGate/pkg/config"

	"github.com/spf13/cobra"
)

var version = "dev"

// newRootCmd creates the root command. Without a subcommand it runs the gateway.
func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "perpgate",
		Short: "PerpGate - signal-driven perpetual futures trading gateway",
		Long: `PerpGate scans perpetual futures symbols on closed candles, scores them with
technical indicators and market regime, and opens or manages positions under
drawdown, exposure and per-feature risk controls.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(configPath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "configuration file path (defaults and environment only when empty)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the scanner, market stream and operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(configPath)
		},
	})
	rootCmd.AddCommand(newConfigCmd(&configPath))
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "perpgate", version)
		},
	})
	return rootCmd
}

// newConfigCmd creates the config command
func newConfigCmd(configPath *string) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load and validate configuration, then print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.Summary())
			return nil
		},
	})
	return configCmd
}

func runGateway(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	app, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("app initialization failed: %w", err)
	}
	return app.Run()
}
