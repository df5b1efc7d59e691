// Package main is the entry point for the pulselog CLI.
//
// pulselog can be used either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	pulselog run -c pulselog.yaml      # Start logging
//	pulselog validate -c pulselog.yaml # Validate configuration
//	pulselog header -c pulselog.yaml   # Print the CSV header
//	pulselog sample -c pulselog.yaml   # Sample every source once
//	pulselog version                   # Show version info
//
// The config path falls back to $PULSELOG_CONFIG when -c is not given.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/pulselog/config"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// configEnv names the environment variable consulted when -c is not set.
const configEnv = "PULSELOG_CONFIG"

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "pulselog",
	Short: "A home-telemetry CSV logger",
	Long: `pulselog samples home-telemetry sources (inverter clouds, a Fritz!Box
smart plug, an INA219 power sensor, OpenWeatherMap and generic JSON
endpoints) and appends one row per tick to a CSV file.

Quick start:
  1. Create a config file (pulselog.yaml)
  2. Run: pulselog run -c pulselog.yaml

Example config:
  filename: data.csv
  tick_interval: 30s
  slow_period: 20
  fast_loop: [plug]
  slow_loop: [owm]
  sources:
    plug: {type: fritz, url: https://fritz.box, user: admin, password: ${FRITZ_PASSWORD}, ain: "11630 0123456"}
    owm:  {type: weather, lat: 52.52, long: 13.40, app_id: ${OWM_APP_ID}}`,
	SilenceUsage: true,
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this pulselog binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "pulselog %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file (default $"+configEnv+")")
	rootCmd.PersistentFlags().String("log-level", "info", "diagnostic log level: debug, info, warn or error")

	rootCmd.AddCommand(versionCmd)
}

// newLogger creates a JSON logger on stderr at the level given by
// --log-level.
func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	raw, _ := cmd.Flags().GetString("log-level")

	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(raw))); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", raw)
	}

	return slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	})), nil
}

// loadConfig loads the file named by -c, or by $PULSELOG_CONFIG.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv(configEnv)
	}
	if path == "" {
		return nil, errors.New("no config file: pass -c or set $" + configEnv)
	}
	return config.Load(path)
}
