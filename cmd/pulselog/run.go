package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/pulselog"
	"github.com/jpalmerr/pulselog/config"
)

const (
	shutdownTimeout = 10 * time.Second
)

// runCmd starts the sampling loop.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start logging",
	Long: `Start sampling the configured sources and appending rows to the log file.

The logger will:
  - Load configuration from the specified YAML file
  - Create the log file with its header if it does not exist
  - Sample fast sources every tick and slow sources every slow_period ticks
  - Serve status and metrics on the listen address, if one is configured

It runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  pulselog run -c pulselog.yaml
  PULSELOG_CONFIG=/etc/pulselog.yaml pulselog run`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("config loaded",
		"fast_loop", len(cfg.FastLoop),
		"slow_loop", len(cfg.SlowLoop),
		"filename", cfg.Filename,
	)

	opts, err := config.Options(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build sources: %w", err)
	}

	l, err := pulselog.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- l.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("logger error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// a source may be mid-request; give it its timeout to finish
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("logger error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
