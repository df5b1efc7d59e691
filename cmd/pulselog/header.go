package main

import (
	"encoding/csv"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/pulselog"
	"github.com/jpalmerr/pulselog/config"
)

// headerCmd prints the CSV header a config would produce.
var headerCmd = &cobra.Command{
	Use:   "header",
	Short: "Print the CSV header",
	Long: `Print the CSV header row that the configured sources produce.

Useful to check the column layout before pointing the logger at an
existing log file, since a header mismatch is only warned about.

Example:
  pulselog header -c pulselog.yaml`,
	RunE: runHeader,
}

func init() {
	rootCmd.AddCommand(headerCmd)
}

func runHeader(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fast, slow, err := config.BuildSources(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build sources: %w", err)
	}

	w := csv.NewWriter(cmd.OutOrStdout())
	if err := w.Write(pulselog.Header(fast, slow)); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
