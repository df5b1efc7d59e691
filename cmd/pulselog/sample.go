package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/pulselog"
	"github.com/jpalmerr/pulselog/config"
)

// sampleCmd samples every configured source once and prints the row.
var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Sample every source once",
	Long: `Sample every fast and slow source once and print the header and the
resulting row as CSV. Nothing is written to the log file.

Failed sources contribute their sentinel values (-1) and are listed on
stderr.

Example:
  pulselog sample -c pulselog.yaml
  pulselog sample -c pulselog.yaml --timeout 5s`,
	RunE: runSample,
}

func init() {
	sampleCmd.Flags().Duration("timeout", 30*time.Second, "overall deadline for the sample")
	rootCmd.AddCommand(sampleCmd)
}

func runSample(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	opts, err := config.Options(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build sources: %w", err)
	}
	// sampling once never touches the file or the status server
	l, err := pulselog.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	r := l.SampleOnce(ctx)

	record := make([]string, len(r.Values))
	for i, v := range r.Values {
		record[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}

	w := csv.NewWriter(cmd.OutOrStdout())
	_ = w.Write(l.Header())
	_ = w.Write(record)
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	if len(r.Failed) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "failed sources: %s\n", strings.Join(r.Failed, ", "))
	}
	return nil
}
