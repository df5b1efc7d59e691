package pulselog

import (
	"context"
	"log/slog"
)

// Sentinel is the value reported for every metric that could not be measured.
const Sentinel = -1.0

// Source is a telemetry producer that can be scheduled by a [Logger].
//
// Implementations must uphold two guarantees the scheduler relies on:
//
//   - Names is deterministic and stable for the lifetime of the process.
//     It is called once at startup to build the log header.
//   - Sample always returns exactly len(Names()) values. It never returns an
//     error: failures are logged and reported as a row of [Sentinel] values.
//
// Sample may block on network or device I/O but must bound that I/O with a
// timeout. A source that also implements io.Closer is closed when
// [Logger.Start] returns. The built-in sources live under the source/
// directory.
type Source interface {
	// Name returns the configured identity of the source.
	Name() string

	// Names returns the column names this source contributes to a row,
	// in the order Sample reports them.
	Names() []string

	// Sample measures all metrics once.
	Sample(ctx context.Context) []float64
}

// SentinelRow returns a fresh row of n [Sentinel] values.
func SentinelRow(n int) []float64 {
	row := make([]float64, n)
	for i := range row {
		row[i] = Sentinel
	}
	return row
}

// MetricNames prefixes each metric with the source name, producing the
// "<name>_<metric>" column names used by the built-in sources.
func MetricNames(name string, metrics []string) []string {
	names := make([]string, len(metrics))
	for i, m := range metrics {
		names[i] = name + "_" + m
	}
	return names
}

// Fallback converts the result of a measurement into a row, applying the
// sentinel policy. On error, or when values does not have width entries,
// the failure is logged on logger and a sentinel row is returned.
//
// Built-in sources implement Sample as:
//
//	values, err := s.measure(ctx)
//	return pulselog.Fallback(s.logger, s.name, len(s.names), values, err)
func Fallback(logger *slog.Logger, source string, width int, values []float64, err error) []float64 {
	if err == nil && len(values) != width {
		err = shapeError(width, len(values))
	}
	if err != nil {
		logger.Warn("sample failed",
			"source", source,
			"kind", ErrorKind(err),
			"error", err.Error(),
		)
		return SentinelRow(width)
	}
	return values
}
