package pulselog

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// loggerConfig holds mutable state during Logger construction.
type loggerConfig struct {
	fast         []Source
	slow         []Source
	tickInterval time.Duration
	slowPeriod   int
	logFile      string
	listenAddr   string
	logger       *slog.Logger
	rowCallbacks []func(Reading)
	clock        func() time.Time
}

// Option is a function that configures a [Logger] during construction.
//
// Options return an error if validation fails; [New] stops at the first one.
type Option func(*loggerConfig) error

// WithFastSources appends sources sampled on every tick.
//
// Can be called multiple times; sources keep the order they were added in,
// which is also their column order.
//
// Example:
//
//	l, err := pulselog.New(
//	    pulselog.WithFastSources(inverter, plug, panel),
//	)
//
// Returns an error if any source is nil.
func WithFastSources(sources ...Source) Option {
	return func(cfg *loggerConfig) error {
		for i, src := range sources {
			if src == nil {
				return fmt.Errorf("fast source %d is nil", i)
			}
		}
		cfg.fast = append(cfg.fast, sources...)
		return nil
	}
}

// WithSlowSources appends sources sampled once every slow period.
// Between samples their last row is repeated.
//
// Returns an error if any source is nil.
func WithSlowSources(sources ...Source) Option {
	return func(cfg *loggerConfig) error {
		for i, src := range sources {
			if src == nil {
				return fmt.Errorf("slow source %d is nil", i)
			}
		}
		cfg.slow = append(cfg.slow, sources...)
		return nil
	}
}

// WithTickInterval sets the pause between the end of one tick and the start
// of the next. Sampling time is not subtracted, so the effective period is
// the interval plus the time spent sampling. Defaults to 30 seconds.
//
// Returns an error if the duration is zero or negative.
func WithTickInterval(d time.Duration) Option {
	return func(cfg *loggerConfig) error {
		if d <= 0 {
			return errors.New("tick interval must be positive")
		}
		cfg.tickInterval = d
		return nil
	}
}

// WithSlowPeriod sets how many ticks pass between slow-loop samples.
// A period of 1 samples slow sources on every tick. Defaults to 20.
//
// Returns an error if n is less than 1.
func WithSlowPeriod(n int) Option {
	return func(cfg *loggerConfig) error {
		if n < 1 {
			return errors.New("slow period must be at least 1")
		}
		cfg.slowPeriod = n
		return nil
	}
}

// WithLogFile appends every row to the CSV file at path. The header is
// written when the file is created; an existing file is appended to.
//
// Returns an error if path is empty.
func WithLogFile(path string) Option {
	return func(cfg *loggerConfig) error {
		if path == "" {
			return errors.New("log file path cannot be empty")
		}
		cfg.logFile = path
		return nil
	}
}

// WithListenAddr enables the status server on addr (for example ":9100").
// It serves the latest row, a row stream, a health check and Prometheus
// metrics.
//
// Returns an error if addr is not a valid host:port pair.
func WithListenAddr(addr string) Option {
	return func(cfg *loggerConfig) error {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("invalid listen address %q: %w", addr, err)
		}
		cfg.listenAddr = addr
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for diagnostics.
//
// This allows SDK consumers to control where logs are written and in what
// format. If not specified, [slog.Default] is used.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	l, err := pulselog.New(
//	    pulselog.WithFastSources(src),
//	    pulselog.WithLogger(logger),
//	)
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *loggerConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithRowCallback registers a function called with every emitted row.
//
// Multiple callbacks may be registered; they execute in registration order,
// after the row has been written to the log file.
//
// IMPORTANT: Callbacks must be non-blocking. They run on the goroutine that
// drains the scheduler, so a slow callback delays the next tick.
// Panics within callbacks are recovered and logged.
//
// Example:
//
//	pulselog.WithRowCallback(func(r pulselog.Reading) {
//	    if len(r.Failed) > 0 {
//	        log.Printf("tick %d: %v failed", r.Seq, r.Failed)
//	    }
//	})
//
// Nil callbacks are silently ignored.
func WithRowCallback(cb func(Reading)) Option {
	return func(cfg *loggerConfig) error {
		if cb == nil {
			return nil
		}
		cfg.rowCallbacks = append(cfg.rowCallbacks, cb)
		return nil
	}
}

// WithClock replaces time.Now as the source of row timestamps.
//
// Returns an error if now is nil.
func WithClock(now func() time.Time) Option {
	return func(cfg *loggerConfig) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.clock = now
		return nil
	}
}
