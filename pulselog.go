package pulselog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jpalmerr/pulselog/dashboard"
	"github.com/jpalmerr/pulselog/internal/csvlog"
	"github.com/jpalmerr/pulselog/internal/metrics"
	"github.com/jpalmerr/pulselog/internal/poller"
	"github.com/jpalmerr/pulselog/internal/server"
	"github.com/jpalmerr/pulselog/internal/store"
)

const (
	defaultTickInterval = 30 * time.Second
	defaultSlowPeriod   = 20
)

// Logger is the main orchestrator: it samples fast and slow sources on a
// shared clock and appends one fixed-width row per tick to its sinks.
//
// A Logger is created using [New] with functional options and started with
// [Logger.Start]. The typical lifecycle is:
//
//	l, err := pulselog.New(
//	    pulselog.WithFastSources(inverter, plug),
//	    pulselog.WithSlowSources(owm),
//	    pulselog.WithLogFile("data.csv"),
//	)
//	if err != nil {
//	    slog.Error("failed to create logger", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	l.Start(ctx) // blocks until ctx is cancelled
//
// The caller controls the lifecycle via the context.
type Logger struct {
	fast         []Source
	slow         []Source
	tickInterval time.Duration
	slowPeriod   int
	logFile      string
	listenAddr   string
	logger       *slog.Logger
	rowCallbacks []func(Reading)
	clock        func() time.Time
	header       []string

	mu         sync.Mutex
	statusAddr string
}

// New creates a new [Logger] with the given options.
//
// At least one source must be configured via [WithFastSources] or
// [WithSlowSources]. Source names must be unique, and so must the column
// names they contribute. Other options have defaults:
//   - Tick interval: 30 seconds
//   - Slow period: 20 ticks
//   - No log file, no status server
func New(opts ...Option) (*Logger, error) {
	cfg := &loggerConfig{
		tickInterval: defaultTickInterval,
		slowPeriod:   defaultSlowPeriod,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if len(cfg.fast)+len(cfg.slow) == 0 {
		return nil, errors.New("at least one source is required")
	}

	seen := make(map[string]bool, len(cfg.fast)+len(cfg.slow))
	for _, src := range append(append([]Source(nil), cfg.fast...), cfg.slow...) {
		if seen[src.Name()] {
			return nil, fmt.Errorf("duplicate source name: %q", src.Name())
		}
		seen[src.Name()] = true
	}

	header := Header(cfg.fast, cfg.slow)
	columns := make(map[string]bool, len(header))
	for _, col := range header {
		if columns[col] {
			return nil, fmt.Errorf("duplicate column name: %q", col)
		}
		columns[col] = true
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Logger{
		fast:         cfg.fast,
		slow:         cfg.slow,
		tickInterval: cfg.tickInterval,
		slowPeriod:   cfg.slowPeriod,
		logFile:      cfg.logFile,
		listenAddr:   cfg.listenAddr,
		logger:       logger,
		rowCallbacks: cfg.rowCallbacks,
		clock:        cfg.clock,
		header:       header,
	}, nil
}

// Header returns a copy of the fixed row header.
func (l *Logger) Header() []string {
	return append([]string(nil), l.header...)
}

// TickInterval returns the configured pause between ticks.
func (l *Logger) TickInterval() time.Duration {
	return l.tickInterval
}

// SlowPeriod returns the number of ticks between slow-loop samples.
func (l *Logger) SlowPeriod() int {
	return l.slowPeriod
}

// StatusAddr returns the address the status server is bound to, or "" when
// it is disabled or not running yet.
func (l *Logger) StatusAddr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statusAddr
}

// Start runs the sampling loop and its sinks.
//
// Start is a blocking call that runs until ctx is cancelled. During
// execution:
//
//   - All sources are sampled immediately, then every tick interval
//   - Each row is appended to the log file, if one is configured
//   - The status server answers on the listen address, if one is configured
//   - Row callbacks are invoked in registration order
//
// Returns nil on graceful shutdown. Returns an error if the log file cannot
// be opened or the status server cannot bind.
func (l *Logger) Start(ctx context.Context) error {
	l.logger.Info("pulselog starting",
		"fast_sources", len(l.fast),
		"slow_sources", len(l.slow),
		"width", len(l.header),
	)
	l.logger.Info("sampling configured",
		"tick_interval", l.tickInterval.String(),
		"slow_period", l.slowPeriod,
	)

	if ctx.Err() != nil {
		return nil
	}

	var sink *csvlog.Writer
	if l.logFile != "" {
		w, err := csvlog.Open(l.logFile, l.header, l.logger)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		sink = w
		defer func() {
			if err := sink.Close(); err != nil {
				l.logger.Error("failed to close log file", "path", sink.Path(), "error", err)
			}
		}()
	}

	rowStore := store.NewMemoryStore(l.header)
	rowMetrics := metrics.New(len(l.header))

	g, gctx := errgroup.WithContext(ctx)

	if l.listenAddr != "" {
		srv := server.NewServer(rowStore, l.listenAddr, dashboard.Assets, rowMetrics.Handler(), l.logger)
		done, err := srv.Start(gctx)
		if err != nil {
			return fmt.Errorf("failed to start status server: %w", err)
		}
		l.setStatusAddr(srv.Addr())
		g.Go(func() error {
			<-done
			l.setStatusAddr("")
			return nil
		})
	}

	scheduler := l.newScheduler()
	scheduler.Start(gctx)

	g.Go(func() error {
		<-gctx.Done()
		scheduler.Stop() // closes results channel
		return nil
	})

	g.Go(func() error {
		for row := range scheduler.Results() {
			l.consume(row, sink, rowStore, rowMetrics)
		}
		return nil
	})

	err := g.Wait()
	l.closeSources()
	l.logger.Info("pulselog stopped")
	return err
}

// closeSources closes every source that implements io.Closer.
func (l *Logger) closeSources() {
	for _, src := range append(append([]Source(nil), l.fast...), l.slow...) {
		c, ok := src.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			l.logger.Warn("failed to close source", "source", src.Name(), "error", err)
		}
	}
}

// SampleOnce samples every source once, fast then slow, and returns the
// resulting row without writing it anywhere.
func (l *Logger) SampleOnce(ctx context.Context) Reading {
	return toReading(l.newScheduler().Tick(ctx))
}

func (l *Logger) newScheduler() *poller.Scheduler {
	return poller.NewScheduler(
		toSamplers(l.fast),
		toSamplers(l.slow),
		l.tickInterval,
		l.slowPeriod,
		l.logger,
		poller.WithClock(l.clock),
	)
}

func (l *Logger) setStatusAddr(addr string) {
	l.mu.Lock()
	l.statusAddr = addr
	l.mu.Unlock()
}

// consume hands one row to every sink. The log file comes first so
// callbacks only see rows that were persisted (or failed to be).
func (l *Logger) consume(row poller.Row, sink *csvlog.Writer, rowStore store.Store, m *metrics.Metrics) {
	if sink != nil {
		if err := sink.WriteRow(row.Values); err != nil {
			m.SinkError()
			l.logger.Warn("failed to write row", "seq", row.Seq, "path", sink.Path(), "error", err)
		}
	}

	rowStore.Update(toStoreRow(row))
	m.ObserveRow(row)

	for _, cb := range l.rowCallbacks {
		invokeCallbackSafe(cb, toReading(row), l.logger)
	}

	l.logger.Debug("row emitted",
		"seq", row.Seq,
		"tick", row.Tick,
		"resampled", row.Resampled,
		"failed_sources", failedSources(row),
		"duration_ms", row.Duration.Milliseconds(),
	)
}

func toSamplers(sources []Source) []poller.Sampler {
	out := make([]poller.Sampler, len(sources))
	for i, src := range sources {
		out[i] = src
	}
	return out
}

func toStoreRow(row poller.Row) store.Row {
	statuses := make([]store.SourceStatus, len(row.Samples))
	for i, s := range row.Samples {
		statuses[i] = store.SourceStatus{
			Name:       s.Source,
			Slow:       s.Slow,
			Failed:     s.Failed,
			Panicked:   s.Panicked,
			DurationMs: s.Duration.Milliseconds(),
			SampledAt:  row.Time,
		}
	}
	return store.Row{
		Seq:       row.Seq,
		Time:      row.Time,
		Values:    append([]float64(nil), row.Values...),
		Resampled: row.Resampled,
		Sources:   statuses,
	}
}

// toReading converts a scheduler row to the public type. Every call copies
// Values, so one callback cannot alter what the next one sees.
func toReading(row poller.Row) Reading {
	return Reading{
		Seq:       row.Seq,
		Time:      row.Time,
		Values:    append([]float64(nil), row.Values...),
		Resampled: row.Resampled,
		Failed:    failedSources(row),
	}
}

func failedSources(row poller.Row) []string {
	var failed []string
	for _, s := range row.Samples {
		if s.Failed {
			failed = append(failed, s.Source)
		}
	}
	return failed
}

// invokeCallbackSafe calls a row callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(Reading), reading Reading, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("row callback panicked",
				"panic", r,
				"seq", reading.Seq,
			)
		}
	}()
	cb(reading)
}
