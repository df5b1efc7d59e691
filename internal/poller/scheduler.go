package poller

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// sentinel mirrors pulselog.Sentinel; the poller cannot import the root package.
const sentinel = -1.0

// Sampler is the poller-internal view of a telemetry source.
//
// It has the same method set as pulselog.Source, so any source can be
// passed in directly.
type Sampler interface {
	Name() string
	Names() []string
	Sample(ctx context.Context) []float64
}

// SampleInfo describes how a single source behaved during a tick.
type SampleInfo struct {
	// Source is the name of the sampled source.
	Source string

	// Duration is the wall time spent inside Sample.
	Duration time.Duration

	// Failed is true when every value in the source's row is the sentinel.
	Failed bool

	// Panicked is true when Sample panicked and the row was replaced.
	Panicked bool

	// Slow is true for slow-loop sources.
	Slow bool
}

// Row is one emitted scheduler row.
type Row struct {
	// Seq counts ticks since the scheduler started, starting at 0.
	Seq uint64

	// Tick is the tick counter at emission time, in [0, slowPeriod).
	Tick int

	// Time is the tick timestamp.
	Time time.Time

	// Values is timestamp ++ fast values ++ slow values.
	Values []float64

	// Resampled is true when the slow loop was sampled on this tick.
	Resampled bool

	// Samples lists the sources sampled on this tick, in sampling order.
	// Cached slow sources are not listed.
	Samples []SampleInfo

	// Duration is the time spent sampling during this tick.
	Duration time.Duration
}

// SchedulerOption configures optional [Scheduler] behaviour.
type SchedulerOption func(*Scheduler)

// WithClock replaces time.Now as the tick clock.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler drives fast and slow sources on one shared clock.
//
// Sources are sampled strictly in order on a single goroutine; a slow source
// delays the whole tick. The slow-loop cache is only touched by that
// goroutine (or by the caller of [Scheduler.Tick]) and needs no lock.
//
// Lifecycle methods (Start, Stop) are safe for concurrent use. Tick is not
// safe to call concurrently with a running loop.
type Scheduler struct {
	fast         []Sampler
	slow         []Sampler
	tickInterval time.Duration
	slowPeriod   int
	logger       *slog.Logger
	now          func() time.Time
	results      chan Row

	// loop state, owned by the sampling goroutine
	tick  int
	seq   uint64
	cache []float64
	width int

	mu        sync.Mutex
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewScheduler creates a new dual-cadence [Scheduler].
//
// Parameters:
//   - fast: sources sampled on every tick, in order
//   - slow: sources sampled when the tick counter is 0, in order
//   - tickInterval: sleep between the end of one tick and the next
//   - slowPeriod: number of ticks between slow-loop resamples (minimum 1)
//   - logger: diagnostic channel for recovered panics and shape errors
//
// The scheduler must be started with [Scheduler.Start] and stopped with
// [Scheduler.Stop]. Rows are available via [Scheduler.Results].
func NewScheduler(fast, slow []Sampler, tickInterval time.Duration, slowPeriod int, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if slowPeriod < 1 {
		slowPeriod = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		fast:         fast,
		slow:         slow,
		tickInterval: tickInterval,
		slowPeriod:   slowPeriod,
		logger:       logger,
		now:          time.Now,
		results:      make(chan Row, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.width = 1
	for _, src := range fast {
		s.width += len(src.Names())
	}
	slowWidth := 0
	for _, src := range slow {
		slowWidth += len(src.Names())
	}
	s.width += slowWidth

	// until the first resample the cache is sentinel-filled so rows keep
	// their width even if Tick is never called with counter 0
	s.cache = make([]float64, slowWidth)
	for i := range s.cache {
		s.cache[i] = sentinel
	}

	return s
}

// Results returns a receive-only channel that emits one [Row] per tick.
//
// The channel is closed when the scheduler stops.
func (s *Scheduler) Results() <-chan Row {
	return s.results
}

// Width returns the number of values in every emitted row.
func (s *Scheduler) Width() int {
	return s.width
}

// Tick runs one scheduler iteration and returns the emitted row.
//
// All fast sources are sampled. When the tick counter is 0 all slow sources
// are sampled too and the cache is replaced; otherwise the cached slow row
// is reused. The counter advances after the row is built and wraps at
// slowPeriod.
func (s *Scheduler) Tick(ctx context.Context) Row {
	start := s.now()
	row := Row{
		Seq:  s.seq,
		Tick: s.tick,
		Time: start,
	}

	values := make([]float64, 0, s.width)
	values = append(values, float64(start.UnixNano())/1e9)

	for _, src := range s.fast {
		vals, info := s.safeSample(ctx, src)
		values = append(values, vals...)
		row.Samples = append(row.Samples, info)
	}

	if s.tick == 0 {
		fresh := make([]float64, 0, len(s.cache))
		for _, src := range s.slow {
			vals, info := s.safeSample(ctx, src)
			info.Slow = true
			fresh = append(fresh, vals...)
			row.Samples = append(row.Samples, info)
		}
		s.cache = fresh
		row.Resampled = true
	}

	row.Values = append(values, s.cache...)
	row.Duration = s.now().Sub(start)

	s.tick = (s.tick + 1) % s.slowPeriod
	s.seq++

	return row
}

// Start begins the sampling loop in a background goroutine.
//
// Start is non-blocking. The loop ticks immediately, then sleeps
// tickInterval after each tick, until [Scheduler.Stop] is called or ctx is
// cancelled. It never ends on its own.
//
// Start is idempotent; if Stop was called first, Start is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.closeOnce.Do(func() { close(s.results) })

		timer := time.NewTimer(0)
		defer timer.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-timer.C:
			}

			row := s.Tick(loopCtx)

			select {
			case s.results <- row:
			case <-loopCtx.Done():
				return
			}

			timer.Reset(s.tickInterval)
		}
	}()
}

// Stop halts the loop and waits for it to exit.
//
// An in-flight Sample call is not interrupted beyond what its own context
// handling allows. Stop is idempotent and safe to call before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()

	// ensure channel is closed even if Start() was never called
	s.closeOnce.Do(func() { close(s.results) })
}

// safeSample calls src.Sample, enforcing the fixed-width contract.
//
// A panic is recovered and logged with a correlation ID; a row of the wrong
// width is logged and replaced. Both cases yield a sentinel row. NaN and
// infinite values are replaced by the sentinel in their own column.
func (s *Scheduler) safeSample(ctx context.Context, src Sampler) (values []float64, info SampleInfo) {
	width := len(src.Names())
	info.Source = src.Name()
	start := s.now()

	defer func() {
		info.Duration = s.now().Sub(start)
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.logger.Error("source panic",
				"correlation_id", correlationID,
				"source", info.Source,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			values = sentinelRow(width)
			info.Panicked = true
			info.Failed = true
		}
	}()

	values = src.Sample(ctx)
	if len(values) != width {
		s.logger.Warn("sample failed",
			"source", info.Source,
			"kind", "data_shape",
			"error", fmt.Sprintf("expected %d values, got %d", width, len(values)),
		)
		values = sentinelRow(width)
	} else {
		// copy so a source reusing its buffer cannot alter the cache
		values = append([]float64(nil), values...)
		for i, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				s.logger.Warn("non-finite value replaced",
					"source", info.Source,
					"column", i,
					"value", fmt.Sprintf("%v", v),
				)
				values[i] = sentinel
			}
		}
	}
	info.Failed = allSentinel(values)

	return values, info
}

func sentinelRow(n int) []float64 {
	row := make([]float64, n)
	for i := range row {
		row[i] = sentinel
	}
	return row
}

func allSentinel(values []float64) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if v != sentinel {
			return false
		}
	}
	return true
}
