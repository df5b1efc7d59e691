package pulselog

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// collectRows runs l until n rows have reached the callback, then stops it.
func collectRows(t *testing.T, n int, opts ...Option) []Reading {
	t.Helper()

	var mu sync.Mutex
	var rows []Reading
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts = append(opts, WithRowCallback(func(r Reading) {
		mu.Lock()
		defer mu.Unlock()
		rows = append(rows, r)
		if len(rows) == n {
			cancel()
		}
	}))

	l, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(rows) < n {
		t.Fatalf("got %d rows before timeout, want %d", len(rows), n)
	}
	return rows[:n]
}

func TestWithRowCallback_InvokedOnTick(t *testing.T) {
	rows := collectRows(t, 3,
		WithFastSources(plug("a")),
		WithTickInterval(time.Millisecond),
		WithLogger(testLogger()),
	)

	for i, r := range rows {
		if r.Seq != uint64(i) {
			t.Errorf("rows[%d].Seq = %d", i, r.Seq)
		}
		if len(r.Values) != 2 {
			t.Errorf("rows[%d] width = %d, want 2", i, len(r.Values))
		}
	}
}

func TestWithRowCallback_SlowCache(t *testing.T) {
	fast := &fakeSource{name: "f", metrics: []string{"a", "b", "c"}}
	slow := &fakeSource{name: "s", metrics: []string{"x", "y"}, base: 100}

	rows := collectRows(t, 4,
		WithFastSources(fast),
		WithSlowSources(slow),
		WithSlowPeriod(3),
		WithTickInterval(time.Millisecond),
		WithLogger(testLogger()),
	)

	for i, r := range rows {
		if got := r.Values[1]; got != float64(i+1) {
			t.Errorf("tick %d fast value = %v, want %v", i, got, i+1)
		}
		wantSlow := 101.0
		if i == 3 {
			wantSlow = 102
		}
		if r.Values[4] != wantSlow || r.Values[5] != wantSlow {
			t.Errorf("tick %d slow values = %v, want %v", i, r.Values[4:], wantSlow)
		}
		if r.Resampled != (i == 0 || i == 3) {
			t.Errorf("tick %d Resampled = %v", i, r.Resampled)
		}
	}
}

func TestWithRowCallback_MultipleInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) func(Reading) {
		return func(Reading) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
		}
	}

	collectRows(t, 1,
		WithFastSources(plug("a")),
		WithRowCallback(record("first")),
		WithRowCallback(record("second")),
		WithLogger(testLogger()),
	)

	mu.Lock()
	defer mu.Unlock()
	if len(order) < 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("callback order = %v, want [first second ...]", order)
	}
}

func TestWithRowCallback_PanicRecovered(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	logger := slog.New(slog.NewTextHandler(&lockedWriter{w: &buf, mu: &mu}, nil))

	var after atomic.Int32
	rows := collectRows(t, 2,
		WithFastSources(plug("a")),
		WithTickInterval(time.Millisecond),
		WithRowCallback(func(Reading) { panic("callback exploded") }),
		WithRowCallback(func(Reading) { after.Add(1) }),
		WithLogger(logger),
	)

	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if after.Load() < 2 {
		t.Errorf("callback after the panicking one ran %d times, want >= 2", after.Load())
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(buf.String(), "row callback panicked") {
		t.Errorf("expected panic to be logged, got %q", buf.String())
	}
}

func TestWithRowCallback_ValuesAreCopies(t *testing.T) {
	var mu sync.Mutex
	var second []float64

	collectRows(t, 1,
		WithFastSources(plug("a")),
		WithRowCallback(func(r Reading) { r.Values[1] = 999 }),
		WithRowCallback(func(r Reading) {
			mu.Lock()
			defer mu.Unlock()
			second = r.Values
		}),
		WithLogger(testLogger()),
	)

	mu.Lock()
	defer mu.Unlock()
	if second[1] == 999 {
		t.Error("a callback's mutation leaked into the next callback")
	}
}

func TestWithRowCallback_ReportsFailedSources(t *testing.T) {
	rows := collectRows(t, 1,
		WithFastSources(plug("ok"), &fakeSource{name: "bad", metrics: []string{"v"}, panics: true}),
		WithLogger(testLogger()),
	)

	if len(rows[0].Failed) != 1 || rows[0].Failed[0] != "bad" {
		t.Errorf("Failed = %v, want [bad]", rows[0].Failed)
	}
}

// lockedWriter serialises writes from the handler and reads from the test.
type lockedWriter struct {
	w  *bytes.Buffer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
