package pulselog

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fixedClock() func() time.Time {
	return func() time.Time { return time.Unix(1700000000, 0) }
}

// TestStart_BlocksUntilContextCancelled verifies that Start blocks until the
// provided context is cancelled.
func TestStart_BlocksUntilContextCancelled(t *testing.T) {
	l, err := New(
		WithFastSources(plug("a")),
		WithTickInterval(10*time.Millisecond),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.Start(ctx)
	}()

	time.Sleep(50 * time.Millisecond)

	// verify Start is still blocking
	select {
	case err := <-done:
		t.Fatalf("Start() returned early with error: %v", err)
	default:
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}
}

// TestStart_ReturnsImmediatelyIfContextAlreadyCancelled verifies that Start
// returns without sampling if the context is already cancelled.
func TestStart_ReturnsImmediatelyIfContextAlreadyCancelled(t *testing.T) {
	src := plug("a")
	l, err := New(WithFastSources(src), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := l.Start(ctx); err != nil {
		t.Errorf("Start() error = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Start() took too long with a cancelled context")
	}
	if src.Calls() != 0 {
		t.Errorf("source sampled %d times, want 0", src.Calls())
	}
}

func TestStart_WritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")

	run := func() {
		collectRows(t, 2,
			WithFastSources(&fakeSource{name: "a", metrics: []string{"power"}, base: 0.5}),
			WithTickInterval(time.Millisecond),
			WithLogFile(path),
			WithClock(fixedClock()),
			WithLogger(testLogger()),
		)
	}

	run()
	run() // a restart appends to the same file without a second header

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")

	if lines[0] != "timestamp,a_power" {
		t.Errorf("header = %q", lines[0])
	}
	if strings.Count(string(data), "timestamp") != 1 {
		t.Errorf("header written more than once:\n%s", data)
	}
	// each run writes at least the 2 collected rows
	if len(lines) < 5 {
		t.Fatalf("got %d lines, want at least 5:\n%s", len(lines), data)
	}
	if lines[1] != "1700000000,1.5" {
		t.Errorf("first row = %q, want %q", lines[1], "1700000000,1.5")
	}
	for i, line := range lines[1:] {
		if strings.Count(line, ",") != 1 {
			t.Errorf("row %d has wrong width: %q", i, line)
		}
	}
}

func TestStart_LogFileOpenFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "data.csv")

	l, err := New(WithFastSources(plug("a")), WithLogFile(path), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = l.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "failed to open log file") {
		t.Errorf("Start() error = %v, want log file error", err)
	}
}

func TestStart_StatusServer(t *testing.T) {
	l, err := New(
		WithFastSources(plug("a")),
		WithTickInterval(10*time.Millisecond),
		WithListenAddr("127.0.0.1:0"),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.Start(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	var addr string
	deadline := time.Now().Add(5 * time.Second)
	for addr == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		addr = l.StatusAddr()
	}
	if addr == "" {
		t.Fatal("status server did not start")
	}

	// wait for the first row to reach the store
	var latest struct {
		Header []string `json:"header"`
		Row    *struct {
			Values []float64 `json:"values"`
		} `json:"row"`
	}
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + addr + "/api/latest")
		if err != nil {
			t.Fatalf("GET /api/latest error = %v", err)
		}
		err = json.NewDecoder(resp.Body).Decode(&latest)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode error = %v", err)
		}
		if latest.Row != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if latest.Row == nil {
		t.Fatal("no row published before deadline")
	}
	if len(latest.Row.Values) != len(latest.Header) {
		t.Errorf("row width %d != header width %d", len(latest.Row.Values), len(latest.Header))
	}

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "pulselog_rows_total") {
		t.Errorf("metrics output missing pulselog_rows_total:\n%s", body)
	}

	resp, err = http.Get("http://" + addr + "/")
	if err != nil {
		t.Fatalf("GET / error = %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "/api/sse") {
		t.Errorf("GET / = %d, want the embedded status page", resp.StatusCode)
	}
}

func TestStart_StatusServerBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	src := plug("a")
	l, err := New(
		WithFastSources(src),
		WithListenAddr(ln.Addr().String()),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = l.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "failed to start status server") {
		t.Errorf("Start() error = %v, want bind error", err)
	}
	if src.Calls() != 0 {
		t.Errorf("source sampled %d times after bind failure, want 0", src.Calls())
	}
}

// nanSource reports NaN for every metric.
type nanSource struct{ name string }

func (s nanSource) Name() string                     { return s.name }
func (s nanSource) Names() []string                  { return MetricNames(s.name, []string{"p"}) }
func (s nanSource) Sample(context.Context) []float64 { return []float64{math.NaN()} }

func TestStart_NonFiniteValueServedAsSentinel(t *testing.T) {
	l, err := New(
		WithFastSources(nanSource{name: "odd"}),
		WithTickInterval(10*time.Millisecond),
		WithListenAddr("127.0.0.1:0"),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if r := l.SampleOnce(context.Background()); r.Values[1] != Sentinel {
		t.Errorf("SampleOnce() value = %v, want %v", r.Values[1], Sentinel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.Start(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	var addr string
	deadline := time.Now().Add(5 * time.Second)
	for addr == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		addr = l.StatusAddr()
	}
	if addr == "" {
		t.Fatal("status server did not start")
	}

	var latest struct {
		Row *struct {
			Values []float64 `json:"values"`
		} `json:"row"`
	}
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + addr + "/api/latest")
		if err != nil {
			t.Fatalf("GET /api/latest error = %v", err)
		}
		err = json.NewDecoder(resp.Body).Decode(&latest)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode error = %v", err)
		}
		if latest.Row != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if latest.Row == nil {
		t.Fatal("no row published before deadline")
	}
	if latest.Row.Values[1] != Sentinel {
		t.Errorf("served value = %v, want %v", latest.Row.Values[1], Sentinel)
	}
}

// closingSource records Close calls.
type closingSource struct {
	*fakeSource
	closed atomic.Int32
}

func (c *closingSource) Close() error {
	c.closed.Add(1)
	return nil
}

func TestStart_ClosesSourcesOnShutdown(t *testing.T) {
	fast := &closingSource{fakeSource: plug("a")}
	slow := &closingSource{fakeSource: &fakeSource{name: "owm", metrics: []string{"temp"}}}
	plain := plug("b")

	collectRows(t, 1,
		WithFastSources(fast, plain),
		WithSlowSources(slow),
		WithTickInterval(time.Millisecond),
		WithLogger(testLogger()),
	)

	if got := fast.closed.Load(); got != 1 {
		t.Errorf("fast source closed %d times, want 1", got)
	}
	if got := slow.closed.Load(); got != 1 {
		t.Errorf("slow source closed %d times, want 1", got)
	}
}
