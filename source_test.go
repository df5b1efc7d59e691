package pulselog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource reports base+n for every metric, where n counts Sample calls.
type fakeSource struct {
	name    string
	metrics []string
	base    float64
	panics  bool

	mu    sync.Mutex
	calls int
}

func (f *fakeSource) Name() string    { return f.name }
func (f *fakeSource) Names() []string { return MetricNames(f.name, f.metrics) }

func (f *fakeSource) Sample(ctx context.Context) []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panics {
		panic("sensor on fire")
	}
	row := make([]float64, len(f.metrics))
	for i := range row {
		row[i] = f.base + float64(f.calls)
	}
	return row
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSentinelRow(t *testing.T) {
	row := SentinelRow(3)
	if !reflect.DeepEqual(row, []float64{-1, -1, -1}) {
		t.Errorf("SentinelRow(3) = %v", row)
	}
	if len(SentinelRow(0)) != 0 {
		t.Error("SentinelRow(0) should be empty")
	}

	// rows are fresh
	row[0] = 5
	if SentinelRow(3)[0] != Sentinel {
		t.Error("SentinelRow shares its backing array")
	}
}

func TestMetricNames(t *testing.T) {
	got := MetricNames("plug", []string{"power", "energy"})
	want := []string{"plug_power", "plug_energy"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MetricNames() = %v, want %v", got, want)
	}
}

func TestFallback(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		err      error
		want     []float64
		wantLog  bool
		wantKind string
	}{
		{
			name:   "success passes values through",
			values: []float64{1, 2},
			want:   []float64{1, 2},
		},
		{
			name:     "error yields sentinels",
			values:   []float64{1, 2},
			err:      fmt.Errorf("%w: connection refused", ErrTransport),
			want:     []float64{-1, -1},
			wantLog:  true,
			wantKind: "transport",
		},
		{
			name:     "short row yields sentinels",
			values:   []float64{1},
			want:     []float64{-1, -1},
			wantLog:  true,
			wantKind: "data_shape",
		},
		{
			name:     "long row yields sentinels",
			values:   []float64{1, 2, 3},
			want:     []float64{-1, -1},
			wantLog:  true,
			wantKind: "data_shape",
		},
		{
			name:     "unclassified error",
			err:      errors.New("boom"),
			want:     []float64{-1, -1},
			wantLog:  true,
			wantKind: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			got := Fallback(logger, "plug", 2, tt.values, tt.err)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Fallback() = %v, want %v", got, tt.want)
			}

			logged := buf.String()
			if tt.wantLog {
				if !strings.Contains(logged, `"msg":"sample failed"`) {
					t.Errorf("expected a diagnostic line, got %q", logged)
				}
				if !strings.Contains(logged, `"kind":"`+tt.wantKind+`"`) {
					t.Errorf("expected kind %q in %q", tt.wantKind, logged)
				}
				if !strings.Contains(logged, `"source":"plug"`) {
					t.Errorf("expected source in %q", logged)
				}
			} else if logged != "" {
				t.Errorf("expected no log output, got %q", logged)
			}
		})
	}
}
