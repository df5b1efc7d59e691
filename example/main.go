package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/pulselog"
	"github.com/jpalmerr/pulselog/source/jsonsrc"
)

func main() {
	// start mock server (see mock_server.go)
	go StartMockServer(":9999")
	time.Sleep(100 * time.Millisecond)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// grid: one json source per plug from a single declaration
	plugs, err := jsonsrc.NewGrid(jsonsrc.Config{
		Name: "plug",
		Metrics: []jsonsrc.Metric{
			{Name: "power", Extract: jsonsrc.JSONPath("apower")},
			{Name: "energy", Extract: jsonsrc.JSONPath("aenergy.total")},
			{Name: "temperature", Extract: jsonsrc.JSONPath("temperature.tC")},
		},
		Timeout: 2 * time.Second,
	}, "http://localhost:9999/rpc/Switch.GetStatus?id={{.id}}",
		map[string][]string{"id": {"0", "1"}},
		logger,
	)
	if err != nil {
		slog.Error("failed to create plug grid", "error", err)
		os.Exit(1)
	}

	outdoor, err := jsonsrc.New(jsonsrc.Config{
		Name: "outdoor",
		URL:  "http://localhost:9999/weather",
		Metrics: []jsonsrc.Metric{
			{Name: "temp", Extract: jsonsrc.JSONPath("main.temp")},
			{Name: "humidity", Extract: jsonsrc.JSONPath("main.humidity")},
			{Name: "clouds", Extract: jsonsrc.JSONPath("clouds.all")},
		},
	}, logger)
	if err != nil {
		slog.Error("failed to create weather source", "error", err)
		os.Exit(1)
	}

	fast := make([]pulselog.Source, len(plugs))
	for i, p := range plugs {
		fast[i] = p
	}

	header := pulselog.Header(fast, []pulselog.Source{outdoor})

	// plugs every 5s, weather every 6th tick
	l, err := pulselog.New(
		pulselog.WithFastSources(fast...),
		pulselog.WithSlowSources(outdoor),
		pulselog.WithTickInterval(5*time.Second),
		pulselog.WithSlowPeriod(6),
		pulselog.WithLogFile("example.csv"),
		pulselog.WithListenAddr(":8080"),
		pulselog.WithLogger(logger),
		pulselog.WithRowCallback(func(r pulselog.Reading) {
			total := 0.0
			for _, p := range plugs {
				if v, ok := r.Value(header, p.Name()+"_power"); ok && v >= 0 {
					total += v
				}
			}
			fmt.Printf("row %d: %.1f W across %d plugs\n", r.Seq, total, len(plugs))
		}),
	)
	if err != nil {
		slog.Error("failed to create logger", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  pulselog demo")
	fmt.Println()
	fmt.Println("  Rows are appended to example.csv")
	fmt.Println("  Status page at http://localhost:8080")
	fmt.Println()
	fmt.Println("  Sources:")
	fmt.Println("    2 mock smart plugs (grid), every 5s")
	fmt.Println("    1 mock weather endpoint, every 30s")
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := l.Start(ctx); err != nil {
		slog.Error("pulselog error", "error", err)
		os.Exit(1)
	}
}
