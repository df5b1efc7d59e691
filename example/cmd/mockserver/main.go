// Standalone mock device server for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/pulselog run -c example/config.yaml
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"
)

func main() {
	fmt.Println("Mock device server starting on :9999")
	fmt.Println("Smart plugs: /rpc/Switch.GetStatus?id=N, weather: /weather")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	var (
		loads = make(map[string]*load)
		mu    sync.Mutex
	)

	http.HandleFunc("/rpc/Switch.GetStatus", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")

		time.Sleep(time.Duration(20+rand.Intn(80)) * time.Millisecond)

		mu.Lock()
		now := time.Now()
		l, exists := loads[id]
		if !exists {
			l = &load{watts: 40 + rand.Float64()*200, nextChangeAt: now.Add(time.Duration(20+rand.Intn(41)) * time.Second)}
			loads[id] = l
		}
		if now.After(l.nextChangeAt) {
			l.watts = rand.Float64() * 2000
			l.nextChangeAt = now.Add(time.Duration(20+rand.Intn(41)) * time.Second)
			slog.Info("load change", "plug", id, "to_w", math.Round(l.watts))
		}
		watts := math.Round(l.watts*10) / 10
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          id,
			"apower":      watts,
			"voltage":     228 + rand.Float64()*4,
			"temperature": map[string]any{"tC": 30 + watts/100},
		})
	})

	http.HandleFunc("/weather", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"main":   map[string]any{"temp": 8 + rand.Float64()*10, "humidity": 60 + rand.Intn(20)},
			"clouds": map[string]any{"all": rand.Intn(100)},
		})
	})

	if err := http.ListenAndServe(":9999", nil); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

type load struct {
	watts        float64
	nextChangeAt time.Time
}
