package main

import (
	"encoding/json"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// plugState tracks the simulated load behind one smart plug.
type plugState struct {
	watts        float64
	energyWh     float64
	lastSample   time.Time
	nextChangeAt time.Time
}

// StartMockServer runs a mock of two home devices:
//
//	GET /rpc/Switch.GetStatus?id=N  smart plug N (power, voltage, energy, temperature)
//	GET /weather                    outdoor conditions
//
// Each plug switches to a new load level every 20-60 seconds.
// Call this in a goroutine before creating the logger.
func StartMockServer(addr string) {
	var (
		plugs = make(map[string]*plugState)
		mu    sync.Mutex
	)
	mux := http.NewServeMux()

	mux.HandleFunc("/rpc/Switch.GetStatus", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")

		// simulate small latency variance
		time.Sleep(time.Duration(20+rand.Intn(80)) * time.Millisecond)

		mu.Lock()
		now := time.Now()
		p, exists := plugs[id]
		if !exists {
			p = &plugState{watts: 40 + rand.Float64()*200, lastSample: now}
			p.nextChangeAt = now.Add(time.Duration(20+rand.Intn(41)) * time.Second)
			plugs[id] = p
		}
		if now.After(p.nextChangeAt) {
			old := p.watts
			p.watts = rand.Float64() * 2000
			p.nextChangeAt = now.Add(time.Duration(20+rand.Intn(41)) * time.Second)
			slog.Info("load change", "plug", id, "from_w", math.Round(old), "to_w", math.Round(p.watts))
		}
		p.energyWh += p.watts * now.Sub(p.lastSample).Hours()
		p.lastSample = now
		resp := map[string]any{
			"id":      id,
			"apower":  math.Round(p.watts*10) / 10,
			"voltage": 228 + rand.Float64()*4,
			"aenergy": map[string]any{"total": math.Round(p.energyWh*100) / 100},
			"temperature": map[string]any{
				"tC": 30 + p.watts/100,
			},
		}
		mu.Unlock()

		writeJSON(w, resp)
	})

	mux.HandleFunc("/weather", func(w http.ResponseWriter, r *http.Request) {
		hour := float64(time.Now().Hour())
		writeJSON(w, map[string]any{
			"main": map[string]any{
				"temp":     12 + 6*math.Sin((hour-9)/24*2*math.Pi),
				"humidity": 60 + rand.Intn(20),
			},
			"clouds": map[string]any{"all": rand.Intn(100)},
		})
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("mock server error", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
