// Package pulselog samples home-telemetry sources on a fixed cadence and
// appends one fixed-width row per tick to a CSV log.
//
// Sources are anything implementing [Source]: cloud inverter APIs, a home
// gateway, a local I2C power sensor, a weather service or a generic JSON
// endpoint. The built-in ones live under source/. A source never fails
// outward; when a measurement goes wrong it logs why and reports a row of
// [Sentinel] values instead, so every row has the same width.
//
// # Quick Start
//
//	plug, _ := fritz.New(fritz.Config{Name: "plug", URL: "http://fritz.box", ...}, logger)
//	owm, _ := weather.New(weather.Config{Name: "owm", Lat: 52.5, Long: 13.4, AppID: key}, logger)
//
//	l, _ := pulselog.New(
//	    pulselog.WithFastSources(plug),
//	    pulselog.WithSlowSources(owm),
//	    pulselog.WithLogFile("data.csv"),
//	)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	l.Start(ctx) // blocks until ctx is cancelled
//
// # Cadence
//
// Fast sources are sampled on every tick. Slow sources are sampled on the
// first tick and then once every [WithSlowPeriod] ticks; in between, their
// last row is repeated. Sampling is sequential, in configured order, and
// the pause between ticks is [WithTickInterval].
//
// Every row is laid out as [Header] describes: a Unix timestamp, the fast
// sources' columns, then the slow sources' columns.
//
// # Sessions
//
// Sources that log in to their backend hold a per-source session
// (internal/session). Each tick the held token is validated; a rejected
// token triggers exactly one fresh login before the sample proceeds.
//
// # Architecture
//
//   - internal/poller: the dual-cadence scheduler and slow-loop cache
//   - internal/session: token acquire, validate and invalidate
//   - internal/transport: bounded HTTP requests for the web sources
//   - internal/i2c: Linux I2C bus access for the power sensor
//   - internal/csvlog: the CSV log sink
//   - internal/store: latest row with pub/sub
//   - internal/server: status API, row stream and metrics endpoint
//   - dashboard: the embedded status page
//   - internal/metrics: Prometheus collectors
//
// The internal packages are not part of the public API and may change
// without notice.
package pulselog
