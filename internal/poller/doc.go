// Package poller provides the dual-cadence sampling loop for PulseLog.
//
// This package is internal to PulseLog. It drives sources sequentially on a
// single goroutine: fast sources every tick, slow sources once every N ticks
// with their last row cached in between. Every emitted row has the same
// width for the lifetime of the scheduler.
//
// The main components are:
//
//   - [Scheduler]: Owns the tick counter, the slow-loop cache and the loop
//   - [Sampler]: The capability a source must expose to be scheduled
//   - [Row]: One emitted row plus per-source sampling details
//
// Users of the pulselog library should not need to interact with this
// package directly. Configuration is done through the main pulselog package.
package poller
