package pulselog

import "time"

// Reading is one emitted row, as delivered to row callbacks and returned by
// [Logger.SampleOnce].
type Reading struct {
	// Seq is the zero-based tick number since Start.
	Seq uint64

	// Time is the timestamp the row was stamped with.
	Time time.Time

	// Values holds the timestamp column (Unix seconds) followed by every
	// metric column, in the order of [Logger.Header].
	Values []float64

	// Resampled is true when the slow sources were sampled on this tick.
	// Otherwise their columns repeat the cached values.
	Resampled bool

	// Failed lists the sources sampled on this tick that reported only
	// [Sentinel] values. Cached slow sources are never listed.
	Failed []string
}

// Value returns the value of the named column, looked up in header.
// The second result is false when the column is unknown.
func (r Reading) Value(header []string, column string) (float64, bool) {
	for i, name := range header {
		if name == column && i < len(r.Values) {
			return r.Values[i], true
		}
	}
	return 0, false
}
