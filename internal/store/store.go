package store

import "time"

// Row is the storage representation of one emitted log row.
type Row struct {
	// Seq is the zero-based row number since start.
	Seq uint64 `json:"seq"`

	// Time is the wall-clock time the row was stamped with.
	Time time.Time `json:"time"`

	// Values holds the timestamp column followed by every metric column,
	// in header order.
	Values []float64 `json:"values"`

	// Resampled is true when the slow sources were sampled for this row
	// rather than served from the cache.
	Resampled bool `json:"resampled"`

	// Sources describes each source sampled for this row.
	Sources []SourceStatus `json:"sources"`
}

// SourceStatus is the outcome of the last sample of one source.
type SourceStatus struct {
	// Name is the source's configured name.
	Name string `json:"name"`

	// Slow is true for sources in the slow loop.
	Slow bool `json:"slow"`

	// Failed is true when the source reported only sentinel values.
	Failed bool `json:"failed"`

	// Panicked is true when sampling was aborted by a recovered panic.
	Panicked bool `json:"panicked,omitempty"`

	// DurationMs is how long the sample took in milliseconds.
	DurationMs int64 `json:"duration_ms"`

	// SampledAt is when the sample was taken.
	SampledAt time.Time `json:"sampled_at"`
}

// Store holds the latest row and per-source status.
//
// Implementations must be safe for concurrent access.
type Store interface {
	// Header returns the column names rows are laid out by.
	Header() []string

	// Update stores row as the latest, records the status of every source
	// it lists and notifies all subscribers.
	Update(row Row)

	// Latest returns the most recent row, or false before the first Update.
	Latest() (Row, bool)

	// Sources returns the last known status of every source sampled so far,
	// sorted by name.
	Sources() []SourceStatus

	// Subscribe returns a channel that receives every new row.
	// The returned channel has a buffer; slow consumers may miss rows.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan Row

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan Row)
}
