// Package store keeps the most recent log row and per-source sampling
// status in memory and fans new rows out to subscribers.
//
// It backs the status server: GET /api/latest reads the last row,
// GET /api/sources the per-source status, and GET /api/sse subscribes.
// Subscribers receive rows via channels with non-blocking sends, so a slow
// subscriber misses rows rather than stalling the logger.
package store
