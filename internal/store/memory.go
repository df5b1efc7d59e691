package store

import (
	"slices"
	"sort"
	"sync"
)

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 100

// MemoryStore is an in-memory implementation of [Store].
//
// Rows passed to Update are copied, and so are rows handed out by Latest
// and to subscribers, so callers may reuse their slices.
type MemoryStore struct {
	header []string

	mu      sync.RWMutex
	latest  Row
	hasRow  bool
	sources map[string]SourceStatus

	subMu       sync.RWMutex
	subscribers map[chan Row]struct{}
}

// NewMemoryStore creates a new in-memory [Store] for rows laid out by header.
func NewMemoryStore(header []string) *MemoryStore {
	return &MemoryStore{
		header:      slices.Clone(header),
		sources:     make(map[string]SourceStatus),
		subscribers: make(map[chan Row]struct{}),
	}
}

// Header implements [Store]. The returned slice is a copy.
func (m *MemoryStore) Header() []string {
	return slices.Clone(m.header)
}

// Update implements [Store].
func (m *MemoryStore) Update(row Row) {
	row = cloneRow(row)

	m.mu.Lock()
	m.latest = row
	m.hasRow = true
	for _, s := range row.Sources {
		m.sources[s.Name] = s
	}
	m.mu.Unlock()

	m.notifySubscribers(row)
}

// Latest implements [Store].
func (m *MemoryStore) Latest() (Row, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.hasRow {
		return Row{}, false
	}
	return cloneRow(m.latest), true
}

// Sources implements [Store].
func (m *MemoryStore) Sources() []SourceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SourceStatus, 0, len(m.sources))
	for _, s := range m.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Subscribe implements [Store].
func (m *MemoryStore) Subscribe() <-chan Row {
	ch := make(chan Row, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe implements [Store].
func (m *MemoryStore) Unsubscribe(ch <-chan Row) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	// find and delete the channel (need to convert to the right type)
	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// notifySubscribers sends the row to all active subscribers without
// blocking; a subscriber with a full buffer misses the row.
func (m *MemoryStore) notifySubscribers(row Row) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- cloneRow(row):
		default:
			// subscriber is slow, drop the row
		}
	}
}

func cloneRow(r Row) Row {
	r.Values = slices.Clone(r.Values)
	r.Sources = slices.Clone(r.Sources)
	return r
}
