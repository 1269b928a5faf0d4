package ledger

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Memory is a process-local Ledger.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry), now: time.Now}
}

func (m *Memory) Get(_ context.Context, reqID string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[reqID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (m *Memory) Put(_ context.Context, e Entry) error {
	if e.ReqID == "" {
		return errors.New("ledger entry requires a reqId")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e.UpdatedAt = m.now().UTC()
	m.entries[e.ReqID] = e
	return nil
}

func (m *Memory) List(_ context.Context, f Filter) ([]Entry, error) {
	m.mu.RLock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if f.State != "" && e.State != f.State {
			continue
		}
		out = append(out, e)
	}
	m.mu.RUnlock()

	sortNewestFirst(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) Counts(_ context.Context) (map[State]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[State]int)
	for _, e := range m.entries {
		counts[e.State]++
	}
	return counts, nil
}

func (m *Memory) Reset(_ context.Context, reqID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[reqID]; !ok {
		return ErrNotFound
	}
	delete(m.entries, reqID)
	return nil
}

func (m *Memory) Close() error { return nil }
