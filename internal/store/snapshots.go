// Package store keeps the in-memory snapshot state served to the dashboard
// and the persisted watchlist that survives restarts.
package store

import (
	"sort"
	"sync"

	"orderflow/models"
)

// SnapshotStore holds the latest profile snapshot per exchange/symbol plus a
// bounded history of triggered signals. Readers get copies; published
// snapshots are never mutated.
type SnapshotStore struct {
	mu          sync.RWMutex
	snapshots   map[string]models.ProfileSnapshot
	signals     []models.TradingSignal
	historySize int
}

func NewSnapshotStore(historySize int) *SnapshotStore {
	if historySize <= 0 {
		historySize = 256
	}
	return &SnapshotStore{
		snapshots:   make(map[string]models.ProfileSnapshot),
		historySize: historySize,
	}
}

// Publish replaces the stored snapshot for the snapshot's exchange/symbol.
func (s *SnapshotStore) Publish(snap models.ProfileSnapshot) {
	s.mu.Lock()
	s.snapshots[snap.Key()] = snap
	s.mu.Unlock()
}

// Latest returns the most recent snapshot for an exchange/symbol pair.
func (s *SnapshotStore) Latest(exchange, symbol string) (models.ProfileSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[exchange+":"+symbol]
	return snap, ok
}

// Keys lists the stored exchange:symbol keys in sorted order.
func (s *SnapshotStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.snapshots))
	for k := range s.snapshots {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// All returns every stored snapshot ordered by key.
func (s *SnapshotStore) All() []models.ProfileSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.snapshots))
	for k := range s.snapshots {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]models.ProfileSnapshot, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.snapshots[k])
	}
	return out
}

// AddSignals appends triggered signals to the history, evicting the oldest
// entries beyond the configured size.
func (s *SnapshotStore) AddSignals(sigs []models.TradingSignal) {
	if len(sigs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sigs...)
	if excess := len(s.signals) - s.historySize; excess > 0 {
		s.signals = append(s.signals[:0], s.signals[excess:]...)
	}
}

// RecentSignals returns up to limit signals, newest first. A non-positive
// limit returns the full history.
func (s *SnapshotStore) RecentSignals(limit int) []models.TradingSignal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.signals)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.TradingSignal, 0, n)
	for i := len(s.signals) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.signals[i])
	}
	return out
}
