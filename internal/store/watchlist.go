package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"orderflow/logger"
)

// WatchlistEntry pins one exchange/symbol pair on the dashboard.
type WatchlistEntry struct {
	Symbol   string    `json:"symbol"`
	Exchange string    `json:"exchange"`
	PinnedAt time.Time `json:"pinned_at"`
	Notes    string    `json:"notes,omitempty"`
}

type watchlistFile struct {
	Version int              `json:"version"`
	SavedAt time.Time        `json:"saved_at"`
	Entries []WatchlistEntry `json:"entries"`
}

const watchlistFileVersion = 1

// WatchlistStore is the only state that survives restarts. Load and Save are
// the explicit persistence boundaries: nothing touches the file in between,
// and Save writes through a temp file rename so a crash never leaves a
// half-written watchlist behind.
type WatchlistStore struct {
	path string
	log  *logger.Log

	mu      sync.Mutex
	entries map[string]WatchlistEntry
	dirty   bool
}

func NewWatchlistStore(path string) *WatchlistStore {
	return &WatchlistStore{
		path:    path,
		log:     logger.GetLogger(),
		entries: make(map[string]WatchlistEntry),
	}
}

func watchlistKey(exchange, symbol string) string {
	return strings.ToLower(exchange) + ":" + strings.ToUpper(symbol)
}

// Load reads the watchlist file. A missing file is a fresh start, not an
// error.
func (w *WatchlistStore) Load() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			w.log.WithComponent("watchlist_store").WithFields(logger.Fields{
				"path": w.path,
			}).Info("no watchlist file, starting empty")
			return nil
		}
		return fmt.Errorf("failed to read watchlist file: %w", err)
	}

	var file watchlistFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse watchlist file: %w", err)
	}

	w.mu.Lock()
	w.entries = make(map[string]WatchlistEntry, len(file.Entries))
	for _, entry := range file.Entries {
		w.entries[watchlistKey(entry.Exchange, entry.Symbol)] = entry
	}
	w.dirty = false
	count := len(w.entries)
	w.mu.Unlock()

	w.log.WithComponent("watchlist_store").WithFields(logger.Fields{
		"path":    w.path,
		"entries": count,
	}).Info("watchlist loaded")
	return nil
}

// Save writes the watchlist atomically and clears the dirty flag.
func (w *WatchlistStore) Save() error {
	w.mu.Lock()
	file := watchlistFile{
		Version: watchlistFileVersion,
		SavedAt: time.Now().UTC(),
		Entries: w.entriesLocked(),
	}
	w.dirty = false
	w.mu.Unlock()

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode watchlist: %w", err)
	}

	if dir := filepath.Dir(w.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create watchlist directory: %w", err)
		}
	}

	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write watchlist temp file: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return fmt.Errorf("failed to replace watchlist file: %w", err)
	}
	return nil
}

// Add pins an entry, replacing any existing pin for the same pair. A zero
// PinnedAt is stamped with the current time.
func (w *WatchlistStore) Add(entry WatchlistEntry) WatchlistEntry {
	entry.Exchange = strings.ToLower(entry.Exchange)
	entry.Symbol = strings.ToUpper(entry.Symbol)
	if entry.PinnedAt.IsZero() {
		entry.PinnedAt = time.Now().UTC()
	}

	w.mu.Lock()
	w.entries[watchlistKey(entry.Exchange, entry.Symbol)] = entry
	w.dirty = true
	w.mu.Unlock()
	return entry
}

// Remove unpins an entry and reports whether it existed.
func (w *WatchlistStore) Remove(exchange, symbol string) bool {
	key := watchlistKey(exchange, symbol)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.entries[key]; !ok {
		return false
	}
	delete(w.entries, key)
	w.dirty = true
	return true
}

// Entries returns the pinned pairs in pin order.
func (w *WatchlistStore) Entries() []WatchlistEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.entriesLocked()
}

func (w *WatchlistStore) entriesLocked() []WatchlistEntry {
	out := make([]WatchlistEntry, 0, len(w.entries))
	for _, entry := range w.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PinnedAt.Equal(out[j].PinnedAt) {
			return out[i].PinnedAt.Before(out[j].PinnedAt)
		}
		return watchlistKey(out[i].Exchange, out[i].Symbol) < watchlistKey(out[j].Exchange, out[j].Symbol)
	})
	return out
}

// Dirty reports whether changes since the last Load or Save are unsaved.
func (w *WatchlistStore) Dirty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirty
}

// StartAutosave persists dirty state every interval until the context ends,
// then performs a final save.
func (w *WatchlistStore) StartAutosave(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		log := w.log.WithComponent("watchlist_store")
		for {
			select {
			case <-ctx.Done():
				w.saveIfDirty(log)
				return
			case <-ticker.C:
				w.saveIfDirty(log)
			}
		}
	}()
}

func (w *WatchlistStore) saveIfDirty(log *logger.Entry) {
	if !w.Dirty() {
		return
	}
	if err := w.Save(); err != nil {
		log.WithError(err).Warn("watchlist autosave failed")
	}
}
