package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchlistLoadMissingFile(t *testing.T) {
	w := NewWatchlistStore(filepath.Join(t.TempDir(), "watchlist.json"))
	if err := w.Load(); err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if len(w.Entries()) != 0 {
		t.Errorf("expected empty watchlist, got %+v", w.Entries())
	}
}

func TestWatchlistSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "watchlist.json")
	w := NewWatchlistStore(path)

	w.Add(WatchlistEntry{Symbol: "btcusdt", Exchange: "Binance", Notes: "core"})
	w.Add(WatchlistEntry{Symbol: "ETHUSDT", Exchange: "bybit"})
	if !w.Dirty() {
		t.Error("adds should mark the store dirty")
	}

	if err := w.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if w.Dirty() {
		t.Error("Save should clear the dirty flag")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should not survive a successful save")
	}

	reloaded := NewWatchlistStore(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	entries := reloaded.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after reload, got %d", len(entries))
	}
	first := entries[0]
	if first.Exchange != "binance" || first.Symbol != "BTCUSDT" {
		t.Errorf("identifiers should be normalized, got %+v", first)
	}
	if first.Notes != "core" {
		t.Errorf("notes should round-trip, got %q", first.Notes)
	}
	if first.PinnedAt.IsZero() {
		t.Error("PinnedAt should be stamped on add")
	}
}

func TestWatchlistRemove(t *testing.T) {
	w := NewWatchlistStore(filepath.Join(t.TempDir(), "watchlist.json"))
	w.Add(WatchlistEntry{Symbol: "BTCUSDT", Exchange: "binance"})

	if !w.Remove("BINANCE", "btcusdt") {
		t.Error("remove should match case-insensitively")
	}
	if w.Remove("binance", "BTCUSDT") {
		t.Error("second remove should report missing")
	}
	if len(w.Entries()) != 0 {
		t.Errorf("expected empty watchlist, got %+v", w.Entries())
	}
}

func TestWatchlistAddReplacesPin(t *testing.T) {
	w := NewWatchlistStore(filepath.Join(t.TempDir(), "watchlist.json"))

	pinned := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w.Add(WatchlistEntry{Symbol: "BTCUSDT", Exchange: "binance", PinnedAt: pinned})
	w.Add(WatchlistEntry{Symbol: "BTCUSDT", Exchange: "binance", PinnedAt: pinned, Notes: "updated"})

	entries := w.Entries()
	if len(entries) != 1 {
		t.Fatalf("re-pinning should replace, got %d entries", len(entries))
	}
	if entries[0].Notes != "updated" {
		t.Errorf("replacement should keep the newest notes, got %q", entries[0].Notes)
	}
}

func TestWatchlistEntriesPinOrder(t *testing.T) {
	w := NewWatchlistStore(filepath.Join(t.TempDir(), "watchlist.json"))

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w.Add(WatchlistEntry{Symbol: "ETHUSDT", Exchange: "binance", PinnedAt: base.Add(time.Hour)})
	w.Add(WatchlistEntry{Symbol: "BTCUSDT", Exchange: "binance", PinnedAt: base})

	entries := w.Entries()
	if entries[0].Symbol != "BTCUSDT" || entries[1].Symbol != "ETHUSDT" {
		t.Errorf("entries should come back in pin order: %+v", entries)
	}
}
