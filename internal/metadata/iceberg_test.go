package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGeneratorCreatesMetadata(t *testing.T) {
	dir := t.TempDir()
	gen := NewGenerator(dir, "s3://bucket/orderflow", "orderflow_snapshots")

	df := DataFile{
		Path:        "s3://bucket/orderflow/exchange=binance/symbol=BTCUSDT/year=2026/month=08/day=23/hour=06/file.parquet",
		FileSize:    100,
		RecordCount: 10,
		Partition: map[string]any{
			"exchange": "binance",
			"symbol":   "BTCUSDT",
			"year":     2026,
			"month":    8,
			"day":      23,
			"hour":     6,
		},
		Timestamp: time.Unix(1, 0),
	}
	if err := gen.AddFile(df); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	metaPath := filepath.Join(dir, "metadata", "metadata.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("metadata not written: %v", err)
	}
	var tm TableMetadata
	if err := json.Unmarshal(data, &tm); err != nil {
		t.Fatalf("metadata not parseable: %v", err)
	}
	if tm.Location != "s3://bucket/orderflow" {
		t.Errorf("location should be the table root, got %q", tm.Location)
	}
	if len(tm.Snapshots) != 1 || tm.CurrentSnapshotID != tm.Snapshots[0].SnapshotID {
		t.Errorf("unexpected snapshot list: %+v", tm)
	}

	manifestPath := filepath.Join(dir, "metadata", tm.Snapshots[0].Manifest)
	if _, err := os.Stat(manifestPath); err != nil {
		t.Fatalf("manifest not written: %v", err)
	}
}

func TestGeneratorAppendsSnapshots(t *testing.T) {
	dir := t.TempDir()
	gen := NewGenerator(dir, "s3://bucket", "orderflow_snapshots")

	for i := 1; i <= 3; i++ {
		df := DataFile{
			Path:        "file.parquet",
			RecordCount: int64(i),
			Timestamp:   time.Unix(int64(i), 0),
		}
		if err := gen.AddFile(df); err != nil {
			t.Fatalf("AddFile %d: %v", i, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "metadata", "metadata.json"))
	if err != nil {
		t.Fatalf("metadata not written: %v", err)
	}
	var tm TableMetadata
	if err := json.Unmarshal(data, &tm); err != nil {
		t.Fatalf("metadata not parseable: %v", err)
	}
	if len(tm.Snapshots) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(tm.Snapshots))
	}
	if tm.CurrentSnapshotID != tm.Snapshots[2].SnapshotID {
		t.Error("current snapshot should be the newest")
	}
}

func TestGeneratorCatalogEntry(t *testing.T) {
	dir := t.TempDir()
	gen := NewGenerator(dir, "s3://bucket", "orderflow_snapshots")

	catalogDir := filepath.Join(dir, "catalog")
	if err := gen.WriteCatalogEntry(catalogDir); err != nil {
		t.Fatalf("WriteCatalogEntry: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(catalogDir, "orderflow_snapshots.json"))
	if err != nil {
		t.Fatalf("catalog entry not written: %v", err)
	}
	var entry map[string]string
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("catalog entry not parseable: %v", err)
	}
	if entry["name"] != "orderflow_snapshots" {
		t.Errorf("unexpected catalog name: %q", entry["name"])
	}
}
