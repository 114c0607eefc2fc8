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
	gen := NewGenerator(dir, "depth")

	df := DataFile{
		Path:        "s3://bucket/feed=depth/symbol=BTCUSDT/year=2026/month=08/day=23/hour=06/file.parquet",
		FileSize:    100,
		RecordCount: 10,
		Partition: map[string]any{
			"feed":   "depth",
			"symbol": "BTCUSDT",
			"date":   "2026-08-23",
		},
		Timestamp: time.Unix(1, 0),
	}
	if err := gen.AddFile(df); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "metadata", "metadata.json"))
	if err != nil {
		t.Fatalf("metadata not written: %v", err)
	}
	var tm TableMetadata
	if err := json.Unmarshal(b, &tm); err != nil {
		t.Fatalf("metadata not valid json: %v", err)
	}
	if tm.FormatVersion != 2 || len(tm.Snapshots) != 1 {
		t.Errorf("metadata = %+v", tm)
	}
	if tm.CurrentSnapshotID != tm.Snapshots[0].SnapshotID {
		t.Errorf("current snapshot %d does not match %d", tm.CurrentSnapshotID, tm.Snapshots[0].SnapshotID)
	}

	catalogDir := filepath.Join(dir, "catalog")
	if err := gen.WriteCatalogEntry(catalogDir); err != nil {
		t.Fatalf("catalog entry: %v", err)
	}
	if _, err := os.Stat(filepath.Join(catalogDir, "depth.json")); err != nil {
		t.Fatalf("catalog entry not written: %v", err)
	}
}

func TestGeneratorSecondFileAppendsSnapshot(t *testing.T) {
	dir := t.TempDir()
	gen := NewGenerator(dir, "trades")

	for i := 1; i <= 2; i++ {
		df := DataFile{
			Path:        "s3://bucket/file.parquet",
			FileSize:    int64(i),
			RecordCount: int64(i),
			Timestamp:   time.Unix(int64(i), 0),
		}
		if err := gen.AddFile(df); err != nil {
			t.Fatalf("AddFile %d: %v", i, err)
		}
	}

	b, err := os.ReadFile(filepath.Join(dir, "metadata", "metadata.json"))
	if err != nil {
		t.Fatalf("metadata not written: %v", err)
	}
	var tm TableMetadata
	if err := json.Unmarshal(b, &tm); err != nil {
		t.Fatalf("metadata not valid json: %v", err)
	}
	if len(tm.Snapshots) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(tm.Snapshots))
	}
}
