//go:build cgo

package dataset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/metrolabs/busstop-api/internal/stops"
)

func TestLoadCSVFile(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "stops.csv")
	if err := os.WriteFile(path, []byte(snapshotCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := stops.Open(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	n, err := LoadCSVFile(ctx, store, path)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("loaded %d rows, want 2", n)
	}
	if err := store.Ready(ctx); err != nil {
		t.Fatalf("store not ready after load: %v", err)
	}
}

func TestLoadCSVFile_MissingFile(t *testing.T) {
	ctx := context.Background()
	store, err := stops.Open(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := LoadCSVFile(ctx, store, filepath.Join(t.TempDir(), "nope.csv")); err == nil {
		t.Fatal("missing file should error")
	}
}
