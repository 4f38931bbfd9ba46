package modules

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tor-collector/collector/index"
)

func TestIndexerRunOnceBuildsAndEmitsDocument(t *testing.T) {
	dir := t.TempDir()
	archiveRoot := filepath.Join(dir, "archive")
	recentRoot := filepath.Join(dir, "recent")
	indexPath := filepath.Join(dir, "index")
	if err := os.MkdirAll(filepath.Join(archiveRoot, "exit-lists"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(archiveRoot, "exit-lists", "2026-07-31"), []byte("@type tordnsel 1.0\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.MkdirAll(indexPath, 0o755); err != nil {
		t.Fatalf("mkdir index: %v", err)
	}

	builder := index.NewBuilder("https://collector.example.org", "test", []index.Root{
		{Label: "archive", Path: archiveRoot},
		{Label: "recent", Path: recentRoot},
	}, 2, nil)
	m := NewIndexer(indexPath, "", builder)

	if err := m.RunOnce(context.Background(), nil); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if _, err := os.Stat(filepath.Join(indexPath, "index.json")); err != nil {
		t.Errorf("expected index.json to be emitted: %v", err)
	}
	if _, err := os.Stat(filepath.Join(indexPath, "index.json.gz")); err != nil {
		t.Errorf("expected index.json.gz to be emitted: %v", err)
	}
}

func TestIndexerRunOnceReusesPreviousDocumentOnSecondRun(t *testing.T) {
	dir := t.TempDir()
	archiveRoot := filepath.Join(dir, "archive")
	recentRoot := filepath.Join(dir, "recent")
	indexPath := filepath.Join(dir, "index")
	if err := os.MkdirAll(filepath.Join(archiveRoot, "exit-lists"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(archiveRoot, "exit-lists", "2026-07-31"), []byte("@type tordnsel 1.0\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.MkdirAll(indexPath, 0o755); err != nil {
		t.Fatalf("mkdir index: %v", err)
	}

	builder := index.NewBuilder("https://collector.example.org", "test", []index.Root{
		{Label: "archive", Path: archiveRoot},
		{Label: "recent", Path: recentRoot},
	}, 2, nil)
	m := NewIndexer(indexPath, "", builder)

	if err := m.RunOnce(context.Background(), nil); err != nil {
		t.Fatalf("RunOnce (first): %v", err)
	}
	if err := m.RunOnce(context.Background(), nil); err != nil {
		t.Fatalf("RunOnce (second): %v", err)
	}

	doc, err := index.Load(filepath.Join(indexPath, "index.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc == nil {
		t.Fatal("expected a document after two runs")
	}
}
