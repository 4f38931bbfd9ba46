package peersync

import (
	"path/filepath"
	"testing"
	"time"
)

func TestHistoryLoadMissing(t *testing.T) {
	h, err := LoadHistory(filepath.Join(t.TempDir(), "nonexistent"))
	if err != nil {
		t.Fatalf("LoadHistory on missing file: %v", err)
	}
	if h.Size() != 0 {
		t.Fatalf("expected empty history, got size %d", h.Size())
	}
	if h.Has("anything") {
		t.Fatalf("fresh history should not have entries")
	}
}

func TestHistoryMergeAndSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history")
	h, err := LoadHistory(path)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}

	t1 := time.Date(2020, 6, 15, 12, 0, 0, 0, time.UTC)
	if err := h.MergeAndSave(map[string]time.Time{"b/2": t1, "a/1": t1}); err != nil {
		t.Fatalf("MergeAndSave: %v", err)
	}
	if h.Size() != 2 {
		t.Fatalf("expected size 2, got %d", h.Size())
	}

	reloaded, err := LoadHistory(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.Has("a/1") || !reloaded.Has("b/2") {
		t.Fatalf("reloaded history missing entries: %+v", reloaded.entries)
	}
	if reloaded.Size() != 2 {
		t.Fatalf("reloaded size mismatch: %d", reloaded.Size())
	}
	if !reloaded.Covers("a/1", t1) {
		t.Fatalf("reloaded history should cover a/1 at its recorded stamp")
	}
}

func TestHistoryMergeIsMonotonic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history")
	h, err := LoadHistory(path)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	t1 := time.Date(2020, 6, 15, 12, 0, 0, 0, time.UTC)
	if err := h.MergeAndSave(map[string]time.Time{"x/1": t1}); err != nil {
		t.Fatalf("first merge: %v", err)
	}
	before := h.Size()
	if err := h.MergeAndSave(nil); err != nil {
		t.Fatalf("empty merge: %v", err)
	}
	if h.Size() != before {
		t.Fatalf("empty merge should not change size: before=%d after=%d", before, h.Size())
	}
	t2 := t1.Add(24 * time.Hour)
	if err := h.MergeAndSave(map[string]time.Time{"x/1": t2, "y/2": t2}); err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if h.Size() != 2 {
		t.Fatalf("expected size 2 after re-adding x/1 plus new y/2, got %d", h.Size())
	}
	if !h.Covers("x/1", t1) {
		t.Fatalf("x/1 should cover its earlier stamp %s after advancing to %s", t1, t2)
	}
	if h.Covers("x/1", t2.Add(time.Minute)) {
		t.Fatalf("x/1 should not cover a stamp later than the recorded one")
	}
}

func TestHistoryCoversRequiresNewerStamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history")
	h, err := LoadHistory(path)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	t1 := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := h.MergeAndSave(map[string]time.Time{"appended/1": t1}); err != nil {
		t.Fatalf("MergeAndSave: %v", err)
	}
	if !h.Covers("appended/1", t1) {
		t.Fatalf("expected coverage at the exact recorded stamp")
	}
	later := t1.Add(time.Hour)
	if h.Covers("appended/1", later) {
		t.Fatalf("a peer file appended after the recorded stamp must not be treated as covered")
	}
}
