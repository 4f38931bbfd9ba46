package persist

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tor-collector/collector/descriptor"
	"github.com/tor-collector/collector/fs"
)

func newWriter(t *testing.T) *Writer {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "archive"), filepath.Join(dir, "recent"))
}

func TestStoreArchiveWritesOnceThenAlreadyPresent(t *testing.T) {
	w := newWriter(t)
	d := &descriptor.Descriptor{Kind: descriptor.ExitList, Raw: []byte("downloaded 2026-07-31 00:00:00\n")}

	res, err := w.StoreArchive("exit-lists/2026/07/31/x", d)
	if err != nil {
		t.Fatalf("StoreArchive: %v", err)
	}
	if res != Written {
		t.Fatalf("first write result = %v, want Written", res)
	}

	res, err = w.StoreArchive("exit-lists/2026/07/31/x", d)
	if err != nil {
		t.Fatalf("StoreArchive (second): %v", err)
	}
	if res != AlreadyPresentResult {
		t.Fatalf("second write result = %v, want AlreadyPresentResult", res)
	}

	got, err := os.ReadFile(filepath.Join(w.ArchiveRoot, "exit-lists/2026/07/31/x"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	want := descriptor.ExitList.Annotation() + "downloaded 2026-07-31 00:00:00\n"
	if string(got) != want {
		t.Errorf("content = %q, want %q", got, want)
	}
}

func TestStoreRecentAppendsForAppendKinds(t *testing.T) {
	w := newWriter(t)
	d1 := &descriptor.Descriptor{Kind: descriptor.RelayConsensus, Raw: []byte("@type network-status-consensus-3 1.0\nfirst\n")}
	d2 := &descriptor.Descriptor{Kind: descriptor.RelayConsensus, Raw: []byte("@type network-status-consensus-3 1.0\nsecond\n")}

	if _, err := w.StoreRecent("relay-descriptors/consensuses/x", d1); err != nil {
		t.Fatalf("first StoreRecent: %v", err)
	}
	if _, err := w.StoreRecent("relay-descriptors/consensuses/x", d2); err != nil {
		t.Fatalf("second StoreRecent: %v", err)
	}

	// both appends must share the one deterministic sibling
	if _, err := os.Stat(filepath.Join(w.RecentRoot, "relay-descriptors/consensuses/x.tmp")); err != nil {
		t.Fatalf("expected a single .tmp sibling before promotion: %v", err)
	}

	if err := PromoteTemporaries(w.RecentRoot); err != nil {
		t.Fatalf("PromoteTemporaries: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(w.RecentRoot, "relay-descriptors/consensuses/x"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	want := "@type network-status-consensus-3 1.0\nfirst\n@type network-status-consensus-3 1.0\nsecond\n"
	if string(got) != want {
		t.Errorf("content = %q, want %q", got, want)
	}
}

func TestStoreBothSkipsRecentWhenArchiveAlreadyPresent(t *testing.T) {
	w := newWriter(t)
	d := &descriptor.Descriptor{
		Kind:      descriptor.ServerDescriptor,
		Raw:       []byte("router x 1.2.3.4 9001 0 0\n"),
		Published: mustParse(t, "2026-07-31 00:00:00"),
		Digest:    "abcd1234",
	}
	paths, err := fs.ComputePaths(d, mustParse(t, "2026-07-31 01:00:00"))
	if err != nil {
		t.Fatalf("ComputePaths: %v", err)
	}

	archiveRes, recentRes, err := w.StoreBoth(paths, d)
	if err != nil {
		t.Fatalf("StoreBoth (first): %v", err)
	}
	if archiveRes != Written || recentRes != Written {
		t.Fatalf("first call results = %v, %v, want Written, Written", archiveRes, recentRes)
	}

	archiveRes, recentRes, err = w.StoreBoth(paths, d)
	if err != nil {
		t.Fatalf("StoreBoth (second): %v", err)
	}
	if archiveRes != AlreadyPresentResult {
		t.Errorf("archive result = %v, want AlreadyPresentResult", archiveRes)
	}
	if recentRes != 0 {
		t.Errorf("recent result = %v, want zero value (untouched)", recentRes)
	}
}

func mustParse(t *testing.T, v string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04:05", v)
	if err != nil {
		t.Fatalf("parse %q: %v", v, err)
	}
	return ts
}
