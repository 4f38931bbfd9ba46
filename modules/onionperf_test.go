package modules

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tor-collector/collector/fetch"
	"github.com/tor-collector/collector/persist"
)

func TestOnionPerfRunOnceStoresPerHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("@type torperf 1.1\nSOURCE=op-test FILESIZE=51200\n"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	writer := persist.New(filepath.Join(dir, "archive"), filepath.Join(dir, "recent"))
	m := NewOnionPerf(fetch.New(), writer)

	snap := loadSnapshot(t, map[string]string{
		"OnionperfSources": "Remote",
		"OnionPerfHosts":   srv.URL,
	})

	if err := m.RunOnce(context.Background(), snap); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	var paths []string
	filepath.Walk(filepath.Join(dir, "archive"), func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if len(paths) != 1 {
		t.Fatalf("archived files = %d, want 1", len(paths))
	}
	if !strings.HasSuffix(paths[0], ".tpf") {
		t.Errorf("archive basename = %s, want a .tpf file", filepath.Base(paths[0]))
	}
	if !strings.Contains(paths[0], filepath.Join("onionperf", "127.0.0.1")) {
		t.Errorf("archive path = %s, want a per-host onionperf subtree", paths[0])
	}
}

func TestOnionPerfRunOnceSkipsWhenRemoteNotConfigured(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	dir := t.TempDir()
	writer := persist.New(filepath.Join(dir, "archive"), filepath.Join(dir, "recent"))
	m := NewOnionPerf(fetch.New(), writer)

	snap := loadSnapshot(t, map[string]string{
		"OnionperfSources": "Sync",
		"OnionPerfHosts":   srv.URL,
	})

	if err := m.RunOnce(context.Background(), snap); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if called {
		t.Error("expected no fetch when Remote is not among configured sources")
	}
}
