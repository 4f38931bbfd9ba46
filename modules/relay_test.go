package modules

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/tor-collector/collector/descriptor"
	"github.com/tor-collector/collector/fetch"
	"github.com/tor-collector/collector/persist"
)

func TestRelayRunOnceFetchesFromConfiguredAuthority(t *testing.T) {
	body := "@type server-descriptor 1.0\n" +
		"router test 1.2.3.4 9001 0 0\n" +
		"published 2026-07-31 00:00:00\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	writer := persist.New(filepath.Join(dir, "archive"), filepath.Join(dir, "recent"))
	m := NewRelay(fetch.New(), writer, nil, descriptor.NewGenericParser(descriptor.ServerDescriptor), nil, "", "")

	snap := loadSnapshot(t, map[string]string{
		"RelaydescsSources": "Remote",
		"RelaydescsUrl":     srv.URL,
	})

	if err := m.RunOnce(context.Background(), snap); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	var found int
	filepath.Walk(filepath.Join(dir, "archive"), func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			found++
		}
		return nil
	})
	if found != 1 {
		t.Errorf("archived files = %d, want 1", found)
	}
}

func TestRelayRunOnceSkipsWhenRemoteNotConfigured(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	dir := t.TempDir()
	writer := persist.New(filepath.Join(dir, "archive"), filepath.Join(dir, "recent"))
	m := NewRelay(fetch.New(), writer, nil, descriptor.NewGenericParser(descriptor.ServerDescriptor), nil, "", "")

	snap := loadSnapshot(t, map[string]string{
		"RelaydescsSources": "Sync",
		"RelaydescsUrl":     srv.URL,
	})

	if err := m.RunOnce(context.Background(), snap); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if called {
		t.Error("expected no fetch when Remote is not among configured sources")
	}
}

func TestRelayRunOnceFetchesBandwidthFiles(t *testing.T) {
	consensus := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("@type server-descriptor 1.0\nrouter test 1.2.3.4 9001 0 0\npublished 2026-07-31 00:00:00\n"))
	}))
	defer consensus.Close()
	bw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("1627737600\nversion=1.4.0\n"))
	}))
	defer bw.Close()

	dir := t.TempDir()
	writer := persist.New(filepath.Join(dir, "archive"), filepath.Join(dir, "recent"))
	m := NewRelay(fetch.New(), writer, nil, descriptor.NewGenericParser(descriptor.ServerDescriptor), nil, "", "")

	snap := loadSnapshot(t, map[string]string{
		"RelaydescsSources":       "Remote",
		"RelaydescsUrl":           consensus.URL,
		"RelaydescsBandwidthUrls": bw.URL,
	})

	if err := m.RunOnce(context.Background(), snap); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	var bwFiles int
	filepath.Walk(filepath.Join(dir, "archive", "bandwidth-files"), func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			bwFiles++
		}
		return nil
	})
	if bwFiles != 1 {
		t.Errorf("archived bandwidth files = %d, want 1", bwFiles)
	}
}
