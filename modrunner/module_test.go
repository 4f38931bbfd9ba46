package modrunner

import (
	"context"
	"errors"
	"testing"

	"github.com/tor-collector/collector/cmn"
)

type fakeModule struct {
	name      string
	runCalls  int
	runErr    error
	panicOnce bool
}

func (m *fakeModule) Name() string                    { return m.name }
func (m *fakeModule) SyncMarker() string               { return m.name }
func (m *fakeModule) RecentMap() []RecentMapEntry      { return nil }
func (m *fakeModule) RunOnce(ctx context.Context, snap *cmn.Snapshot) error {
	m.runCalls++
	if m.panicOnce {
		m.panicOnce = false
		panic("boom")
	}
	return m.runErr
}

type fakeSyncModule struct {
	fakeModule
	sources  cmn.SourceSet
	syncErr  error
	syncCall int
}

func (m *fakeSyncModule) Sources(snap *cmn.Snapshot) (cmn.SourceSet, error) { return m.sources, nil }
func (m *fakeSyncModule) Sync(ctx context.Context, snap *cmn.Snapshot) error {
	m.syncCall++
	return m.syncErr
}

func TestRunInvokesRunOnce(t *testing.T) {
	r := New(t.TempDir(), 0, nil)
	m := &fakeModule{name: "Exitlist"}
	if err := r.Run(context.Background(), m, &cmn.Snapshot{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m.runCalls != 1 {
		t.Errorf("runCalls = %d, want 1", m.runCalls)
	}
}

func TestRunContainsPanics(t *testing.T) {
	r := New(t.TempDir(), 0, nil)
	m := &fakeModule{name: "Bridgedescs", panicOnce: true}
	err := r.Run(context.Background(), m, &cmn.Snapshot{})
	if err == nil {
		t.Fatal("expected an error surfaced from the panic, got nil")
	}
}

func TestRunSkipsRunOnceWhenOnlySyncConfigured(t *testing.T) {
	r := New(t.TempDir(), 0, nil)
	m := &fakeSyncModule{
		fakeModule: fakeModule{name: "Relaydescs"},
		sources:    cmn.SourceSet{cmn.SourceSync: struct{}{}},
	}
	if err := r.Run(context.Background(), m, &cmn.Snapshot{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m.runCalls != 0 {
		t.Errorf("runCalls = %d, want 0 (sync-only)", m.runCalls)
	}
	if m.syncCall != 1 {
		t.Errorf("syncCall = %d, want 1", m.syncCall)
	}
}

func TestRunCallsSyncAfterNativeWhenBothConfigured(t *testing.T) {
	r := New(t.TempDir(), 0, nil)
	m := &fakeSyncModule{
		fakeModule: fakeModule{name: "Relaydescs"},
		sources:    cmn.SourceSet{cmn.SourceRemote: struct{}{}, cmn.SourceSync: struct{}{}},
	}
	if err := r.Run(context.Background(), m, &cmn.Snapshot{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m.runCalls != 1 {
		t.Errorf("runCalls = %d, want 1", m.runCalls)
	}
	if m.syncCall != 1 {
		t.Errorf("syncCall = %d, want 1", m.syncCall)
	}
}

func TestRunPropagatesRunOnceError(t *testing.T) {
	r := New(t.TempDir(), 0, nil)
	wantErr := errors.New("fetch failed")
	m := &fakeModule{name: "Webstats", runErr: wantErr}
	err := r.Run(context.Background(), m, &cmn.Snapshot{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}
