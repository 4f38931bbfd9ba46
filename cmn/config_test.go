package cmn

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeProps(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "collector.properties")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadParsesKeyValuePairsAndSkipsCommentsBlanks(t *testing.T) {
	dir := t.TempDir()
	path := writeProps(t, dir, "# a comment\n\nOutPath = ./out\nRunOnce=true\n")
	port, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap := port.Snapshot()
	if got := snap.GetString("OutPath", ""); got != "./out" {
		t.Errorf("OutPath = %q, want ./out", got)
	}
	if got, err := snap.GetBool("RunOnce", false); err != nil || !got {
		t.Errorf("RunOnce = %v, %v, want true, nil", got, err)
	}
}

func TestLoadRejectsLineWithoutEquals(t *testing.T) {
	dir := t.TempDir()
	path := writeProps(t, dir, "ThisLineIsMalformed\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a line with no '='")
	}
}

func TestGetPathResolvesRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := writeProps(t, dir, "ArchivePath = ./archive\nAbsPath = /tmp/abs\n")
	port, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap := port.Snapshot()

	got, err := snap.GetPath("ArchivePath", "")
	if err != nil {
		t.Fatalf("GetPath: %v", err)
	}
	if want := filepath.Join(dir, "archive"); got != want {
		t.Errorf("ArchivePath = %q, want %q", got, want)
	}

	got, err = snap.GetPath("AbsPath", "")
	if err != nil {
		t.Fatalf("GetPath: %v", err)
	}
	if got != "/tmp/abs" {
		t.Errorf("AbsPath = %q, want /tmp/abs", got)
	}
}

func TestGetPathMissingAndEmptyIsConfigError(t *testing.T) {
	dir := t.TempDir()
	path := writeProps(t, dir, "Foo = bar\n")
	port, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := port.Snapshot().GetPath("NoSuchKey", ""); err == nil {
		t.Fatal("expected an error for an unset required path")
	}
}

func TestGetIntInfResolvesToMaxInt(t *testing.T) {
	dir := t.TempDir()
	path := writeProps(t, dir, "BridgeDescriptorMappingsLimit = inf\n")
	port, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, err := port.Snapshot().GetInt("BridgeDescriptorMappingsLimit", 0)
	if err != nil {
		t.Fatalf("GetInt: %v", err)
	}
	if got != MaxInt {
		t.Errorf("got %d, want MaxInt", got)
	}
}

func TestGetSourcesParsesAndRejectsUnknownToken(t *testing.T) {
	dir := t.TempDir()
	path := writeProps(t, dir, "RelaydescsSources = Remote,Sync\nBad = Bogus\n")
	port, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap := port.Snapshot()

	set, err := snap.GetSources("RelaydescsSources")
	if err != nil {
		t.Fatalf("GetSources: %v", err)
	}
	if !set.Has(SourceRemote) || !set.Has(SourceSync) || set.OnlySync() {
		t.Errorf("unexpected set: %v", set)
	}

	if _, err := snap.GetSources("Bad"); err == nil {
		t.Fatal("expected an error for an unknown source token")
	}
}

func TestSourceSetOnlySync(t *testing.T) {
	set := SourceSet{SourceSync: struct{}{}}
	if !set.OnlySync() {
		t.Error("expected OnlySync true for a lone Sync entry")
	}
	set[SourceRemote] = struct{}{}
	if set.OnlySync() {
		t.Error("expected OnlySync false once Remote is also present")
	}
}

func TestModuleEnabledAndSchedule(t *testing.T) {
	dir := t.TempDir()
	path := writeProps(t, dir, "ExitlistActivated = true\nExitlistOffsetMinutes = 5\nExitlistPeriodMinutes = 30\n")
	port, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap := port.Snapshot()

	enabled, err := snap.ModuleEnabled("Exitlist")
	if err != nil || !enabled {
		t.Errorf("ModuleEnabled = %v, %v, want true, nil", enabled, err)
	}
	offset, period, err := snap.ModuleSchedule("Exitlist")
	if err != nil || offset != 5 || period != 30 {
		t.Errorf("ModuleSchedule = %d, %d, %v, want 5, 30, nil", offset, period, err)
	}
}

func TestModuleScheduleDefaultsWhenUnset(t *testing.T) {
	dir := t.TempDir()
	path := writeProps(t, dir, "Unrelated = 1\n")
	port, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	offset, period, err := port.Snapshot().ModuleSchedule("Webstats")
	if err != nil || offset != 0 || period != 60 {
		t.Errorf("ModuleSchedule defaults = %d, %d, %v, want 0, 60, nil", offset, period, err)
	}
}

func TestWatchEmitsSnapshotOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeProps(t, dir, "OutPath = ./out\n")
	port, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	ch, err := port.Watch(stop)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(path, []byte("OutPath = ./out2\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatal("watch channel closed unexpectedly")
		}
		if got := snap.GetString("OutPath", ""); got != "./out2" {
			t.Errorf("reloaded OutPath = %q, want ./out2", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a reload event")
	}
}
