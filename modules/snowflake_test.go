package modules

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tor-collector/collector/fetch"
	"github.com/tor-collector/collector/persist"
)

func TestSnowflakeRunOncePartitionsOnStatsEnd(t *testing.T) {
	body := "snowflake-stats-end 2026-07-30 12:00:00 (86400 s)\n" +
		"snowflake-ips CA=12,DE=7\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	writer := persist.New(filepath.Join(dir, "archive"), filepath.Join(dir, "recent"))
	m := NewSnowflake(fetch.New(), writer)

	snap := loadSnapshot(t, map[string]string{
		"SnowflakeSources":  "Remote",
		"SnowflakeStatsUrl": srv.URL,
	})

	if err := m.RunOnce(context.Background(), snap); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	want := filepath.Join(dir, "archive", "snowflake-stats", "2026", "07", "30", "2026-07-30-12-00-00")
	b, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("expected archive file at stats-end partition: %v", err)
	}
	if !strings.HasPrefix(string(b), "@type snowflake-stats 1.0\n") {
		t.Errorf("stored bytes should begin with the kind-default annotation, got %q", string(b[:30]))
	}
}

func TestExtractStatsEnd(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{
			name: "well-formed",
			raw:  "snowflake-stats-end 2026-07-30 12:00:00 (86400 s)\n",
			want: time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC),
		},
		{name: "absent", raw: "snowflake-ips CA=12\n"},
		{name: "truncated value", raw: "snowflake-stats-end 2026-07\n"},
		{name: "garbage value", raw: "snowflake-stats-end not-a-time stamp x\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := extractStatsEnd([]byte(tc.raw), "snowflake-stats-end")
			if !got.Equal(tc.want) {
				t.Errorf("extractStatsEnd = %v, want %v", got, tc.want)
			}
		})
	}
}
