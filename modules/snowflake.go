package modules

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/tor-collector/collector/cmn"
	"github.com/tor-collector/collector/descriptor"
	"github.com/tor-collector/collector/fetch"
	"github.com/tor-collector/collector/fs"
	"github.com/tor-collector/collector/modrunner"
	"github.com/tor-collector/collector/persist"
	"github.com/tor-collector/collector/stats"
)

// Snowflake fetches the snowflake broker's daily statistics document
// and persists it partitioned on the interval-end timestamp the
// document itself declares.
type Snowflake struct {
	Fetcher *fetch.Fetcher
	Writer  *persist.Writer
	Stats   *stats.Registry
}

func NewSnowflake(fetcher *fetch.Fetcher, writer *persist.Writer) *Snowflake {
	return &Snowflake{Fetcher: fetcher, Writer: writer}
}

func (m *Snowflake) Name() string       { return "Snowflake" }
func (m *Snowflake) SyncMarker() string { return "Snowflake" }

func (m *Snowflake) RecentMap() []modrunner.RecentMapEntry {
	return []modrunner.RecentMapEntry{{RelDir: "snowflake-stats", Kind: "snowflake-stats"}}
}

func (m *Snowflake) RunOnce(ctx context.Context, snap *cmn.Snapshot) error {
	sources, err := snap.GetSources("SnowflakeSources")
	if err != nil {
		return err
	}
	if !sources.Has(cmn.SourceRemote) {
		return nil
	}
	u, err := snap.GetURL("SnowflakeStatsUrl")
	if err != nil {
		return err
	}
	if u == nil {
		return nil
	}

	now := time.Now().UTC()
	start := time.Now()
	body, err := m.Fetcher.Fetch(ctx, u.String(), true)
	if m.Stats != nil {
		m.Stats.FetchLatency.WithLabelValues(m.Name()).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return cmn.Wrapf(err, "snowflake: fetch")
	}

	published := extractStatsEnd(body, "snowflake-stats-end")
	if published.IsZero() {
		published = now
	}
	d := &descriptor.Descriptor{
		Kind:       descriptor.SnowflakeStats,
		Raw:        body,
		Published:  published,
		ReceivedAt: now,
	}
	paths, err := fs.ComputePaths(d, now)
	if err != nil {
		return cmn.Wrapf(err, "snowflake: compute paths")
	}
	_, _, err = m.Writer.StoreBoth(paths, d)
	return err
}

// extractStatsEnd scans a document for a `<field> YYYY-MM-DD HH:MM:SS`
// line (anything after the timestamp, such as a stats interval length,
// is ignored) and returns the declared time, or the zero time when no
// such line is present.
func extractStatsEnd(raw []byte, field string) time.Time {
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	prefix := field + " "
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		val := strings.TrimPrefix(line, prefix)
		if len(val) < 19 {
			return time.Time{}
		}
		t, err := time.Parse("2006-01-02 15:04:05", val[:19])
		if err != nil {
			return time.Time{}
		}
		return t
	}
	return time.Time{}
}
