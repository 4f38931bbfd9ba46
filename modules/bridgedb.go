package modules

import (
	"context"
	"time"

	"github.com/tor-collector/collector/cmn"
	"github.com/tor-collector/collector/descriptor"
	"github.com/tor-collector/collector/fetch"
	"github.com/tor-collector/collector/fs"
	"github.com/tor-collector/collector/modrunner"
	"github.com/tor-collector/collector/persist"
	"github.com/tor-collector/collector/stats"
)

// BridgeDBMetrics fetches BridgeDB's daily distribution metrics
// document. The document contains only aggregate counts, never bridge
// identities, so no sanitization pass is needed before persisting.
type BridgeDBMetrics struct {
	Fetcher *fetch.Fetcher
	Writer  *persist.Writer
	Stats   *stats.Registry
}

func NewBridgeDBMetrics(fetcher *fetch.Fetcher, writer *persist.Writer) *BridgeDBMetrics {
	return &BridgeDBMetrics{Fetcher: fetcher, Writer: writer}
}

func (m *BridgeDBMetrics) Name() string       { return "Bridgedbmetrics" }
func (m *BridgeDBMetrics) SyncMarker() string { return "Bridgedbmetrics" }

func (m *BridgeDBMetrics) RecentMap() []modrunner.RecentMapEntry {
	return []modrunner.RecentMapEntry{{RelDir: "bridgedb-metrics", Kind: "bridgedb-metrics"}}
}

func (m *BridgeDBMetrics) RunOnce(ctx context.Context, snap *cmn.Snapshot) error {
	sources, err := snap.GetSources("BridgedbmetricsSources")
	if err != nil {
		return err
	}
	if !sources.Has(cmn.SourceRemote) {
		return nil
	}
	u, err := snap.GetURL("BridgedbMetricsUrl")
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
		return cmn.Wrapf(err, "bridgedbmetrics: fetch")
	}

	published := extractStatsEnd(body, "bridgedb-metrics-end")
	if published.IsZero() {
		published = now
	}
	d := &descriptor.Descriptor{
		Kind:       descriptor.BridgeDBMetrics,
		Raw:        body,
		Published:  published,
		ReceivedAt: now,
	}
	paths, err := fs.ComputePaths(d, now)
	if err != nil {
		return cmn.Wrapf(err, "bridgedbmetrics: compute paths")
	}
	_, _, err = m.Writer.StoreBoth(paths, d)
	return err
}
