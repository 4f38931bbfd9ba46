package modules

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/tor-collector/collector/cmn"
	"github.com/tor-collector/collector/descriptor"
	"github.com/tor-collector/collector/fetch"
	"github.com/tor-collector/collector/fs"
	"github.com/tor-collector/collector/modrunner"
	"github.com/tor-collector/collector/persist"
	"github.com/tor-collector/collector/stats"
)

// OnionPerf downloads .tpf measurement results from every configured
// OnionPerf host. Results are append-oriented: each host contributes
// one per-day archive file and one flat rolling recent file, both
// named after the host, so repeated fetches of the same day's results
// extend the same file rather than creating siblings.
type OnionPerf struct {
	Fetcher *fetch.Fetcher
	Writer  *persist.Writer
	Stats   *stats.Registry
}

func NewOnionPerf(fetcher *fetch.Fetcher, writer *persist.Writer) *OnionPerf {
	return &OnionPerf{Fetcher: fetcher, Writer: writer}
}

func (m *OnionPerf) Name() string       { return "Onionperf" }
func (m *OnionPerf) SyncMarker() string { return "Onionperf" }

func (m *OnionPerf) RecentMap() []modrunner.RecentMapEntry {
	return []modrunner.RecentMapEntry{{RelDir: "onionperf", Kind: "torperf"}}
}

func (m *OnionPerf) RunOnce(ctx context.Context, snap *cmn.Snapshot) error {
	sources, err := snap.GetSources("OnionperfSources")
	if err != nil {
		return err
	}
	if !sources.Has(cmn.SourceRemote) {
		return nil
	}
	hosts, err := snap.GetURLList("OnionPerfHosts")
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, u := range hosts {
		select {
		case <-ctx.Done():
			return cmn.ErrShutdownRequested
		default:
		}
		start := time.Now()
		body, ferr := m.Fetcher.Fetch(ctx, u.String(), true)
		if m.Stats != nil {
			m.Stats.FetchLatency.WithLabelValues(m.Name()).Observe(time.Since(start).Seconds())
		}
		if ferr != nil {
			glog.Warningf("onionperf: fetch %s: %v", u.Host, ferr)
			continue
		}

		// .tpf results roll per collection day; partition on the fetch
		// time rather than a per-measurement timestamp.
		d := &descriptor.Descriptor{
			Kind:         descriptor.OnionPerf,
			Raw:          body,
			Published:    now,
			ReceivedAt:   now,
			PhysicalHost: u.Hostname(),
		}
		paths, perr := fs.ComputePaths(d, now)
		if perr != nil {
			glog.Warningf("onionperf: compute paths for %s: %v", u.Host, perr)
			continue
		}
		if _, _, werr := m.Writer.StoreBoth(paths, d); werr != nil {
			return werr
		}
	}
	return nil
}
