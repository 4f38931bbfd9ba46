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
	"github.com/tor-collector/collector/peersync"
	"github.com/tor-collector/collector/stats"
)

// Relay fetches consensuses and server descriptors directly from a
// configured directory authority/cache (native mode) and, when
// configured with Sync sources, mirrors the same kinds from peer
// CollecTor instances. It is the module that exercises both the
// native fetch path and the sync engine.
type Relay struct {
	Fetcher *fetch.Fetcher
	Writer  *persist.Writer
	Engine  *peersync.Engine
	Parser  descriptor.Parser

	History     *peersync.History
	PeerBaseURL string
	PeerRemote  string
	Stats       *stats.Registry
}

func NewRelay(fetcher *fetch.Fetcher, writer *persist.Writer, engine *peersync.Engine, parser descriptor.Parser, history *peersync.History, peerBaseURL, peerRemote string) *Relay {
	return &Relay{Fetcher: fetcher, Writer: writer, Engine: engine, Parser: parser, History: history, PeerBaseURL: peerBaseURL, PeerRemote: peerRemote}
}

func (m *Relay) Name() string       { return "Relaydescs" }
func (m *Relay) SyncMarker() string { return "Relaydescs" }

func (m *Relay) RecentMap() []modrunner.RecentMapEntry {
	return []modrunner.RecentMapEntry{
		{RelDir: "relay-descriptors/consensuses", Kind: "relay-consensus"},
		{RelDir: "relay-descriptors/server-descriptors", Kind: "server-descriptor"},
		{RelDir: "relay-descriptors/extra-infos", Kind: "extra-info"},
		{RelDir: "bandwidth-files", Kind: "bandwidth-file"},
	}
}

func (m *Relay) Sources(snap *cmn.Snapshot) (cmn.SourceSet, error) {
	return snap.GetSources("RelaydescsSources")
}

func (m *Relay) RunOnce(ctx context.Context, snap *cmn.Snapshot) error {
	sources, err := snap.GetSources("RelaydescsSources")
	if err != nil {
		return err
	}
	if !sources.Has(cmn.SourceRemote) {
		return nil
	}
	u, err := snap.GetURL("RelaydescsUrl")
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
		return cmn.Wrapf(err, "relaydescs: fetch")
	}

	descs, _ := m.Parser.Parse(body)
	for _, d := range descs {
		d.ReceivedAt = now
		paths, perr := fs.ComputePaths(d, now)
		if perr != nil {
			continue
		}
		if _, _, werr := m.Writer.StoreBoth(paths, d); werr != nil {
			return werr
		}
	}

	return m.fetchBandwidthFiles(ctx, snap, now)
}

// fetchBandwidthFiles downloads each directory authority's most recent
// bandwidth file. The authorities publish them alongside votes, so
// they ride the relay module's schedule rather than having one of
// their own.
func (m *Relay) fetchBandwidthFiles(ctx context.Context, snap *cmn.Snapshot, now time.Time) error {
	urls, err := snap.GetURLList("RelaydescsBandwidthUrls")
	if err != nil {
		return err
	}
	for _, u := range urls {
		start := time.Now()
		body, ferr := m.Fetcher.Fetch(ctx, u.String(), true)
		if m.Stats != nil {
			m.Stats.FetchLatency.WithLabelValues(m.Name()).Observe(time.Since(start).Seconds())
		}
		if ferr != nil {
			continue
		}
		d := &descriptor.Descriptor{
			Kind:       descriptor.BandwidthFile,
			Raw:        body,
			Published:  now,
			ReceivedAt: now,
		}
		paths, perr := fs.ComputePaths(d, now)
		if perr != nil {
			continue
		}
		if _, _, werr := m.Writer.StoreBoth(paths, d); werr != nil {
			return werr
		}
	}
	return nil
}

// Sync implements modrunner.SyncCapable, delegating to the shared
// peersync.Engine.
func (m *Relay) Sync(ctx context.Context, snap *cmn.Snapshot) error {
	if m.PeerBaseURL == "" {
		return nil
	}
	now := time.Now().UTC()
	_, err := m.Engine.SyncPeer(ctx, m.PeerBaseURL, m.PeerRemote, m.Parser, m.History, now, m.Name())
	return err
}
