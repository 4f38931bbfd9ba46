// Package modules holds the concrete collection jobs the scheduler
// runs: one modrunner.Module per descriptor family, each composing
// fetch/sanitize/persist/peersync into a single per-tick RunOnce.
// Grounded on the per-backend job shape (one small struct per concern,
// a RunOnce method, nothing shared but the Runner/Scheduler plumbing).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package modules

import (
	"context"
	"fmt"
	"time"

	"github.com/tor-collector/collector/cmn"
	"github.com/tor-collector/collector/descriptor"
	"github.com/tor-collector/collector/fetch"
	"github.com/tor-collector/collector/fs"
	"github.com/tor-collector/collector/modrunner"
	"github.com/tor-collector/collector/persist"
	"github.com/tor-collector/collector/stats"
)

// ExitList is the simplest module: a single remote fetch of a
// TorDNSEL-format exit list, persisted verbatim with the
// `@type tordnsel 1.0` annotation; the legacy `@type torperf 1.0`
// mislabel some older collectors emit is not reproduced here.
type ExitList struct {
	Fetcher *fetch.Fetcher
	Writer  *persist.Writer
	Stats   *stats.Registry
}

func NewExitList(fetcher *fetch.Fetcher, writer *persist.Writer) *ExitList {
	return &ExitList{Fetcher: fetcher, Writer: writer}
}

func (m *ExitList) Name() string       { return "Exitlist" }
func (m *ExitList) SyncMarker() string { return "Exitlist" }

func (m *ExitList) RecentMap() []modrunner.RecentMapEntry {
	return []modrunner.RecentMapEntry{{RelDir: "exit-lists", Kind: "exit-list"}}
}

func (m *ExitList) RunOnce(ctx context.Context, snap *cmn.Snapshot) error {
	sources, err := snap.GetSources("ExitlistSources")
	if err != nil {
		return err
	}
	if !sources.Has(cmn.SourceRemote) {
		return nil
	}
	u, err := snap.GetURL("ExitlistUrl")
	if err != nil {
		return err
	}
	if u == nil {
		return &cmn.ConfigError{Field: "ExitlistUrl", Err: fmt.Errorf("not set")}
	}

	now := time.Now().UTC()
	start := time.Now()
	body, err := m.Fetcher.Fetch(ctx, u.String(), false)
	if m.Stats != nil {
		m.Stats.FetchLatency.WithLabelValues(m.Name()).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return cmn.Wrapf(err, "exitlists: fetch")
	}

	// The list's own Downloaded stamp drives the archive partition;
	// the fetch time is only a fallback for bodies without one.
	published := extractStatsEnd(body, "Downloaded")
	if published.IsZero() {
		published = now
	}
	d := &descriptor.Descriptor{
		Kind:       descriptor.ExitList,
		Raw:        body,
		Published:  published,
		ReceivedAt: now,
	}
	paths, err := fs.ComputePaths(d, now)
	if err != nil {
		return cmn.Wrapf(err, "exitlists: compute paths")
	}
	_, _, err = m.Writer.StoreBoth(paths, d)
	return err
}
