// Package modrunner defines the Module lifecycle and the runner that
// wraps every invocation with the pre-flight disk check, sync-only
// detection, sync-phase dispatch, and panic containment the scheduler
// depends on never seeing escape. Grounded on the stats runner loop
// shape (a long-lived worker invoked on a timer that never lets a
// single iteration's failure kill the process).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package modrunner

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/golang/glog"

	"github.com/tor-collector/collector/cmn"
	"github.com/tor-collector/collector/diskspace"
	"github.com/tor-collector/collector/stats"
)

// RecentMapEntry is one declared `{recent-relative-dir -> kind}`
// export a module advertises, consumed by the indexer to classify
// files it encounters without re-deriving kind from the file path.
type RecentMapEntry struct {
	RelDir string
	Kind   string
}

// Module is the interface every collection job implements.
type Module interface {
	Name() string
	SyncMarker() string
	RecentMap() []RecentMapEntry
	RunOnce(ctx context.Context, snap *cmn.Snapshot) error
}

// SyncCapable is implemented by modules whose configured sources may
// include cmn.SourceSync; the runner invokes Sync after native
// processing when the snapshot's `<Marker>Sources` key contains it.
type SyncCapable interface {
	Module
	Sync(ctx context.Context, snap *cmn.Snapshot) error
	Sources(snap *cmn.Snapshot) (cmn.SourceSet, error)
}

// Runner wraps Module.RunOnce with the cross-cutting concerns every
// module needs: disk-space checks, sync dispatch, stats, and
// exception safety.
type Runner struct {
	OutPath          string
	DiskThreshold    uint64
	Stats            *stats.Registry
}

func New(outPath string, diskThreshold uint64, st *stats.Registry) *Runner {
	return &Runner{OutPath: outPath, DiskThreshold: diskThreshold, Stats: st}
}

// Run executes one module invocation: (1) pre-flight disk-space
// check; (2) sync-only detection; (3) sync phase; (4) exception
// safety -- any panic is logged and does not propagate.
func (r *Runner) Run(ctx context.Context, m Module, snap *cmn.Snapshot) (err error) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			glog.Errorf("module %s panicked: %v\n%s", m.Name(), rec, debug.Stack())
			err = fmt.Errorf("module %s panicked: %v", m.Name(), rec)
		}
		if r.Stats != nil {
			r.Stats.ModuleRuns.WithLabelValues(m.Name()).Inc()
			r.Stats.ModuleDuration.WithLabelValues(m.Name()).Observe(time.Since(start).Seconds())
			if err != nil {
				r.Stats.ModuleErrors.WithLabelValues(m.Name()).Inc()
			}
		}
	}()

	if critical, free, derr := diskspace.CheckCritical(r.OutPath, r.DiskThreshold); derr == nil && critical {
		glog.Warningf("module %s: disk space critical before run (%d bytes free)", m.Name(), free)
	}

	sc, isSyncCapable := m.(SyncCapable)
	var sources cmn.SourceSet
	if isSyncCapable {
		sources, err = sc.Sources(snap)
		if err != nil {
			return err
		}
	}

	onlySync := isSyncCapable && sources.OnlySync()
	if !onlySync {
		select {
		case <-ctx.Done():
			return cmn.ErrShutdownRequested
		default:
		}
		if err = m.RunOnce(ctx, snap); err != nil {
			glog.Errorf("module %s: runOnce: %v", m.Name(), err)
			return err
		}
	}

	if isSyncCapable && sources.Has(cmn.SourceSync) {
		if err = sc.Sync(ctx, snap); err != nil {
			glog.Errorf("module %s: sync: %v", m.Name(), err)
			return err
		}
	}
	return nil
}
