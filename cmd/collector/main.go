// Command collector is CollecTor's entrypoint: an optional single
// positional argument naming a configuration file. Grounded on
// cmd/aisnode/main.go's shape (parse flags/args, load config, wire the
// daemon, run until shutdown signal).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/tor-collector/collector/cmn"
	"github.com/tor-collector/collector/descriptor"
	"github.com/tor-collector/collector/diskspace"
	"github.com/tor-collector/collector/fetch"
	"github.com/tor-collector/collector/index"
	"github.com/tor-collector/collector/modrunner"
	"github.com/tor-collector/collector/modules"
	"github.com/tor-collector/collector/peersync"
	"github.com/tor-collector/collector/persist"
	"github.com/tor-collector/collector/retention"
	"github.com/tor-collector/collector/sanitize"
	"github.com/tor-collector/collector/sched"
	"github.com/tor-collector/collector/stats"
)

const defaultConfigPath = "./collector.properties"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 1 {
		fmt.Fprintln(os.Stderr, "usage: collector [config-file]")
		return 2
	}

	configPath := ""
	if len(args) == 1 {
		configPath = args[0]
	}

	if configPath == "" {
		if err := os.WriteFile(defaultConfigPath, []byte(cmn.DefaultTemplate), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "collector: write default config: %v\n", err)
			return 1
		}
		fmt.Printf("Wrote default configuration to %s. Edit it and re-run with that path.\n", defaultConfigPath)
		return 0
	}

	port, err := cmn.Load(configPath)
	if err != nil {
		glog.Errorf("collector: %v", err)
		return 1
	}
	snap := port.Snapshot()

	scheduler, runOnce, err := wire(port, snap)
	if err != nil {
		glog.Errorf("collector: wiring: %v", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		glog.Infof("collector: shutdown signal received")
		cancel()
	}()

	if runOnce {
		if err := scheduler.RunOnce(ctx); err != nil {
			glog.Errorf("collector: run-once completed with errors: %v", err)
			return 1
		}
		return 0
	}

	// Hot reload: the watch republishes the Port's snapshot; each
	// module picks it up at its next tick, never mid-run.
	watchStop := make(chan struct{})
	defer close(watchStop)
	if _, err := port.Watch(watchStop); err != nil {
		glog.Warningf("collector: config watch disabled: %v", err)
	}

	scheduler.Start(ctx)
	<-ctx.Done()
	scheduler.Shutdown()
	return 0
}

// wire builds every module and the scheduler from the configuration
// snapshot.
func wire(port *cmn.Port, snap *cmn.Snapshot) (*sched.Scheduler, bool, error) {
	outPath, err := snap.GetPath("OutPath", "./out")
	if err != nil {
		return nil, false, err
	}
	archivePath, err := snap.GetPath("ArchivePath", "./out/archive")
	if err != nil {
		return nil, false, err
	}
	recentPath, err := snap.GetPath("RecentPath", "./out/recent")
	if err != nil {
		return nil, false, err
	}
	indexPath, err := snap.GetPath("IndexPath", "./out/index")
	if err != nil {
		return nil, false, err
	}
	statsPath, err := snap.GetPath("StatsPath", "./stats")
	if err != nil {
		return nil, false, err
	}
	syncPath, err := snap.GetPath("SyncPath", "./sync")
	if err != nil {
		return nil, false, err
	}
	htdocsPath, err := snap.GetPath("HtdocsPath", "./htdocs")
	if err != nil {
		return nil, false, err
	}
	instanceBaseURL := snap.GetString("InstanceBaseUrl", "")
	diskCriticalBytes, err := snap.GetLong("DiskSpaceCriticalBytes", diskspace.DefaultCriticalBytes)
	if err != nil {
		return nil, false, err
	}
	graceMinutes, err := snap.GetLong("ShutdownGraceWaitMinutes", 10)
	if err != nil {
		return nil, false, err
	}
	runOnce, err := snap.GetBool("RunOnce", false)
	if err != nil {
		return nil, false, err
	}

	if err := os.MkdirAll(statsPath, 0o755); err != nil {
		return nil, false, err
	}
	if err := os.MkdirAll(syncPath, 0o755); err != nil {
		return nil, false, err
	}

	st := stats.New()
	fetcher := fetch.New()
	writer := persist.New(archivePath, recentPath)
	runner := modrunner.New(outPath, uint64(diskCriticalBytes), st)

	scheduler := sched.New(runner, port.Snapshot, time.Duration(graceMinutes)*time.Minute)

	exitList := modules.NewExitList(fetcher, writer)
	exitList.Stats = st
	registerModule(scheduler, snap, exitList)

	relayParser := descriptor.NewGenericParser(descriptor.ServerDescriptor)
	engine := peersync.New(fetcher, writer, syncPath, st)
	relayHistory, err := peersync.LoadHistory(syncPath + "/relaydescs.history")
	if err != nil {
		return nil, false, err
	}
	peerURLs, err := snap.GetURLList("RelaydescsSyncOrigins")
	if err != nil {
		return nil, false, err
	}
	peerBaseURL := ""
	if len(peerURLs) > 0 {
		peerBaseURL = peerURLs[0].String()
	}
	relay := modules.NewRelay(fetcher, writer, engine, relayParser, relayHistory, peerBaseURL, "relay-descriptors")
	relay.Stats = st
	registerModule(scheduler, snap, relay)

	secretsPath, err := snap.GetPath("BridgeSecretsPath", "./bridge-secrets")
	if err != nil {
		return nil, false, err
	}
	secretStore, err := sanitize.LoadStore(secretsPath)
	if err != nil {
		return nil, false, err
	}
	limitDays, err := snap.GetInt("BridgeDescriptorMappingsLimit", cmn.MaxInt)
	if err != nil {
		return nil, false, err
	}
	retentionHorizon := time.Duration(0) // unlimited
	if limitDays != cmn.MaxInt {
		retentionHorizon = time.Duration(limitDays) * 24 * time.Hour
	}
	sanitizer := sanitize.New(secretStore, true, retentionHorizon)
	bridgeParser := descriptor.NewGenericParser(descriptor.BridgeServerDescriptor)
	bridge := modules.NewBridge(fetcher, writer, sanitizer, descriptor.GenericRewriter{}, bridgeParser)
	bridge.Stats = st
	registerModule(scheduler, snap, bridge)

	onionPerf := modules.NewOnionPerf(fetcher, writer)
	onionPerf.Stats = st
	registerModule(scheduler, snap, onionPerf)

	snowflake := modules.NewSnowflake(fetcher, writer)
	snowflake.Stats = st
	registerModule(scheduler, snap, snowflake)

	bridgeDB := modules.NewBridgeDBMetrics(fetcher, writer)
	bridgeDB.Stats = st
	registerModule(scheduler, snap, bridgeDB)

	bridgePool := modules.NewBridgePool(writer)
	bridgePool.Stats = st
	registerModule(scheduler, snap, bridgePool)

	webstats := modules.NewWebstats(fetcher, writer, 4)
	webstats.Stats = st
	registerModule(scheduler, snap, webstats)

	// the indexer needs a parser to derive each file's first/last
	// published range; the annotation-driven generic parser suffices.
	builder := index.NewBuilder(instanceBaseURL, "", []index.Root{
		{Label: "archive", Path: archivePath},
		{Label: "recent", Path: recentPath},
	}, 8, descriptor.NewGenericParser(descriptor.KindUnknown))
	indexer := modules.NewIndexer(indexPath, htdocsPath+"/recent", builder)
	registerModule(scheduler, snap, indexer)

	finalizer := modules.NewFinalizer(writer, retention.DefaultPolicy)
	registerModule(scheduler, snap, finalizer)

	return scheduler, runOnce, nil
}

func registerModule(scheduler *sched.Scheduler, snap *cmn.Snapshot, m modrunner.Module) {
	enabled, err := snap.ModuleEnabled(m.Name())
	if err != nil {
		glog.Errorf("collector: %s: %v", m.Name(), err)
		return
	}
	if !enabled {
		return
	}
	offset, period, err := snap.ModuleSchedule(m.Name())
	if err != nil {
		glog.Errorf("collector: %s: %v", m.Name(), err)
		return
	}
	scheduler.Register(sched.Job{Module: m, OffsetMinutes: offset, PeriodMinutes: period})
}
