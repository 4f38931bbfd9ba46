// Package fs computes the two storage paths (archive, recent) every
// descriptor is written to, dispatching purely on its Kind tag. This
// collapses the inheritance-based content-resolver hierarchy
// (fs/content.go's ContentResolver interface) into a single free
// function.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package fs

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/tor-collector/collector/cmn"
	"github.com/tor-collector/collector/descriptor"
)

const timeLayout = "2006-01-02-15-04-05"

// Paths is the (archive, recent) relative-path pair a descriptor
// resolves to.
type Paths struct {
	Archive string
	Recent  string
}

// ComputePaths dispatches a descriptor to its archive/recent path
// pair. receivedAt is the module's collection timestamp, used only
// for the "received" component of batched recent writes (plain
// server-descriptor/extra-info recent batches); every other kind
// partitions on its own semantic Published time.
func ComputePaths(d *descriptor.Descriptor, receivedAt time.Time) (Paths, error) {
	k := d.Kind
	switch k {
	case descriptor.RelayConsensus:
		return timePartitioned(d, "relay-descriptors/consensus", "relay-descriptors/consensuses", "consensus", true)
	case descriptor.MicroConsensus:
		return microConsensusPaths(d)
	case descriptor.RelayVote:
		return votePaths(d)
	case descriptor.ServerDescriptor:
		return contentAddressed(d, "relay-descriptors/server-descriptor", "relay-descriptors/server-descriptors", "server-descriptors", receivedAt)
	case descriptor.ExtraInfo:
		return contentAddressed(d, "relay-descriptors/extra-info", "relay-descriptors/extra-infos", "extra-infos", receivedAt)
	case descriptor.MicroDescriptor:
		return contentAddressed(d, "relay-descriptors/microdesc/micro", "relay-descriptors/micro", "micro", receivedAt)
	case descriptor.KeyCertificate:
		return contentAddressed(d, "relay-descriptors/certs", "relay-descriptors/certs", "certs", receivedAt)
	case descriptor.BridgeNetworkStatus:
		return bridgeStatusPaths(d)
	case descriptor.BridgeServerDescriptor:
		return contentAddressed(d, "bridge-descriptors/server-descriptor", "bridge-descriptors/server-descriptors", "server-descriptors", receivedAt)
	case descriptor.BridgeExtraInfo:
		return contentAddressed(d, "bridge-descriptors/extra-info", "bridge-descriptors/extra-infos", "extra-infos", receivedAt)
	case descriptor.BridgeMicroDescriptor:
		return contentAddressed(d, "bridge-descriptors/micro", "bridge-descriptors/micro", "micro", receivedAt)
	case descriptor.BridgeKeyCertificate:
		return contentAddressed(d, "bridge-descriptors/certs", "bridge-descriptors/certs", "certs", receivedAt)
	case descriptor.BridgePoolAssignment:
		return dailyPartitioned(d, "bridge-pool-assignments", "bridge-pool-assignments")
	case descriptor.ExitList:
		return dailyPartitioned(d, "exit-lists", "exit-lists")
	case descriptor.BandwidthFile:
		return dailyPartitioned(d, "bandwidth-files", "bandwidth-files")
	case descriptor.SnowflakeStats:
		return dailyPartitioned(d, "snowflake-stats", "snowflake-stats")
	case descriptor.BridgeDBMetrics:
		return dailyPartitioned(d, "bridgedb-metrics", "bridgedb-metrics")
	case descriptor.OnionPerf:
		return onionPerfPaths(d)
	case descriptor.WebstatsAccessLog:
		return webstatsPaths(d)
	default:
		return Paths{}, fmt.Errorf("compute paths: %w: unhandled kind %s", cmn.ErrMissingTimestamp, k)
	}
}

func requirePublished(d *descriptor.Descriptor) (time.Time, error) {
	if d.Published.IsZero() {
		return time.Time{}, cmn.ErrMissingTimestamp
	}
	return d.Published.UTC(), nil
}

func requireDigest(d *descriptor.Descriptor) (string, error) {
	if d.Digest == "" {
		return "", cmn.ErrMissingDigest
	}
	return d.Digest, nil
}

// timePartitioned handles the consensus shape: archive partitioned to
// the day, recent flat, both named `<validAfter>-<suffix>`.
func timePartitioned(d *descriptor.Descriptor, archiveDir, recentDir, suffix string, daily bool) (Paths, error) {
	ts, err := requirePublished(d)
	if err != nil {
		return Paths{}, err
	}
	base := ts.Format(timeLayout) + "-" + suffix
	var archive string
	if daily {
		archive = filepath.Join(archiveDir, year(ts), month(ts), day(ts), base)
	} else {
		archive = filepath.Join(archiveDir, year(ts), month(ts), base)
	}
	recent := filepath.Join(recentDir, base)
	return Paths{Archive: archive, Recent: recent}, nil
}

func microConsensusPaths(d *descriptor.Descriptor) (Paths, error) {
	ts, err := requirePublished(d)
	if err != nil {
		return Paths{}, err
	}
	base := ts.Format(timeLayout) + "-consensus-microdesc"
	archive := filepath.Join("relay-descriptors/microdesc", year(ts), month(ts), "consensus-microdesc", day(ts), base)
	recent := filepath.Join("relay-descriptors/microdescs/consensus-microdesc", base)
	return Paths{Archive: archive, Recent: recent}, nil
}

func votePaths(d *descriptor.Descriptor) (Paths, error) {
	ts, err := requirePublished(d)
	if err != nil {
		return Paths{}, err
	}
	digest, err := requireDigest(d)
	if err != nil {
		return Paths{}, err
	}
	if d.AuthFingerprint == "" {
		return Paths{}, cmn.ErrMissingDigest
	}
	base := fmt.Sprintf("%s-vote-%s-%s", ts.Format(timeLayout), d.AuthFingerprint, digest)
	archive := filepath.Join("relay-descriptors/vote", year(ts), month(ts), day(ts), base)
	recent := filepath.Join("relay-descriptors/votes", base)
	return Paths{Archive: archive, Recent: recent}, nil
}

// contentAddressed handles the server-descriptor/extra-info/micro/cert
// shape: archive sharded by two hex digest chars, recent batched under
// the collection's receivedAt timestamp (append-oriented for the
// non-micro/cert kinds).
func contentAddressed(d *descriptor.Descriptor, archiveDir, recentDir, recentSuffix string, receivedAt time.Time) (Paths, error) {
	ts, err := requirePublished(d)
	if err != nil {
		return Paths{}, err
	}
	digest, err := requireDigest(d)
	if err != nil {
		return Paths{}, err
	}
	if len(digest) < 2 {
		return Paths{}, cmn.ErrMissingDigest
	}
	archive := filepath.Join(archiveDir, year(ts), month(ts), digest[0:1], digest[1:2], digest)
	var recent string
	if d.Kind.Append() {
		recent = filepath.Join(recentDir, receivedAt.UTC().Format(timeLayout)+"-"+recentSuffix)
	} else {
		recent = filepath.Join(recentDir, digest)
	}
	return Paths{Archive: archive, Recent: recent}, nil
}

func bridgeStatusPaths(d *descriptor.Descriptor) (Paths, error) {
	ts, err := requirePublished(d)
	if err != nil {
		return Paths{}, err
	}
	if d.AuthFingerprint == "" {
		return Paths{}, cmn.ErrMissingDigest
	}
	base := ts.Format("20060102-150405") + "-" + d.AuthFingerprint
	archive := filepath.Join("bridge-descriptors", year(ts), month(ts), "statuses", day(ts), base)
	recent := filepath.Join("bridge-descriptors/statuses", base)
	return Paths{Archive: archive, Recent: recent}, nil
}

func dailyPartitioned(d *descriptor.Descriptor, archiveDir, recentDir string) (Paths, error) {
	ts, err := requirePublished(d)
	if err != nil {
		return Paths{}, err
	}
	base := ts.Format(timeLayout)
	archive := filepath.Join(archiveDir, year(ts), month(ts), day(ts), base)
	recent := filepath.Join(recentDir, base)
	return Paths{Archive: archive, Recent: recent}, nil
}

func onionPerfPaths(d *descriptor.Descriptor) (Paths, error) {
	ts, err := requirePublished(d)
	if err != nil {
		return Paths{}, err
	}
	host := d.PhysicalHost
	if host == "" {
		host = "onionperf"
	}
	base := host + ".tpf"
	archive := filepath.Join("onionperf", host, year(ts), month(ts), day(ts), base)
	recent := filepath.Join("onionperf", base)
	return Paths{Archive: archive, Recent: recent}, nil
}

func webstatsPaths(d *descriptor.Descriptor) (Paths, error) {
	ts, err := requirePublished(d)
	if err != nil {
		return Paths{}, err
	}
	if d.VirtualHost == "" || d.PhysicalHost == "" {
		return Paths{}, cmn.ErrMissingDigest
	}
	base := fmt.Sprintf("%s_%s_access.log_%s.xz", d.VirtualHost, d.PhysicalHost, ts.Format("20060102"))
	archive := filepath.Join("webstats", d.VirtualHost, year(ts), month(ts), day(ts), base)
	recent := filepath.Join("webstats", base)
	return Paths{Archive: archive, Recent: recent}, nil
}

func year(t time.Time) string  { return t.Format("2006") }
func month(t time.Time) string { return t.Format("01") }
func day(t time.Time) string   { return t.Format("02") }
