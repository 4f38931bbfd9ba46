// Package descriptor defines the typed record model shared by every
// collection module: the descriptor kinds CollecTor knows how to
// store, their on-disk `@type` annotations, and the facets
// (timestamps, identity) the path calculator and persistence writer
// need to place a descriptor on disk.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package descriptor

// Kind tags a Descriptor with the semantic facets the path calculator
// (fs.ComputePaths) and persistence writer (persist.Writer) dispatch on.
type Kind int

const (
	KindUnknown Kind = iota
	RelayConsensus
	MicroConsensus
	RelayVote
	ServerDescriptor
	ExtraInfo
	MicroDescriptor
	KeyCertificate
	BridgeNetworkStatus
	BridgeServerDescriptor
	BridgeExtraInfo
	BridgeMicroDescriptor
	BridgeKeyCertificate
	BridgePoolAssignment
	BridgeDBMetrics
	ExitList
	OnionPerf
	BandwidthFile
	SnowflakeStats
	WebstatsAccessLog
)

// Annotation is the kind-default `@type <kind> <version>` line the
// persistence writer prepends when a descriptor's raw bytes do not
// already begin with one.
func (k Kind) Annotation() string {
	a, ok := annotations[k]
	if !ok {
		return ""
	}
	return a
}

// Append reports whether recent-tree writes for this kind use
// create-new-or-append semantics as opposed to strict create-new
// (content-addressed kinds).
func (k Kind) Append() bool {
	switch k {
	case RelayConsensus, MicroConsensus, ExitList, OnionPerf, WebstatsAccessLog,
		BandwidthFile, SnowflakeStats, BridgeDBMetrics, ServerDescriptor, ExtraInfo,
		BridgeServerDescriptor, BridgeExtraInfo:
		return true
	default:
		return false
	}
}

// ContentAddressed reports whether archive paths for this kind are
// sharded by content digest rather than purely time-partitioned.
func (k Kind) ContentAddressed() bool {
	switch k {
	case ServerDescriptor, ExtraInfo, MicroDescriptor, KeyCertificate,
		BridgeServerDescriptor, BridgeExtraInfo, BridgeMicroDescriptor, BridgeKeyCertificate:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

var kindNames = map[Kind]string{
	RelayConsensus:         "relay-consensus",
	MicroConsensus:         "micro-consensus",
	RelayVote:              "relay-vote",
	ServerDescriptor:       "server-descriptor",
	ExtraInfo:              "extra-info",
	MicroDescriptor:        "micro-descriptor",
	KeyCertificate:         "key-certificate",
	BridgeNetworkStatus:    "bridge-network-status",
	BridgeServerDescriptor: "bridge-server-descriptor",
	BridgeExtraInfo:        "bridge-extra-info",
	BridgeMicroDescriptor:  "bridge-micro-descriptor",
	BridgeKeyCertificate:   "bridge-key-certificate",
	BridgePoolAssignment:   "bridge-pool-assignment",
	BridgeDBMetrics:        "bridgedb-metrics",
	ExitList:               "exit-list",
	OnionPerf:              "onion-perf",
	BandwidthFile:          "bandwidth-file",
	SnowflakeStats:         "snowflake-stats",
	WebstatsAccessLog:      "web-access-log",
}

// annotations mirrors the real CollecTor `@type` tokens; version
// numbers track the wire formats these kinds have shipped with.
var annotations = map[Kind]string{
	RelayConsensus:         "@type network-status-consensus-3 1.0\n",
	MicroConsensus:         "@type network-status-microdesc-consensus-3 1.0\n",
	RelayVote:              "@type network-status-vote-3 1.0\n",
	ServerDescriptor:       "@type server-descriptor 1.0\n",
	ExtraInfo:              "@type extra-info 1.0\n",
	MicroDescriptor:        "@type microdescriptor 1.0\n",
	KeyCertificate:         "@type dir-key-certificate-3 1.0\n",
	BridgeNetworkStatus:    "@type bridge-network-status 1.2\n",
	BridgeServerDescriptor: "@type bridge-server-descriptor 1.2\n",
	BridgeExtraInfo:        "@type bridge-extra-info 1.3\n",
	BridgeMicroDescriptor:  "@type bridge-microdescriptor 1.2\n",
	BridgeKeyCertificate:   "@type dir-key-certificate-3 1.0\n",
	BridgePoolAssignment:   "@type bridge-pool-assignment 1.0\n",
	BridgeDBMetrics:        "@type bridgedb-metrics 1.0\n",
	ExitList:               "@type tordnsel 1.0\n",
	OnionPerf:              "@type torperf 1.1\n",
	BandwidthFile:          "@type bandwidth-file 1.0\n",
	SnowflakeStats:         "@type snowflake-stats 1.0\n",
	WebstatsAccessLog:      "@type web-server-access-log 1.0\n",
}
