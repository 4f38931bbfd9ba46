// Package stats registers and exposes the runtime counters CollecTor
// tracks while running: module invocation counts, module durations,
// fetch latencies, bytes persisted, and secret-store advancement. Grounded
// on stats/target_stats.go's naming convention (`*.n` for
// counters, `*.ns` for latencies, `*.size` for byte counts) but
// re-homed onto github.com/prometheus/client_golang.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import "github.com/prometheus/client_golang/prometheus"

// Registry is a thin wrapper over a dedicated prometheus.Registry so
// CollecTor's process metrics don't collide with whatever external
// web server happens to serve the output tree.
type Registry struct {
	reg *prometheus.Registry

	ModuleRuns     *prometheus.CounterVec // module_runs.n{module}
	ModuleErrors   *prometheus.CounterVec // module_errors.n{module}
	ModuleDuration *prometheus.HistogramVec
	FetchLatency   *prometheus.HistogramVec // fetch.ns{module}
	BytesWritten   *prometheus.CounterVec   // write.size{module,tree}
	SecretsHeld    *prometheus.Gauge        // secrets.n
	SyncDedup      *prometheus.CounterVec   // sync.dedup.n{peer}
	RetentionEvict *prometheus.CounterVec   // lru.evict.n{tree}
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		ModuleRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_module_runs_total",
			Help: "Number of times a module's runOnce completed.",
		}, []string{"module"}),
		ModuleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_module_errors_total",
			Help: "Number of module runs that returned an error.",
		}, []string{"module"}),
		ModuleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "collector_module_duration_seconds",
			Help: "Wall-clock duration of a module's runOnce.",
		}, []string{"module"}),
		FetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "collector_fetch_duration_seconds",
			Help: "HTTP fetch latency.",
		}, []string{"module"}),
		BytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_bytes_written_total",
			Help: "Bytes persisted, by tree (archive|recent).",
		}, []string{"module", "tree"}),
		SyncDedup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_sync_dedup_total",
			Help: "Sync descriptors skipped because the archive already had them.",
		}, []string{"peer"}),
		RetentionEvict: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_retention_evicted_total",
			Help: "Files deleted by a retention sweep.",
		}, []string{"tree"}),
	}
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "collector_secrets_held",
		Help: "Number of months currently held in the bridge secret store.",
	})
	r.SecretsHeld = &gauge

	reg.MustRegister(r.ModuleRuns, r.ModuleErrors, r.ModuleDuration, r.FetchLatency, r.BytesWritten, gauge, r.SyncDedup, r.RetentionEvict)
	return r
}

// Gatherer exposes the underlying prometheus.Gatherer for an embedder
// that wants to serve /metrics itself; CollecTor's own process does
// not start an HTTP server for this (the web server that serves the
// output tree is an external collaborator).
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
