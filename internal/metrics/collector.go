// Package metrics exposes the coordinator state to Prometheus and as a JSON
// health document.
package metrics

import (
	"runtime"
	"time"

	"github.com/dagu-org/sysgenid/internal/coordinator"
	"github.com/dagu-org/sysgenid/internal/core/watcher"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// SnapshotSource is satisfied by *coordinator.Coordinator.
type SnapshotSource interface {
	Snapshot() coordinator.Snapshot
}

// Collector implements prometheus.Collector over coordinator snapshots.
type Collector struct {
	startTime time.Time
	version   string
	source    SnapshotSource

	// Metric descriptors
	infoDesc          *prometheus.Desc
	uptimeDesc        *prometheus.Desc
	generationDesc    *prometheus.Desc
	watchersDesc      *prometheus.Desc
	notificationsDesc *prometheus.Desc
	systemReadyDesc   *prometheus.Desc
	lastTriggerDesc   *prometheus.Desc
	lastReadyDesc     *prometheus.Desc
}

// NewCollector creates a new metrics collector
func NewCollector(version string, source SnapshotSource) *Collector {
	return &Collector{
		startTime: time.Now(),
		version:   version,
		source:    source,

		infoDesc: prometheus.NewDesc(
			"sysgenid_info",
			"sysgenid build information",
			[]string{"version", "go_version"},
			nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"sysgenid_uptime_seconds",
			"Time since the coordinator started",
			nil,
			nil,
		),
		generationDesc: prometheus.NewDesc(
			"sysgenid_generation",
			"Current system generation counter",
			nil,
			nil,
		),
		watchersDesc: prometheus.NewDesc(
			"sysgenid_watchers",
			"Number of tracked watchers by acknowledgement state",
			[]string{"state"},
			nil,
		),
		notificationsDesc: prometheus.NewDesc(
			"sysgenid_notifications_total",
			"Notifications emitted since start by kind",
			[]string{"kind"},
			nil,
		),
		systemReadyDesc: prometheus.NewDesc(
			"sysgenid_system_ready",
			"Whether every tracked watcher acknowledged the current generation",
			nil,
			nil,
		),
		lastTriggerDesc: prometheus.NewDesc(
			"sysgenid_last_trigger_timestamp_seconds",
			"Unix time of the last generation update",
			nil,
			nil,
		),
		lastReadyDesc: prometheus.NewDesc(
			"sysgenid_last_ready_timestamp_seconds",
			"Unix time of the last system ready notification",
			nil,
			nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.infoDesc
	ch <- c.uptimeDesc
	ch <- c.generationDesc
	ch <- c.watchersDesc
	ch <- c.notificationsDesc
	ch <- c.systemReadyDesc
	ch <- c.lastTriggerDesc
	ch <- c.lastReadyDesc
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Snapshot()

	ch <- prometheus.MustNewConstMetric(
		c.infoDesc,
		prometheus.GaugeValue,
		1,
		c.version,
		runtime.Version(),
	)

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc,
		prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)

	ch <- prometheus.MustNewConstMetric(
		c.generationDesc,
		prometheus.GaugeValue,
		float64(snap.Generation),
	)

	ch <- prometheus.MustNewConstMetric(
		c.watchersDesc,
		prometheus.GaugeValue,
		float64(snap.Tracked-snap.Outdated),
		watcher.StateCurrent.String(),
	)
	ch <- prometheus.MustNewConstMetric(
		c.watchersDesc,
		prometheus.GaugeValue,
		float64(snap.Outdated),
		watcher.StateOutdated.String(),
	)

	ch <- prometheus.MustNewConstMetric(
		c.notificationsDesc,
		prometheus.CounterValue,
		float64(snap.NewGenerations),
		coordinator.KindNewGeneration.String(),
	)
	ch <- prometheus.MustNewConstMetric(
		c.notificationsDesc,
		prometheus.CounterValue,
		float64(snap.SystemReadies),
		coordinator.KindSystemReady.String(),
	)

	ready := float64(0)
	if snap.Ready {
		ready = 1
	}
	ch <- prometheus.MustNewConstMetric(
		c.systemReadyDesc,
		prometheus.GaugeValue,
		ready,
	)

	// Timestamps are only reported once the event happened.
	if !snap.LastTrigger.IsZero() {
		ch <- prometheus.MustNewConstMetric(
			c.lastTriggerDesc,
			prometheus.GaugeValue,
			float64(snap.LastTrigger.UnixNano())/1e9,
		)
	}
	if !snap.LastReady.IsZero() {
		ch <- prometheus.MustNewConstMetric(
			c.lastReadyDesc,
			prometheus.GaugeValue,
			float64(snap.LastReady.UnixNano())/1e9,
		)
	}
}

// NewRegistry creates a new Prometheus registry with the sysgenid collector
// and the Go runtime and process collectors.
func NewRegistry(collector *Collector) *prometheus.Registry {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collector)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return registry
}
