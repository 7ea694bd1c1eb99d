// Package obsmetrics exposes the fleet's Prometheus metrics and
// /healthz endpoint: a Registry of promauto-registered collectors plus
// process resource gauges sourced from gopsutil, so the same code runs
// outside a container too.
package obsmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps every Prometheus collector the fleet's two binaries
// report against.
type Registry struct {
	HeartbeatsSent             prometheus.Counter
	StreamAppends              *prometheus.CounterVec // labels: kind
	DedupDrops                 *prometheus.CounterVec // labels: kind
	LeaseContentionSleeps      prometheus.Counter
	LiveLocationWins           prometheus.Counter
	LiveLocationLosses         prometheus.Counter
	BatteryNotificationsSent   *prometheus.CounterVec // labels: template
	ProcessResidentMemoryBytes prometheus.Gauge
	ProcessCPUPercent          prometheus.Gauge
}

// NewRegistry builds a Registry of collectors registered against the
// default Prometheus registry.
func NewRegistry() *Registry {
	return &Registry{
		HeartbeatsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rusty_heartbeats_sent_total",
			Help: "Total number of heartbeat POSTs successfully attempted",
		}),
		StreamAppends: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rusty_stream_appends_total",
			Help: "Total number of stream entries appended, by kind",
		}, []string{"kind"}),
		DedupDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rusty_dedup_drops_total",
			Help: "Total number of frames skipped because their timestamp did not advance, by kind",
		}, []string{"kind"}),
		LeaseContentionSleeps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rusty_lease_contention_sleeps_total",
			Help: "Total number of times an instance slept out a lost get_updates lease race",
		}),
		LiveLocationWins: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rusty_live_location_wins_total",
			Help: "Total number of times this instance won the live-location pin race",
		}),
		LiveLocationLosses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rusty_live_location_losses_total",
			Help: "Total number of times this instance lost the live-location pin race",
		}),
		BatteryNotificationsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rusty_battery_notifications_total",
			Help: "Total number of battery notifications sent, by template",
		}, []string{"template"}),
		ProcessResidentMemoryBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rusty_process_resident_memory_bytes",
			Help: "Resident memory of this process, sampled via gopsutil",
		}),
		ProcessCPUPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rusty_process_cpu_percent",
			Help: "CPU usage percentage of this process, sampled via gopsutil",
		}),
	}
}

// Handler returns an HTTP handler exposing Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
