// Package metrics holds the process-wide Prometheus collectors for
// srx-server: queue depth, cache sizes, notification throughput, and RTR
// session state.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RPKIQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "srx_rpki_queue_depth",
			Help: "Pending events in the RPKI queue between the RTR feed and the command handler.",
		},
	)

	CmdQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "srx_cmd_queue_depth",
			Help: "Pending commands awaiting a worker in the command queue.",
		},
	)

	UpdateCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "srx_update_cache_size",
			Help: "Updates currently interned in the Update Cache, including zombies.",
		},
	)

	PrefixCacheROACount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "srx_prefix_cache_roa_count",
			Help: "Distinct (origin_asn, prefix, max_len, cache_id) ROA entries held in the Prefix Cache.",
		},
	)

	ASPAPathCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "srx_aspa_path_cache_size",
			Help: "Distinct AS paths interned in the AS-Path Cache.",
		},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srx_notifications_total",
			Help: "VerifyNotification PDUs sent to proxy clients, by trigger.",
		},
		[]string{"trigger"},
	)

	VerifyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srx_verify_requests_total",
			Help: "VerifyRequest PDUs handled, by axis requested.",
		},
		[]string{"axis"},
	)

	ValidationResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srx_validation_results_total",
			Help: "Validation outcomes produced, by axis and result.",
		},
		[]string{"axis", "result"},
	)

	RTRSessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "srx_rtr_session_state",
			Help: "RTR client session state (0=down, 1=connected, 2=synced), by cache_id.",
		},
		[]string{"cache_id"},
	)

	RTRSerial = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "srx_rtr_serial",
			Help: "Last serial number received from the RTR cache, by cache_id.",
		},
		[]string{"cache_id"},
	)

	ProxyClientsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "srx_proxy_clients_active",
			Help: "Proxy clients currently holding an active mapping-table slot.",
		},
	)

	ReapedUpdatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "srx_reaped_updates_total",
			Help: "Zombie updates removed by the keep-window reaper.",
		},
	)
)

var registerOnce sync.Once

// Register registers every collector with the default Prometheus registry.
// Safe to call more than once; only the first call has effect.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RPKIQueueDepth,
			CmdQueueDepth,
			UpdateCacheSize,
			PrefixCacheROACount,
			ASPAPathCacheSize,
			NotificationsTotal,
			VerifyRequestsTotal,
			ValidationResultsTotal,
			RTRSessionState,
			RTRSerial,
			ProxyClientsActive,
			ReapedUpdatesTotal,
		)
	})
}
