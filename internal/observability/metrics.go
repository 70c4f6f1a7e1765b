package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the oracle mirror.
type Metrics struct {
	// --- Account graph synchronization ---
	PollCycles       *prometheus.CounterVec
	PollDuration     prometheus.Histogram
	AccountFetches   *prometheus.CounterVec
	GraphAccounts    *prometheus.GaugeVec
	ForwardedUpdates *prometheus.CounterVec
	PushUpdates      *prometheus.CounterVec
	SubscriberErrors *prometheus.CounterVec

	// --- Channel & Backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	ObservationDrops   *prometheus.CounterVec
	PublishDrops       prometheus.Counter

	// --- Stores ---
	GlobalUpdatesApplied *prometheus.CounterVec
	StoreLookups         *prometheus.CounterVec
	LocalUpdates         *prometheus.CounterVec
	LocalUpdatesRejected *prometheus.CounterVec

	// --- Dashboard ---
	DashboardRenders  *prometheus.CounterVec
	DashboardDuration prometheus.Histogram
	DashboardOrphans  *prometheus.CounterVec
	DashboardRenames  prometheus.Counter

	// --- Export ---
	ObservationsPublished prometheus.Counter
	PersistRowsWritten    *prometheus.CounterVec
	PersistBatchSize      prometheus.Histogram
	PersistBatchDur       prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistRetry          prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg. Tests pass a
// fresh prometheus.NewRegistry(); the binary passes prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	remoteBuckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	localBuckets := []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

	return &Metrics{
		PollCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_poll_cycles_total",
			Help: "Full graph rebuilds by outcome",
		}, []string{"outcome"}),
		PollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "oracle_poll_duration_seconds",
			Help:    "Time to rebuild and forward the account graph",
			Buckets: remoteBuckets,
		}),
		AccountFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_account_fetches_total",
			Help: "Remote account reads by account kind and outcome",
		}, []string{"kind", "outcome"}),
		GraphAccounts: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oracle_graph_accounts",
			Help: "Accounts in the mirrored graph after the last poll",
		}, []string{"kind"}),
		ForwardedUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_forwarded_updates_total",
			Help: "Account updates sent to the global store",
		}, []string{"kind", "source"}),
		PushUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_push_updates_total",
			Help: "Push notifications by outcome (applied/ignored/invalid/failed)",
		}, []string{"outcome"}),
		SubscriberErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_subscriber_errors_total",
			Help: "Change feed errors by stage (subscribe/forward)",
		}, []string{"stage"}),

		ChannelSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oracle_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),
		ChannelCapacity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oracle_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),
		ChannelUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oracle_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),
		ObservationDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_observation_drops_total",
			Help: "Price observations dropped due to a full exporter channel",
		}, []string{"exporter"}),
		PublishDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "oracle_publish_drops_total",
			Help: "Observations the NATS publisher failed to deliver",
		}),

		GlobalUpdatesApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_global_store_updates_total",
			Help: "Updates applied by the global store",
		}, []string{"kind"}),
		StoreLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_store_lookups_total",
			Help: "Lookup requests served by the stores",
		}, []string{"store", "lookup"}),
		LocalUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_local_updates_total",
			Help: "Pending local price updates accepted, by source",
		}, []string{"source"}),
		LocalUpdatesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_local_updates_rejected_total",
			Help: "Pending local price updates rejected, by source and reason",
		}, []string{"source", "reason"}),

		DashboardRenders: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_dashboard_renders_total",
			Help: "Dashboard renders by format and outcome",
		}, []string{"format", "outcome"}),
		DashboardDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "oracle_dashboard_render_duration_seconds",
			Help:    "Time to collect snapshots and build the dashboard report",
			Buckets: localBuckets,
		}),
		DashboardOrphans: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_dashboard_orphans_total",
			Help: "Keys left unmatched after a dashboard build",
		}, []string{"kind"}),
		DashboardRenames: factory.NewCounter(prometheus.CounterOpts{
			Name: "oracle_dashboard_duplicate_symbols_total",
			Help: "Products renamed because their symbol was already taken",
		}),

		ObservationsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "oracle_observations_published_total",
			Help: "Price observations published to NATS",
		}),
		PersistRowsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_persist_rows_written_total",
			Help: "Rows written to the price projection tables",
		}, []string{"table"}),
		PersistBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "oracle_persist_batch_size",
			Help:    "Observations per Postgres batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		PersistBatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "oracle_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: localBuckets,
		}),
		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),
		PersistRetry: factory.NewCounter(prometheus.CounterOpts{
			Name: "oracle_persist_retry_total",
			Help: "Batch write retries",
		}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
