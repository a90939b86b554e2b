package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the wager pool service.
type Metrics struct {
	// --- Wager lifecycle ---
	WagersCreated    *prometheus.CounterVec
	WagersResolved   *prometheus.CounterVec
	WagersCancelled  prometheus.Counter
	StatusRejections *prometheus.CounterVec

	// --- Positions & matching ---
	PositionsPlaced   *prometheus.CounterVec
	PositionsRejected *prometheus.CounterVec
	StakeVolume       *prometheus.CounterVec
	MatchCycles       prometheus.Counter
	MatchVolume       prometheus.Counter
	MatchDuration     prometheus.Histogram

	// --- Settlement ---
	SettlementsComputed prometheus.Counter
	SettlementDuration  prometheus.Histogram
	PayoutTotal         prometheus.Counter
	PayoutRecipients    prometheus.Histogram

	// --- Store ---
	StoreUpdateDuration prometheus.Histogram
	StoreRetries        prometheus.Counter
	StoreErrors         *prometheus.CounterVec

	// --- Outbound publishing ---
	EventsPublished *prometheus.CounterVec
	PublishDrops    prometheus.Counter
	PublishErrors   prometheus.Counter

	// --- Deadline signals ---
	SignalsReceived  prometheus.Counter
	SignalsDiscarded *prometheus.CounterVec

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	computeBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	storeBuckets := []float64{
		0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
	}

	return &Metrics{
		WagersCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_wagers_created_total",
			Help: "Wagers created",
		}, []string{"verification_type"}),

		WagersResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_wagers_resolved_total",
			Help: "Wagers resolved with a winning side",
		}, []string{"verification_type"}),

		WagersCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wager_wagers_cancelled_total",
			Help: "Wagers cancelled before any stake was matched",
		}),

		StatusRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_status_rejections_total",
			Help: "Lifecycle transitions rejected",
		}, []string{"operation"}),

		PositionsPlaced: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_positions_placed_total",
			Help: "Positions accepted",
		}, []string{"side_index"}),

		PositionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_positions_rejected_total",
			Help: "Positions rejected (side, amount, status)",
		}, []string{"reason"}),

		StakeVolume: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_stake_volume",
			Help: "Total stake accepted, in base units",
		}, []string{"side_index"}),

		MatchCycles: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wager_match_cycles_total",
			Help: "Matching cycles that paired new stake",
		}),

		MatchVolume: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wager_match_volume",
			Help: "Stake newly paired per side, in base units",
		}),

		MatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "wager_match_duration_seconds",
			Help:    "Time to run one matching cycle",
			Buckets: computeBuckets,
		}),

		SettlementsComputed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wager_settlements_computed_total",
			Help: "Settlements computed at resolve time",
		}),

		SettlementDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "wager_settlement_duration_seconds",
			Help:    "Time to compute one settlement",
			Buckets: computeBuckets,
		}),

		PayoutTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wager_payout_total",
			Help: "Total payouts computed, in base units",
		}),

		PayoutRecipients: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "wager_payout_recipients",
			Help:    "Participants paid per settlement",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),

		StoreUpdateDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "wager_store_update_duration_seconds",
			Help:    "Duration of one store critical section",
			Buckets: storeBuckets,
		}),

		StoreRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wager_store_retries_total",
			Help: "Store transactions retried after conflict",
		}),

		StoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_store_errors_total",
			Help: "Store errors",
		}, []string{"operation"}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_events_published_total",
			Help: "Lifecycle and payout events published to NATS",
		}, []string{"event_type"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wager_publish_drops_total",
			Help: "Lifecycle events dropped due to full publish channel",
		}),

		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wager_publish_errors_total",
			Help: "NATS publish failures",
		}),

		SignalsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wager_deadline_signals_received_total",
			Help: "Deadline signals consumed",
		}),

		SignalsDiscarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_deadline_signals_discarded_total",
			Help: "Deadline signals discarded (malformed, stale, unknown wager)",
		}, []string{"reason"}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_http_requests_total",
			Help: "HTTP API requests",
		}, []string{"route", "method", "status"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wager_http_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"route"}),
	}
}
