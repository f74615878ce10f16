package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Connection health
	// ============================================
	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})

	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	ChainRPCStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_chain_rpc_status",
		Help: "Chain RPC connection status (1=connected, 0=disconnected)",
	})

	// ============================================
	// Order lifecycle
	// ============================================
	OrdersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_orders_created_total",
			Help: "Total number of orders submitted on-chain",
		},
		[]string{"side", "kind"},
	)

	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_orders_cancelled_total",
		Help: "Total number of orders cancelled",
	})

	ChainTxDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "exchange_chain_tx_duration_seconds",
			Help:    "Submit-to-confirmation duration of chain transactions",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"tx_type"},
	)

	// ============================================
	// Matching pipeline
	// ============================================
	MatchJobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_match_jobs_enqueued_total",
		Help: "Total number of match jobs published to the queue",
	})

	MatchJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_match_jobs_processed_total",
			Help: "Total number of match jobs processed",
		},
		[]string{"result"}, // success, aborted, failed
	)

	MatchLockRaces = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_match_lock_races_total",
		Help: "Match jobs aborted because another worker claimed an order first",
	})

	SweepReverts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_sweep_reverts_total",
		Help: "Orders reverted to ACTIVE by the recovery sweep",
	})

	// ============================================
	// Market orders
	// ============================================
	MarketExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_market_executions_total",
			Help: "Total number of market order executions",
		},
		[]string{"side", "result"},
	)

	MarketQuoteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "exchange_market_quote_duration_seconds",
		Help:    "Market quote computation duration",
		Buckets: prometheus.DefBuckets,
	})

	// ============================================
	// Trades
	// ============================================
	TradesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_trades_recorded_total",
		Help: "Total number of trade rows written to the mirror",
	})

	TradesDuplicateSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_trades_duplicate_skipped_total",
		Help: "Duplicate trade inserts skipped on idempotent replay",
	})
)
