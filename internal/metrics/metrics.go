package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Database
	// ============================================
	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query_type"},
	)

	DBConnectionPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_db_connection_pool_size",
		Help: "Maximum open database connections",
	})

	DBConnectionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_db_connections_active",
		Help: "Database connections in use",
	})

	DBConnectionIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_db_connections_idle",
		Help: "Idle database connections",
	})

	// ============================================
	// NATS
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_nats_messages_published_total",
			Help: "Total number of settlement events published to NATS",
		},
		[]string{"component"},
	)

	NATSMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_nats_messages_received_total",
			Help: "Total number of NATS messages received",
		},
		[]string{"event_type"},
	)

	NATSMessagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_nats_messages_failed_total",
			Help: "Total number of NATS messages failed to process",
		},
		[]string{"event_type", "error_type"},
	)

	// ============================================
	// Settlement
	// ============================================
	SettlementOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_settlement_operations_total",
			Help: "Settlement operations by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	SettlementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_settlement_duration_seconds",
			Help:    "Time spent executing a settlement operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	SettlementEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_settlement_events_total",
			Help: "Events emitted by committed operations",
		},
		[]string{"component", "event"},
	)

	SettlementBatch = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_settlement_batch",
		Help: "Current settlement batch number",
	})

	// ============================================
	// Protocol state
	// ============================================
	VaultTotalAssets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_vault_total_assets",
		Help: "Vault backing assets in base units (float approximation)",
	})

	VaultTotalShares = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_vault_total_shares",
		Help: "Vault share supply in base units (float approximation)",
	})

	RedemptionPendingAssets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_redemption_pending_assets",
		Help: "Assets held by the redemption queue for unclaimed records",
	})

	GatewayQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_gateway_queue_length",
		Help: "Pending gateway redemption requests",
	})

	RedemptionQueueHoldings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_redemption_queue_holdings",
		Help: "Mint token balance of the redemption queue",
	})

	RedemptionQueueSolvent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_redemption_queue_solvent",
		Help: "1 when queue holdings cover pending redemptions, 0 otherwise",
	})

	GatewayLiquidity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_gateway_liquidity",
		Help: "Redeem asset balance of the gateway in base units (float approximation)",
	})

	GatewayRedemptionsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backend_gateway_redemptions_processed_total",
		Help: "Gateway queue entries paid out",
	})

	KeeperRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_keeper_runs_total",
			Help: "Queue keeper runs by outcome",
		},
		[]string{"outcome"},
	)

	// ============================================
	// WebSocket
	// ============================================
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_websocket_connections",
		Help: "Open WebSocket connections",
	})
)
