package services

import (
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"issuance-backend/internal/metrics"
)

// MonitoringService samples connection health and protocol reserves into
// Prometheus gauges.
type MonitoringService struct {
	db                   *gorm.DB // nil without a database
	protocol             *Protocol
	natsConnected        func() bool
	stopCh               chan struct{}
	stopOnce             sync.Once
	wg                   sync.WaitGroup
	dbCheckInterval      time.Duration
	balanceCheckInterval time.Duration

	mu          sync.Mutex
	lastSolvent bool
}

// NewMonitoringService builds a monitor; db and natsConnected may be nil.
func NewMonitoringService(db *gorm.DB, protocol *Protocol, natsConnected func() bool) *MonitoringService {
	return &MonitoringService{
		db:                   db,
		protocol:             protocol,
		natsConnected:        natsConnected,
		stopCh:               make(chan struct{}),
		dbCheckInterval:      10 * time.Second,
		balanceCheckInterval: 60 * time.Second,
		lastSolvent:          true,
	}
}

// Start runs every check once and then on its interval.
func (m *MonitoringService) Start() {
	log.Println("🚀 Starting monitoring service...")

	if m.db != nil || m.natsConnected != nil {
		m.wg.Add(1)
		go m.every(m.dbCheckInterval, m.updateConnectionMetrics)
	}

	m.wg.Add(1)
	go m.every(m.balanceCheckInterval, m.updateBalances)

	log.Println("✅ Monitoring service started")
}

// Stop ends the checks and waits for them. Safe to call twice.
func (m *MonitoringService) Stop() {
	log.Println("🛑 Stopping monitoring service...")
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
	log.Println("✅ Monitoring service stopped")
}

func (m *MonitoringService) every(interval time.Duration, task func()) {
	defer m.wg.Done()

	task()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			task()
		}
	}
}

// updateConnectionMetrics records NATS state, pool stats and DB ping latency.
func (m *MonitoringService) updateConnectionMetrics() {
	if m.natsConnected != nil {
		if m.natsConnected() {
			metrics.NATSConnectionStatus.Set(1)
		} else {
			metrics.NATSConnectionStatus.Set(0)
		}
	}

	if m.db == nil {
		return
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		return
	}

	stats := sqlDB.Stats()
	metrics.DBConnectionPoolSize.Set(float64(stats.MaxOpenConnections))
	metrics.DBConnectionActive.Set(float64(stats.InUse))
	metrics.DBConnectionIdle.Set(float64(stats.Idle))

	start := time.Now()
	err = sqlDB.Ping()
	metrics.DBQueryDuration.WithLabelValues("ping").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		log.Printf("⚠️ Database ping failed: %v", err)
	} else {
		metrics.DBConnectionStatus.Set(1)
	}
}

// updateBalances checks queue solvency and records payout liquidity.
func (m *MonitoringService) updateBalances() {
	r := m.protocol.Reserves()
	metrics.RedemptionQueueHoldings.Set(approx(r.QueueHoldings))
	metrics.GatewayLiquidity.Set(approx(r.GatewayLiquidity))

	solvent := r.Solvent()
	if solvent {
		metrics.RedemptionQueueSolvent.Set(1)
	} else {
		metrics.RedemptionQueueSolvent.Set(0)
	}

	m.mu.Lock()
	changed := solvent != m.lastSolvent
	m.lastSolvent = solvent
	m.mu.Unlock()

	if changed && !solvent {
		log.Printf("🚨 Redemption queue under-collateralized: holdings=%s pending=%s", r.QueueHoldings, r.QueuePending)
	} else if changed {
		log.Printf("✅ Redemption queue collateral restored: holdings=%s pending=%s", r.QueueHoldings, r.QueuePending)
	}
}
