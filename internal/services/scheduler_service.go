// Scheduler Service
// Seals settlement batches and drains the gateway redemption queue
package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"issuance-backend/internal/gateway"
	"issuance-backend/internal/metrics"
)

// SchedulerService manages periodic background tasks
type SchedulerService struct {
	settlement     *SettlementService
	sealInterval   time.Duration
	keeperInterval time.Duration
	keeperOperator common.Address
	keeperMaxRun   int
	stopChan       chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup
}

// NewSchedulerService creates a new SchedulerService instance. A zero
// interval disables the corresponding task.
func NewSchedulerService(settlement *SettlementService, sealInterval, keeperInterval time.Duration, keeperOperator common.Address, keeperMaxRun int) *SchedulerService {
	return &SchedulerService{
		settlement:     settlement,
		sealInterval:   sealInterval,
		keeperInterval: keeperInterval,
		keeperOperator: keeperOperator,
		keeperMaxRun:   keeperMaxRun,
		stopChan:       make(chan struct{}),
	}
}

// Start begins all scheduled tasks
func (s *SchedulerService) Start() {
	log.Println("🚀 Scheduler service starting...")

	if s.sealInterval > 0 {
		log.Printf("📅 Batch seal interval: %v", s.sealInterval)
		s.wg.Add(1)
		go s.loop(s.sealInterval, func(context.Context) { s.settlement.SealBatch() })
	} else {
		log.Println("⚠️  Batch sealer disabled, batches advance only on restart")
	}

	if s.keeperInterval > 0 {
		log.Printf("📅 Queue keeper interval: %v (operator %s)", s.keeperInterval, s.keeperOperator.Hex())
		s.wg.Add(1)
		go s.loop(s.keeperInterval, func(ctx context.Context) { s.RunKeeper(ctx) })
	}

	log.Println("✅ Scheduler service started")
}

// Stop gracefully stops all scheduled tasks
func (s *SchedulerService) Stop() {
	log.Println("🛑 Stopping scheduler service...")
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	log.Println("✅ Scheduler service stopped")
}

func (s *SchedulerService) loop(interval time.Duration, task func(ctx context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			task(ctx)
			cancel()

		case <-s.stopChan:
			return
		}
	}
}

// RunKeeper submits one queue processing run as the keeper operator and
// reports how many entries were paid.
func (s *SchedulerService) RunKeeper(ctx context.Context) (int, error) {
	length := s.settlement.Protocol().GatewayState().QueueLength
	if length == 0 {
		metrics.KeeperRuns.WithLabelValues("empty").Inc()
		return 0, nil
	}
	count := 0 // whole queue
	if s.keeperMaxRun > 0 && s.keeperMaxRun < length {
		count = s.keeperMaxRun
	}

	receipt, err := s.settlement.Submit(ctx, s.keeperOperator, Command{
		Kind:  KindGatewayProcess,
		Count: count,
	})
	switch {
	case errors.Is(err, gateway.ErrQueueEmpty):
		metrics.KeeperRuns.WithLabelValues("empty").Inc()
		return 0, nil
	case err != nil:
		metrics.KeeperRuns.WithLabelValues("failed").Inc()
		log.Printf("❌ Queue keeper run failed: %v", err)
		return 0, err
	}

	processed := 0
	for _, ev := range receipt.Events {
		switch ev.Name {
		case "RedemptionProcessed":
			processed++
		case "RedemptionQueueStalled":
			log.Printf("⏸️  Gateway queue stalled at %s: required=%s available=%s",
				ev.Attributes["id"], ev.Attributes["required"], ev.Attributes["available"])
		}
	}
	metrics.KeeperRuns.WithLabelValues("processed").Inc()
	log.Printf("✅ Queue keeper processed %d entries, %s remaining", processed, receipt.Result["remaining"])
	return processed, nil
}
