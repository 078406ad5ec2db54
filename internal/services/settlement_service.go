package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"issuance-backend/internal/metrics"
	"issuance-backend/internal/models"
	"issuance-backend/internal/repository"
	"issuance-backend/internal/settlement"
)

const replayPageSize = 500

// EventPublisher forwards committed events to an external bus.
type EventPublisher interface {
	PublishOperation(receipt *OperationReceipt) error
}

// EventPusher delivers committed events to connected clients.
type EventPusher interface {
	PushOperation(receipt *OperationReceipt)
}

// OperationReceipt describes one committed operation.
type OperationReceipt struct {
	OperationID string             `json:"operation_id"`
	Sequence    uint64             `json:"sequence"`
	Kind        string             `json:"kind"`
	Sender      common.Address     `json:"sender"`
	Batch       uint64             `json:"batch"`
	Time        time.Time          `json:"time"`
	Result      Result             `json:"result,omitempty"`
	Events      []settlement.Event `json:"events"`
}

// SettlementService is the only writer of protocol state. Operations are
// serialized, logged before they commit when a log is configured, and then
// fanned out to projections, the bus and websocket clients.
type SettlementService struct {
	mu        sync.Mutex
	protocol  *Protocol
	ops       repository.OperationRepository
	projector *Projector
	publisher EventPublisher
	pusher    EventPusher
	sequence  uint64
}

// NewSettlementService creates the service. ops and projections may be nil
// when running without a database.
func NewSettlementService(protocol *Protocol, ops repository.OperationRepository, projections repository.ProjectionRepository) *SettlementService {
	s := &SettlementService{protocol: protocol, ops: ops}
	if projections != nil {
		s.projector = NewProjector(projections, protocol)
	}
	return s
}

// SetPublisher installs the event bus publisher.
func (s *SettlementService) SetPublisher(publisher EventPublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = publisher
}

// SetPusher installs the websocket pusher.
func (s *SettlementService) SetPusher(pusher EventPusher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pusher = pusher
}

// Protocol returns the wired components for read access.
func (s *SettlementService) Protocol() *Protocol { return s.protocol }

// Sequence returns the sequence number of the last committed operation.
func (s *SettlementService) Sequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence
}

// Submit executes cmd as sender. When an operation log is configured the
// operation is appended inside the engine call, so a failed write reverts
// the state change along with it.
func (s *SettlementService) Submit(ctx context.Context, sender common.Address, cmd Command) (*OperationReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	operationID := uuid.NewString()
	sequence := s.sequence + 1

	var result Result
	receipt, err := s.protocol.Engine.Execute(sender, func(tx *settlement.Tx) error {
		var err error
		if result, err = Dispatch(tx, s.protocol, cmd); err != nil {
			return err
		}
		if s.ops == nil {
			return nil
		}
		op, events := operationRecord(operationID, sequence, sender, cmd.Kind, payload, tx.Batch(), tx.Time(), tx.Events())
		if err := s.ops.Append(ctx, op, events); err != nil {
			return fmt.Errorf("append operation log: %w", err)
		}
		return nil
	})
	metrics.SettlementDuration.WithLabelValues(cmd.Kind).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SettlementOperations.WithLabelValues(cmd.Kind, outcomeOf(err)).Inc()
		log.Printf("⚠️ Operation %s from %s rejected: %v", cmd.Kind, sender.Hex(), err)
		return nil, err
	}
	metrics.SettlementOperations.WithLabelValues(cmd.Kind, "committed").Inc()
	s.sequence = sequence

	out := &OperationReceipt{
		OperationID: operationID,
		Sequence:    sequence,
		Kind:        cmd.Kind,
		Sender:      sender,
		Batch:       receipt.Batch,
		Time:        receipt.Time,
		Result:      result,
		Events:      receipt.Events,
	}
	s.afterCommit(ctx, out)
	return out, nil
}

// SealBatch closes the current batch and returns the new batch number.
func (s *SettlementService) SealBatch() uint64 {
	batch := s.protocol.Engine.SealBatch()
	metrics.SettlementBatch.Set(float64(batch))
	return batch
}

// Replay re-executes the operation log on top of genesis state. It must run
// before the service accepts submissions. Projections and fan-out are not
// repeated.
func (s *SettlementService) Replay(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ops == nil {
		return 0, nil
	}
	replayed := 0
	for {
		ops, err := s.ops.ListAfter(ctx, s.sequence, replayPageSize)
		if err != nil {
			return replayed, fmt.Errorf("load operations after %d: %w", s.sequence, err)
		}
		if len(ops) == 0 {
			break
		}
		for _, op := range ops {
			if err := s.replayOne(op); err != nil {
				return replayed, err
			}
			s.sequence = op.Sequence
			replayed++
		}
	}
	if replayed > 0 {
		// New submissions must not share a batch with replayed ones.
		s.protocol.Engine.SealBatch()
		log.Printf("✅ Replayed %d settlement operations (last sequence %d)", replayed, s.sequence)
	}
	metrics.SettlementBatch.Set(float64(s.protocol.Engine.Batch()))
	s.updateGauges()
	return replayed, nil
}

func (s *SettlementService) replayOne(op *models.SettlementOperation) error {
	var cmd Command
	if err := json.Unmarshal([]byte(op.Payload), &cmd); err != nil {
		return fmt.Errorf("decode operation %d: %w", op.Sequence, err)
	}
	if op.Sequence != s.sequence+1 {
		return fmt.Errorf("operation log gap: expected sequence %d, found %d", s.sequence+1, op.Sequence)
	}
	sender := common.HexToAddress(op.Sender)
	_, err := s.protocol.Engine.ExecuteAt(sender, op.Batch, op.Timestamp, func(tx *settlement.Tx) error {
		_, err := Dispatch(tx, s.protocol, cmd)
		return err
	})
	if err != nil {
		return fmt.Errorf("replay operation %d (%s): %w", op.Sequence, op.Kind, err)
	}
	return nil
}

func (s *SettlementService) afterCommit(ctx context.Context, receipt *OperationReceipt) {
	for _, ev := range receipt.Events {
		metrics.SettlementEvents.WithLabelValues(ev.Component, ev.Name).Inc()
		if ev.Component == "gateway" && ev.Name == "RedemptionProcessed" {
			metrics.GatewayRedemptionsProcessed.Inc()
		}
	}
	s.updateGauges()

	if s.projector != nil {
		if err := s.projector.Apply(ctx, receipt.Events); err != nil {
			log.Printf("⚠️ Projection of operation %d failed: %v", receipt.Sequence, err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishOperation(receipt); err != nil {
			log.Printf("⚠️ Publishing operation %d failed: %v", receipt.Sequence, err)
		}
	}
	if s.pusher != nil {
		s.pusher.PushOperation(receipt)
	}
}

func (s *SettlementService) updateGauges() {
	v := s.protocol.VaultState()
	metrics.VaultTotalAssets.Set(approx(v.TotalAssets))
	metrics.VaultTotalShares.Set(approx(v.TotalSupply))
	metrics.RedemptionPendingAssets.Set(approx(v.PendingAssets))
	metrics.GatewayQueueLength.Set(float64(s.protocol.GatewayState().QueueLength))
}

func operationRecord(id string, sequence uint64, sender common.Address, kind string, payload []byte, batch uint64, at time.Time, events []settlement.Event) (*models.SettlementOperation, []models.SettlementEvent) {
	op := &models.SettlementOperation{
		Sequence:    sequence,
		OperationID: id,
		Batch:       batch,
		Timestamp:   at,
		Sender:      strings.ToLower(sender.Hex()),
		Kind:        kind,
		Payload:     string(payload),
		EventCount:  len(events),
	}
	rows := make([]models.SettlementEvent, 0, len(events))
	for i, ev := range events {
		attrs, _ := json.Marshal(ev.Attributes)
		rows = append(rows, models.SettlementEvent{
			OperationID: id,
			Sequence:    sequence,
			Position:    i,
			Component:   ev.Component,
			Name:        ev.Name,
			Batch:       ev.Batch,
			Timestamp:   ev.Time,
			Attributes:  string(attrs),
		})
	}
	return op, rows
}

func outcomeOf(err error) string {
	return settlement.KindOf(err).String()
}

func approx(x *big.Int) float64 {
	if x == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(x).Float64()
	return f
}
