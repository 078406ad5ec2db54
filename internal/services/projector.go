package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"issuance-backend/internal/models"
	"issuance-backend/internal/redemption"
	"issuance-backend/internal/repository"
	"issuance-backend/internal/settlement"
)

// Projector keeps the read tables in step with committed events. It is
// not a source of truth: a lost update is repaired by the next event for
// the same record.
type Projector struct {
	repo     repository.ProjectionRepository
	protocol *Protocol
}

// NewProjector creates a Projector over repo.
func NewProjector(repo repository.ProjectionRepository, protocol *Protocol) *Projector {
	return &Projector{repo: repo, protocol: protocol}
}

// Apply projects every event of one committed operation.
func (p *Projector) Apply(ctx context.Context, events []settlement.Event) error {
	for _, ev := range events {
		var err error
		switch ev.Component + "." + ev.Name {
		case "redemption.RedemptionQueued", "redemption.RedemptionClaimed":
			err = p.projectRedemption(ctx, ev)
		case "gateway.RedemptionRequested":
			err = p.repo.UpsertQueueEntry(ctx, &models.GatewayQueueEntry{
				EntryID:  ev.Attributes["id"],
				Sender:   strings.ToLower(ev.Attributes["sender"]),
				Receiver: strings.ToLower(ev.Attributes["receiver"]),
				Amount:   ev.Attributes["amount"],
				Status:   models.GatewayQueueStatusQueued,
				QueuedAt: ev.Time,
			})
		case "gateway.RedemptionProcessed":
			err = p.repo.SettleQueueEntry(ctx, ev.Attributes["id"], models.GatewayQueueStatusProcessed,
				ev.Attributes["underlying"], ev.Attributes["fee"], ev.Time)
		case "gateway.RedemptionCancelled":
			err = p.repo.SettleQueueEntry(ctx, ev.Attributes["id"], models.GatewayQueueStatusCancelled, "", "", ev.Time)
		default:
			continue
		}
		if err != nil {
			return fmt.Errorf("project %s.%s: %w", ev.Component, ev.Name, err)
		}
	}
	return nil
}

func (p *Projector) projectRedemption(ctx context.Context, ev settlement.Event) error {
	user := common.HexToAddress(ev.Attributes["user"])
	index, err := strconv.ParseUint(ev.Attributes["index"], 10, 64)
	if err != nil {
		return fmt.Errorf("bad index %q", ev.Attributes["index"])
	}
	r, ok := p.protocol.Redemption(user, index)
	if !ok {
		return fmt.Errorf("record %s #%d not found", user.Hex(), index)
	}
	record := redemptionRecord(r)
	if r.Status == redemption.StatusClaimed {
		at := ev.Time
		record.ClaimedAt = &at
	}
	return p.repo.UpsertRedemption(ctx, record)
}

func redemptionRecord(r redemption.Redemption) *models.RedemptionRecord {
	status := models.RedemptionRecordStatusQueued
	if r.Status == redemption.StatusClaimed {
		status = models.RedemptionRecordStatusClaimed
	}
	return &models.RedemptionRecord{
		User:        strings.ToLower(r.User.Hex()),
		Index:       r.Index,
		Assets:      r.Assets.String(),
		Shares:      r.Shares.String(),
		QueuedAt:    r.QueuedAt,
		ClaimableAt: r.ClaimableAt,
		Status:      status,
		UpdatedAt:   time.Now(),
	}
}
