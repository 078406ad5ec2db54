package events

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"issuance-backend/internal/clients"
	"issuance-backend/internal/config"
	"issuance-backend/internal/services"
	"issuance-backend/internal/settlement"
)

var (
	natsClient *clients.NATSClient
	natsOnce   sync.Once
)

// InitNATSServices connects to NATS when configured, attaches the event
// publisher to the settlement service and subscribes to the compliance
// feed. It returns a nil client when NATS is not configured.
func InitNATSServices(cfg *config.Config, svc *services.SettlementService) (*clients.NATSClient, error) {
	var initErr error
	natsOnce.Do(func() {
		if cfg == nil || cfg.NATS.URL == "" {
			log.Println("⚠️  NATS not configured, skipping initialization")
			return
		}

		client, err := clients.NewNATSClient(cfg.NATS)
		if err != nil {
			initErr = fmt.Errorf("failed to create NATS client: %w", err)
			return
		}
		natsClient = client
		svc.SetPublisher(client)
		log.Printf("✅ NATS client initialized, publishing on %s.>", cfg.NATS.SubjectPrefix)

		if cfg.NATS.KYCSubject == "" {
			log.Println("⚠️  No KYC subject configured, compliance feed disabled")
			return
		}
		operator := common.HexToAddress(cfg.Admin.Operator)
		feed := NewKYCFeed(svc, operator)
		if err := client.SubscribeToKYCUpdates(cfg.NATS.KYCSubject, feed.Handle); err != nil {
			initErr = fmt.Errorf("failed to subscribe to KYC feed: %w", err)
			return
		}
		log.Printf("✅ KYC feed subscribed: %s (operator %s)", cfg.NATS.KYCSubject, operator.Hex())
	})
	return natsClient, initErr
}

// GetNATSClient returns the shared client, or nil before initialization.
func GetNATSClient() *clients.NATSClient {
	return natsClient
}

// KYCFeed turns compliance feed updates into KYC operations.
type KYCFeed struct {
	settlement *services.SettlementService
	operator   common.Address
}

// NewKYCFeed creates a feed that submits as operator, which needs the
// whitelist role.
func NewKYCFeed(svc *services.SettlementService, operator common.Address) *KYCFeed {
	return &KYCFeed{settlement: svc, operator: operator}
}

// Handle applies one update. Updates that can never succeed are logged and
// acknowledged; anything else is returned for redelivery.
func (f *KYCFeed) Handle(update *clients.KYCUpdate) error {
	kind := services.KindKycGrant
	if update.Action == "revoke" {
		kind = services.KindKycRevoke
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	receipt, err := f.settlement.Submit(ctx, f.operator, services.Command{
		Kind:     kind,
		Accounts: update.Accounts,
	})
	switch settlement.KindOf(err) {
	case settlement.KindUnknown:
		if err != nil {
			return err
		}
	case settlement.KindValidation, settlement.KindAuthorization:
		log.Printf("❌ [KYC] Dropping %s update from %q: %v", update.Action, update.Source, err)
		return nil
	default:
		return err
	}

	log.Printf("✅ [KYC] %s applied to %d accounts (operation %d)", update.Action, len(update.Accounts), receipt.Sequence)
	return nil
}
