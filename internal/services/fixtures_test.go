package services

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"issuance-backend/internal/config"
	"issuance-backend/internal/models"
	"issuance-backend/internal/repository"
	"issuance-backend/internal/settlement"
	"issuance-backend/internal/token"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	operator = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	mallory  = common.HexToAddress("0x00000000000000000000000000000000000000ba")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	feeTo    = common.HexToAddress("0x00000000000000000000000000000000000000d2")
	gatewayA = common.HexToAddress("0x00000000000000000000000000000000000000e1")

	genesisTime = time.Unix(1_700_000_000, 0).UTC()
	pow18       = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

const protocolYAML = `
protocol:
  admin: "0x00000000000000000000000000000000000000a1"
  mintToken: USDX
  gateway: "0x00000000000000000000000000000000000000e1"
  redemptionDelaySeconds: 86400
  treasury: "0x00000000000000000000000000000000000000d1"
  feeTo: "0x00000000000000000000000000000000000000d2"
  redeemAsset: USDC
  mintFeeRate: 100
  redeemFeeRate: 50
  firstDepositAmount: "100000000000000000000"
tokens:
  - symbol: USDX
    decimals: 18
    balances:
      "0x00000000000000000000000000000000000000b0": "1000000000000000000000"
  - symbol: USDC
    decimals: 6
    balances:
      "0x00000000000000000000000000000000000000b0": "5000000000"
      "0x00000000000000000000000000000000000000e1": "1000000000"
assets:
  - token: USDC
roles:
  OPERATOR_ROLE: ["0x00000000000000000000000000000000000000c1"]
kyc:
  - "0x00000000000000000000000000000000000000b0"
  - "0x00000000000000000000000000000000000000b1"
`

func e18(n int64) string { return new(big.Int).Mul(big.NewInt(n), pow18).String() }

func newTestProtocol(t *testing.T) (*Protocol, *settlement.ManualClock) {
	t.Helper()
	cfg, err := config.Parse([]byte(protocolYAML))
	require.NoError(t, err)
	clock := settlement.NewManualClock(genesisTime)
	p, err := BuildProtocol(cfg, clock)
	require.NoError(t, err)
	return p, clock
}

func submit(t *testing.T, svc *SettlementService, sender common.Address, cmd Command) *OperationReceipt {
	t.Helper()
	receipt, err := svc.Submit(context.Background(), sender, cmd)
	require.NoError(t, err, cmd.Kind)
	return receipt
}

func balanceOf(t *testing.T, p *Protocol, symbol string, account common.Address) string {
	t.Helper()
	addr, err := resolveToken(p.Tokens, symbol)
	require.NoError(t, err)
	b, err := p.TokenBalance(addr, account)
	require.NoError(t, err)
	return b.Balance.String()
}

func usdcLedger(t *testing.T, p *Protocol) token.Token {
	t.Helper()
	addr, err := resolveToken(p.Tokens, "USDC")
	require.NoError(t, err)
	usdc, err := p.Tokens.Token(addr)
	require.NoError(t, err)
	return usdc
}

// memoryOperations is an in-memory operation log.
type memoryOperations struct {
	mu       sync.Mutex
	ops      []*models.SettlementOperation
	events   []models.SettlementEvent
	failNext bool
}

func (m *memoryOperations) Append(_ context.Context, op *models.SettlementOperation, events []models.SettlementEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return errors.New("connection reset")
	}
	cp := *op
	m.ops = append(m.ops, &cp)
	m.events = append(m.events, events...)
	return nil
}

func (m *memoryOperations) LastSequence(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ops) == 0 {
		return 0, nil
	}
	return m.ops[len(m.ops)-1].Sequence, nil
}

func (m *memoryOperations) ListAfter(_ context.Context, after uint64, limit int) ([]*models.SettlementOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SettlementOperation
	for _, op := range m.ops {
		if op.Sequence > after && len(out) < limit {
			out = append(out, op)
		}
	}
	return out, nil
}

func (m *memoryOperations) GetByOperationID(_ context.Context, id string) (*models.SettlementOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range m.ops {
		if op.OperationID == id {
			return op, nil
		}
	}
	return nil, errors.New("not found")
}

func (m *memoryOperations) FindEvents(_ context.Context, filter repository.EventFilter, _, _ int) ([]*models.SettlementEvent, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SettlementEvent
	for i := range m.events {
		ev := &m.events[i]
		if filter.Component != "" && ev.Component != filter.Component {
			continue
		}
		if filter.Name != "" && ev.Name != filter.Name {
			continue
		}
		out = append(out, ev)
	}
	return out, int64(len(out)), nil
}

// memoryProjections is an in-memory projection store.
type memoryProjections struct {
	mu          sync.Mutex
	redemptions map[string]*models.RedemptionRecord
	entries     map[string]*models.GatewayQueueEntry
}

func newMemoryProjections() *memoryProjections {
	return &memoryProjections{
		redemptions: make(map[string]*models.RedemptionRecord),
		entries:     make(map[string]*models.GatewayQueueEntry),
	}
}

func redemptionKey(user string, index uint64) string {
	return strings.ToLower(user) + "#" + strconv.FormatUint(index, 10)
}

func (m *memoryProjections) UpsertRedemption(_ context.Context, record *models.RedemptionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *record
	m.redemptions[redemptionKey(record.User, record.Index)] = &cp
	return nil
}

func (m *memoryProjections) FindRedemptionsByUser(_ context.Context, user string) ([]*models.RedemptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.RedemptionRecord
	for _, r := range m.redemptions {
		if strings.EqualFold(r.User, user) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (m *memoryProjections) UpsertQueueEntry(_ context.Context, entry *models.GatewayQueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.EntryID]; !ok {
		cp := *entry
		m.entries[entry.EntryID] = &cp
	}
	return nil
}

func (m *memoryProjections) SettleQueueEntry(_ context.Context, entryID string, status models.GatewayQueueStatus, underlying, fee string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok {
		return errors.New("unknown entry")
	}
	e.Status, e.Underlying, e.Fee, e.SettledAt = status, underlying, fee, &at
	return nil
}

func (m *memoryProjections) FindQueueEntries(_ context.Context, status models.GatewayQueueStatus, _, _ int) ([]*models.GatewayQueueEntry, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.GatewayQueueEntry
	for _, e := range m.entries {
		if status == "" || e.Status == status {
			out = append(out, e)
		}
	}
	return out, int64(len(out)), nil
}
