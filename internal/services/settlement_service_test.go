package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issuance-backend/internal/gateway"
	"issuance-backend/internal/models"
	"issuance-backend/internal/redemption"
	"issuance-backend/internal/repository"
	"issuance-backend/internal/settlement"
	"issuance-backend/internal/vault"
)

func TestStakeUnstakeClaim(t *testing.T) {
	ctx := context.Background()
	p, clock := newTestProtocol(t)
	projections := newMemoryProjections()
	svc := NewSettlementService(p, nil, projections)

	submit(t, svc, alice, Command{Kind: KindTokenApprove, Token: "USDX", Account: p.Vault.Address().Hex(), Amount: e18(400)})
	r := submit(t, svc, alice, Command{Kind: KindVaultStake, Amount: e18(400)})
	assert.Equal(t, e18(400), r.Result["shares"])
	assert.Equal(t, uint64(2), r.Sequence)
	assert.Equal(t, uint64(1), r.Batch)

	_, err := svc.Submit(ctx, alice, Command{Kind: KindVaultUnstake, Amount: e18(100)})
	require.ErrorIs(t, err, vault.ErrSameBatch)
	assert.Equal(t, uint64(2), svc.Sequence())

	assert.Equal(t, uint64(2), svc.SealBatch())
	r = submit(t, svc, alice, Command{Kind: KindVaultUnstake, Amount: e18(100)})
	assert.Equal(t, "0", r.Result["index"])

	record := projections.redemptions[redemptionKey(alice.Hex(), 0)]
	require.NotNil(t, record)
	assert.Equal(t, models.RedemptionRecordStatusQueued, record.Status)
	assert.Equal(t, e18(100), record.Assets)
	assert.True(t, genesisTime.Add(24*time.Hour).Equal(record.ClaimableAt))

	_, err = svc.Submit(ctx, alice, Command{Kind: KindRedemptionClaim, Index: 0})
	require.ErrorIs(t, err, redemption.ErrStillQueued)

	clock.Advance(24 * time.Hour)
	r = submit(t, svc, alice, Command{Kind: KindRedemptionClaim, Index: 0})
	assert.Equal(t, e18(100), r.Result["assets"])
	assert.Equal(t, e18(700), balanceOf(t, p, "USDX", alice))

	record = projections.redemptions[redemptionKey(alice.Hex(), 0)]
	assert.Equal(t, models.RedemptionRecordStatusClaimed, record.Status)
	require.NotNil(t, record.ClaimedAt)

	_, err = svc.Submit(ctx, alice, Command{Kind: KindRedemptionClaim, Index: 0})
	require.ErrorIs(t, err, redemption.ErrAlreadyProcessed)

	state := p.AccountState(alice)
	assert.Equal(t, e18(300), state.Shares.String())
	require.Len(t, state.Redemptions, 1)
	assert.Equal(t, "0", p.VaultState().PendingAssets.String())
}

// within fails the test if fn blocks for longer than two seconds.
func within(t *testing.T, fn func() error) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("call did not return")
	}
}

// submitAll submits cmds in order and stops at the first error.
func submitAll(svc *SettlementService, sender common.Address, cmds ...Command) error {
	for _, cmd := range cmds {
		if _, err := svc.Submit(context.Background(), sender, cmd); err != nil {
			return err
		}
	}
	return nil
}

func TestSnapshotsAfterSubmit(t *testing.T) {
	p, _ := newTestProtocol(t)
	svc := NewSettlementService(p, nil, newMemoryProjections())

	within(t, func() error {
		return submitAll(svc, alice,
			Command{Kind: KindTokenApprove, Token: "USDX", Account: p.Vault.Address().Hex(), Amount: e18(50)},
			Command{Kind: KindVaultStake, Amount: e18(50)},
		)
	})

	var (
		v  VaultState
		g  GatewayState
		r  Reserves
		as AccountState
	)
	within(t, func() error {
		v = p.VaultState()
		g = p.GatewayState()
		r = p.Reserves()
		as = p.AccountState(alice)
		return nil
	})
	assert.Equal(t, e18(50), v.TotalAssets.String())
	assert.Equal(t, e18(50), v.TotalSupply.String())
	assert.Equal(t, uint64(1), v.Batch)
	assert.Equal(t, 0, g.QueueLength)
	assert.True(t, r.Solvent())
	assert.Equal(t, e18(50), as.Shares.String())

	svc.SealBatch()
	within(t, func() error {
		v = p.VaultState()
		return nil
	})
	assert.Equal(t, uint64(2), v.Batch)
}

func TestStakeUnstakeClaimWholeBalance(t *testing.T) {
	ctx := context.Background()
	p, clock := newTestProtocol(t)
	svc := NewSettlementService(p, nil, newMemoryProjections())

	within(t, func() error {
		return submitAll(svc, alice,
			Command{Kind: KindTokenApprove, Token: "USDX", Account: p.Vault.Address().Hex(), Amount: e18(1000)},
			Command{Kind: KindVaultStake, Amount: e18(1000)},
		)
	})
	assert.Equal(t, e18(1000), p.AccountState(alice).Shares.String())

	svc.SealBatch()
	within(t, func() error {
		return submitAll(svc, alice, Command{Kind: KindVaultUnstake, Amount: e18(1000)})
	})

	record, ok := p.Redemption(alice, 0)
	require.True(t, ok)
	assert.Equal(t, e18(1000), record.Assets.String())
	assert.False(t, record.Processed())
	assert.Equal(t, "0", p.VaultState().TotalSupply.String())

	clock.Advance(24 * time.Hour)
	within(t, func() error {
		return submitAll(svc, alice, Command{Kind: KindRedemptionClaim, Index: 0})
	})
	assert.Equal(t, e18(1000), balanceOf(t, p, "USDX", alice))

	_, err := svc.Submit(ctx, alice, Command{Kind: KindRedemptionClaim, Index: 0})
	require.ErrorIs(t, err, redemption.ErrAlreadyProcessed)
}

func TestGatewayMintRedeemProcess(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProtocol(t)
	projections := newMemoryProjections()
	svc := NewSettlementService(p, nil, projections)
	gw := gatewayA.Hex()

	submit(t, svc, alice, Command{Kind: KindTokenApprove, Token: "USDC", Account: gw, Amount: "2000000000"})
	r := submit(t, svc, alice, Command{Kind: KindGatewayInstantMint, Asset: "USDC", Account: alice.Hex(), Amount: "1000000000"})
	assert.Equal(t, e18(990), r.Result["minted"])
	assert.Equal(t, e18(1990), balanceOf(t, p, "USDX", alice))
	assert.Equal(t, "990000000", balanceOf(t, p, "USDC", treasury))
	assert.Equal(t, "10000000", balanceOf(t, p, "USDC", feeTo))
	assert.True(t, p.AccountState(alice).HasFirstDeposit)

	submit(t, svc, alice, Command{Kind: KindTokenApprove, Token: "USDX", Account: gw, Amount: e18(2000)})
	r = submit(t, svc, alice, Command{Kind: KindGatewayRedeemRequest, Account: bob.Hex(), Amount: e18(200)})
	id := r.Result["id"]
	require.NotEmpty(t, id)

	entry := projections.entries[id]
	require.NotNil(t, entry)
	assert.Equal(t, models.GatewayQueueStatusQueued, entry.Status)
	assert.Equal(t, strings.ToLower(bob.Hex()), entry.Receiver)
	assert.Equal(t, e18(200), p.AccountState(bob).GatewayPending.String())

	_, err := svc.Submit(ctx, alice, Command{Kind: KindGatewayProcess})
	assert.Equal(t, settlement.KindAuthorization, settlement.KindOf(err))

	r = submit(t, svc, operator, Command{Kind: KindGatewayProcess})
	assert.Equal(t, "1", r.Result["processed"])
	assert.Equal(t, "0", r.Result["remaining"])
	assert.Equal(t, "199000000", balanceOf(t, p, "USDC", bob))
	assert.Equal(t, "11000000", balanceOf(t, p, "USDC", feeTo))
	assert.Equal(t, "800000000", p.GatewayState().Liquidity.String())
	assert.Equal(t, "0", p.AccountState(bob).GatewayPending.String())

	assert.Equal(t, models.GatewayQueueStatusProcessed, entry.Status)
	assert.Equal(t, "200000000", entry.Underlying)
	assert.Equal(t, "1000000", entry.Fee)

	_, err = svc.Submit(ctx, operator, Command{Kind: KindGatewayProcess})
	require.ErrorIs(t, err, gateway.ErrQueueEmpty)
}

func TestGatewayStallAndCancel(t *testing.T) {
	p, _ := newTestProtocol(t)
	projections := newMemoryProjections()
	svc := NewSettlementService(p, nil, projections)
	gw := gatewayA.Hex()

	// liquidity is 1000 USDC; minting sends the deposit to the treasury
	submit(t, svc, alice, Command{Kind: KindTokenApprove, Token: "USDC", Account: gw, Amount: "500000000"})
	submit(t, svc, alice, Command{Kind: KindGatewayInstantMint, Asset: "USDC", Account: alice.Hex(), Amount: "500000000"})
	submit(t, svc, alice, Command{Kind: KindTokenApprove, Token: "USDX", Account: gw, Amount: e18(1200)})
	r := submit(t, svc, alice, Command{Kind: KindGatewayRedeemRequest, Account: alice.Hex(), Amount: e18(1200)})
	id := r.Result["id"]

	r = submit(t, svc, operator, Command{Kind: KindGatewayProcess})
	assert.Equal(t, "0", r.Result["processed"])
	assert.Equal(t, "1", r.Result["remaining"])
	require.Len(t, r.Events, 1)
	assert.Equal(t, "RedemptionQueueStalled", r.Events[0].Name)
	assert.Equal(t, "1200000000", r.Events[0].Attributes["required"])
	assert.Equal(t, "1000000000", r.Events[0].Attributes["available"])
	assert.Equal(t, models.GatewayQueueStatusQueued, projections.entries[id].Status)

	submit(t, svc, admin, Command{Kind: KindAccessGrantRole, Role: "MAINTAINER_ROLE", Account: operator.Hex()})
	r = submit(t, svc, operator, Command{Kind: KindGatewayCancel, Count: 1})
	assert.Equal(t, "1", r.Result["cancelled"])
	assert.Equal(t, e18(1495), balanceOf(t, p, "USDX", alice))
	assert.Equal(t, models.GatewayQueueStatusCancelled, projections.entries[id].Status)
	assert.Zero(t, p.GatewayState().QueueLength)
}

// runScenario drives a mix of vault and gateway operations.
func runScenario(t *testing.T, svc *SettlementService, p *Protocol, clock *settlement.ManualClock) {
	ctx := context.Background()
	gw := gatewayA.Hex()

	submit(t, svc, alice, Command{Kind: KindTokenApprove, Token: "USDX", Account: p.Vault.Address().Hex(), Amount: e18(500)})
	submit(t, svc, alice, Command{Kind: KindVaultStake, Amount: e18(500)})
	_, err := svc.Submit(ctx, alice, Command{Kind: KindVaultUnstake, Amount: e18(100)})
	require.Error(t, err)
	svc.SealBatch()
	clock.Advance(time.Hour)
	submit(t, svc, alice, Command{Kind: KindVaultUnstake, Amount: e18(100)})
	clock.Advance(25 * time.Hour)
	submit(t, svc, alice, Command{Kind: KindRedemptionClaim, Index: 0})

	submit(t, svc, alice, Command{Kind: KindTokenApprove, Token: "USDC", Account: gw, Amount: "300000000"})
	submit(t, svc, alice, Command{Kind: KindGatewayInstantMint, Asset: "USDC", Account: bob.Hex(), Amount: "300000000"})
	submit(t, svc, bob, Command{Kind: KindTokenApprove, Token: "USDX", Account: gw, Amount: e18(100)})
	submit(t, svc, bob, Command{Kind: KindGatewayRedeemRequest, Account: alice.Hex(), Amount: e18(60)})
	submit(t, svc, bob, Command{Kind: KindGatewayRedeemRequest, Account: bob.Hex(), Amount: e18(40)})
	submit(t, svc, operator, Command{Kind: KindGatewayProcess, Count: 1})
}

func TestReplayRebuildsState(t *testing.T) {
	ctx := context.Background()
	p, clock := newTestProtocol(t)
	ops := &memoryOperations{}
	svc := NewSettlementService(p, ops, nil)
	runScenario(t, svc, p, clock)

	// the rejected unstake is not logged
	require.Len(t, ops.ops, 10)
	for i, op := range ops.ops {
		assert.Equal(t, uint64(i+1), op.Sequence)
		assert.NotEmpty(t, op.OperationID)
	}
	assert.Equal(t, KindVaultStake, ops.ops[1].Kind)
	assert.Equal(t, uint64(1), ops.ops[1].Batch)
	assert.Equal(t, uint64(2), ops.ops[2].Batch)

	staked, _, err := ops.FindEvents(ctx, repository.EventFilter{Component: "vault", Name: "Staked"}, 1, 10)
	require.NoError(t, err)
	require.Len(t, staked, 1)
	var attrs map[string]string
	require.NoError(t, json.Unmarshal([]byte(staked[0].Attributes), &attrs))
	assert.Equal(t, alice, common.HexToAddress(attrs["caller"]))
	assert.Equal(t, e18(500), attrs["assets"])

	rebuilt, _ := newTestProtocol(t)
	replay := NewSettlementService(rebuilt, ops, nil)
	n, err := replay.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, svc.Sequence(), replay.Sequence())

	for _, account := range []common.Address{alice, bob, treasury, feeTo, gatewayA, p.Vault.Address(), p.Queue.Address()} {
		for _, symbol := range []string{"USDX", "USDC"} {
			assert.Equal(t, balanceOf(t, p, symbol, account), balanceOf(t, rebuilt, symbol, account), "%s %s", symbol, account.Hex())
		}
		want, got := p.AccountState(account), rebuilt.AccountState(account)
		assert.Equal(t, want.Shares.String(), got.Shares.String())
		assert.Equal(t, want.GatewayPending.String(), got.GatewayPending.String())
		assert.Equal(t, want.HasFirstDeposit, got.HasFirstDeposit)
		require.Len(t, got.Redemptions, len(want.Redemptions))
		for i := range want.Redemptions {
			assert.Equal(t, want.Redemptions[i].Status, got.Redemptions[i].Status)
			assert.True(t, want.Redemptions[i].ClaimableAt.Equal(got.Redemptions[i].ClaimableAt))
		}
	}

	wantVault, gotVault := p.VaultState(), rebuilt.VaultState()
	assert.Equal(t, wantVault.TotalAssets.String(), gotVault.TotalAssets.String())
	assert.Equal(t, wantVault.TotalSupply.String(), gotVault.TotalSupply.String())

	wantQueue, gotQueue := p.QueueEntries(0, 10), rebuilt.QueueEntries(0, 10)
	require.Len(t, gotQueue, 1)
	assert.Equal(t, wantQueue[0].ID, gotQueue[0].ID)

	// replayed batches are closed, so the same account may act again
	r := submit(t, replay, alice, Command{Kind: KindVaultUnstake, Amount: e18(50)})
	assert.Equal(t, uint64(11), r.Sequence)
	assert.Greater(t, r.Batch, ops.ops[len(ops.ops)-1].Batch)
}

func TestReplayStopsAtGap(t *testing.T) {
	p, _ := newTestProtocol(t)
	ops := &memoryOperations{ops: []*models.SettlementOperation{{
		Sequence: 2,
		Sender:   admin.Hex(),
		Kind:     KindVaultPause,
		Payload:  `{"kind":"vault.pause"}`,
	}}}
	svc := NewSettlementService(p, ops, nil)

	_, err := svc.Replay(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gap")
	assert.False(t, p.VaultState().Paused)
}

func TestAppendFailureRevertsOperation(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProtocol(t)
	ops := &memoryOperations{failNext: true}
	svc := NewSettlementService(p, ops, nil)

	_, err := svc.Submit(ctx, alice, Command{Kind: KindTokenTransfer, Token: "USDX", To: bob.Hex(), Amount: e18(10)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append operation log")
	assert.Equal(t, settlement.KindUnknown, settlement.KindOf(err))
	assert.Equal(t, e18(1000), balanceOf(t, p, "USDX", alice))
	assert.Equal(t, "0", balanceOf(t, p, "USDX", bob))
	assert.Zero(t, svc.Sequence())
	assert.Empty(t, ops.ops)

	r := submit(t, svc, alice, Command{Kind: KindTokenTransfer, Token: "USDX", To: bob.Hex(), Amount: e18(10)})
	assert.Equal(t, uint64(1), r.Sequence)
	assert.Equal(t, e18(10), balanceOf(t, p, "USDX", bob))
	require.Len(t, ops.ops, 1)
	assert.Equal(t, 1, ops.ops[0].EventCount)
}

type recordingPublisher struct {
	receipts []*OperationReceipt
}

func (r *recordingPublisher) PublishOperation(receipt *OperationReceipt) error {
	r.receipts = append(r.receipts, receipt)
	return nil
}

func TestSubmitFansOut(t *testing.T) {
	p, _ := newTestProtocol(t)
	svc := NewSettlementService(p, nil, nil)

	publisher := &recordingPublisher{}
	svc.SetPublisher(publisher)

	push := NewWebSocketPushService()
	defer push.Close()
	conn := &Connection{ID: "conn_bob", UserAddress: strings.ToLower(bob.Hex()), Send: make(chan []byte, 32)}
	push.RegisterConnection(conn)
	svc.SetPusher(push)

	r := submit(t, svc, alice, Command{Kind: KindTokenTransfer, Token: "USDX", To: bob.Hex(), Amount: e18(5)})
	require.Len(t, publisher.receipts, 1)
	assert.Equal(t, r.OperationID, publisher.receipts[0].OperationID)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw := <-conn.Send:
			var msg struct {
				Type string `json:"type"`
				Data struct {
					OperationID string           `json:"operation_id"`
					Event       settlement.Event `json:"event"`
				} `json:"data"`
			}
			require.NoError(t, json.Unmarshal(raw, &msg))
			if msg.Type != "settlement_event" {
				continue
			}
			assert.Equal(t, r.OperationID, msg.Data.OperationID)
			assert.Equal(t, "Transfer", msg.Data.Event.Name)
			assert.Equal(t, e18(5), msg.Data.Event.Attributes["value"])
			return
		case <-deadline:
			t.Fatal("no settlement event pushed")
		}
	}
}

func TestEventAccounts(t *testing.T) {
	ev := settlement.Event{Attributes: map[string]string{
		"user":   "0x00000000000000000000000000000000000000B0",
		"owner":  "0x00000000000000000000000000000000000000b0",
		"id":     "0x" + strings.Repeat("ab", 32),
		"amount": "100",
	}}
	assert.Equal(t, []string{"0x00000000000000000000000000000000000000b0"}, eventAccounts(ev))
}
