package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunKeeperDrainsQueue(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProtocol(t)
	svc := NewSettlementService(p, nil, nil)
	keeper := NewSchedulerService(svc, 0, 0, operator, 2)

	n, err := keeper.RunKeeper(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	submit(t, svc, alice, Command{Kind: KindTokenApprove, Token: "USDX", Account: gatewayA.Hex(), Amount: e18(30)})
	for i := 0; i < 3; i++ {
		submit(t, svc, alice, Command{Kind: KindGatewayRedeemRequest, Account: bob.Hex(), Amount: e18(10)})
	}

	n, err = keeper.RunKeeper(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, p.GatewayState().QueueLength)

	// a smaller queue than the per-run cap is drained whole
	n, err = keeper.RunKeeper(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "29850000", balanceOf(t, p, "USDC", bob))
}

func TestRunKeeperWithoutOperatorRole(t *testing.T) {
	p, _ := newTestProtocol(t)
	svc := NewSettlementService(p, nil, nil)
	keeper := NewSchedulerService(svc, 0, 0, mallory, 0)

	submit(t, svc, alice, Command{Kind: KindTokenApprove, Token: "USDX", Account: gatewayA.Hex(), Amount: e18(10)})
	submit(t, svc, alice, Command{Kind: KindGatewayRedeemRequest, Account: alice.Hex(), Amount: e18(10)})

	_, err := keeper.RunKeeper(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, p.GatewayState().QueueLength)
}

func TestSchedulerSealsBatches(t *testing.T) {
	p, _ := newTestProtocol(t)
	svc := NewSettlementService(p, nil, nil)
	scheduler := NewSchedulerService(svc, 10*time.Millisecond, 0, operator, 0)

	start := p.Engine.Batch()
	scheduler.Start()
	require.Eventually(t, func() bool { return p.Engine.Batch() > start+1 }, 2*time.Second, 5*time.Millisecond)
	scheduler.Stop()

	stopped := p.Engine.Batch()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, p.Engine.Batch())
}
