package gateway

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"issuance-backend/internal/access"
	"issuance-backend/internal/conversion"
	"issuance-backend/internal/settlement"
	"issuance-backend/internal/token"
)

var (
	admin     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	alice     = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol     = common.HexToAddress("0x0000000000000000000000000000000000000ca1")
	mallory   = common.HexToAddress("0x0000000000000000000000000000000000000bad")
	treasury  = common.HexToAddress("0x0000000000000000000000000000000000007735")
	feeSink   = common.HexToAddress("0x0000000000000000000000000000000000000fee")
	gatewayAt = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	usdxAt    = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	daiAt     = common.HexToAddress("0x00000000000000000000000000000000000000e3")
	usdcAt    = common.HexToAddress("0x00000000000000000000000000000000000000e4")
)

type fixture struct {
	t       *testing.T
	engine  *settlement.Engine
	kyc     *access.KYCList
	usdx    *token.Ledger
	dai     *token.Ledger
	usdc    *token.Ledger
	gateway *Gateway
}

func newFixture(t *testing.T, params Params) *fixture {
	t.Helper()
	engine := settlement.NewEngine(settlement.NewManualClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)))
	roles := access.NewRoles(admin)
	kyc := access.NewKYCList(roles)
	usdx := token.NewLedger(usdxAt, "USDX", 18, admin)
	dai := token.NewLedger(daiAt, "DAI", 18, admin)
	usdc := token.NewLedger(usdcAt, "USDC", 6, admin)
	for _, l := range []*token.Ledger{usdx, dai, usdc} {
		l.GrantMinter(admin)
	}
	usdx.GrantMinter(gatewayAt)
	tokens := token.NewRegistry(usdx, dai, usdc)
	converter := conversion.NewRegistry(roles, tokens)

	params.Treasury = treasury
	params.FeeTo = feeSink
	params.RedeemAsset = daiAt

	f := &fixture{
		t:       t,
		engine:  engine,
		kyc:     kyc,
		usdx:    usdx,
		dai:     dai,
		usdc:    usdc,
		gateway: New(gatewayAt, usdx, tokens, converter, roles, kyc, params),
	}
	f.as(admin, func(tx *settlement.Tx) error {
		for _, role := range access.AllRoles[1:] {
			if err := roles.GrantRole(tx, role, admin); err != nil {
				return err
			}
		}
		for _, asset := range []common.Address{daiAt, usdcAt} {
			if err := converter.SetConfig(tx, conversion.AssetConfig{Asset: asset, Supported: true}); err != nil {
				return err
			}
		}
		if err := kyc.Grant(tx, alice, bob, carol); err != nil {
			return err
		}
		if err := dai.Mint(tx, alice, big.NewInt(100_000)); err != nil {
			return err
		}
		if err := usdc.Mint(tx, alice, big.NewInt(100_000_000)); err != nil {
			return err
		}
		return usdx.Mint(tx, alice, big.NewInt(100_000))
	})
	f.as(alice, func(tx *settlement.Tx) error {
		for _, l := range []*token.Ledger{usdx, dai, usdc} {
			if err := l.Approve(tx, gatewayAt, big.NewInt(1_000_000_000)); err != nil {
				return err
			}
		}
		return nil
	})
	return f
}

func (f *fixture) as(sender common.Address, fn func(tx *settlement.Tx) error) {
	f.t.Helper()
	_, err := f.engine.Execute(sender, fn)
	require.NoError(f.t, err)
}

func (f *fixture) try(sender common.Address, fn func(tx *settlement.Tx) error) error {
	_, err := f.engine.Execute(sender, fn)
	return err
}

func (f *fixture) mint(sender, asset, recipient common.Address, amount int64) (*big.Int, error) {
	var minted *big.Int
	err := f.try(sender, func(tx *settlement.Tx) error {
		var err error
		minted, err = f.gateway.InstantMint(tx, asset, recipient, big.NewInt(amount))
		return err
	})
	return minted, err
}

func (f *fixture) redeem(sender, recipient common.Address, amount int64) {
	f.t.Helper()
	f.as(sender, func(tx *settlement.Tx) error {
		_, err := f.gateway.RedeemRequest(tx, recipient, big.NewInt(amount))
		return err
	})
}

func (f *fixture) process(count int) (int, error) {
	var processed int
	err := f.try(admin, func(tx *settlement.Tx) error {
		var err error
		processed, err = f.gateway.ProcessRedemptionQueue(tx, count)
		return err
	})
	return processed, err
}

func (f *fixture) fundLiquidity(amount int64) {
	f.t.Helper()
	f.as(admin, func(tx *settlement.Tx) error { return f.dai.Mint(tx, gatewayAt, big.NewInt(amount)) })
}

func (f *fixture) requireQueue(amounts ...int64) {
	f.t.Helper()
	entries := f.gateway.QueueEntries(0, 0)
	require.Len(f.t, entries, len(amounts))
	for i, want := range amounts {
		require.Equal(f.t, big.NewInt(want).String(), entries[i].Amount.String())
	}
}

// requireConservation checks that queued totals per receiver match RedemptionInfo.
func (f *fixture) requireConservation() {
	f.t.Helper()
	sums := map[common.Address]*big.Int{}
	for _, e := range f.gateway.QueueEntries(0, 0) {
		if sums[e.Receiver] == nil {
			sums[e.Receiver] = new(big.Int)
		}
		sums[e.Receiver].Add(sums[e.Receiver], e.Amount)
	}
	for _, a := range []common.Address{alice, bob, carol, mallory} {
		want := sums[a]
		if want == nil {
			want = new(big.Int)
		}
		require.Zero(f.t, want.Cmp(f.gateway.RedemptionInfo(a)), "redemption info for %s", a.Hex())
	}
}

func TestInstantMintChargesFee(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, Params{MintFeeRate: 100})

	minted, err := f.mint(alice, daiAt, alice, 1000)
	require.NoError(err)
	require.Equal("990", minted.String())
	require.Equal("10", f.dai.BalanceOf(feeSink).String())
	require.Equal("990", f.dai.BalanceOf(treasury).String())
	require.Equal("100990", f.usdx.BalanceOf(alice).String())
	require.True(f.gateway.HasFirstDeposit(alice))
}

func TestInstantMintScalesDecimals(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, Params{})

	minted, err := f.mint(alice, usdcAt, bob, 2_500_000)
	require.NoError(err)
	require.Equal("2500000000000000000", minted.String())
	require.Equal("2500000000000000000", f.usdx.BalanceOf(bob).String())
	require.Equal("2500000", f.usdc.BalanceOf(treasury).String())
}

func TestInstantMintFeeInCanonicalUnits(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, Params{MintFeeRate: 100})

	// 150 units of a 6-decimal asset: fee 1.5e12, minted 148.5e12.
	minted, err := f.mint(alice, usdcAt, bob, 150)
	require.NoError(err)
	require.Equal("148500000000000", minted.String())
	require.Equal("148500000000000", f.usdx.BalanceOf(bob).String())
	require.Equal("1", f.usdc.BalanceOf(feeSink).String())
	require.Equal("149", f.usdc.BalanceOf(treasury).String())

	// A canonical fee below one asset unit mints net but sends nothing to the sink.
	minted, err = f.mint(alice, usdcAt, bob, 50)
	require.NoError(err)
	require.Equal("49500000000000", minted.String())
	require.Equal("1", f.usdc.BalanceOf(feeSink).String())
	require.Equal("199", f.usdc.BalanceOf(treasury).String())
}

func TestInstantMintValidation(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, Params{})

	_, err := f.mint(alice, daiAt, alice, 0)
	require.ErrorIs(err, ErrZeroAmount)
	_, err = f.mint(alice, daiAt, mallory, 10)
	require.ErrorIs(err, ErrNotKyc)
	_, err = f.mint(mallory, daiAt, alice, 10)
	require.ErrorIs(err, ErrNotKyc)
	_, err = f.mint(alice, usdxAt, alice, 10)
	require.ErrorIs(err, ErrAssetNotSupported)

	f.as(admin, f.gateway.Pause)
	_, err = f.mint(alice, daiAt, alice, 10)
	require.ErrorIs(err, ErrPaused)
}

func TestFirstDepositLatch(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, Params{FirstDepositAmount: big.NewInt(500), MintMinimum: big.NewInt(100)})

	_, err := f.mint(alice, daiAt, alice, 400)
	require.ErrorIs(err, ErrBelowFirstDeposit)
	require.False(f.gateway.HasFirstDeposit(alice))

	_, err = f.mint(alice, daiAt, alice, 600)
	require.NoError(err)
	require.True(f.gateway.HasFirstDeposit(alice))

	_, err = f.mint(alice, daiAt, alice, 150)
	require.NoError(err)
	_, err = f.mint(alice, daiAt, alice, 50)
	require.ErrorIs(err, ErrBelowMinimum)

	f.as(admin, func(tx *settlement.Tx) error { return f.gateway.SetFirstDeposit(tx, alice, false) })
	_, err = f.mint(alice, daiAt, alice, 150)
	require.ErrorIs(err, ErrBelowFirstDeposit)
}

func TestInstantMintIsAllOrNothing(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, Params{MintFeeRate: 100})

	// enough allowance for the fee leg but not the treasury leg
	f.as(alice, func(tx *settlement.Tx) error { return f.dai.Approve(tx, gatewayAt, big.NewInt(50)) })
	_, err := f.mint(alice, daiAt, alice, 1000)
	require.ErrorIs(err, token.ErrInsufficientAllowance)

	require.Zero(f.dai.BalanceOf(feeSink).Sign())
	require.Zero(f.dai.BalanceOf(treasury).Sign())
	require.Equal("100000", f.usdx.BalanceOf(alice).String())
	require.Equal("50", f.dai.Allowance(alice, gatewayAt).String())
	require.False(f.gateway.HasFirstDeposit(alice))
}

func TestRedeemRequestQueuesEntry(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, Params{})

	var id common.Hash
	f.as(alice, func(tx *settlement.Tx) error {
		var err error
		id, err = f.gateway.RedeemRequest(tx, bob, big.NewInt(300))
		return err
	})
	require.Equal(1, f.gateway.QueueLength())
	require.Equal("300", f.usdx.BalanceOf(gatewayAt).String())
	require.Equal("300", f.gateway.RedemptionInfo(bob).String())

	entry := f.gateway.QueueEntries(0, 1)[0]
	require.Equal(id, entry.ID)
	require.Equal(alice, entry.Sender)
	require.Equal(bob, entry.Receiver)
	require.Equal(EntryID(alice, bob, big.NewInt(300), entry.QueuedAt, 0), id)
	f.requireConservation()

	err := f.try(alice, func(tx *settlement.Tx) error {
		_, err := f.gateway.RedeemRequest(tx, mallory, big.NewInt(1))
		return err
	})
	require.ErrorIs(err, ErrNotKyc)
}

func TestProcessPreservesFIFOAndStopsOnShortfall(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, Params{})

	f.redeem(alice, alice, 100)
	f.redeem(alice, bob, 200)
	f.redeem(alice, carol, 300)
	f.fundLiquidity(150)
	f.requireConservation()

	processed, err := f.process(1)
	require.NoError(err)
	require.Equal(1, processed)
	f.requireQueue(200, 300)
	require.Equal("100100", f.dai.BalanceOf(alice).String())
	require.Equal("500", f.usdx.BalanceOf(gatewayAt).String())
	f.requireConservation()

	processed, err = f.process(2)
	require.NoError(err)
	require.Zero(processed)
	f.requireQueue(200, 300)
	require.Equal("50", f.dai.BalanceOf(gatewayAt).String())
	f.requireConservation()

	f.fundLiquidity(1000)
	processed, err = f.process(0)
	require.NoError(err)
	require.Equal(2, processed)
	require.Zero(f.gateway.QueueLength())
	require.Equal("200", f.dai.BalanceOf(bob).String())
	require.Equal("300", f.dai.BalanceOf(carol).String())
	require.Zero(f.usdx.BalanceOf(gatewayAt).Sign())
	f.requireConservation()
}

func TestProcessStopsMidBatch(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, Params{})

	f.redeem(alice, bob, 100)
	f.redeem(alice, bob, 100)
	f.redeem(alice, carol, 100)
	f.fundLiquidity(250)

	processed, err := f.process(0)
	require.NoError(err)
	require.Equal(2, processed)
	f.requireQueue(100)
	require.Zero(f.gateway.RedemptionInfo(bob).Sign())
	require.Equal("100", f.gateway.RedemptionInfo(carol).String())
}

func TestProcessCountBounds(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, Params{})

	_, err := f.process(0)
	require.ErrorIs(err, ErrQueueEmpty)

	f.redeem(alice, bob, 10)
	_, err = f.process(2)
	require.ErrorIs(err, ErrCountExceedsQueue)

	err = f.try(alice, func(tx *settlement.Tx) error {
		_, err := f.gateway.ProcessRedemptionQueue(tx, 1)
		return err
	})
	require.ErrorIs(err, access.ErrMissingRole)
}

func TestProcessAbortsWholeBatchOnKycFailure(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, Params{})

	f.redeem(alice, alice, 100)
	f.redeem(alice, bob, 100)
	f.fundLiquidity(1000)
	f.as(admin, func(tx *settlement.Tx) error { return f.kyc.Revoke(tx, bob) })

	_, err := f.process(0)
	require.ErrorIs(err, ErrNotKyc)
	f.requireQueue(100, 100)
	require.Equal("100000", f.dai.BalanceOf(alice).String())
	require.Equal("1000", f.dai.BalanceOf(gatewayAt).String())
	require.Equal("200", f.usdx.BalanceOf(gatewayAt).String())
	f.requireConservation()
}

func TestProcessChargesRedeemFee(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, Params{RedeemFeeRate: 50})

	f.redeem(alice, bob, 1000)
	f.fundLiquidity(1000)

	processed, err := f.process(1)
	require.NoError(err)
	require.Equal(1, processed)
	require.Equal("5", f.dai.BalanceOf(feeSink).String())
	require.Equal("995", f.dai.BalanceOf(bob).String())
	require.Equal("99000", f.usdx.TotalSupply().String())
}

func TestCancelRefundsSender(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, Params{})

	cancel := func(sender common.Address, count int) error {
		return f.try(sender, func(tx *settlement.Tx) error {
			_, err := f.gateway.Cancel(tx, count)
			return err
		})
	}
	require.ErrorIs(cancel(admin, 1), ErrQueueEmpty)

	f.redeem(alice, bob, 100)
	f.redeem(alice, carol, 200)
	f.redeem(alice, bob, 300)

	require.ErrorIs(cancel(bob, 1), access.ErrMissingRole)
	require.ErrorIs(cancel(admin, 0), ErrZeroCount)
	require.ErrorIs(cancel(admin, 4), ErrCountExceedsQueue)

	require.NoError(cancel(admin, 2))
	f.requireQueue(300)
	require.Equal("99700", f.usdx.BalanceOf(alice).String())
	require.Zero(f.usdx.BalanceOf(bob).Sign())
	require.Equal("300", f.gateway.RedemptionInfo(bob).String())
	require.Zero(f.gateway.RedemptionInfo(carol).Sign())
	require.Zero(f.dai.BalanceOf(bob).Sign())
	f.requireConservation()
}

func TestSetters(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, Params{})

	require.ErrorIs(f.try(admin, func(tx *settlement.Tx) error { return f.gateway.SetMintFeeRate(tx, 10_001) }), ErrInvalidFeeRate)
	require.ErrorIs(f.try(alice, func(tx *settlement.Tx) error { return f.gateway.SetRedeemFeeRate(tx, 1) }), access.ErrMissingRole)
	require.ErrorIs(f.try(admin, func(tx *settlement.Tx) error { return f.gateway.SetTreasury(tx, common.Address{}) }), ErrZeroAddress)
	require.ErrorIs(f.try(admin, func(tx *settlement.Tx) error { return f.gateway.SetRedeemAsset(tx, usdxAt) }), ErrAssetNotSupported)
	require.ErrorIs(f.try(admin, func(tx *settlement.Tx) error { return f.gateway.SetConverter(tx, nil) }), ErrNilConverter)
	require.ErrorIs(f.try(admin, func(tx *settlement.Tx) error { return f.gateway.SetMintMinimum(tx, big.NewInt(-1)) }), ErrInvalidMinimum)

	f.as(admin, func(tx *settlement.Tx) error {
		if err := f.gateway.SetMintFeeRate(tx, 25); err != nil {
			return err
		}
		if err := f.gateway.SetRedeemAsset(tx, usdcAt); err != nil {
			return err
		}
		return f.gateway.SetFirstDepositAmount(tx, big.NewInt(7))
	})
	p := f.gateway.Params()
	require.Equal(uint64(25), p.MintFeeRate)
	require.Equal(usdcAt, p.RedeemAsset)
	require.Equal("7", p.FirstDepositAmount.String())
}

func TestEntryIDDependsOnPosition(t *testing.T) {
	at := time.Unix(1_800_000_000, 0)
	a := EntryID(alice, bob, big.NewInt(5), at, 0)
	require.Equal(t, a, EntryID(alice, bob, big.NewInt(5), at, 0))
	require.NotEqual(t, a, EntryID(alice, bob, big.NewInt(5), at, 1))
	require.NotEqual(t, a, EntryID(bob, alice, big.NewInt(5), at, 0))
}
