package gateway

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"issuance-backend/internal/access"
	"issuance-backend/internal/conversion"
	"issuance-backend/internal/settlement"
)

func (g *Gateway) SetMintFeeRate(tx *settlement.Tx, rate uint64) error {
	return g.setRate(tx, "MintFeeRateUpdated", &g.params.MintFeeRate, rate)
}

func (g *Gateway) SetRedeemFeeRate(tx *settlement.Tx, rate uint64) error {
	return g.setRate(tx, "RedeemFeeRateUpdated", &g.params.RedeemFeeRate, rate)
}

func (g *Gateway) SetTreasury(tx *settlement.Tx, treasury common.Address) error {
	return g.setAddress(tx, "TreasuryUpdated", &g.params.Treasury, treasury)
}

func (g *Gateway) SetFeeTo(tx *settlement.Tx, feeTo common.Address) error {
	return g.setAddress(tx, "FeeToUpdated", &g.params.FeeTo, feeTo)
}

// SetRedeemAsset selects the underlying asset queued redemptions are paid in.
func (g *Gateway) SetRedeemAsset(tx *settlement.Tx, asset common.Address) error {
	if err := access.Require(g.roles, access.MaintainerRole, tx.Sender()); err != nil {
		return err
	}
	if !g.converter.IsSupported(asset) {
		return fmt.Errorf("%w: %s", ErrAssetNotSupported, asset.Hex())
	}
	prev := g.params.RedeemAsset
	g.params.RedeemAsset = asset
	tx.OnRevert(func() { g.params.RedeemAsset = prev })
	tx.Emit(component, "RedeemAssetUpdated", map[string]string{"asset": asset.Hex()})
	return nil
}

func (g *Gateway) SetFirstDepositAmount(tx *settlement.Tx, amount *big.Int) error {
	return g.setMinimum(tx, "FirstDepositAmountUpdated", &g.params.FirstDepositAmount, amount)
}

func (g *Gateway) SetMintMinimum(tx *settlement.Tx, amount *big.Int) error {
	return g.setMinimum(tx, "MintMinimumUpdated", &g.params.MintMinimum, amount)
}

// SetFirstDeposit overrides the first-deposit latch of account.
func (g *Gateway) SetFirstDeposit(tx *settlement.Tx, account common.Address, done bool) error {
	if err := access.Require(g.roles, access.MaintainerRole, tx.Sender()); err != nil {
		return err
	}
	if account == (common.Address{}) {
		return ErrZeroAddress
	}
	g.setFirstDeposit(tx, account, done)
	tx.Emit(component, "FirstDepositUpdated", map[string]string{
		"account": account.Hex(),
		"done":    fmt.Sprint(done),
	})
	return nil
}

// SetConverter swaps the conversion registry.
func (g *Gateway) SetConverter(tx *settlement.Tx, converter conversion.Converter) error {
	if err := access.Require(g.roles, access.UpgradeRole, tx.Sender()); err != nil {
		return err
	}
	if converter == nil {
		return ErrNilConverter
	}
	prev := g.converter
	g.converter = converter
	tx.OnRevert(func() { g.converter = prev })
	tx.Emit(component, "ConverterUpdated", nil)
	return nil
}

func (g *Gateway) Pause(tx *settlement.Tx) error   { return g.setPaused(tx, true) }
func (g *Gateway) Unpause(tx *settlement.Tx) error { return g.setPaused(tx, false) }

func (g *Gateway) setPaused(tx *settlement.Tx, paused bool) error {
	if err := access.Require(g.roles, access.PauseRole, tx.Sender()); err != nil {
		return err
	}
	prev := g.paused
	g.paused = paused
	tx.OnRevert(func() { g.paused = prev })
	name := "Unpaused"
	if paused {
		name = "Paused"
	}
	tx.Emit(component, name, map[string]string{"account": tx.Sender().Hex()})
	return nil
}

func (g *Gateway) setRate(tx *settlement.Tx, event string, field *uint64, rate uint64) error {
	if err := access.Require(g.roles, access.MaintainerRole, tx.Sender()); err != nil {
		return err
	}
	if rate > MaxFeeRate {
		return fmt.Errorf("%w: %d", ErrInvalidFeeRate, rate)
	}
	prev := *field
	*field = rate
	tx.OnRevert(func() { *field = prev })
	tx.Emit(component, event, map[string]string{"rate": fmt.Sprint(rate)})
	return nil
}

func (g *Gateway) setAddress(tx *settlement.Tx, event string, field *common.Address, value common.Address) error {
	if err := access.Require(g.roles, access.MaintainerRole, tx.Sender()); err != nil {
		return err
	}
	if value == (common.Address{}) {
		return ErrZeroAddress
	}
	prev := *field
	*field = value
	tx.OnRevert(func() { *field = prev })
	tx.Emit(component, event, map[string]string{"address": value.Hex()})
	return nil
}

func (g *Gateway) setMinimum(tx *settlement.Tx, event string, field **big.Int, value *big.Int) error {
	if err := access.Require(g.roles, access.MaintainerRole, tx.Sender()); err != nil {
		return err
	}
	if value == nil || value.Sign() < 0 {
		return ErrInvalidMinimum
	}
	prev := *field
	*field = new(big.Int).Set(value)
	tx.OnRevert(func() { *field = prev })
	tx.Emit(component, event, map[string]string{"amount": value.String()})
	return nil
}
