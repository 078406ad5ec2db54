package conversion

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"issuance-backend/internal/access"
	"issuance-backend/internal/settlement"
	"issuance-backend/internal/token"
)

var (
	admin = common.HexToAddress("0x0000000000000000000000000000000000000001")
	usdc  = common.HexToAddress("0x00000000000000000000000000000000000000c6")
	dai   = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	wide  = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	feed  = common.HexToAddress("0x00000000000000000000000000000000000000fe")
)

type fixture struct {
	engine   *settlement.Engine
	registry *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	engine := settlement.NewEngine(nil)
	roles := access.NewRoles(admin)
	tokens := token.NewRegistry(
		token.NewLedger(usdc, "USDC", 6, admin),
		token.NewLedger(dai, "DAI", 18, admin),
		token.NewLedger(wide, "WIDE", 24, admin),
	)
	_, err := engine.Execute(admin, func(tx *settlement.Tx) error {
		return roles.GrantRole(tx, access.MaintainerRole, admin)
	})
	require.NoError(t, err)
	return &fixture{engine: engine, registry: NewRegistry(roles, tokens)}
}

func (f *fixture) set(cfg AssetConfig) error {
	_, err := f.engine.Execute(admin, func(tx *settlement.Tx) error {
		return f.registry.SetConfig(tx, cfg)
	})
	return err
}

func (f *fixture) remove(asset common.Address) error {
	_, err := f.engine.Execute(admin, func(tx *settlement.Tx) error {
		return f.registry.RemoveAsset(tx, asset)
	})
	return err
}

func TestSetConfigValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		cfg  AssetConfig
		err  error
	}{
		{"zero asset", AssetConfig{Supported: true}, ErrZeroAsset},
		{"feed without staleness", AssetConfig{Asset: usdc, Supported: true, PriceFeed: &feed}, ErrInvalidStalePeriod},
		{"new asset unsupported", AssetConfig{Asset: usdc}, ErrNewAssetUnsupported},
		{"unknown token", AssetConfig{Asset: feed, Supported: true}, token.ErrUnknownToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, f.set(tt.cfg), tt.err)
		})
	}
	require.Empty(t, f.registry.SupportedAssets())
}

func TestSetConfigRequiresMaintainer(t *testing.T) {
	f := newFixture(t)
	stranger := common.HexToAddress("0x0000000000000000000000000000000000000bad")
	_, err := f.engine.Execute(stranger, func(tx *settlement.Tx) error {
		return f.registry.SetConfig(tx, AssetConfig{Asset: usdc, Supported: true})
	})
	require.ErrorIs(t, err, access.ErrMissingRole)
}

func TestAddIsIdempotentAndUpdateRemoves(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	require.NoError(f.set(AssetConfig{Asset: usdc, Supported: true}))
	require.NoError(f.set(AssetConfig{Asset: usdc, Supported: true, PriceFeed: &feed, MaxStalePeriod: time.Hour}))
	require.Equal([]common.Address{usdc}, f.registry.SupportedAssets())

	cfg, ok := f.registry.Config(usdc)
	require.True(ok)
	require.Equal(time.Hour, cfg.MaxStalePeriod)

	require.NoError(f.set(AssetConfig{Asset: usdc, Supported: false}))
	require.False(f.registry.IsSupported(usdc))
	require.Empty(f.registry.SupportedAssets())

	require.NoError(f.set(AssetConfig{Asset: usdc, Supported: true}))
	require.Equal([]common.Address{usdc}, f.registry.SupportedAssets())
}

func TestRemoveAsset(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	require.ErrorIs(f.remove(usdc), ErrAssetNotSupported)

	require.NoError(f.set(AssetConfig{Asset: usdc, Supported: true}))
	require.NoError(f.set(AssetConfig{Asset: dai, Supported: true}))
	require.NoError(f.set(AssetConfig{Asset: wide, Supported: true}))

	require.NoError(f.remove(usdc))
	require.ElementsMatch([]common.Address{dai, wide}, f.registry.SupportedAssets())
	require.ErrorIs(f.remove(usdc), ErrAssetNotSupported)

	_, err := f.registry.ConvertFromUnderlying(usdc, big.NewInt(1))
	require.ErrorIs(err, ErrAssetNotSupported)
}

func TestFailedSetConfigLeavesNoTrace(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	_, err := f.engine.Execute(admin, func(tx *settlement.Tx) error {
		if err := f.registry.SetConfig(tx, AssetConfig{Asset: usdc, Supported: true}); err != nil {
			return err
		}
		return f.registry.SetConfig(tx, AssetConfig{Asset: dai})
	})
	require.ErrorIs(err, ErrNewAssetUnsupported)
	require.Empty(f.registry.SupportedAssets())
	_, ok := f.registry.Config(usdc)
	require.False(ok)
}

func TestConversion(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	require.NoError(f.set(AssetConfig{Asset: usdc, Supported: true}))
	require.NoError(f.set(AssetConfig{Asset: dai, Supported: true}))
	require.NoError(f.set(AssetConfig{Asset: wide, Supported: true}))

	out, err := f.registry.ConvertFromUnderlying(usdc, big.NewInt(1_500_000))
	require.NoError(err)
	require.Equal("1500000000000000000", out.String())

	back, err := f.registry.ConvertToUnderlying(usdc, out)
	require.NoError(err)
	require.Equal("1500000", back.String())

	floor, err := f.registry.ConvertToUnderlying(usdc, big.NewInt(999_999_999_999))
	require.NoError(err)
	require.Zero(floor.Sign())

	same, err := f.registry.ConvertFromUnderlying(dai, big.NewInt(42))
	require.NoError(err)
	require.Equal("42", same.String())

	down, err := f.registry.ConvertFromUnderlying(wide, big.NewInt(1_999_999))
	require.NoError(err)
	require.Equal("1", down.String())
}
