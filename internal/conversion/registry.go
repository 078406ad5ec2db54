package conversion

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"issuance-backend/internal/access"
	"issuance-backend/internal/settlement"
	"issuance-backend/internal/token"
)

// CanonicalDecimals is the precision every underlying amount is scaled to.
const CanonicalDecimals = 18

var (
	ErrZeroAsset           = settlement.Invalid("conversion: zero asset")
	ErrInvalidStalePeriod  = settlement.Invalid("conversion: price feed requires a staleness window")
	ErrNewAssetUnsupported = settlement.Invalid("conversion: new asset must be supported")
	ErrAssetNotSupported   = settlement.Invalid("conversion: asset not supported")
)

// AssetConfig describes how an underlying asset converts to canonical units.
// A nil PriceFeed means pure decimal rescaling.
type AssetConfig struct {
	Asset          common.Address  `json:"asset"`
	Supported      bool            `json:"supported"`
	PriceFeed      *common.Address `json:"price_feed,omitempty"`
	MaxStalePeriod time.Duration   `json:"max_stale_period"`
}

// Converter scales amounts between an asset's native precision and canonical units.
type Converter interface {
	IsSupported(asset common.Address) bool
	ConvertFromUnderlying(asset common.Address, amount *big.Int) (*big.Int, error)
	ConvertToUnderlying(asset common.Address, amount *big.Int) (*big.Int, error)
}

// Registry is the set of configured underlying assets.
type Registry struct {
	roles     access.Controller
	tokens    token.Resolver
	configs   map[common.Address]AssetConfig
	supported []common.Address
}

func NewRegistry(roles access.Controller, tokens token.Resolver) *Registry {
	return &Registry{
		roles:   roles,
		tokens:  tokens,
		configs: make(map[common.Address]AssetConfig),
	}
}

// SetConfig adds or updates an asset. Marking an existing asset unsupported
// removes it from the supported set.
func (r *Registry) SetConfig(tx *settlement.Tx, cfg AssetConfig) error {
	if err := access.Require(r.roles, access.MaintainerRole, tx.Sender()); err != nil {
		return err
	}
	if cfg.Asset == (common.Address{}) {
		return ErrZeroAsset
	}
	if cfg.PriceFeed != nil && cfg.MaxStalePeriod == 0 {
		return ErrInvalidStalePeriod
	}
	prev, exists := r.configs[cfg.Asset]
	if !exists && !cfg.Supported {
		return ErrNewAssetUnsupported
	}
	if _, err := r.tokens.Token(cfg.Asset); err != nil {
		return err
	}

	r.journalSupported(tx)
	r.configs[cfg.Asset] = cfg
	tx.OnRevert(func() {
		if exists {
			r.configs[cfg.Asset] = prev
		} else {
			delete(r.configs, cfg.Asset)
		}
	})
	if cfg.Supported {
		r.addSupported(cfg.Asset)
	} else {
		r.removeSupported(cfg.Asset)
	}

	attrs := map[string]string{
		"asset":            cfg.Asset.Hex(),
		"supported":        fmt.Sprint(cfg.Supported),
		"max_stale_period": cfg.MaxStalePeriod.String(),
	}
	if cfg.PriceFeed != nil {
		attrs["price_feed"] = cfg.PriceFeed.Hex()
	}
	tx.Emit("conversion", "AssetConfigUpdated", attrs)
	return nil
}

// RemoveAsset drops asset from the supported set.
func (r *Registry) RemoveAsset(tx *settlement.Tx, asset common.Address) error {
	if err := access.Require(r.roles, access.MaintainerRole, tx.Sender()); err != nil {
		return err
	}
	if !r.IsSupported(asset) {
		return fmt.Errorf("%w: %s", ErrAssetNotSupported, asset.Hex())
	}
	prev := r.configs[asset]
	next := prev
	next.Supported = false

	r.journalSupported(tx)
	r.configs[asset] = next
	tx.OnRevert(func() { r.configs[asset] = prev })
	r.removeSupported(asset)

	tx.Emit("conversion", "AssetRemoved", map[string]string{"asset": asset.Hex()})
	return nil
}

func (r *Registry) Config(asset common.Address) (AssetConfig, bool) {
	cfg, ok := r.configs[asset]
	return cfg, ok
}

func (r *Registry) IsSupported(asset common.Address) bool {
	return r.configs[asset].Supported
}

// SupportedAssets returns a copy of the supported set. Order is not stable
// across removals.
func (r *Registry) SupportedAssets() []common.Address {
	return append([]common.Address(nil), r.supported...)
}

// ConvertFromUnderlying scales a native amount of asset up (or down) to
// canonical units, rounding down.
func (r *Registry) ConvertFromUnderlying(asset common.Address, amount *big.Int) (*big.Int, error) {
	decimals, err := r.decimals(asset)
	if err != nil {
		return nil, err
	}
	return Rescale(amount, decimals, CanonicalDecimals), nil
}

// ConvertToUnderlying scales a canonical amount to asset's native precision,
// rounding down.
func (r *Registry) ConvertToUnderlying(asset common.Address, amount *big.Int) (*big.Int, error) {
	decimals, err := r.decimals(asset)
	if err != nil {
		return nil, err
	}
	return Rescale(amount, CanonicalDecimals, decimals), nil
}

func (r *Registry) decimals(asset common.Address) (uint8, error) {
	if !r.IsSupported(asset) {
		return 0, fmt.Errorf("%w: %s", ErrAssetNotSupported, asset.Hex())
	}
	t, err := r.tokens.Token(asset)
	if err != nil {
		return 0, err
	}
	return t.Decimals(), nil
}

// Rescale converts amount between two decimal precisions, flooring.
func Rescale(amount *big.Int, from, to uint8) *big.Int {
	switch {
	case from == to:
		return new(big.Int).Set(amount)
	case from < to:
		return new(big.Int).Mul(amount, pow10(to-from))
	default:
		return new(big.Int).Quo(amount, pow10(from-to))
	}
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func (r *Registry) addSupported(asset common.Address) {
	for _, a := range r.supported {
		if a == asset {
			return
		}
	}
	r.supported = append(r.supported, asset)
}

func (r *Registry) removeSupported(asset common.Address) {
	for i, a := range r.supported {
		if a == asset {
			last := len(r.supported) - 1
			r.supported[i] = r.supported[last]
			r.supported = r.supported[:last]
			return
		}
	}
}

func (r *Registry) journalSupported(tx *settlement.Tx) {
	saved := append([]common.Address(nil), r.supported...)
	tx.OnRevert(func() { r.supported = saved })
}
