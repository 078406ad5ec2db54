package services

import (
	"errors"
	"fmt"
	"log"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"issuance-backend/internal/access"
	"issuance-backend/internal/config"
	"issuance-backend/internal/conversion"
	"issuance-backend/internal/gateway"
	"issuance-backend/internal/redemption"
	"issuance-backend/internal/settlement"
	"issuance-backend/internal/token"
	"issuance-backend/internal/vault"
)

var (
	ErrMissingAdmin     = errors.New("genesis: protocol.admin is required")
	ErrUnknownMintToken = errors.New("genesis: protocol.mintToken does not name a configured token")
)

// BuildProtocol constructs every component from cfg and applies the genesis
// operation as the admin: role grants, KYC seeds, registry seeds, queue
// wiring and initial balances. The batch is sealed afterwards so user
// operations never share the genesis batch.
func BuildProtocol(cfg *config.Config, clock settlement.Clock) (*Protocol, error) {
	admin, err := parseAddress("protocol.admin", cfg.Protocol.Admin)
	if err != nil {
		return nil, err
	}
	if admin == (common.Address{}) {
		return nil, ErrMissingAdmin
	}

	tokens := token.NewRegistry()
	ledgers := make([]*token.Ledger, 0, len(cfg.Tokens))
	for _, tc := range cfg.Tokens {
		addr := DeriveAddress("token:" + tc.Symbol)
		if tc.Address != "" {
			if addr, err = parseAddress("tokens."+tc.Symbol+".address", tc.Address); err != nil {
				return nil, err
			}
		}
		ledger := token.NewLedger(addr, tc.Symbol, tc.Decimals, admin)
		ledger.GrantMinter(admin)
		tokens.Register(ledger)
		ledgers = append(ledgers, ledger)
	}

	mintAddr, err := resolveToken(tokens, cfg.Protocol.MintToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownMintToken, err)
	}
	mintToken, err := tokens.Ledger(mintAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownMintToken, err)
	}

	vaultAddr, err := addressOr(cfg.Protocol.Vault, "vault", "protocol.vault")
	if err != nil {
		return nil, err
	}
	queueAddr, err := addressOr(cfg.Protocol.RedemptionQueue, "redemption-queue", "protocol.redemptionQueue")
	if err != nil {
		return nil, err
	}
	gatewayAddr, err := addressOr(cfg.Protocol.Gateway, "gateway", "protocol.gateway")
	if err != nil {
		return nil, err
	}

	params, err := gatewayParams(cfg.Protocol, tokens)
	if err != nil {
		return nil, err
	}
	if cfg.Protocol.RedemptionDelaySeconds < 0 {
		return nil, redemption.ErrInvalidDelay
	}

	roles := access.NewRoles(admin)
	kyc := access.NewKYCList(roles)
	registry := conversion.NewRegistry(roles, tokens)
	v := vault.New(vaultAddr, mintToken, cfg.Protocol.ShareSymbol, roles)
	q := redemption.NewQueue(queueAddr, mintToken, tokens, roles, cfg.Protocol.RedemptionDelay())
	g := gateway.New(gatewayAddr, mintToken, tokens, registry, roles, kyc, params)
	mintToken.GrantMinter(gatewayAddr)

	p := &Protocol{
		Engine:     settlement.NewEngine(clock),
		Admin:      admin,
		Tokens:     tokens,
		MintToken:  mintToken,
		Roles:      roles,
		KYC:        kyc,
		Conversion: registry,
		Vault:      v,
		Queue:      q,
		Gateway:    g,
	}

	if _, err := p.Engine.Execute(admin, func(tx *settlement.Tx) error {
		return applyGenesis(tx, p, cfg, ledgers)
	}); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	p.Engine.SealBatch()

	log.Printf("✅ Protocol initialized: token=%s vault=%s queue=%s gateway=%s",
		mintToken.Symbol(), vaultAddr.Hex(), queueAddr.Hex(), gatewayAddr.Hex())
	return p, nil
}

func applyGenesis(tx *settlement.Tx, p *Protocol, cfg *config.Config, ledgers []*token.Ledger) error {
	// The admin holds the seeding roles only for the duration of genesis
	// unless the configuration grants them explicitly.
	seeding := []access.Role{access.MaintainerRole, access.WhitelistRole}
	for _, role := range seeding {
		if err := p.Roles.GrantRole(tx, role, p.Admin); err != nil {
			return err
		}
	}

	if err := p.Vault.SetRedemptionQueue(tx, p.Queue); err != nil {
		return err
	}
	if err := p.Queue.SetVault(tx, p.Vault.Address()); err != nil {
		return err
	}

	for _, ac := range cfg.Assets {
		asset, err := resolveToken(p.Tokens, ac.Token)
		if err != nil {
			return fmt.Errorf("assets: %w", err)
		}
		entry := conversion.AssetConfig{
			Asset:          asset,
			Supported:      true,
			MaxStalePeriod: time.Duration(ac.MaxStalePeriodSeconds) * time.Second,
		}
		if ac.PriceFeed != "" {
			feed, err := parseAddress("assets.priceFeed", ac.PriceFeed)
			if err != nil {
				return err
			}
			entry.PriceFeed = &feed
		}
		if err := p.Conversion.SetConfig(tx, entry); err != nil {
			return err
		}
	}

	kycAccounts, err := parseAddresses("kyc", cfg.KYC)
	if err != nil {
		return err
	}
	if len(kycAccounts) > 0 {
		if err := p.KYC.Grant(tx, kycAccounts...); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(cfg.Roles))
	for name := range cfg.Roles {
		names = append(names, name)
	}
	sort.Strings(names)
	granted := make(map[access.Role]map[common.Address]bool)
	for _, name := range names {
		members := cfg.Roles[name]
		role, err := access.ParseRole(name)
		if err != nil {
			return err
		}
		accounts, err := parseAddresses("roles."+name, members)
		if err != nil {
			return err
		}
		granted[role] = make(map[common.Address]bool, len(accounts))
		for _, account := range accounts {
			granted[role][account] = true
			if p.Roles.HasRole(role, account) {
				continue
			}
			if err := p.Roles.GrantRole(tx, role, account); err != nil {
				return err
			}
		}
	}

	for i, tc := range cfg.Tokens {
		ledger := ledgers[i]
		if tc.Cap != "" {
			limit, err := parseAmount("tokens."+tc.Symbol+".cap", tc.Cap)
			if err != nil {
				return err
			}
			if err := ledger.SetCap(tx, limit); err != nil {
				return err
			}
		}
		holders := make([]string, 0, len(tc.Balances))
		for holder := range tc.Balances {
			holders = append(holders, holder)
		}
		sort.Strings(holders)
		for _, holder := range holders {
			to, err := parseAddress("tokens."+tc.Symbol+".balances", holder)
			if err != nil {
				return err
			}
			amount, err := parseAmount("tokens."+tc.Symbol+".balances."+holder, tc.Balances[holder])
			if err != nil {
				return err
			}
			if err := ledger.Mint(tx, to, amount); err != nil {
				return fmt.Errorf("mint %s to %s: %w", tc.Symbol, holder, err)
			}
		}
	}

	for _, role := range seeding {
		if granted[role][p.Admin] {
			continue
		}
		if err := p.Roles.RevokeRole(tx, role, p.Admin); err != nil {
			return err
		}
	}
	return nil
}

func gatewayParams(pc config.ProtocolConfig, tokens *token.Registry) (gateway.Params, error) {
	params := gateway.Params{
		MintFeeRate:   pc.MintFeeRate,
		RedeemFeeRate: pc.RedeemFeeRate,
	}
	if pc.MintFeeRate > gateway.MaxFeeRate || pc.RedeemFeeRate > gateway.MaxFeeRate {
		return params, gateway.ErrInvalidFeeRate
	}
	var err error
	if params.Treasury, err = parseAddress("protocol.treasury", pc.Treasury); err != nil {
		return params, err
	}
	if params.FeeTo, err = parseAddress("protocol.feeTo", pc.FeeTo); err != nil {
		return params, err
	}
	if pc.RedeemAsset != "" {
		if params.RedeemAsset, err = resolveToken(tokens, pc.RedeemAsset); err != nil {
			return params, fmt.Errorf("protocol.redeemAsset: %w", err)
		}
	}
	if params.FirstDepositAmount, err = parseAmountOrZero("protocol.firstDepositAmount", pc.FirstDepositAmount); err != nil {
		return params, err
	}
	if params.MintMinimum, err = parseAmountOrZero("protocol.mintMinimum", pc.MintMinimum); err != nil {
		return params, err
	}
	return params, nil
}

// resolveToken accepts a registered symbol (case-insensitive) or a hex address.
func resolveToken(tokens *token.Registry, ref string) (common.Address, error) {
	if common.IsHexAddress(ref) {
		addr := common.HexToAddress(ref)
		if _, err := tokens.Token(addr); err != nil {
			return common.Address{}, err
		}
		return addr, nil
	}
	for _, t := range tokens.All() {
		if strings.EqualFold(t.Symbol(), ref) {
			return t.Address(), nil
		}
	}
	return common.Address{}, fmt.Errorf("%w: %q", token.ErrUnknownToken, ref)
}

func addressOr(value, label, field string) (common.Address, error) {
	if value == "" {
		return DeriveAddress(label), nil
	}
	return parseAddress(field, value)
}

func parseAddress(field, value string) (common.Address, error) {
	if value == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, value)
	}
	return common.HexToAddress(value), nil
}

func parseAddresses(field string, values []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(values))
	for _, v := range values {
		addr, err := parseAddress(field, v)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func parseAmount(field, value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%s: invalid amount %q", field, value)
	}
	return amount, nil
}

func parseAmountOrZero(field, value string) (*big.Int, error) {
	if value == "" {
		return new(big.Int), nil
	}
	return parseAmount(field, value)
}
