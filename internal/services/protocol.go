package services

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"issuance-backend/internal/access"
	"issuance-backend/internal/conversion"
	"issuance-backend/internal/gateway"
	"issuance-backend/internal/redemption"
	"issuance-backend/internal/settlement"
	"issuance-backend/internal/token"
	"issuance-backend/internal/vault"
)

// Protocol wires every component to one settlement engine. Components are
// not safe for concurrent use on their own: mutations go through
// Engine.Execute and reads through Engine.View.
type Protocol struct {
	Engine     *settlement.Engine
	Admin      common.Address
	Tokens     *token.Registry
	MintToken  *token.Ledger
	Roles      *access.Roles
	KYC        *access.KYCList
	Conversion *conversion.Registry
	Vault      *vault.Vault
	Queue      *redemption.Queue
	Gateway    *gateway.Gateway
}

// DeriveAddress maps a label to a stable pseudo-contract address.
func DeriveAddress(label string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(label))[12:])
}

// VaultState is a consistent snapshot of the vault.
type VaultState struct {
	Address         common.Address `json:"address"`
	Asset           common.Address `json:"asset"`
	AssetSymbol     string         `json:"asset_symbol"`
	Symbol          string         `json:"symbol"`
	Decimals        uint8          `json:"decimals"`
	TotalAssets     *big.Int       `json:"total_assets"`
	TotalSupply     *big.Int       `json:"total_supply"`
	Paused          bool           `json:"paused"`
	RedemptionQueue common.Address `json:"redemption_queue"`
	RedemptionDelay time.Duration  `json:"redemption_delay"`
	PendingAssets   *big.Int       `json:"pending_assets"`
	Batch           uint64         `json:"batch"`
}

// AccountState is one account's view across the vault and its queue.
type AccountState struct {
	Account         common.Address          `json:"account"`
	Shares          *big.Int                `json:"shares"`
	ShareValue      *big.Int                `json:"share_value"`
	AssetBalance    *big.Int                `json:"asset_balance"`
	LastActionBatch *uint64                 `json:"last_action_batch,omitempty"`
	Redemptions     []redemption.Redemption `json:"redemptions"`
	GatewayPending  *big.Int                `json:"gateway_pending"`
	HasKyc          bool                    `json:"has_kyc"`
	HasFirstDeposit bool                    `json:"has_first_deposit"`
}

// GatewayState is a consistent snapshot of the gateway.
type GatewayState struct {
	Address     common.Address   `json:"address"`
	Token       common.Address   `json:"token"`
	Params      gateway.Params   `json:"params"`
	Paused      bool             `json:"paused"`
	QueueLength int              `json:"queue_length"`
	Assets      []common.Address `json:"supported_assets"`
	Liquidity   *big.Int         `json:"liquidity"` // gateway balance of the redeem asset
}

// VaultState snapshots the vault under the engine lock.
func (p *Protocol) VaultState() VaultState {
	var s VaultState
	p.Engine.ViewBatch(func(batch uint64) {
		s = VaultState{
			Address:         p.Vault.Address(),
			Asset:           p.Vault.Asset().Address(),
			AssetSymbol:     p.Vault.Asset().Symbol(),
			Symbol:          p.Vault.Symbol(),
			Decimals:        p.Vault.Decimals(),
			TotalAssets:     p.Vault.TotalAssets(),
			TotalSupply:     p.Vault.TotalSupply(),
			Paused:          p.Vault.Paused(),
			RedemptionQueue: p.Vault.RedemptionQueue(),
			RedemptionDelay: p.Queue.Delay(),
			PendingAssets:   p.Queue.PendingAssets(),
			Batch:           batch,
		}
	})
	return s
}

// AccountState snapshots everything the API shows for account.
func (p *Protocol) AccountState(account common.Address) AccountState {
	var s AccountState
	p.Engine.View(func() {
		shares := p.Vault.BalanceOf(account)
		s = AccountState{
			Account:         account,
			Shares:          shares,
			ShareValue:      p.Vault.ConvertToAssets(shares),
			AssetBalance:    p.Vault.Asset().BalanceOf(account),
			Redemptions:     p.Queue.Redemptions(account),
			GatewayPending:  p.Gateway.RedemptionInfo(account),
			HasKyc:          p.KYC.HasKyc(account),
			HasFirstDeposit: p.Gateway.HasFirstDeposit(account),
		}
		if batch, ok := p.Vault.LastActionBatch(account); ok {
			s.LastActionBatch = &batch
		}
	})
	return s
}

// GatewayState snapshots the gateway under the engine lock.
func (p *Protocol) GatewayState() GatewayState {
	var s GatewayState
	p.Engine.View(func() {
		params := p.Gateway.Params()
		s = GatewayState{
			Address:     p.Gateway.Address(),
			Token:       p.Gateway.Token().Address(),
			Params:      params,
			Paused:      p.Gateway.Paused(),
			QueueLength: p.Gateway.QueueLength(),
			Assets:      p.Conversion.SupportedAssets(),
			Liquidity:   new(big.Int),
		}
		if payout, err := p.Tokens.Token(params.RedeemAsset); err == nil {
			s.Liquidity = payout.BalanceOf(p.Gateway.Address())
		}
	})
	return s
}

// QueueEntries pages through the gateway queue from the front.
func (p *Protocol) QueueEntries(offset, limit int) []gateway.Entry {
	var entries []gateway.Entry
	p.Engine.View(func() {
		entries = p.Gateway.QueueEntries(offset, limit)
	})
	return entries
}

// Redemption returns a single vault redemption record.
func (p *Protocol) Redemption(user common.Address, index uint64) (redemption.Redemption, bool) {
	var (
		r  redemption.Redemption
		ok bool
	)
	p.Engine.View(func() {
		r, ok = p.Queue.Redemption(user, index)
	})
	return r, ok
}

// TokenBalance is a snapshot of one account in one token ledger.
type TokenBalance struct {
	Token       common.Address `json:"token"`
	Symbol      string         `json:"symbol"`
	Decimals    uint8          `json:"decimals"`
	Account     common.Address `json:"account"`
	Balance     *big.Int       `json:"balance"`
	TotalSupply *big.Int       `json:"total_supply"`
	Banned      bool           `json:"banned"`
	Paused      bool           `json:"paused"`
}

// TokenBalance reads account's balance in the token at address.
func (p *Protocol) TokenBalance(address, account common.Address) (TokenBalance, error) {
	var (
		b   TokenBalance
		err error
	)
	p.Engine.View(func() {
		var t token.Token
		t, err = p.Tokens.Token(address)
		if err != nil {
			return
		}
		b = TokenBalance{
			Token:       t.Address(),
			Symbol:      t.Symbol(),
			Decimals:    t.Decimals(),
			Account:     account,
			Balance:     t.BalanceOf(account),
			TotalSupply: t.TotalSupply(),
			Banned:      t.IsBanned(account),
			Paused:      t.Paused(),
		}
	})
	return b, err
}

// TokenInfo describes a registered token.
type TokenInfo struct {
	Address     common.Address `json:"address"`
	Symbol      string         `json:"symbol"`
	Decimals    uint8          `json:"decimals"`
	TotalSupply *big.Int       `json:"total_supply"`
	Paused      bool           `json:"paused"`
	Supported   bool           `json:"supported"` // accepted by the gateway
}

// TokenInfos lists registered tokens by symbol.
func (p *Protocol) TokenInfos() []TokenInfo {
	var out []TokenInfo
	p.Engine.View(func() {
		for _, t := range p.Tokens.All() {
			out = append(out, TokenInfo{
				Address:     t.Address(),
				Symbol:      t.Symbol(),
				Decimals:    t.Decimals(),
				TotalSupply: t.TotalSupply(),
				Paused:      t.Paused(),
				Supported:   p.Conversion.IsSupported(t.Address()),
			})
		}
	})
	return out
}

// RoleMembers lists the members of every role.
func (p *Protocol) RoleMembers() map[access.Role][]common.Address {
	out := make(map[access.Role][]common.Address, len(access.AllRoles))
	p.Engine.View(func() {
		for _, role := range access.AllRoles {
			out[role] = p.Roles.Members(role)
		}
	})
	return out
}

// ResolveToken maps a symbol or address to a registered token address.
func (p *Protocol) ResolveToken(ref string) (common.Address, error) {
	var (
		addr common.Address
		err  error
	)
	p.Engine.View(func() {
		addr, err = resolveToken(p.Tokens, ref)
	})
	return addr, err
}

// Reserves compares what the redemption queue holds with what it owes and
// reports the gateway's payout liquidity.
type Reserves struct {
	QueueHoldings    *big.Int `json:"queue_holdings"`
	QueuePending     *big.Int `json:"queue_pending"`
	GatewayLiquidity *big.Int `json:"gateway_liquidity"`
}

// Solvent reports whether the queue can pay every unclaimed redemption.
func (r Reserves) Solvent() bool {
	return r.QueueHoldings.Cmp(r.QueuePending) >= 0
}

// Reserves snapshots queue and gateway holdings under the engine lock.
func (p *Protocol) Reserves() Reserves {
	var r Reserves
	p.Engine.View(func() {
		r = Reserves{
			QueueHoldings:    p.MintToken.BalanceOf(p.Queue.Address()),
			QueuePending:     p.Queue.PendingAssets(),
			GatewayLiquidity: new(big.Int),
		}
		if payout, err := p.Tokens.Token(p.Gateway.Params().RedeemAsset); err == nil {
			r.GatewayLiquidity = payout.BalanceOf(p.Gateway.Address())
		}
	})
	return r
}
