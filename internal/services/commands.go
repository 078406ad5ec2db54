package services

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"issuance-backend/internal/access"
	"issuance-backend/internal/conversion"
	"issuance-backend/internal/settlement"
)

// Command kinds. Each maps to exactly one component operation.
const (
	KindVaultStake              = "vault.stake"
	KindVaultStakeFor           = "vault.stake_for"
	KindVaultUnstake            = "vault.unstake"
	KindVaultTransfer           = "vault.transfer"
	KindVaultTransferFrom       = "vault.transfer_from"
	KindVaultApprove            = "vault.approve"
	KindVaultSetRedemptionQueue = "vault.set_redemption_queue"
	KindVaultPause              = "vault.pause"
	KindVaultUnpause            = "vault.unpause"

	KindRedemptionClaim             = "redemption.claim"
	KindRedemptionSetDelay          = "redemption.set_delay"
	KindRedemptionSetVault          = "redemption.set_vault"
	KindRedemptionEmergencyWithdraw = "redemption.emergency_withdraw"

	KindGatewayInstantMint           = "gateway.instant_mint"
	KindGatewayRedeemRequest         = "gateway.redeem_request"
	KindGatewayProcess               = "gateway.process"
	KindGatewayCancel                = "gateway.cancel"
	KindGatewaySetMintFeeRate        = "gateway.set_mint_fee_rate"
	KindGatewaySetRedeemFeeRate      = "gateway.set_redeem_fee_rate"
	KindGatewaySetTreasury           = "gateway.set_treasury"
	KindGatewaySetFeeTo              = "gateway.set_fee_to"
	KindGatewaySetRedeemAsset        = "gateway.set_redeem_asset"
	KindGatewaySetFirstDepositAmount = "gateway.set_first_deposit_amount"
	KindGatewaySetMintMinimum        = "gateway.set_mint_minimum"
	KindGatewaySetFirstDeposit       = "gateway.set_first_deposit"
	KindGatewayPause                 = "gateway.pause"
	KindGatewayUnpause               = "gateway.unpause"

	KindConversionSetConfig   = "conversion.set_config"
	KindConversionRemoveAsset = "conversion.remove_asset"

	KindAccessGrantRole  = "access.grant_role"
	KindAccessRevokeRole = "access.revoke_role"
	KindKycGrant         = "kyc.grant"
	KindKycRevoke        = "kyc.revoke"

	KindTokenTransfer     = "token.transfer"
	KindTokenTransferFrom = "token.transfer_from"
	KindTokenApprove      = "token.approve"
	KindTokenMint         = "token.mint"
	KindTokenBurn         = "token.burn"
	KindTokenBan          = "token.ban"
	KindTokenUnban        = "token.unban"
	KindTokenPause        = "token.pause"
	KindTokenUnpause      = "token.unpause"
	KindTokenSetMinter    = "token.set_minter"
	KindTokenSetCap       = "token.set_cap"
)

var (
	ErrUnknownCommand = settlement.Invalid("command: unknown kind")
	ErrBadArgument    = settlement.Invalid("command: invalid argument")
)

// Command is the serializable form of one operation. Amounts are base-unit
// integers in decimal; only the fields a kind reads are set. The same
// payload is stored in the operation log and replayed on startup.
type Command struct {
	Kind            string   `json:"kind"`
	Token           string   `json:"token,omitempty"`
	Asset           string   `json:"asset,omitempty"`
	Account         string   `json:"account,omitempty"`
	Accounts        []string `json:"accounts,omitempty"`
	From            string   `json:"from,omitempty"`
	To              string   `json:"to,omitempty"`
	Amount          string   `json:"amount,omitempty"`
	Index           uint64   `json:"index,omitempty"`
	Count           int      `json:"count,omitempty"`
	Rate            uint64   `json:"rate,omitempty"`
	Role            string   `json:"role,omitempty"`
	DelaySeconds    int64    `json:"delay_seconds,omitempty"`
	PriceFeed       string   `json:"price_feed,omitempty"`
	MaxStaleSeconds int64    `json:"max_stale_seconds,omitempty"`
	Enabled         bool     `json:"enabled,omitempty"`
}

// Result carries an operation's return values as strings.
type Result map[string]string

// Dispatch runs cmd against p inside tx.
func Dispatch(tx *settlement.Tx, p *Protocol, cmd Command) (Result, error) {
	switch cmd.Kind {
	case KindVaultStake, KindVaultStakeFor:
		amount, err := cmd.amount()
		if err != nil {
			return nil, err
		}
		recipient := tx.Sender()
		if cmd.Kind == KindVaultStakeFor {
			if recipient, err = cmd.address("account", cmd.Account); err != nil {
				return nil, err
			}
		}
		shares, err := p.Vault.StakeFor(tx, recipient, amount)
		if err != nil {
			return nil, err
		}
		return Result{"shares": shares.String(), "recipient": recipient.Hex()}, nil

	case KindVaultUnstake:
		shares, err := cmd.amount()
		if err != nil {
			return nil, err
		}
		index, err := p.Vault.Unstake(tx, shares)
		if err != nil {
			return nil, err
		}
		return Result{"index": fmt.Sprint(index)}, nil

	case KindVaultTransfer:
		to, amount, err := cmd.toAndAmount()
		if err != nil {
			return nil, err
		}
		return nil, p.Vault.Transfer(tx, to, amount)

	case KindVaultTransferFrom:
		from, err := cmd.address("from", cmd.From)
		if err != nil {
			return nil, err
		}
		to, amount, err := cmd.toAndAmount()
		if err != nil {
			return nil, err
		}
		return nil, p.Vault.TransferFrom(tx, from, to, amount)

	case KindVaultApprove:
		spender, amount, err := cmd.accountAndAmount()
		if err != nil {
			return nil, err
		}
		return nil, p.Vault.Approve(tx, spender, amount)

	case KindVaultSetRedemptionQueue:
		// the queue is a fixed component; this re-points the vault at it
		return nil, p.Vault.SetRedemptionQueue(tx, p.Queue)

	case KindVaultPause:
		return nil, p.Vault.Pause(tx)
	case KindVaultUnpause:
		return nil, p.Vault.Unpause(tx)

	case KindRedemptionClaim:
		assets, err := p.Queue.Claim(tx, cmd.Index)
		if err != nil {
			return nil, err
		}
		return Result{"assets": assets.String()}, nil

	case KindRedemptionSetDelay:
		return nil, p.Queue.SetDelay(tx, time.Duration(cmd.DelaySeconds)*time.Second)

	case KindRedemptionSetVault:
		vaultAddr, err := cmd.address("account", cmd.Account)
		if err != nil {
			return nil, err
		}
		return nil, p.Queue.SetVault(tx, vaultAddr)

	case KindRedemptionEmergencyWithdraw:
		asset, err := cmd.tokenAddress(p)
		if err != nil {
			return nil, err
		}
		to, amount, err := cmd.toAndAmount()
		if err != nil {
			return nil, err
		}
		return nil, p.Queue.EmergencyWithdraw(tx, asset, to, amount)

	case KindGatewayInstantMint:
		asset, err := cmd.assetAddress(p)
		if err != nil {
			return nil, err
		}
		recipient, amount, err := cmd.accountAndAmount()
		if err != nil {
			return nil, err
		}
		minted, err := p.Gateway.InstantMint(tx, asset, recipient, amount)
		if err != nil {
			return nil, err
		}
		return Result{"minted": minted.String()}, nil

	case KindGatewayRedeemRequest:
		recipient, amount, err := cmd.accountAndAmount()
		if err != nil {
			return nil, err
		}
		id, err := p.Gateway.RedeemRequest(tx, recipient, amount)
		if err != nil {
			return nil, err
		}
		return Result{"id": id.Hex()}, nil

	case KindGatewayProcess:
		n, err := p.Gateway.ProcessRedemptionQueue(tx, cmd.Count)
		if err != nil {
			return nil, err
		}
		return Result{"processed": fmt.Sprint(n), "remaining": fmt.Sprint(p.Gateway.QueueLength())}, nil

	case KindGatewayCancel:
		n, err := p.Gateway.Cancel(tx, cmd.Count)
		if err != nil {
			return nil, err
		}
		return Result{"cancelled": fmt.Sprint(n), "remaining": fmt.Sprint(p.Gateway.QueueLength())}, nil

	case KindGatewaySetMintFeeRate:
		return nil, p.Gateway.SetMintFeeRate(tx, cmd.Rate)
	case KindGatewaySetRedeemFeeRate:
		return nil, p.Gateway.SetRedeemFeeRate(tx, cmd.Rate)

	case KindGatewaySetTreasury, KindGatewaySetFeeTo:
		account, err := cmd.address("account", cmd.Account)
		if err != nil {
			return nil, err
		}
		if cmd.Kind == KindGatewaySetTreasury {
			return nil, p.Gateway.SetTreasury(tx, account)
		}
		return nil, p.Gateway.SetFeeTo(tx, account)

	case KindGatewaySetRedeemAsset:
		asset, err := cmd.assetAddress(p)
		if err != nil {
			return nil, err
		}
		return nil, p.Gateway.SetRedeemAsset(tx, asset)

	case KindGatewaySetFirstDepositAmount, KindGatewaySetMintMinimum:
		amount, err := cmd.amount()
		if err != nil {
			return nil, err
		}
		if cmd.Kind == KindGatewaySetMintMinimum {
			return nil, p.Gateway.SetMintMinimum(tx, amount)
		}
		return nil, p.Gateway.SetFirstDepositAmount(tx, amount)

	case KindGatewaySetFirstDeposit:
		account, err := cmd.address("account", cmd.Account)
		if err != nil {
			return nil, err
		}
		return nil, p.Gateway.SetFirstDeposit(tx, account, cmd.Enabled)

	case KindGatewayPause:
		return nil, p.Gateway.Pause(tx)
	case KindGatewayUnpause:
		return nil, p.Gateway.Unpause(tx)

	case KindConversionSetConfig:
		asset, err := cmd.assetAddress(p)
		if err != nil {
			return nil, err
		}
		cfg := conversion.AssetConfig{
			Asset:          asset,
			Supported:      cmd.Enabled,
			MaxStalePeriod: time.Duration(cmd.MaxStaleSeconds) * time.Second,
		}
		if cmd.PriceFeed != "" {
			feed, err := cmd.address("price_feed", cmd.PriceFeed)
			if err != nil {
				return nil, err
			}
			cfg.PriceFeed = &feed
		}
		return nil, p.Conversion.SetConfig(tx, cfg)

	case KindConversionRemoveAsset:
		asset, err := cmd.assetAddress(p)
		if err != nil {
			return nil, err
		}
		return nil, p.Conversion.RemoveAsset(tx, asset)

	case KindAccessGrantRole, KindAccessRevokeRole:
		role, err := access.ParseRole(cmd.Role)
		if err != nil {
			return nil, err
		}
		account, err := cmd.address("account", cmd.Account)
		if err != nil {
			return nil, err
		}
		if cmd.Kind == KindAccessGrantRole {
			return nil, p.Roles.GrantRole(tx, role, account)
		}
		return nil, p.Roles.RevokeRole(tx, role, account)

	case KindKycGrant, KindKycRevoke:
		accounts, err := cmd.accounts()
		if err != nil {
			return nil, err
		}
		if cmd.Kind == KindKycGrant {
			return nil, p.KYC.Grant(tx, accounts...)
		}
		return nil, p.KYC.Revoke(tx, accounts...)
	}

	if strings.HasPrefix(cmd.Kind, "token.") {
		return dispatchToken(tx, p, cmd)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Kind)
}

func dispatchToken(tx *settlement.Tx, p *Protocol, cmd Command) (Result, error) {
	addr, err := cmd.tokenAddress(p)
	if err != nil {
		return nil, err
	}
	ledger, err := p.Tokens.Ledger(addr)
	if err != nil {
		return nil, err
	}

	switch cmd.Kind {
	case KindTokenTransfer:
		to, amount, err := cmd.toAndAmount()
		if err != nil {
			return nil, err
		}
		return nil, ledger.Transfer(tx, to, amount)

	case KindTokenTransferFrom:
		from, err := cmd.address("from", cmd.From)
		if err != nil {
			return nil, err
		}
		to, amount, err := cmd.toAndAmount()
		if err != nil {
			return nil, err
		}
		return nil, ledger.TransferFrom(tx, from, to, amount)

	case KindTokenApprove:
		spender, amount, err := cmd.accountAndAmount()
		if err != nil {
			return nil, err
		}
		return nil, ledger.Approve(tx, spender, amount)

	case KindTokenMint:
		to, amount, err := cmd.toAndAmount()
		if err != nil {
			return nil, err
		}
		return nil, ledger.Mint(tx, to, amount)

	case KindTokenBurn:
		from, err := cmd.address("from", cmd.From)
		if err != nil {
			return nil, err
		}
		amount, err := cmd.amount()
		if err != nil {
			return nil, err
		}
		return nil, ledger.Burn(tx, from, amount)

	case KindTokenBan, KindTokenUnban:
		account, err := cmd.address("account", cmd.Account)
		if err != nil {
			return nil, err
		}
		if cmd.Kind == KindTokenBan {
			return nil, ledger.Ban(tx, account)
		}
		return nil, ledger.Unban(tx, account)

	case KindTokenPause:
		return nil, ledger.Pause(tx)
	case KindTokenUnpause:
		return nil, ledger.Unpause(tx)

	case KindTokenSetMinter:
		account, err := cmd.address("account", cmd.Account)
		if err != nil {
			return nil, err
		}
		return nil, ledger.SetMinter(tx, account, cmd.Enabled)

	case KindTokenSetCap:
		if cmd.Amount == "" {
			return nil, ledger.SetCap(tx, nil)
		}
		limit, err := cmd.amount()
		if err != nil {
			return nil, err
		}
		return nil, ledger.SetCap(tx, limit)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Kind)
}

func (c Command) amount() (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(c.Amount), 10)
	if !ok {
		return nil, fmt.Errorf("%w: amount %q", ErrBadArgument, c.Amount)
	}
	return amount, nil
}

func (c Command) address(field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%w: %s %q", ErrBadArgument, field, value)
	}
	return common.HexToAddress(value), nil
}

func (c Command) accounts() ([]common.Address, error) {
	values := c.Accounts
	if len(values) == 0 && c.Account != "" {
		values = []string{c.Account}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: accounts required", ErrBadArgument)
	}
	out := make([]common.Address, 0, len(values))
	for _, v := range values {
		addr, err := c.address("accounts", v)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func (c Command) toAndAmount() (common.Address, *big.Int, error) {
	to, err := c.address("to", c.To)
	if err != nil {
		return common.Address{}, nil, err
	}
	amount, err := c.amount()
	return to, amount, err
}

func (c Command) accountAndAmount() (common.Address, *big.Int, error) {
	account, err := c.address("account", c.Account)
	if err != nil {
		return common.Address{}, nil, err
	}
	amount, err := c.amount()
	return account, amount, err
}

// tokenAddress resolves the Token field, which may be a symbol.
func (c Command) tokenAddress(p *Protocol) (common.Address, error) {
	return c.resolve(p, "token", c.Token)
}

func (c Command) assetAddress(p *Protocol) (common.Address, error) {
	return c.resolve(p, "asset", c.Asset)
}

func (c Command) resolve(p *Protocol, field, ref string) (common.Address, error) {
	if ref == "" {
		return common.Address{}, fmt.Errorf("%w: %s required", ErrBadArgument, field)
	}
	addr, err := resolveToken(p.Tokens, ref)
	if err != nil {
		if common.IsHexAddress(ref) {
			// unregistered addresses still reach the component, which reports its own error
			return common.HexToAddress(ref), nil
		}
		return common.Address{}, fmt.Errorf("%w: %s: %v", ErrBadArgument, field, err)
	}
	return addr, nil
}

// IsAdminKind reports whether kind is only accepted on admin routes.
func IsAdminKind(kind string) bool {
	switch kind {
	case KindVaultStake, KindVaultStakeFor, KindVaultUnstake, KindVaultTransfer,
		KindVaultTransferFrom, KindVaultApprove, KindRedemptionClaim,
		KindGatewayInstantMint, KindGatewayRedeemRequest,
		KindTokenTransfer, KindTokenTransferFrom, KindTokenApprove:
		return false
	}
	return true
}
