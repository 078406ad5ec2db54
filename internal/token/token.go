package token

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"issuance-backend/internal/settlement"
)

var (
	ErrZeroAddress           = settlement.Invalid("token: zero address")
	ErrNegativeAmount        = settlement.Invalid("token: negative amount")
	ErrInsufficientBalance   = settlement.Insufficient("token: transfer amount exceeds balance")
	ErrInsufficientAllowance = settlement.Insufficient("token: insufficient allowance")
	ErrCapExceeded           = settlement.Insufficient("token: issue cap exceeded")
	ErrPaused                = settlement.BadState("token: paused")
	ErrBanned                = settlement.Unauthorized("token: account is banned")
	ErrNotMinter             = settlement.Unauthorized("token: caller is not a minter")
	ErrNotOwner              = settlement.Unauthorized("token: caller is not the owner")
	ErrUnknownToken          = settlement.Invalid("token: unknown token")
)

// Token is the fungible ledger capability consumed by the vault, the
// redemption queue and the gateway. Mutating calls act on behalf of
// tx.Sender().
type Token interface {
	Address() common.Address
	Symbol() string
	Decimals() uint8
	TotalSupply() *big.Int
	BalanceOf(account common.Address) *big.Int
	Allowance(owner, spender common.Address) *big.Int

	Transfer(tx *settlement.Tx, to common.Address, amount *big.Int) error
	TransferFrom(tx *settlement.Tx, from, to common.Address, amount *big.Int) error
	Approve(tx *settlement.Tx, spender common.Address, amount *big.Int) error
	Mint(tx *settlement.Tx, to common.Address, amount *big.Int) error
	Burn(tx *settlement.Tx, from common.Address, amount *big.Int) error

	IsBanned(account common.Address) bool
	Paused() bool
}

// Resolver looks tokens up by address.
type Resolver interface {
	Token(address common.Address) (Token, error)
}
