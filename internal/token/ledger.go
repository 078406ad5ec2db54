package token

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"issuance-backend/internal/settlement"
)

// Ledger is an in-memory ERC-20 style token with a minter set, a ban list,
// a pause switch and an optional issue cap. Every mutation is journaled on
// the calling settlement.Tx. Ledger is not safe for concurrent use; callers
// serialize access through the settlement engine.
type Ledger struct {
	address  common.Address
	symbol   string
	decimals uint8
	owner    common.Address

	totalSupply *big.Int
	cap         *big.Int
	balances    map[common.Address]*big.Int
	allowances  map[common.Address]map[common.Address]*big.Int
	minters     map[common.Address]bool
	banned      map[common.Address]bool
	paused      bool
}

func NewLedger(address common.Address, symbol string, decimals uint8, owner common.Address) *Ledger {
	return &Ledger{
		address:     address,
		symbol:      symbol,
		decimals:    decimals,
		owner:       owner,
		totalSupply: new(big.Int),
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[common.Address]map[common.Address]*big.Int),
		minters:     make(map[common.Address]bool),
		banned:      make(map[common.Address]bool),
	}
}

func (l *Ledger) Address() common.Address { return l.address }
func (l *Ledger) Symbol() string          { return l.symbol }
func (l *Ledger) Decimals() uint8         { return l.decimals }
func (l *Ledger) Owner() common.Address   { return l.owner }
func (l *Ledger) Paused() bool            { return l.paused }

func (l *Ledger) TotalSupply() *big.Int { return new(big.Int).Set(l.totalSupply) }

// Cap returns the issue cap, or nil when unlimited.
func (l *Ledger) Cap() *big.Int {
	if l.cap == nil {
		return nil
	}
	return new(big.Int).Set(l.cap)
}

func (l *Ledger) BalanceOf(account common.Address) *big.Int {
	if b, ok := l.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (l *Ledger) Allowance(owner, spender common.Address) *big.Int {
	if a, ok := l.allowances[owner][spender]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

func (l *Ledger) IsBanned(account common.Address) bool { return l.banned[account] }
func (l *Ledger) IsMinter(account common.Address) bool { return l.minters[account] }

func (l *Ledger) Transfer(tx *settlement.Tx, to common.Address, amount *big.Int) error {
	return l.move(tx, tx.Sender(), to, amount)
}

func (l *Ledger) TransferFrom(tx *settlement.Tx, from, to common.Address, amount *big.Int) error {
	if err := l.spendAllowance(tx, from, tx.Sender(), amount); err != nil {
		return err
	}
	return l.move(tx, from, to, amount)
}

func (l *Ledger) Approve(tx *settlement.Tx, spender common.Address, amount *big.Int) error {
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	l.setAllowance(tx, tx.Sender(), spender, new(big.Int).Set(amount))
	l.emit(tx, "Approval", map[string]string{
		"owner":   tx.Sender().Hex(),
		"spender": spender.Hex(),
		"value":   amount.String(),
	})
	return nil
}

func (l *Ledger) Mint(tx *settlement.Tx, to common.Address, amount *big.Int) error {
	if !l.minters[tx.Sender()] {
		return ErrNotMinter
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if l.paused {
		return ErrPaused
	}
	if l.banned[to] {
		return ErrBanned
	}
	supply := new(big.Int).Add(l.totalSupply, amount)
	if l.cap != nil && supply.Cmp(l.cap) > 0 {
		return ErrCapExceeded
	}
	l.setSupply(tx, supply)
	l.setBalance(tx, to, new(big.Int).Add(l.BalanceOf(to), amount))
	l.emit(tx, "Transfer", map[string]string{
		"from":  common.Address{}.Hex(),
		"to":    to.Hex(),
		"value": amount.String(),
	})
	return nil
}

func (l *Ledger) Burn(tx *settlement.Tx, from common.Address, amount *big.Int) error {
	if !l.minters[tx.Sender()] {
		return ErrNotMinter
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if l.paused {
		return ErrPaused
	}
	balance := l.BalanceOf(from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	l.setBalance(tx, from, balance.Sub(balance, amount))
	l.setSupply(tx, new(big.Int).Sub(l.totalSupply, amount))
	l.emit(tx, "Transfer", map[string]string{
		"from":  from.Hex(),
		"to":    common.Address{}.Hex(),
		"value": amount.String(),
	})
	return nil
}

// GrantMinter authorizes account at construction time, outside any operation.
func (l *Ledger) GrantMinter(account common.Address) {
	l.minters[account] = true
}

// SetMinter grants or revokes mint and burn rights.
func (l *Ledger) SetMinter(tx *settlement.Tx, account common.Address, enabled bool) error {
	if err := l.onlyOwner(tx); err != nil {
		return err
	}
	prev, had := l.minters[account]
	l.minters[account] = enabled
	tx.OnRevert(func() { restoreFlag(l.minters, account, prev, had) })
	l.emit(tx, "MinterUpdated", map[string]string{"account": account.Hex(), "enabled": boolString(enabled)})
	return nil
}

func (l *Ledger) Ban(tx *settlement.Tx, account common.Address) error {
	return l.setBanned(tx, account, true)
}

func (l *Ledger) Unban(tx *settlement.Tx, account common.Address) error {
	return l.setBanned(tx, account, false)
}

func (l *Ledger) Pause(tx *settlement.Tx) error   { return l.setPaused(tx, true) }
func (l *Ledger) Unpause(tx *settlement.Tx) error { return l.setPaused(tx, false) }

// SetCap sets the issue cap; nil removes it.
func (l *Ledger) SetCap(tx *settlement.Tx, limit *big.Int) error {
	if err := l.onlyOwner(tx); err != nil {
		return err
	}
	prev := l.cap
	if limit != nil {
		limit = new(big.Int).Set(limit)
	}
	l.cap = limit
	tx.OnRevert(func() { l.cap = prev })
	value := "unlimited"
	if limit != nil {
		value = limit.String()
	}
	l.emit(tx, "CapUpdated", map[string]string{"cap": value})
	return nil
}

func (l *Ledger) move(tx *settlement.Tx, from, to common.Address, amount *big.Int) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if l.paused {
		return ErrPaused
	}
	if l.banned[from] || l.banned[to] {
		return ErrBanned
	}
	balance := l.BalanceOf(from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	l.setBalance(tx, from, balance.Sub(balance, amount))
	l.setBalance(tx, to, new(big.Int).Add(l.BalanceOf(to), amount))
	l.emit(tx, "Transfer", map[string]string{
		"from":  from.Hex(),
		"to":    to.Hex(),
		"value": amount.String(),
	})
	return nil
}

func (l *Ledger) spendAllowance(tx *settlement.Tx, owner, spender common.Address, amount *big.Int) error {
	current := l.Allowance(owner, spender)
	if current.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	l.setAllowance(tx, owner, spender, current.Sub(current, amount))
	return nil
}

func (l *Ledger) setBanned(tx *settlement.Tx, account common.Address, banned bool) error {
	if err := l.onlyOwner(tx); err != nil {
		return err
	}
	prev, had := l.banned[account]
	if banned {
		l.banned[account] = true
	} else {
		delete(l.banned, account)
	}
	tx.OnRevert(func() { restoreFlag(l.banned, account, prev, had) })
	name := "Unbanned"
	if banned {
		name = "Banned"
	}
	l.emit(tx, name, map[string]string{"account": account.Hex()})
	return nil
}

func (l *Ledger) setPaused(tx *settlement.Tx, paused bool) error {
	if err := l.onlyOwner(tx); err != nil {
		return err
	}
	prev := l.paused
	l.paused = paused
	tx.OnRevert(func() { l.paused = prev })
	name := "Unpaused"
	if paused {
		name = "Paused"
	}
	l.emit(tx, name, nil)
	return nil
}

func (l *Ledger) onlyOwner(tx *settlement.Tx) error {
	if tx.Sender() != l.owner {
		return ErrNotOwner
	}
	return nil
}

func (l *Ledger) setSupply(tx *settlement.Tx, supply *big.Int) {
	prev := l.totalSupply
	l.totalSupply = supply
	tx.OnRevert(func() { l.totalSupply = prev })
}

func (l *Ledger) setBalance(tx *settlement.Tx, account common.Address, value *big.Int) {
	prev, had := l.balances[account]
	if value.Sign() == 0 {
		delete(l.balances, account)
	} else {
		l.balances[account] = value
	}
	tx.OnRevert(func() {
		if had {
			l.balances[account] = prev
		} else {
			delete(l.balances, account)
		}
	})
}

func (l *Ledger) setAllowance(tx *settlement.Tx, owner, spender common.Address, value *big.Int) {
	prev, had := l.allowances[owner][spender]
	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[common.Address]*big.Int)
	}
	l.allowances[owner][spender] = value
	tx.OnRevert(func() {
		if had {
			l.allowances[owner][spender] = prev
		} else {
			delete(l.allowances[owner], spender)
		}
	})
}

func (l *Ledger) emit(tx *settlement.Tx, name string, attrs map[string]string) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	attrs["token"] = l.address.Hex()
	tx.Emit(l.symbol, name, attrs)
}

func restoreFlag(m map[common.Address]bool, key common.Address, prev, had bool) {
	if had {
		m[key] = prev
	} else {
		delete(m, key)
	}
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
