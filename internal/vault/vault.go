package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"issuance-backend/internal/access"
	"issuance-backend/internal/settlement"
	"issuance-backend/internal/token"
)

const component = "vault"

var (
	ErrZeroAmount        = settlement.Invalid("vault: zero amount")
	ErrZeroAddress       = settlement.Invalid("vault: zero address")
	ErrZeroShares        = settlement.Invalid("vault: stake too small to mint shares")
	ErrZeroAssets        = settlement.Invalid("vault: unstake too small to redeem assets")
	ErrDisabled          = settlement.Invalid("vault: disabled, use stake or unstake")
	ErrPaused            = settlement.BadState("vault: paused")
	ErrQueueNotSet       = settlement.BadState("vault: redemption queue not set")
	ErrSameBatch         = settlement.BadState("vault: account already staked or unstaked in this batch")
	ErrBanned            = settlement.Unauthorized("vault: account is banned")
	ErrInsufficientShare = settlement.Insufficient("vault: insufficient shares")
)

// RedemptionQueue receives unstaked assets and tracks their release.
type RedemptionQueue interface {
	Address() common.Address
	Enqueue(tx *settlement.Tx, user common.Address, assets, shares *big.Int) (uint64, error)
}

// Vault issues shares against the backing token it holds. Its total assets
// are always exactly its backing token balance; unstaked assets move to the
// redemption queue in the same operation.
type Vault struct {
	address common.Address
	asset   token.Token
	shares  *token.Ledger
	roles   access.Controller
	queue   RedemptionQueue
	paused  bool

	// lastAction holds batch+1 of each account's latest stake or unstake.
	lastAction map[common.Address]uint64
}

func New(address common.Address, asset token.Token, shareSymbol string, roles access.Controller) *Vault {
	shares := token.NewLedger(address, shareSymbol, asset.Decimals(), address)
	v := &Vault{
		address:    address,
		asset:      asset,
		shares:     shares,
		roles:      roles,
		lastAction: make(map[common.Address]uint64),
	}
	// The share ledger only ever takes orders from the vault itself.
	shares.GrantMinter(address)
	return v
}

func (v *Vault) Address() common.Address { return v.address }
func (v *Vault) Asset() token.Token      { return v.asset }
func (v *Vault) Symbol() string          { return v.shares.Symbol() }
func (v *Vault) Decimals() uint8         { return v.shares.Decimals() }
func (v *Vault) Paused() bool            { return v.paused }

// RedemptionQueue returns the wired queue address, or the zero address.
func (v *Vault) RedemptionQueue() common.Address {
	if v.queue == nil {
		return common.Address{}
	}
	return v.queue.Address()
}

func (v *Vault) TotalAssets() *big.Int { return v.asset.BalanceOf(v.address) }
func (v *Vault) TotalSupply() *big.Int { return v.shares.TotalSupply() }

func (v *Vault) BalanceOf(account common.Address) *big.Int { return v.shares.BalanceOf(account) }

func (v *Vault) Allowance(owner, spender common.Address) *big.Int {
	return v.shares.Allowance(owner, spender)
}

// ConvertToShares floors assets*(supply+1)/(totalAssets+1). The virtual
// share and asset keep the first deposit at 1:1 and make donations before
// it unprofitable.
func (v *Vault) ConvertToShares(assets *big.Int) *big.Int {
	supply := new(big.Int).Add(v.TotalSupply(), common.Big1)
	total := new(big.Int).Add(v.TotalAssets(), common.Big1)
	out := new(big.Int).Mul(assets, supply)
	return out.Quo(out, total)
}

// ConvertToAssets floors shares*(totalAssets+1)/(supply+1).
func (v *Vault) ConvertToAssets(shares *big.Int) *big.Int {
	supply := new(big.Int).Add(v.TotalSupply(), common.Big1)
	total := new(big.Int).Add(v.TotalAssets(), common.Big1)
	out := new(big.Int).Mul(shares, total)
	return out.Quo(out, supply)
}

func (v *Vault) PreviewStake(assets *big.Int) *big.Int    { return v.ConvertToShares(assets) }
func (v *Vault) PreviewUnstake(shares *big.Int) *big.Int { return v.ConvertToAssets(shares) }

// LastActionBatch reports the batch of account's latest stake or unstake.
func (v *Vault) LastActionBatch(account common.Address) (uint64, bool) {
	marker, ok := v.lastAction[account]
	if !ok {
		return 0, false
	}
	return marker - 1, true
}

func (v *Vault) Stake(tx *settlement.Tx, amount *big.Int) (*big.Int, error) {
	return v.StakeFor(tx, tx.Sender(), amount)
}

// StakeFor pulls amount of the backing token from the caller and mints the
// resulting shares to recipient.
func (v *Vault) StakeFor(tx *settlement.Tx, recipient common.Address, amount *big.Int) (*big.Int, error) {
	caller := tx.Sender()
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if recipient == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if err := v.whenNotPaused(); err != nil {
		return nil, err
	}
	if err := v.notBanned(caller, recipient); err != nil {
		return nil, err
	}
	if err := v.guard(tx, caller, recipient); err != nil {
		return nil, err
	}

	shares := v.ConvertToShares(amount)
	if shares.Sign() == 0 {
		return nil, ErrZeroShares
	}

	self := tx.Call(v.address)
	if err := v.asset.TransferFrom(self, caller, v.address, amount); err != nil {
		return nil, fmt.Errorf("pull backing: %w", err)
	}
	if err := v.shares.Mint(self, recipient, shares); err != nil {
		return nil, fmt.Errorf("mint shares: %w", err)
	}

	tx.Emit(component, "Staked", map[string]string{
		"caller":    caller.Hex(),
		"recipient": recipient.Hex(),
		"assets":    amount.String(),
		"shares":    shares.String(),
	})
	return shares, nil
}

// Unstake burns shares from the caller, moves the redeemed assets into the
// redemption queue's custody and returns the new redemption index.
func (v *Vault) Unstake(tx *settlement.Tx, shares *big.Int) (uint64, error) {
	caller := tx.Sender()
	if shares == nil || shares.Sign() <= 0 {
		return 0, ErrZeroAmount
	}
	if v.queue == nil {
		return 0, ErrQueueNotSet
	}
	if err := v.whenNotPaused(); err != nil {
		return 0, err
	}
	if err := v.notBanned(caller); err != nil {
		return 0, err
	}
	if err := v.guard(tx, caller); err != nil {
		return 0, err
	}
	if v.BalanceOf(caller).Cmp(shares) < 0 {
		return 0, ErrInsufficientShare
	}

	assets := v.ConvertToAssets(shares)
	if assets.Sign() == 0 {
		return 0, ErrZeroAssets
	}

	self := tx.Call(v.address)
	if err := v.shares.Burn(self, caller, shares); err != nil {
		return 0, fmt.Errorf("burn shares: %w", err)
	}
	if err := v.asset.Transfer(self, v.queue.Address(), assets); err != nil {
		return 0, fmt.Errorf("move assets to queue: %w", err)
	}
	index, err := v.queue.Enqueue(self, caller, assets, shares)
	if err != nil {
		return 0, fmt.Errorf("enqueue redemption: %w", err)
	}

	tx.Emit(component, "Unstaked", map[string]string{
		"owner":  caller.Hex(),
		"assets": assets.String(),
		"shares": shares.String(),
		"index":  fmt.Sprint(index),
	})
	return index, nil
}

// Deposit, Withdraw, Mint and Redeem are the standard tokenized-vault entry
// points. They always fail so the batch guard cannot be sidestepped.
func (v *Vault) Deposit(*settlement.Tx, *big.Int, common.Address) (*big.Int, error) {
	return nil, ErrDisabled
}

func (v *Vault) Withdraw(*settlement.Tx, *big.Int, common.Address, common.Address) (*big.Int, error) {
	return nil, ErrDisabled
}

func (v *Vault) Mint(*settlement.Tx, *big.Int, common.Address) (*big.Int, error) {
	return nil, ErrDisabled
}

func (v *Vault) Redeem(*settlement.Tx, *big.Int, common.Address, common.Address) (*big.Int, error) {
	return nil, ErrDisabled
}

// Transfer moves shares from the caller.
func (v *Vault) Transfer(tx *settlement.Tx, to common.Address, amount *big.Int) error {
	if err := v.whenNotPaused(); err != nil {
		return err
	}
	if err := v.notBanned(tx.Sender(), to); err != nil {
		return err
	}
	return v.shares.Transfer(tx, to, amount)
}

// TransferFrom moves shares from owner using the caller's allowance.
func (v *Vault) TransferFrom(tx *settlement.Tx, from, to common.Address, amount *big.Int) error {
	if err := v.whenNotPaused(); err != nil {
		return err
	}
	if err := v.notBanned(tx.Sender(), from, to); err != nil {
		return err
	}
	return v.shares.TransferFrom(tx, from, to, amount)
}

func (v *Vault) Approve(tx *settlement.Tx, spender common.Address, amount *big.Int) error {
	return v.shares.Approve(tx, spender, amount)
}

// SetRedemptionQueue wires the queue that receives unstaked assets.
func (v *Vault) SetRedemptionQueue(tx *settlement.Tx, queue RedemptionQueue) error {
	if err := access.Require(v.roles, access.DefaultAdminRole, tx.Sender()); err != nil {
		return err
	}
	if queue == nil || queue.Address() == (common.Address{}) {
		return ErrZeroAddress
	}
	prev := v.queue
	v.queue = queue
	tx.OnRevert(func() { v.queue = prev })
	tx.Emit(component, "RedemptionQueueUpdated", map[string]string{"queue": queue.Address().Hex()})
	return nil
}

func (v *Vault) Pause(tx *settlement.Tx) error   { return v.setPaused(tx, true) }
func (v *Vault) Unpause(tx *settlement.Tx) error { return v.setPaused(tx, false) }

func (v *Vault) setPaused(tx *settlement.Tx, paused bool) error {
	if err := access.Require(v.roles, access.PauseRole, tx.Sender()); err != nil {
		return err
	}
	prev := v.paused
	v.paused = paused
	tx.OnRevert(func() { v.paused = prev })
	name := "Unpaused"
	if paused {
		name = "Paused"
	}
	tx.Emit(component, name, map[string]string{"account": tx.Sender().Hex()})
	return nil
}

func (v *Vault) whenNotPaused() error {
	if v.paused {
		return ErrPaused
	}
	if v.asset.Paused() {
		return fmt.Errorf("%w: backing token paused", ErrPaused)
	}
	return nil
}

func (v *Vault) notBanned(accounts ...common.Address) error {
	for _, a := range accounts {
		if v.asset.IsBanned(a) {
			return fmt.Errorf("%w: %s", ErrBanned, a.Hex())
		}
	}
	return nil
}

// guard rejects a second stake or unstake by any of accounts in the current
// batch and marks them for the rest of it.
func (v *Vault) guard(tx *settlement.Tx, accounts ...common.Address) error {
	marker := tx.Batch() + 1
	for _, a := range accounts {
		if v.lastAction[a] == marker {
			return fmt.Errorf("%w: %s", ErrSameBatch, a.Hex())
		}
	}
	for _, a := range accounts {
		prev, had := v.lastAction[a]
		if had && prev == marker {
			continue
		}
		a := a
		v.lastAction[a] = marker
		tx.OnRevert(func() {
			if had {
				v.lastAction[a] = prev
			} else {
				delete(v.lastAction, a)
			}
		})
	}
	return nil
}
