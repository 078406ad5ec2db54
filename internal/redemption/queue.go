package redemption

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"issuance-backend/internal/access"
	"issuance-backend/internal/settlement"
	"issuance-backend/internal/token"
)

const component = "redemption"

var (
	ErrNotVault         = settlement.Unauthorized("redemption: caller is not the vault")
	ErrZeroAddress      = settlement.Invalid("redemption: zero address")
	ErrZeroAmount       = settlement.Invalid("redemption: zero amount")
	ErrInvalidDelay     = settlement.Invalid("redemption: negative delay")
	ErrNotFound         = settlement.Invalid("redemption: no redemption at index for caller")
	ErrAlreadyProcessed = settlement.BadState("redemption: already processed")
	ErrStillQueued      = settlement.BadState("redemption: still queued")
)

// Status is the lifecycle stage of a redemption record.
type Status int

const (
	StatusQueued Status = iota
	StatusClaimed
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusClaimed:
		return "claimed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Redemption is a delayed payout owed to User. ClaimableAt is fixed when the
// record is created.
type Redemption struct {
	User        common.Address `json:"user"`
	Index       uint64         `json:"index"`
	Assets      *big.Int       `json:"assets"`
	Shares      *big.Int       `json:"shares"`
	QueuedAt    time.Time      `json:"queued_at"`
	ClaimableAt time.Time      `json:"claimable_at"`
	Status      Status         `json:"status"`
}

func (r Redemption) Processed() bool { return r.Status == StatusClaimed }

func (r Redemption) clone() Redemption {
	r.Assets = new(big.Int).Set(r.Assets)
	r.Shares = new(big.Int).Set(r.Shares)
	return r
}

// Queue holds unstaked assets until each record's delay elapses.
type Queue struct {
	address common.Address
	asset   token.Token
	tokens  token.Resolver
	roles   access.Controller

	vault   common.Address
	delay   time.Duration
	records map[common.Address][]Redemption
	pending *big.Int
}

func NewQueue(address common.Address, asset token.Token, tokens token.Resolver, roles access.Controller, delay time.Duration) *Queue {
	return &Queue{
		address: address,
		asset:   asset,
		tokens:  tokens,
		roles:   roles,
		delay:   delay,
		records: make(map[common.Address][]Redemption),
		pending: new(big.Int),
	}
}

func (q *Queue) Address() common.Address { return q.address }
func (q *Queue) Asset() token.Token      { return q.asset }
func (q *Queue) Vault() common.Address   { return q.vault }
func (q *Queue) Delay() time.Duration    { return q.delay }

// PendingAssets is the sum of assets in unclaimed records.
func (q *Queue) PendingAssets() *big.Int { return new(big.Int).Set(q.pending) }

// Count returns how many records user has ever had.
func (q *Queue) Count(user common.Address) uint64 { return uint64(len(q.records[user])) }

func (q *Queue) Redemption(user common.Address, index uint64) (Redemption, bool) {
	rs := q.records[user]
	if index >= uint64(len(rs)) {
		return Redemption{}, false
	}
	return rs[index].clone(), true
}

// Redemptions returns every record of user in index order.
func (q *Queue) Redemptions(user common.Address) []Redemption {
	rs := q.records[user]
	out := make([]Redemption, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.clone())
	}
	return out
}

// GetAllPendingRedemptions returns the unclaimed records of user in index order.
func (q *Queue) GetAllPendingRedemptions(user common.Address) []Redemption {
	var out []Redemption
	for _, r := range q.records[user] {
		if !r.Processed() {
			out = append(out, r.clone())
		}
	}
	return out
}

// Enqueue records a redemption for user. Only the registered vault may call.
func (q *Queue) Enqueue(tx *settlement.Tx, user common.Address, assets, shares *big.Int) (uint64, error) {
	if q.vault == (common.Address{}) || tx.Sender() != q.vault {
		return 0, ErrNotVault
	}
	if user == (common.Address{}) {
		return 0, ErrZeroAddress
	}

	rs := q.records[user]
	index := uint64(len(rs))
	r := Redemption{
		User:        user,
		Index:       index,
		Assets:      new(big.Int).Set(assets),
		Shares:      new(big.Int).Set(shares),
		QueuedAt:    tx.Time(),
		ClaimableAt: tx.Time().Add(q.delay),
		Status:      StatusQueued,
	}
	q.records[user] = append(rs, r)
	q.addPending(tx, r.Assets, false)
	tx.OnRevert(func() {
		if index == 0 {
			delete(q.records, user)
		} else {
			q.records[user] = q.records[user][:index]
		}
	})

	tx.Emit(component, "RedemptionQueued", map[string]string{
		"user":         user.Hex(),
		"index":        fmt.Sprint(index),
		"assets":       r.Assets.String(),
		"shares":       r.Shares.String(),
		"claimable_at": r.ClaimableAt.UTC().Format(time.RFC3339),
	})
	return index, nil
}

// Claim pays out the caller's record at index once it is claimable.
func (q *Queue) Claim(tx *settlement.Tx, index uint64) (*big.Int, error) {
	user := tx.Sender()
	rs := q.records[user]
	if index >= uint64(len(rs)) {
		return nil, fmt.Errorf("%w: %s #%d", ErrNotFound, user.Hex(), index)
	}
	r := &rs[index]
	if r.Processed() {
		return nil, ErrAlreadyProcessed
	}
	if tx.Time().Before(r.ClaimableAt) {
		return nil, fmt.Errorf("%w: claimable at %s", ErrStillQueued, r.ClaimableAt.UTC().Format(time.RFC3339))
	}

	r.Status = StatusClaimed
	tx.OnRevert(func() { q.records[user][index].Status = StatusQueued })
	q.addPending(tx, r.Assets, true)

	if err := q.asset.Transfer(tx.Call(q.address), user, r.Assets); err != nil {
		return nil, fmt.Errorf("pay redemption: %w", err)
	}

	tx.Emit(component, "RedemptionClaimed", map[string]string{
		"user":   user.Hex(),
		"index":  fmt.Sprint(index),
		"assets": r.Assets.String(),
	})
	return new(big.Int).Set(r.Assets), nil
}

// SetDelay changes the delay for future records only.
func (q *Queue) SetDelay(tx *settlement.Tx, delay time.Duration) error {
	if err := access.Require(q.roles, access.DefaultAdminRole, tx.Sender()); err != nil {
		return err
	}
	if delay < 0 {
		return ErrInvalidDelay
	}
	prev := q.delay
	q.delay = delay
	tx.OnRevert(func() { q.delay = prev })
	tx.Emit(component, "DelayUpdated", map[string]string{"delay": delay.String()})
	return nil
}

func (q *Queue) SetVault(tx *settlement.Tx, vault common.Address) error {
	if err := access.Require(q.roles, access.DefaultAdminRole, tx.Sender()); err != nil {
		return err
	}
	if vault == (common.Address{}) {
		return ErrZeroAddress
	}
	prev := q.vault
	q.vault = vault
	tx.OnRevert(func() { q.vault = prev })
	tx.Emit(component, "VaultUpdated", map[string]string{"vault": vault.Hex()})
	return nil
}

// EmergencyWithdraw moves any token held by the queue.
func (q *Queue) EmergencyWithdraw(tx *settlement.Tx, asset, to common.Address, amount *big.Int) error {
	if err := access.Require(q.roles, access.DefaultAdminRole, tx.Sender()); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	t, err := q.tokens.Token(asset)
	if err != nil {
		return err
	}
	if err := t.Transfer(tx.Call(q.address), to, amount); err != nil {
		return fmt.Errorf("emergency withdraw: %w", err)
	}
	tx.Emit(component, "EmergencyWithdrawal", map[string]string{
		"asset":  asset.Hex(),
		"to":     to.Hex(),
		"amount": amount.String(),
	})
	return nil
}

func (q *Queue) addPending(tx *settlement.Tx, amount *big.Int, subtract bool) {
	prev := q.pending
	if subtract {
		q.pending = new(big.Int).Sub(prev, amount)
	} else {
		q.pending = new(big.Int).Add(prev, amount)
	}
	tx.OnRevert(func() { q.pending = prev })
}
