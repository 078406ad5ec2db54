package gateway

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"issuance-backend/internal/access"
	"issuance-backend/internal/conversion"
	"issuance-backend/internal/settlement"
	"issuance-backend/internal/token"
)

const (
	component = "gateway"

	// MaxFeeRate is 100% in basis points.
	MaxFeeRate = 10_000
)

var (
	ErrZeroAmount        = settlement.Invalid("gateway: zero amount")
	ErrZeroAddress       = settlement.Invalid("gateway: zero address")
	ErrInvalidFeeRate    = settlement.Invalid("gateway: fee rate above 10000 bps")
	ErrBelowFirstDeposit = settlement.Invalid("gateway: amount below first deposit minimum")
	ErrBelowMinimum      = settlement.Invalid("gateway: amount below mint minimum")
	ErrZeroCount         = settlement.Invalid("gateway: zero count")
	ErrCountExceedsQueue = settlement.Invalid("gateway: count exceeds queue length")
	ErrAssetNotSupported = settlement.Invalid("gateway: asset not supported")
	ErrQueueEmpty        = settlement.BadState("gateway: redemption queue empty")
	ErrPaused            = settlement.BadState("gateway: paused")
	ErrRedeemAssetNotSet = settlement.BadState("gateway: redeem asset not set")
	ErrNotKyc            = settlement.Unauthorized("gateway: account not kyc approved")
	ErrNilConverter      = settlement.Invalid("gateway: nil converter")
	ErrInvalidMinimum    = settlement.Invalid("gateway: minimum must not be negative")
)

// Entry is a pending redemption request. ID is derived from the request and
// only identifies it.
type Entry struct {
	Sender   common.Address `json:"sender"`
	Receiver common.Address `json:"receiver"`
	Amount   *big.Int       `json:"amount"`
	ID       common.Hash    `json:"id"`
	QueuedAt time.Time      `json:"queued_at"`
}

// Params are the gateway's tunable settings. Fee rates are in basis points;
// minimums are in canonical units.
type Params struct {
	Treasury           common.Address `json:"treasury"`
	FeeTo              common.Address `json:"fee_to"`
	RedeemAsset        common.Address `json:"redeem_asset"`
	MintFeeRate        uint64         `json:"mint_fee_rate"`
	RedeemFeeRate      uint64         `json:"redeem_fee_rate"`
	FirstDepositAmount *big.Int       `json:"first_deposit_amount"`
	MintMinimum        *big.Int       `json:"mint_minimum"`
}

func (p Params) clone() Params {
	p.FirstDepositAmount = new(big.Int).Set(p.FirstDepositAmount)
	p.MintMinimum = new(big.Int).Set(p.MintMinimum)
	return p
}

// Gateway mints the protocol token against underlying assets and runs the
// FIFO redemption queue that pays them back out.
type Gateway struct {
	address   common.Address
	token     token.Token
	tokens    token.Resolver
	converter conversion.Converter
	roles     access.Controller
	kyc       access.Compliance

	params         Params
	paused         bool
	firstDeposit   map[common.Address]bool
	queue          Deque[Entry]
	redemptionInfo map[common.Address]*big.Int
}

func New(
	address common.Address,
	mintToken token.Token,
	tokens token.Resolver,
	converter conversion.Converter,
	roles access.Controller,
	kyc access.Compliance,
	params Params,
) *Gateway {
	if params.FirstDepositAmount == nil {
		params.FirstDepositAmount = new(big.Int)
	}
	if params.MintMinimum == nil {
		params.MintMinimum = new(big.Int)
	}
	return &Gateway{
		address:        address,
		token:          mintToken,
		tokens:         tokens,
		converter:      converter,
		roles:          roles,
		kyc:            kyc,
		params:         params.clone(),
		firstDeposit:   make(map[common.Address]bool),
		redemptionInfo: make(map[common.Address]*big.Int),
	}
}

func (g *Gateway) Address() common.Address { return g.address }
func (g *Gateway) Token() token.Token      { return g.token }
func (g *Gateway) Params() Params          { return g.params.clone() }
func (g *Gateway) Paused() bool            { return g.paused }
func (g *Gateway) QueueLength() int        { return g.queue.Len() }

func (g *Gateway) HasFirstDeposit(account common.Address) bool { return g.firstDeposit[account] }

// RedemptionInfo is the amount still queued for receiver.
func (g *Gateway) RedemptionInfo(receiver common.Address) *big.Int {
	if v, ok := g.redemptionInfo[receiver]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// QueueEntries returns up to limit entries starting offset places from the front.
func (g *Gateway) QueueEntries(offset, limit int) []Entry {
	if offset < 0 {
		offset = 0
	}
	end := g.queue.Len()
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	var out []Entry
	for i := offset; i < end; i++ {
		e := g.queue.At(i)
		e.Amount = new(big.Int).Set(e.Amount)
		out = append(out, e)
	}
	return out
}

// InstantMint takes amount of asset from the caller and mints its canonical
// value, less the mint fee, to recipient. The fee is split off in canonical
// units; the fee sink receives its floor in asset units and the treasury the
// rest of amount.
func (g *Gateway) InstantMint(tx *settlement.Tx, asset, recipient common.Address, amount *big.Int) (*big.Int, error) {
	caller := tx.Sender()
	if g.paused {
		return nil, ErrPaused
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if recipient == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if err := g.requireKyc(caller, recipient); err != nil {
		return nil, err
	}
	if !g.converter.IsSupported(asset) {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotSupported, asset.Hex())
	}

	canonical, err := g.converter.ConvertFromUnderlying(asset, amount)
	if err != nil {
		return nil, err
	}
	feeCanonical := feeOf(canonical, g.params.MintFeeRate)
	minted := new(big.Int).Sub(canonical, feeCanonical)
	if minted.Sign() == 0 {
		return nil, ErrZeroAmount
	}

	if !g.firstDeposit[caller] {
		if minted.Cmp(g.params.FirstDepositAmount) < 0 {
			return nil, fmt.Errorf("%w: %s < %s", ErrBelowFirstDeposit, minted, g.params.FirstDepositAmount)
		}
		g.setFirstDeposit(tx, caller, true)
	} else if minted.Cmp(g.params.MintMinimum) < 0 {
		return nil, fmt.Errorf("%w: %s < %s", ErrBelowMinimum, minted, g.params.MintMinimum)
	}

	fee, err := g.converter.ConvertToUnderlying(asset, feeCanonical)
	if err != nil {
		return nil, err
	}
	net := new(big.Int).Sub(amount, fee)

	underlying, err := g.tokens.Token(asset)
	if err != nil {
		return nil, err
	}
	self := tx.Call(g.address)
	if fee.Sign() > 0 {
		if err := underlying.TransferFrom(self, caller, g.params.FeeTo, fee); err != nil {
			return nil, fmt.Errorf("collect mint fee: %w", err)
		}
	}
	if err := underlying.TransferFrom(self, caller, g.params.Treasury, net); err != nil {
		return nil, fmt.Errorf("move to treasury: %w", err)
	}
	if err := g.token.Mint(self, recipient, minted); err != nil {
		return nil, fmt.Errorf("mint: %w", err)
	}

	tx.Emit(component, "InstantMint", map[string]string{
		"caller":    caller.Hex(),
		"recipient": recipient.Hex(),
		"asset":     asset.Hex(),
		"amount":    amount.String(),
		"fee":       fee.String(),
		"minted":    minted.String(),
	})
	return minted, nil
}

// RedeemRequest takes amount of the mint token into custody and queues a
// payout to recipient.
func (g *Gateway) RedeemRequest(tx *settlement.Tx, recipient common.Address, amount *big.Int) (common.Hash, error) {
	caller := tx.Sender()
	if g.paused {
		return common.Hash{}, ErrPaused
	}
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, ErrZeroAmount
	}
	if recipient == (common.Address{}) {
		return common.Hash{}, ErrZeroAddress
	}
	if err := g.requireKyc(caller, recipient); err != nil {
		return common.Hash{}, err
	}
	if err := g.token.TransferFrom(tx.Call(g.address), caller, g.address, amount); err != nil {
		return common.Hash{}, fmt.Errorf("take custody: %w", err)
	}

	entry := Entry{
		Sender:   caller,
		Receiver: recipient,
		Amount:   new(big.Int).Set(amount),
		ID:       EntryID(caller, recipient, amount, tx.Time(), g.queue.Len()),
		QueuedAt: tx.Time(),
	}
	g.queue.PushBack(entry)
	tx.OnRevert(func() { g.queue.PopBack() })
	g.adjustInfo(tx, recipient, amount)

	tx.Emit(component, "RedemptionRequested", map[string]string{
		"id":       entry.ID.Hex(),
		"sender":   caller.Hex(),
		"receiver": recipient.Hex(),
		"amount":   amount.String(),
	})
	return entry.ID, nil
}

// ProcessRedemptionQueue pays out up to count entries from the front of the
// queue; zero means the whole queue as it stands. It stops without error at
// the first entry the gateway cannot cover and reports how many were paid.
func (g *Gateway) ProcessRedemptionQueue(tx *settlement.Tx, count int) (int, error) {
	if err := access.Require(g.roles, access.OperatorRole, tx.Sender()); err != nil {
		return 0, err
	}
	length := g.queue.Len()
	if length == 0 {
		return 0, ErrQueueEmpty
	}
	if count < 0 || count > length {
		return 0, fmt.Errorf("%w: %d > %d", ErrCountExceedsQueue, count, length)
	}
	if count == 0 {
		count = length
	}
	if g.params.RedeemAsset == (common.Address{}) {
		return 0, ErrRedeemAssetNotSet
	}
	payout, err := g.tokens.Token(g.params.RedeemAsset)
	if err != nil {
		return 0, err
	}

	self := tx.Call(g.address)
	processed := 0
	for ; processed < count; processed++ {
		entry, _ := g.queue.Front()
		if err := g.requireKyc(entry.Sender, entry.Receiver); err != nil {
			return 0, fmt.Errorf("entry %s: %w", entry.ID.Hex(), err)
		}
		underlying, err := g.converter.ConvertToUnderlying(g.params.RedeemAsset, entry.Amount)
		if err != nil {
			return 0, err
		}
		available := payout.BalanceOf(g.address)
		if underlying.Cmp(available) > 0 {
			tx.Emit(component, "RedemptionQueueStalled", map[string]string{
				"id":        entry.ID.Hex(),
				"required":  underlying.String(),
				"available": available.String(),
				"remaining": fmt.Sprint(g.queue.Len()),
			})
			break
		}
		fee := feeOf(underlying, g.params.RedeemFeeRate)
		net := new(big.Int).Sub(underlying, fee)

		g.popFront(tx)
		g.adjustInfo(tx, entry.Receiver, new(big.Int).Neg(entry.Amount))
		if err := g.token.Burn(self, g.address, entry.Amount); err != nil {
			return 0, fmt.Errorf("burn: %w", err)
		}
		if fee.Sign() > 0 {
			if err := payout.Transfer(self, g.params.FeeTo, fee); err != nil {
				return 0, fmt.Errorf("pay redeem fee: %w", err)
			}
		}
		if err := payout.Transfer(self, entry.Receiver, net); err != nil {
			return 0, fmt.Errorf("pay receiver: %w", err)
		}

		tx.Emit(component, "RedemptionProcessed", map[string]string{
			"id":         entry.ID.Hex(),
			"sender":     entry.Sender.Hex(),
			"receiver":   entry.Receiver.Hex(),
			"amount":     entry.Amount.String(),
			"underlying": underlying.String(),
			"fee":        fee.String(),
		})
	}
	return processed, nil
}

// Cancel drops count entries from the front of the queue and refunds each
// sender in the mint token.
func (g *Gateway) Cancel(tx *settlement.Tx, count int) (int, error) {
	if err := access.Require(g.roles, access.MaintainerRole, tx.Sender()); err != nil {
		return 0, err
	}
	length := g.queue.Len()
	if length == 0 {
		return 0, ErrQueueEmpty
	}
	if count <= 0 {
		return 0, ErrZeroCount
	}
	if count > length {
		return 0, fmt.Errorf("%w: %d > %d", ErrCountExceedsQueue, count, length)
	}

	self := tx.Call(g.address)
	for i := 0; i < count; i++ {
		entry := g.popFront(tx)
		g.adjustInfo(tx, entry.Receiver, new(big.Int).Neg(entry.Amount))
		if err := g.token.Transfer(self, entry.Sender, entry.Amount); err != nil {
			return 0, fmt.Errorf("refund %s: %w", entry.ID.Hex(), err)
		}
		tx.Emit(component, "RedemptionCancelled", map[string]string{
			"id":       entry.ID.Hex(),
			"sender":   entry.Sender.Hex(),
			"receiver": entry.Receiver.Hex(),
			"amount":   entry.Amount.String(),
		})
	}
	return count, nil
}

// EntryID hashes the packed request tuple.
func EntryID(sender, receiver common.Address, amount *big.Int, at time.Time, position int) common.Hash {
	return crypto.Keccak256Hash(
		sender.Bytes(),
		receiver.Bytes(),
		common.LeftPadBytes(amount.Bytes(), 32),
		common.LeftPadBytes(big.NewInt(at.Unix()).Bytes(), 32),
		common.LeftPadBytes(big.NewInt(int64(position)).Bytes(), 32),
	)
}

func feeOf(amount *big.Int, rate uint64) *big.Int {
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(rate))
	return fee.Quo(fee, big.NewInt(MaxFeeRate))
}

func (g *Gateway) requireKyc(accounts ...common.Address) error {
	for _, a := range accounts {
		if !g.kyc.HasKyc(a) {
			return fmt.Errorf("%w: %s", ErrNotKyc, a.Hex())
		}
	}
	return nil
}

func (g *Gateway) popFront(tx *settlement.Tx) Entry {
	entry, _ := g.queue.PopFront()
	tx.OnRevert(func() { g.queue.PushFront(entry) })
	return entry
}

func (g *Gateway) adjustInfo(tx *settlement.Tx, receiver common.Address, delta *big.Int) {
	prev, had := g.redemptionInfo[receiver]
	next := new(big.Int).Add(g.RedemptionInfo(receiver), delta)
	if next.Sign() == 0 {
		delete(g.redemptionInfo, receiver)
	} else {
		g.redemptionInfo[receiver] = next
	}
	tx.OnRevert(func() {
		if had {
			g.redemptionInfo[receiver] = prev
		} else {
			delete(g.redemptionInfo, receiver)
		}
	})
}

func (g *Gateway) setFirstDeposit(tx *settlement.Tx, account common.Address, done bool) {
	prev, had := g.firstDeposit[account]
	if done {
		g.firstDeposit[account] = true
	} else {
		delete(g.firstDeposit, account)
	}
	tx.OnRevert(func() {
		if had {
			g.firstDeposit[account] = prev
		} else {
			delete(g.firstDeposit, account)
		}
	})
}
