package settlement

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt describes a committed operation.
type Receipt struct {
	Batch  uint64    `json:"batch"`
	Time   time.Time `json:"time"`
	Events []Event   `json:"events"`
}

// Engine serializes operations into a single total order. Every operation
// runs to completion under the engine lock and is either committed whole or
// rolled back through its journal.
type Engine struct {
	mu       sync.Mutex
	clock    Clock
	batch    uint64
	lastTime time.Time
}

func NewEngine(clock Clock) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Engine{clock: clock}
}

// Batch returns the currently open settlement batch.
func (e *Engine) Batch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batch
}

// Now reads the engine clock.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// SealBatch closes the open batch and returns the new one.
func (e *Engine) SealBatch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batch++
	return e.batch
}

// Execute runs fn as one atomic operation submitted by sender.
func (e *Engine) Execute(sender common.Address, fn func(tx *Tx) error) (*Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if now.Before(e.lastTime) {
		now = e.lastTime
	}
	return e.run(sender, e.batch, now, fn)
}

// ExecuteAt runs fn with a recorded batch and timestamp. Used for replay.
func (e *Engine) ExecuteAt(sender common.Address, batch uint64, at time.Time, fn func(tx *Tx) error) (*Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if batch > e.batch {
		e.batch = batch
	}
	return e.run(sender, batch, at, fn)
}

// View runs fn under the engine lock without a transaction. fn must not
// call back into the engine.
func (e *Engine) View(fn func()) {
	e.ViewBatch(func(uint64) { fn() })
}

// ViewBatch is View with the open batch number passed to fn.
func (e *Engine) ViewBatch(fn func(batch uint64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.batch)
}

func (e *Engine) run(sender common.Address, batch uint64, at time.Time, fn func(tx *Tx) error) (receipt *Receipt, err error) {
	events := make([]Event, 0, 4)
	tx := &Tx{
		sender:  sender,
		origin:  sender,
		batch:   batch,
		time:    at,
		journal: &journal{},
		events:  &events,
	}

	defer func() {
		if r := recover(); r != nil {
			tx.journal.revert(0)
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.journal.revert(0)
		return nil, err
	}

	if at.After(e.lastTime) {
		e.lastTime = at
	}
	return &Receipt{Batch: batch, Time: at, Events: events}, nil
}
