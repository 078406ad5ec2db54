package settlement

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Event is a committed state change notification.
type Event struct {
	Component  string            `json:"component"`
	Name       string            `json:"name"`
	Batch      uint64            `json:"batch"`
	Time       time.Time         `json:"time"`
	Attributes map[string]string `json:"attributes"`
}

// journal records undo closures in application order.
type journal struct {
	entries []func()
}

func (j *journal) append(undo func()) {
	j.entries = append(j.entries, undo)
}

func (j *journal) length() int { return len(j.entries) }

func (j *journal) revert(to int) {
	for i := len(j.entries) - 1; i >= to; i-- {
		j.entries[i]()
	}
	j.entries = j.entries[:to]
}

// Tx is the call context of one settlement unit. Nested contract calls share
// the journal and event buffer of the outer call and only differ in sender.
type Tx struct {
	sender  common.Address
	origin  common.Address
	batch   uint64
	time    time.Time
	journal *journal
	events  *[]Event
}

// Sender is the immediate caller.
func (tx *Tx) Sender() common.Address { return tx.sender }

// Origin is the account that submitted the outer operation.
func (tx *Tx) Origin() common.Address { return tx.origin }

// Batch is the settlement batch the call executes in.
func (tx *Tx) Batch() uint64 { return tx.batch }

// Time is the block timestamp of the call.
func (tx *Tx) Time() time.Time { return tx.time }

// Call returns the context for a call made by contract.
func (tx *Tx) Call(contract common.Address) *Tx {
	return &Tx{
		sender:  contract,
		origin:  tx.origin,
		batch:   tx.batch,
		time:    tx.time,
		journal: tx.journal,
		events:  tx.events,
	}
}

// OnRevert registers undo to run if the operation fails.
func (tx *Tx) OnRevert(undo func()) {
	tx.journal.append(undo)
}

// Snapshot marks the current journal position.
func (tx *Tx) Snapshot() int { return tx.journal.length() }

// RevertToSnapshot undoes everything recorded after id.
func (tx *Tx) RevertToSnapshot(id int) { tx.journal.revert(id) }

// Emit buffers an event; it is dropped if the operation reverts.
func (tx *Tx) Emit(component, name string, attrs map[string]string) {
	events := tx.events
	n := len(*events)
	*events = append(*events, Event{
		Component:  component,
		Name:       name,
		Batch:      tx.batch,
		Time:       tx.time,
		Attributes: attrs,
	})
	tx.journal.append(func() { *events = (*events)[:n] })
}

// Events returns a copy of the events buffered so far in this operation.
func (tx *Tx) Events() []Event {
	out := make([]Event, len(*tx.events))
	copy(out, *tx.events)
	return out
}
