// Package ledger abstracts the two collaborators the core borrows from
// the hosting ledger runtime: a monotonically non-decreasing clock, and
// the grouped-transaction contract under which a value transfer and a
// state update commit or fail as one unit.
package ledger

import (
	"sync"
	"time"

	"github.com/synthex/protocol-core/internal/protocol"
)

// Clock returns the current ledger timestamp in unix seconds. The
// hosting ledger guarantees it never decreases between operations.
type Clock interface {
	Now() uint64
}

// SystemClock is the production clock backed by wall time.
type SystemClock struct{}

func (SystemClock) Now() uint64 { return uint64(time.Now().UTC().Unix()) }

// ManualClock is a settable clock for tests. Advancing is the only way
// to move it, preserving the non-decreasing guarantee.
type ManualClock struct {
	mu  sync.Mutex
	now uint64
}

// NewManualClock creates a manual clock starting at the given time.
func NewManualClock(start uint64) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d seconds.
func (c *ManualClock) Advance(d uint64) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

// Leg types within a grouped transaction.
const (
	LegPayment = "payment"
	LegTrade   = "trade"
)

// Leg is one declared action inside a grouped transaction.
type Leg struct {
	Type     string `json:"type"`
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Amount   uint64 `json:"amount"` // micro-units
}

// Group is an ordered set of legs submitted as one indivisible unit.
// The core validates legs against each other before applying any
// effect; if validation fails nothing commits.
type Group []Leg

// RequireSize checks that the group carries at least n legs.
func (g Group) RequireSize(n int) error {
	if len(g) < n {
		return protocol.ErrGroupPaymentMismatch
	}
	return nil
}

// RequirePayment checks that the group's first leg is a payment of
// exactly amount to receiver. This is the two-phase commit the grouped
// liquidation and yield operations rely on: the payment is validated
// against the declared state update before either side takes effect.
func (g Group) RequirePayment(receiver string, amount uint64) error {
	if err := g.RequireSize(2); err != nil {
		return err
	}
	first := g[0]
	if first.Type != LegPayment || first.Receiver != receiver || first.Amount != amount {
		return protocol.ErrGroupPaymentMismatch
	}
	return nil
}
