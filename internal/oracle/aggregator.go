// Package oracle implements price feed aggregation: oracle
// registration and authorization, deviation-bounded price submission,
// staleness-checked reads, and the controller-operated circuit breaker.
package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/synthex/protocol-core/internal/fixedpoint"
	"github.com/synthex/protocol-core/internal/ledger"
	"github.com/synthex/protocol-core/internal/model"
	"github.com/synthex/protocol-core/internal/protocol"
	"github.com/synthex/protocol-core/internal/store"
)

// Aggregator manages oracle sources and the global price state. Every
// operation runs inside one store transaction: validation failures roll
// the whole call back with no partial write.
type Aggregator struct {
	store  store.Store
	clock  ledger.Clock
	params protocol.Params
}

// NewAggregator creates an aggregator over the given store and clock.
func NewAggregator(st store.Store, clock ledger.Clock, params protocol.Params) *Aggregator {
	return &Aggregator{store: st, clock: clock, params: params}
}

// Register opts the caller in as an oracle source, unauthorized and at
// initial reputation. Re-registration overwrites the record, which
// resets reputation — a deauthorized oracle can launder a bad score by
// re-opting in. Kept intact for compatibility with deployed consumers.
func (a *Aggregator) Register(ctx context.Context, caller string) (model.OracleSource, error) {
	src := model.OracleSource{
		Principal:  caller,
		Reputation: a.params.InitialReputation,
	}
	err := a.store.Update(ctx, func(tx store.StateTx) error {
		return tx.PutOracle(ctx, src)
	})
	return src, err
}

// Authorize marks a registered oracle as authorized to submit prices
// and bumps the global authorized-oracle counter. Controller only.
func (a *Aggregator) Authorize(ctx context.Context, caller, target string) error {
	if caller != a.params.Controller {
		return protocol.ErrUnauthorized
	}
	return a.store.Update(ctx, func(tx store.StateTx) error {
		src, err := tx.Oracle(ctx, target)
		if errors.Is(err, store.ErrNotFound) {
			return protocol.ErrNotRegistered
		}
		if err != nil {
			return err
		}

		src.Authorized = true
		if err := tx.PutOracle(ctx, src); err != nil {
			return err
		}

		ps, err := tx.PriceState(ctx)
		if err != nil {
			return err
		}
		ps.AuthorizedOracles++
		if err := tx.PutPriceState(ctx, ps); err != nil {
			return err
		}

		return tx.AppendEvent(ctx, a.event(model.EventOracleAuthorized, target, 0, 0))
	})
}

// SubmitPrice validates and commits a price submission from an
// authorized oracle. Deviation is measured against the last committed
// price, never a pending batch, so submission order is deterministic
// and any single legitimate submitter can veto a large jump.
func (a *Aggregator) SubmitPrice(ctx context.Context, caller string, newPrice uint64) (model.PriceState, error) {
	var out model.PriceState
	err := a.store.Update(ctx, func(tx store.StateTx) error {
		src, err := tx.Oracle(ctx, caller)
		if errors.Is(err, store.ErrNotFound) {
			return protocol.ErrNotRegistered
		}
		if err != nil {
			return err
		}
		if !src.Authorized {
			return protocol.ErrUnauthorized
		}

		ps, err := tx.PriceState(ctx)
		if err != nil {
			return err
		}
		if ps.CircuitBreaker {
			return protocol.ErrCircuitBreakerActive
		}

		deviation := fixedpoint.AbsDiff(newPrice, ps.CurrentPrice)
		maxAllowed, err := fixedpoint.MulDiv(ps.CurrentPrice, a.params.DeviationBps, fixedpoint.BasisPoints)
		if err != nil {
			return err
		}
		if deviation > maxAllowed {
			return protocol.ErrDeviationExceeded
		}

		now := a.clock.Now()
		ps.CurrentPrice = newPrice
		ps.LastUpdateTime = now
		ps.SubmissionCount++
		if err := tx.PutPriceState(ctx, ps); err != nil {
			return err
		}

		src.Reputation++
		src.LastSubmissionTime = now
		if err := tx.PutOracle(ctx, src); err != nil {
			return err
		}

		out = ps
		return tx.AppendEvent(ctx, a.event(model.EventPriceSubmitted, caller, 0, newPrice))
	})
	return out, err
}

// GetPrice returns the current price, refusing stale or breaker-halted
// reads. Staleness is checked before the breaker so the two failure
// modes stay independent.
func (a *Aggregator) GetPrice(ctx context.Context) (uint64, error) {
	var price uint64
	err := a.store.View(ctx, func(tx store.StateTx) error {
		ps, err := tx.PriceState(ctx)
		if err != nil {
			return err
		}
		if a.clock.Now()-ps.LastUpdateTime > a.params.StalenessThreshold {
			return protocol.ErrStalePrice
		}
		if ps.CircuitBreaker {
			return protocol.ErrCircuitBreakerActive
		}
		price = ps.CurrentPrice
		return nil
	})
	return price, err
}

// Trip halts price submission and consumption. Controller only.
func (a *Aggregator) Trip(ctx context.Context, caller string) error {
	return a.setBreaker(ctx, caller, true)
}

// Reset clears the circuit breaker. Controller only. This is the sole
// escape hatch after a systemic halt.
func (a *Aggregator) Reset(ctx context.Context, caller string) error {
	return a.setBreaker(ctx, caller, false)
}

func (a *Aggregator) setBreaker(ctx context.Context, caller string, tripped bool) error {
	if caller != a.params.Controller {
		return protocol.ErrUnauthorized
	}
	return a.store.Update(ctx, func(tx store.StateTx) error {
		ps, err := tx.PriceState(ctx)
		if err != nil {
			return err
		}
		ps.CircuitBreaker = tripped
		if err := tx.PutPriceState(ctx, ps); err != nil {
			return err
		}

		evType := model.EventBreakerReset
		if tripped {
			evType = model.EventBreakerTripped
		}
		return tx.AppendEvent(ctx, a.event(evType, caller, 0, ps.CurrentPrice))
	})
}

// State returns the price state singleton without freshness checks.
// Used by status reporting, not by price consumers.
func (a *Aggregator) State(ctx context.Context) (model.PriceState, error) {
	var ps model.PriceState
	err := a.store.View(ctx, func(tx store.StateTx) error {
		var err error
		ps, err = tx.PriceState(ctx)
		return err
	})
	return ps, err
}

// Source returns the oracle record for a principal.
func (a *Aggregator) Source(ctx context.Context, principal string) (model.OracleSource, error) {
	var src model.OracleSource
	err := a.store.View(ctx, func(tx store.StateTx) error {
		var err error
		src, err = tx.Oracle(ctx, principal)
		if errors.Is(err, store.ErrNotFound) {
			return protocol.ErrNotRegistered
		}
		return err
	})
	return src, err
}

func (a *Aggregator) event(evType, principal string, amount, price uint64) model.Event {
	return model.Event{
		ID:        uuid.New().String(),
		Type:      evType,
		Principal: principal,
		Amount:    amount,
		Price:     price,
		Timestamp: time.Unix(int64(a.clock.Now()), 0).UTC(),
	}
}
