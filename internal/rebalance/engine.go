// Package rebalance implements delta-neutral hedge maintenance:
// portfolio delta tracking, the time-and-threshold rebalance gate,
// rebalance execution, funding rate bounds, and yield accounting.
package rebalance

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/synthex/protocol-core/internal/fixedpoint"
	"github.com/synthex/protocol-core/internal/ledger"
	"github.com/synthex/protocol-core/internal/model"
	"github.com/synthex/protocol-core/internal/protocol"
	"github.com/synthex/protocol-core/internal/store"
)

// Engine maintains the rebalance state singleton.
type Engine struct {
	store  store.Store
	clock  ledger.Clock
	params protocol.Params
}

// NewEngine creates a rebalance engine over the given store and clock.
func NewEngine(st store.Store, clock ledger.Clock, params protocol.Params) *Engine {
	return &Engine{store: st, clock: clock, params: params}
}

// CalculateDelta recomputes the portfolio delta from supply, collateral
// and price figures and stores it. An unchanged price yields zero delta
// rather than an error: with no price movement there is no measurable
// sensitivity to report.
func (e *Engine) CalculateDelta(ctx context.Context, totalSupply, totalCollateral, price, priceChange uint64) (int64, error) {
	portfolioValue, err := fixedpoint.MulDiv(totalSupply, price, fixedpoint.PricePrecision)
	if err != nil {
		return 0, err
	}
	collateralValue, err := fixedpoint.MulDiv(totalCollateral, price, fixedpoint.PricePrecision)
	if err != nil {
		return 0, err
	}

	var magnitude uint64
	negative := false
	if priceChange != 0 {
		magnitude, err = fixedpoint.MulDiv(
			fixedpoint.AbsDiff(portfolioValue, collateralValue),
			fixedpoint.BasisPoints, priceChange)
		if err != nil {
			return 0, err
		}
		negative = collateralValue > portfolioValue && magnitude > 0
	}

	var signed int64
	err = e.store.Update(ctx, func(tx store.StateTx) error {
		rb, err := tx.RebalanceState(ctx)
		if err != nil {
			return err
		}
		rb.DeltaMagnitude = magnitude
		rb.DeltaNegative = negative
		signed = rb.SignedDelta()
		return tx.PutRebalanceState(ctx, rb)
	})
	return signed, err
}

// Decision reports the two rebalance gate conditions separately so
// callers can see which one is holding a rebalance back.
type Decision struct {
	Needed            bool   `json:"needed"`
	TimeOk            bool   `json:"time_ok"`
	ThresholdExceeded bool   `json:"threshold_exceeded"`
	DeltaDiff         uint64 `json:"delta_diff"`
}

// CheckRebalanceNeeded reports whether a rebalance is due. Both the
// minimum-interval and the delta-threshold condition must hold:
// frequent small corrections are disallowed even when delta drifts, and
// large drifts are never corrected faster than the minimum interval.
func (e *Engine) CheckRebalanceNeeded(ctx context.Context) (Decision, error) {
	var d Decision
	err := e.store.View(ctx, func(tx store.StateTx) error {
		rb, err := tx.RebalanceState(ctx)
		if err != nil {
			return err
		}
		d.TimeOk = e.clock.Now()-rb.LastRebalanceTime >= e.params.MinRebalanceInterval
		d.DeltaDiff = fixedpoint.SignedAbsDiff(rb.SignedDelta(), rb.TargetDelta)
		d.ThresholdExceeded = d.DeltaDiff > e.params.RebalanceThreshold
		d.Needed = d.TimeOk && d.ThresholdExceeded
		return nil
	})
	return d, err
}

// Directions for ExecuteRebalance.
const (
	DirectionSell uint64 = 0
	DirectionBuy  uint64 = 1
)

// ExecuteRebalance commits a rebalance whose trade leg has been grouped
// with this call. Slippage above the configured maximum aborts with
// nothing written.
//
// The rebalance gate is NOT re-verified here — callers run
// CheckRebalanceNeeded first. Same trust boundary as liquidation.
func (e *Engine) ExecuteRebalance(ctx context.Context, caller string, amount, direction, slippage uint64, group ledger.Group) (model.RebalanceState, error) {
	var out model.RebalanceState
	if err := group.RequireSize(2); err != nil {
		return out, err
	}
	if slippage > e.params.MaxSlippage {
		return out, protocol.ErrSlippageExceeded
	}

	err := e.store.Update(ctx, func(tx store.StateTx) error {
		rb, err := tx.RebalanceState(ctx)
		if err != nil {
			return err
		}
		rb.LastRebalanceTime = e.clock.Now()
		rb.RebalanceCount++
		if err := tx.PutRebalanceState(ctx, rb); err != nil {
			return err
		}
		out = rb
		return tx.AppendEvent(ctx, e.event(model.EventRebalance, caller, amount, 0))
	})
	return out, err
}

// UpdateFundingRate stores a new funding rate, bounded to
// 0..1,000,000 ppm.
func (e *Engine) UpdateFundingRate(ctx context.Context, rate uint64) error {
	if rate > e.params.MaxFundingRate {
		return protocol.ErrInvalidFundingRate
	}
	return e.store.Update(ctx, func(tx store.StateTx) error {
		rb, err := tx.RebalanceState(ctx)
		if err != nil {
			return err
		}
		rb.FundingRate = rate
		return tx.PutRebalanceState(ctx, rb)
	})
}

// DistributeYield credits the yield pool with an amount whose payment
// leg has been grouped with this call: the first leg must pay exactly
// amount to the engine address or nothing commits.
func (e *Engine) DistributeYield(ctx context.Context, caller string, amount uint64, group ledger.Group) (uint64, error) {
	if err := group.RequirePayment(e.params.RebalanceAddress, amount); err != nil {
		return 0, err
	}

	var pool uint64
	err := e.store.Update(ctx, func(tx store.StateTx) error {
		rb, err := tx.RebalanceState(ctx)
		if err != nil {
			return err
		}
		rb.YieldPool += amount
		if err := tx.PutRebalanceState(ctx, rb); err != nil {
			return err
		}
		pool = rb.YieldPool
		return tx.AppendEvent(ctx, e.event(model.EventYieldDistributed, caller, amount, 0))
	})
	return pool, err
}

// CalculateHedgeRatio returns the fraction of exposure to offset, in
// basis points, capped at 10000. Ratios above 1.0 are truncated, not
// rejected. Pure computation — nothing is stored.
func (e *Engine) CalculateHedgeRatio(portfolioValue, volatility, correlation uint64) (uint64, error) {
	ratio, err := fixedpoint.MulDiv(correlation, volatility, fixedpoint.BasisPoints)
	if err != nil {
		return 0, err
	}
	if ratio > fixedpoint.BasisPoints {
		ratio = fixedpoint.BasisPoints
	}
	return ratio, nil
}

// SetTargetDelta sets the hedge target. Controller only.
func (e *Engine) SetTargetDelta(ctx context.Context, caller string, value uint64) error {
	if caller != e.params.Controller {
		return protocol.ErrUnauthorized
	}
	return e.store.Update(ctx, func(tx store.StateTx) error {
		rb, err := tx.RebalanceState(ctx)
		if err != nil {
			return err
		}
		rb.TargetDelta = value
		return tx.PutRebalanceState(ctx, rb)
	})
}

// State returns the rebalance state singleton.
func (e *Engine) State(ctx context.Context) (model.RebalanceState, error) {
	var rb model.RebalanceState
	err := e.store.View(ctx, func(tx store.StateTx) error {
		var err error
		rb, err = tx.RebalanceState(ctx)
		return err
	})
	return rb, err
}

func (e *Engine) event(evType, principal string, amount, price uint64) model.Event {
	return model.Event{
		ID:        uuid.New().String(),
		Type:      evType,
		Principal: principal,
		Amount:    amount,
		Price:     price,
		Timestamp: time.Unix(int64(e.clock.Now()), 0).UTC(),
	}
}
