// Package risk implements collateral health scoring, liquidation
// checks and execution, delta exposure tracking, and the system health
// gauge.
package risk

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

// Engine scores positions and executes liquidations. Collateral and
// balance figures are declared by the caller, not derived from ledger
// balances — the trust model delegates verification to the surrounding
// runtime.
type Engine struct {
	store  store.Store
	clock  ledger.Clock
	params protocol.Params
}

// NewEngine creates a risk engine over the given store and clock.
func NewEngine(st store.Store, clock ledger.Clock, params protocol.Params) *Engine {
	return &Engine{store: st, clock: clock, params: params}
}

// CalculateRiskScore computes the caller's collateral ratio in basis
// points (10000 = fully collateralized) and stores it on their
// position. A zero synthetic balance is defined as fully healthy. The
// liquidation price field mirrors the score, matching the deployed
// contract's storage layout.
func (e *Engine) CalculateRiskScore(ctx context.Context, caller string, collateral, balance, price uint64) (uint64, error) {
	score, err := e.score(collateral, balance)
	if err != nil {
		return 0, err
	}

	err = e.store.Update(ctx, func(tx store.StateTx) error {
		pos, err := tx.Position(ctx, caller)
		if errors.Is(err, store.ErrNotFound) {
			pos = model.UserPosition{Principal: caller}
		} else if err != nil {
			return err
		}

		pos.Collateral = collateral
		pos.SyntheticBalance = balance
		pos.RiskScore = score
		pos.LiquidationPrice = score
		return tx.PutPosition(ctx, pos)
	})
	return score, err
}

// CheckLiquidation reports whether a position with the given figures is
// liquidation-eligible: its collateral ratio sits below the threshold.
// Stateless — eligibility is re-evaluated from inputs on every call,
// and a zero balance is never eligible.
func (e *Engine) CheckLiquidation(collateral, balance, price uint64) (bool, error) {
	if balance == 0 {
		return false, nil
	}
	ratio, err := fixedpoint.MulDiv(collateral, fixedpoint.BasisPoints, balance)
	if err != nil {
		return false, err
	}
	return ratio < e.params.LiquidationThresholdBps, nil
}

// ExecuteLiquidation settles a liquidation whose payment leg has been
// grouped with this call: the first leg must pay exactly amount to the
// engine address or nothing commits. Half the penalty accrues to the
// liquidation pool as protocol fee.
//
// Eligibility is NOT verified here — callers gate the call with
// CheckLiquidation first. Keeping compute and action separate is the
// deployed contract's trust boundary.
func (e *Engine) ExecuteLiquidation(ctx context.Context, caller string, amount, price uint64, group ledger.Group) (uint64, error) {
	if err := group.RequirePayment(e.params.RiskAddress, amount); err != nil {
		return 0, err
	}

	penalty, err := fixedpoint.MulDiv(amount, e.params.LiquidationPenaltyBps, fixedpoint.BasisPoints)
	if err != nil {
		return 0, err
	}
	fee := penalty / 2

	err = e.store.Update(ctx, func(tx store.StateTx) error {
		rs, err := tx.RiskState(ctx)
		if err != nil {
			return err
		}
		rs.LiquidationPool += fee
		if err := tx.PutRiskState(ctx, rs); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, e.event(model.EventLiquidation, caller, amount, price))
	})
	return fee, err
}

// UpdateSystemHealth sets the global health gauge. Controller only.
func (e *Engine) UpdateSystemHealth(ctx context.Context, caller string, score uint64) error {
	if caller != e.params.Controller {
		return protocol.ErrUnauthorized
	}
	return e.store.Update(ctx, func(tx store.StateTx) error {
		rs, err := tx.RiskState(ctx)
		if err != nil {
			return err
		}
		rs.SystemHealth = score
		rs.LastRiskUpdate = e.clock.Now()
		return tx.PutRiskState(ctx, rs)
	})
}

// CalculateDeltaExposure computes balance-weighted volatility exposure
// for the caller, stores it on their position, and folds the change
// into the global exposure total.
func (e *Engine) CalculateDeltaExposure(ctx context.Context, caller string, balance, price, volatility uint64) (uint64, error) {
	delta, err := fixedpoint.MulDiv(balance, volatility, fixedpoint.BasisPoints)
	if err != nil {
		return 0, err
	}

	err = e.store.Update(ctx, func(tx store.StateTx) error {
		pos, err := tx.Position(ctx, caller)
		if errors.Is(err, store.ErrNotFound) {
			pos = model.UserPosition{Principal: caller}
		} else if err != nil {
			return err
		}

		prev := pos.DeltaExposure
		pos.DeltaExposure = delta
		if err := tx.PutPosition(ctx, pos); err != nil {
			return err
		}

		rs, err := tx.RiskState(ctx)
		if err != nil {
			return err
		}
		if prev <= rs.TotalRiskExposure {
			rs.TotalRiskExposure -= prev
		} else {
			rs.TotalRiskExposure = 0
		}
		rs.TotalRiskExposure += delta
		return tx.PutRiskState(ctx, rs)
	})
	return delta, err
}

// State returns the risk state singleton.
func (e *Engine) State(ctx context.Context) (model.RiskState, error) {
	var rs model.RiskState
	err := e.store.View(ctx, func(tx store.StateTx) error {
		var err error
		rs, err = tx.RiskState(ctx)
		return err
	})
	return rs, err
}

// Position returns the stored position for a principal.
func (e *Engine) Position(ctx context.Context, principal string) (model.UserPosition, error) {
	var pos model.UserPosition
	err := e.store.View(ctx, func(tx store.StateTx) error {
		var err error
		pos, err = tx.Position(ctx, principal)
		return err
	})
	return pos, err
}

func (e *Engine) score(collateral, balance uint64) (uint64, error) {
	if balance == 0 {
		return fixedpoint.BasisPoints, nil
	}
	return fixedpoint.MulDiv(collateral, fixedpoint.BasisPoints, balance)
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
