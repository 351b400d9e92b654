// Package store defines the persisted state interface for the protocol
// core. State splits into a global scope (the PriceState, RiskState and
// RebalanceState singletons plus the event ledger) and a per-principal
// local scope (oracle sources and user positions).
//
// Implementations include PostgreSQL (source of truth), Redis
// (read-through cache for singleton state), and in-memory (for testing).
// All mutation happens inside Update, which commits everything the
// callback wrote or nothing at all — this is the transactional
// all-or-nothing guarantee every engine operation relies on.
package store

import (
	"context"
	"errors"

	"github.com/synthex/protocol-core/internal/model"
	"github.com/synthex/protocol-core/internal/protocol"
)

// ErrNotFound is returned for missing principals or unseeded singletons.
var ErrNotFound = errors.New("store: not found")

// errReadOnly guards against writes inside View.
var errReadOnly = errors.New("store: write inside read-only transaction")

// StateTx is the state visible to one transaction. Reads observe the
// last committed state plus this transaction's own writes.
type StateTx interface {
	// --- Global singletons ---

	PriceState(ctx context.Context) (model.PriceState, error)
	PutPriceState(ctx context.Context, s model.PriceState) error

	RiskState(ctx context.Context) (model.RiskState, error)
	PutRiskState(ctx context.Context, s model.RiskState) error

	RebalanceState(ctx context.Context) (model.RebalanceState, error)
	PutRebalanceState(ctx context.Context, s model.RebalanceState) error

	// --- Per-principal local scope ---

	Oracle(ctx context.Context, principal string) (model.OracleSource, error)
	PutOracle(ctx context.Context, o model.OracleSource) error

	Position(ctx context.Context, principal string) (model.UserPosition, error)
	PutPosition(ctx context.Context, p model.UserPosition) error

	// --- Immutable event ledger ---

	// AppendEvent appends an immutable record of a committed transition.
	AppendEvent(ctx context.Context, e model.Event) error

	// Events returns ledger entries, newest first, optionally filtered
	// by principal (empty string = all), capped at limit.
	Events(ctx context.Context, principal string, limit int) ([]model.Event, error)
}

// Store runs transactions against the persisted state.
type Store interface {
	// View runs fn against a read-only snapshot.
	View(ctx context.Context, fn func(StateTx) error) error

	// Update runs fn transactionally: if fn returns nil every write it
	// performed commits together, otherwise none of them survive.
	Update(ctx context.Context, fn func(StateTx) error) error
}

// Seed initializes the global singletons on first deployment. Already
// seeded stores are left untouched, so restarts are safe.
func Seed(ctx context.Context, s Store, params protocol.Params, now uint64) error {
	return s.Update(ctx, func(tx StateTx) error {
		if _, err := tx.PriceState(ctx); errors.Is(err, ErrNotFound) {
			err = tx.PutPriceState(ctx, model.PriceState{
				CurrentPrice:   params.SeedPrice,
				LastUpdateTime: now,
			})
			if err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if _, err := tx.RiskState(ctx); errors.Is(err, ErrNotFound) {
			err = tx.PutRiskState(ctx, model.RiskState{
				SystemHealth:   10000,
				LastRiskUpdate: now,
			})
			if err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if _, err := tx.RebalanceState(ctx); errors.Is(err, ErrNotFound) {
			err = tx.PutRebalanceState(ctx, model.RebalanceState{
				LastRebalanceTime: now,
			})
			if err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		return nil
	})
}
