package store

import (
	"context"
	"sync"

	"github.com/synthex/protocol-core/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Update stages every write in a transaction overlay and applies the
// overlay only when the callback succeeds, so a failed precondition
// leaves no partial state behind.
type MemoryStore struct {
	mu        sync.RWMutex
	price     *model.PriceState
	risk      *model.RiskState
	rebalance *model.RebalanceState
	oracles   map[string]model.OracleSource
	positions map[string]model.UserPosition
	events    []model.Event
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		oracles:   make(map[string]model.OracleSource),
		positions: make(map[string]model.UserPosition),
	}
}

func (s *MemoryStore) View(_ context.Context, fn func(StateTx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{store: s, readOnly: true})
}

func (s *MemoryStore) Update(_ context.Context, fn func(StateTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:     s,
		oracles:   make(map[string]model.OracleSource),
		positions: make(map[string]model.UserPosition),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.apply()
	return nil
}

// memTx overlays staged writes on the parent store. Reads consult the
// overlay first so a transaction observes its own writes.
type memTx struct {
	store    *MemoryStore
	readOnly bool

	price     *model.PriceState
	risk      *model.RiskState
	rebalance *model.RebalanceState
	oracles   map[string]model.OracleSource
	positions map[string]model.UserPosition
	events    []model.Event
}

func (tx *memTx) apply() {
	s := tx.store
	if tx.price != nil {
		s.price = tx.price
	}
	if tx.risk != nil {
		s.risk = tx.risk
	}
	if tx.rebalance != nil {
		s.rebalance = tx.rebalance
	}
	for p, o := range tx.oracles {
		s.oracles[p] = o
	}
	for p, pos := range tx.positions {
		s.positions[p] = pos
	}
	s.events = append(s.events, tx.events...)
}

// --- Global singletons ---

func (tx *memTx) PriceState(context.Context) (model.PriceState, error) {
	if tx.price != nil {
		return *tx.price, nil
	}
	if tx.store.price == nil {
		return model.PriceState{}, ErrNotFound
	}
	return *tx.store.price, nil
}

func (tx *memTx) PutPriceState(_ context.Context, st model.PriceState) error {
	if tx.readOnly {
		return errReadOnly
	}
	tx.price = &st
	return nil
}

func (tx *memTx) RiskState(context.Context) (model.RiskState, error) {
	if tx.risk != nil {
		return *tx.risk, nil
	}
	if tx.store.risk == nil {
		return model.RiskState{}, ErrNotFound
	}
	return *tx.store.risk, nil
}

func (tx *memTx) PutRiskState(_ context.Context, st model.RiskState) error {
	if tx.readOnly {
		return errReadOnly
	}
	tx.risk = &st
	return nil
}

func (tx *memTx) RebalanceState(context.Context) (model.RebalanceState, error) {
	if tx.rebalance != nil {
		return *tx.rebalance, nil
	}
	if tx.store.rebalance == nil {
		return model.RebalanceState{}, ErrNotFound
	}
	return *tx.store.rebalance, nil
}

func (tx *memTx) PutRebalanceState(_ context.Context, st model.RebalanceState) error {
	if tx.readOnly {
		return errReadOnly
	}
	tx.rebalance = &st
	return nil
}

// --- Per-principal local scope ---

func (tx *memTx) Oracle(_ context.Context, principal string) (model.OracleSource, error) {
	if tx.oracles != nil {
		if o, ok := tx.oracles[principal]; ok {
			return o, nil
		}
	}
	o, ok := tx.store.oracles[principal]
	if !ok {
		return model.OracleSource{}, ErrNotFound
	}
	return o, nil
}

func (tx *memTx) PutOracle(_ context.Context, o model.OracleSource) error {
	if tx.readOnly {
		return errReadOnly
	}
	tx.oracles[o.Principal] = o
	return nil
}

func (tx *memTx) Position(_ context.Context, principal string) (model.UserPosition, error) {
	if tx.positions != nil {
		if p, ok := tx.positions[principal]; ok {
			return p, nil
		}
	}
	p, ok := tx.store.positions[principal]
	if !ok {
		return model.UserPosition{}, ErrNotFound
	}
	return p, nil
}

func (tx *memTx) PutPosition(_ context.Context, p model.UserPosition) error {
	if tx.readOnly {
		return errReadOnly
	}
	tx.positions[p.Principal] = p
	return nil
}

// --- Event ledger ---

func (tx *memTx) AppendEvent(_ context.Context, e model.Event) error {
	if tx.readOnly {
		return errReadOnly
	}
	tx.events = append(tx.events, e)
	return nil
}

func (tx *memTx) Events(_ context.Context, principal string, limit int) ([]model.Event, error) {
	var out []model.Event
	all := tx.store.events
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if principal == "" || all[i].Principal == principal {
			out = append(out, all[i])
		}
	}
	return out, nil
}
