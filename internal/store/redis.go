package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/synthex/protocol-core/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis
// read-through cache. Reads check Redis first and fall back to the
// primary; every committed Update invalidates exactly the keys it
// wrote, so cached reads never serve a value older than the last
// committed transition. Updates themselves always run against the
// primary — the cache is never part of the transactional state.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) View(ctx context.Context, fn func(StateTx) error) error {
	return fn(&cachedReadTx{s: s})
}

func (s *CachedStore) Update(ctx context.Context, fn func(StateTx) error) error {
	rec := &recordingTx{}
	err := s.primary.Update(ctx, func(tx StateTx) error {
		rec.inner = tx
		return fn(rec)
	})
	if err != nil {
		return err
	}
	if len(rec.dirty) > 0 {
		s.rdb.Del(ctx, rec.dirty...)
	}
	return nil
}

// --- Read path ---

// cachedReadTx serves reads from Redis and falls back to one-shot
// primary reads on a miss. Writes are rejected: mutation goes through
// Update only.
type cachedReadTx struct {
	s *CachedStore
}

func readThrough[T any](ctx context.Context, s *CachedStore, key string, load func(StateTx) (T, error)) (T, error) {
	var v T
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil && json.Unmarshal(data, &v) == nil {
		return v, nil
	}

	err = s.primary.View(ctx, func(tx StateTx) error {
		v, err = load(tx)
		return err
	})
	if err != nil {
		return v, err
	}

	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return v, nil
}

func (t *cachedReadTx) PriceState(ctx context.Context) (model.PriceState, error) {
	return readThrough(ctx, t.s, priceKey(), func(tx StateTx) (model.PriceState, error) {
		return tx.PriceState(ctx)
	})
}

func (t *cachedReadTx) RiskState(ctx context.Context) (model.RiskState, error) {
	return readThrough(ctx, t.s, riskKey(), func(tx StateTx) (model.RiskState, error) {
		return tx.RiskState(ctx)
	})
}

func (t *cachedReadTx) RebalanceState(ctx context.Context) (model.RebalanceState, error) {
	return readThrough(ctx, t.s, rebalanceKey(), func(tx StateTx) (model.RebalanceState, error) {
		return tx.RebalanceState(ctx)
	})
}

func (t *cachedReadTx) Oracle(ctx context.Context, principal string) (model.OracleSource, error) {
	return readThrough(ctx, t.s, oracleKey(principal), func(tx StateTx) (model.OracleSource, error) {
		return tx.Oracle(ctx, principal)
	})
}

func (t *cachedReadTx) Position(ctx context.Context, principal string) (model.UserPosition, error) {
	return readThrough(ctx, t.s, positionKey(principal), func(tx StateTx) (model.UserPosition, error) {
		return tx.Position(ctx, principal)
	})
}

// Events is not cached: the ledger is append-only and queried rarely.
func (t *cachedReadTx) Events(ctx context.Context, principal string, limit int) ([]model.Event, error) {
	var events []model.Event
	err := t.s.primary.View(ctx, func(tx StateTx) error {
		var err error
		events, err = tx.Events(ctx, principal, limit)
		return err
	})
	return events, err
}

func (t *cachedReadTx) PutPriceState(context.Context, model.PriceState) error         { return errReadOnly }
func (t *cachedReadTx) PutRiskState(context.Context, model.RiskState) error           { return errReadOnly }
func (t *cachedReadTx) PutRebalanceState(context.Context, model.RebalanceState) error { return errReadOnly }
func (t *cachedReadTx) PutOracle(context.Context, model.OracleSource) error           { return errReadOnly }
func (t *cachedReadTx) PutPosition(context.Context, model.UserPosition) error         { return errReadOnly }
func (t *cachedReadTx) AppendEvent(context.Context, model.Event) error                { return errReadOnly }

// --- Write path ---

// recordingTx delegates to the primary transaction and records which
// cache keys each write dirties, for post-commit invalidation.
type recordingTx struct {
	inner StateTx
	dirty []string
}

func (t *recordingTx) invalidate(key string) {
	t.dirty = append(t.dirty, key)
}

func (t *recordingTx) PriceState(ctx context.Context) (model.PriceState, error) {
	return t.inner.PriceState(ctx)
}

func (t *recordingTx) PutPriceState(ctx context.Context, st model.PriceState) error {
	t.invalidate(priceKey())
	return t.inner.PutPriceState(ctx, st)
}

func (t *recordingTx) RiskState(ctx context.Context) (model.RiskState, error) {
	return t.inner.RiskState(ctx)
}

func (t *recordingTx) PutRiskState(ctx context.Context, st model.RiskState) error {
	t.invalidate(riskKey())
	return t.inner.PutRiskState(ctx, st)
}

func (t *recordingTx) RebalanceState(ctx context.Context) (model.RebalanceState, error) {
	return t.inner.RebalanceState(ctx)
}

func (t *recordingTx) PutRebalanceState(ctx context.Context, st model.RebalanceState) error {
	t.invalidate(rebalanceKey())
	return t.inner.PutRebalanceState(ctx, st)
}

func (t *recordingTx) Oracle(ctx context.Context, principal string) (model.OracleSource, error) {
	return t.inner.Oracle(ctx, principal)
}

func (t *recordingTx) PutOracle(ctx context.Context, o model.OracleSource) error {
	t.invalidate(oracleKey(o.Principal))
	return t.inner.PutOracle(ctx, o)
}

func (t *recordingTx) Position(ctx context.Context, principal string) (model.UserPosition, error) {
	return t.inner.Position(ctx, principal)
}

func (t *recordingTx) PutPosition(ctx context.Context, p model.UserPosition) error {
	t.invalidate(positionKey(p.Principal))
	return t.inner.PutPosition(ctx, p)
}

func (t *recordingTx) AppendEvent(ctx context.Context, e model.Event) error {
	return t.inner.AppendEvent(ctx, e)
}

func (t *recordingTx) Events(ctx context.Context, principal string, limit int) ([]model.Event, error) {
	return t.inner.Events(ctx, principal, limit)
}

// --- Cache keys ---

func priceKey() string            { return "state:price" }
func riskKey() string             { return "state:risk" }
func rebalanceKey() string        { return "state:rebalance" }
func oracleKey(p string) string   { return fmt.Sprintf("oracle:%s", p) }
func positionKey(p string) string { return fmt.Sprintf("position:%s", p) }
