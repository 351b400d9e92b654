package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/synthex/protocol-core/internal/model"
)

// Schema is the PostgreSQL schema for the protocol core. Singletons live
// in one-row tables; micro-unit and bps values are BIGINT and never
// rescaled on the way in or out.
const Schema = `
CREATE TABLE IF NOT EXISTS price_state (
	id                 SMALLINT PRIMARY KEY CHECK (id = 1),
	current_price      BIGINT  NOT NULL,
	last_update_time   BIGINT  NOT NULL,
	submission_count   BIGINT  NOT NULL,
	circuit_breaker    BOOLEAN NOT NULL,
	authorized_oracles BIGINT  NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_state (
	id                  SMALLINT PRIMARY KEY CHECK (id = 1),
	total_risk_exposure BIGINT NOT NULL,
	liquidation_pool    BIGINT NOT NULL,
	system_health       BIGINT NOT NULL,
	last_risk_update    BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS rebalance_state (
	id                  SMALLINT PRIMARY KEY CHECK (id = 1),
	last_rebalance_time BIGINT  NOT NULL,
	delta_magnitude     BIGINT  NOT NULL,
	delta_negative      BOOLEAN NOT NULL,
	target_delta        BIGINT  NOT NULL,
	funding_rate        BIGINT  NOT NULL,
	yield_pool          BIGINT  NOT NULL,
	rebalance_count     BIGINT  NOT NULL
);

CREATE TABLE IF NOT EXISTS oracle_sources (
	principal            TEXT PRIMARY KEY,
	authorized           BOOLEAN NOT NULL,
	reputation           BIGINT  NOT NULL,
	last_submission_time BIGINT  NOT NULL
);

CREATE TABLE IF NOT EXISTS user_positions (
	principal         TEXT PRIMARY KEY,
	collateral        BIGINT NOT NULL,
	synthetic_balance BIGINT NOT NULL,
	risk_score        BIGINT NOT NULL,
	liquidation_price BIGINT NOT NULL,
	delta_exposure    BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id        TEXT PRIMARY KEY,
	type      TEXT NOT NULL,
	principal TEXT NOT NULL,
	amount    BIGINT NOT NULL,
	price     BIGINT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS events_principal_idx ON events (principal, timestamp DESC);
`

// PostgresStore implements Store using PostgreSQL as the source of
// truth. Every Update runs in a serializable transaction, matching the
// strictly serialized execution model the engines assume.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) View(ctx context.Context, fn func(StateTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Update(ctx context.Context, fn func(StateTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

// --- Global singletons ---

func (t *pgTx) PriceState(ctx context.Context) (model.PriceState, error) {
	var st model.PriceState
	var price, updated, subs, auth int64
	err := t.tx.QueryRow(ctx,
		`SELECT current_price, last_update_time, submission_count, circuit_breaker, authorized_oracles
		 FROM price_state WHERE id = 1`).
		Scan(&price, &updated, &subs, &st.CircuitBreaker, &auth)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, ErrNotFound
	}
	if err != nil {
		return st, fmt.Errorf("get price state: %w", err)
	}
	st.CurrentPrice = uint64(price)
	st.LastUpdateTime = uint64(updated)
	st.SubmissionCount = uint64(subs)
	st.AuthorizedOracles = uint64(auth)
	return st, nil
}

func (t *pgTx) PutPriceState(ctx context.Context, st model.PriceState) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO price_state (id, current_price, last_update_time, submission_count, circuit_breaker, authorized_oracles)
		 VALUES (1, $1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   current_price = $1, last_update_time = $2, submission_count = $3,
		   circuit_breaker = $4, authorized_oracles = $5`,
		int64(st.CurrentPrice), int64(st.LastUpdateTime), int64(st.SubmissionCount),
		st.CircuitBreaker, int64(st.AuthorizedOracles))
	return err
}

func (t *pgTx) RiskState(ctx context.Context) (model.RiskState, error) {
	var st model.RiskState
	var exposure, pool, health, updated int64
	err := t.tx.QueryRow(ctx,
		`SELECT total_risk_exposure, liquidation_pool, system_health, last_risk_update
		 FROM risk_state WHERE id = 1`).
		Scan(&exposure, &pool, &health, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, ErrNotFound
	}
	if err != nil {
		return st, fmt.Errorf("get risk state: %w", err)
	}
	st.TotalRiskExposure = uint64(exposure)
	st.LiquidationPool = uint64(pool)
	st.SystemHealth = uint64(health)
	st.LastRiskUpdate = uint64(updated)
	return st, nil
}

func (t *pgTx) PutRiskState(ctx context.Context, st model.RiskState) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO risk_state (id, total_risk_exposure, liquidation_pool, system_health, last_risk_update)
		 VALUES (1, $1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET
		   total_risk_exposure = $1, liquidation_pool = $2, system_health = $3, last_risk_update = $4`,
		int64(st.TotalRiskExposure), int64(st.LiquidationPool),
		int64(st.SystemHealth), int64(st.LastRiskUpdate))
	return err
}

func (t *pgTx) RebalanceState(ctx context.Context) (model.RebalanceState, error) {
	var st model.RebalanceState
	var last, mag, target, funding, pool, count int64
	err := t.tx.QueryRow(ctx,
		`SELECT last_rebalance_time, delta_magnitude, delta_negative, target_delta, funding_rate, yield_pool, rebalance_count
		 FROM rebalance_state WHERE id = 1`).
		Scan(&last, &mag, &st.DeltaNegative, &target, &funding, &pool, &count)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, ErrNotFound
	}
	if err != nil {
		return st, fmt.Errorf("get rebalance state: %w", err)
	}
	st.LastRebalanceTime = uint64(last)
	st.DeltaMagnitude = uint64(mag)
	st.TargetDelta = uint64(target)
	st.FundingRate = uint64(funding)
	st.YieldPool = uint64(pool)
	st.RebalanceCount = uint64(count)
	return st, nil
}

func (t *pgTx) PutRebalanceState(ctx context.Context, st model.RebalanceState) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO rebalance_state (id, last_rebalance_time, delta_magnitude, delta_negative, target_delta, funding_rate, yield_pool, rebalance_count)
		 VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   last_rebalance_time = $1, delta_magnitude = $2, delta_negative = $3,
		   target_delta = $4, funding_rate = $5, yield_pool = $6, rebalance_count = $7`,
		int64(st.LastRebalanceTime), int64(st.DeltaMagnitude), st.DeltaNegative,
		int64(st.TargetDelta), int64(st.FundingRate), int64(st.YieldPool),
		int64(st.RebalanceCount))
	return err
}

// --- Per-principal local scope ---

func (t *pgTx) Oracle(ctx context.Context, principal string) (model.OracleSource, error) {
	var o model.OracleSource
	var rep, last int64
	err := t.tx.QueryRow(ctx,
		`SELECT principal, authorized, reputation, last_submission_time
		 FROM oracle_sources WHERE principal = $1`, principal).
		Scan(&o.Principal, &o.Authorized, &rep, &last)
	if errors.Is(err, pgx.ErrNoRows) {
		return o, ErrNotFound
	}
	if err != nil {
		return o, fmt.Errorf("get oracle %s: %w", principal, err)
	}
	o.Reputation = uint64(rep)
	o.LastSubmissionTime = uint64(last)
	return o, nil
}

func (t *pgTx) PutOracle(ctx context.Context, o model.OracleSource) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO oracle_sources (principal, authorized, reputation, last_submission_time)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (principal) DO UPDATE SET
		   authorized = $2, reputation = $3, last_submission_time = $4`,
		o.Principal, o.Authorized, int64(o.Reputation), int64(o.LastSubmissionTime))
	return err
}

func (t *pgTx) Position(ctx context.Context, principal string) (model.UserPosition, error) {
	var p model.UserPosition
	var coll, bal, score, liq, delta int64
	err := t.tx.QueryRow(ctx,
		`SELECT principal, collateral, synthetic_balance, risk_score, liquidation_price, delta_exposure
		 FROM user_positions WHERE principal = $1`, principal).
		Scan(&p.Principal, &coll, &bal, &score, &liq, &delta)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, fmt.Errorf("get position %s: %w", principal, err)
	}
	p.Collateral = uint64(coll)
	p.SyntheticBalance = uint64(bal)
	p.RiskScore = uint64(score)
	p.LiquidationPrice = uint64(liq)
	p.DeltaExposure = uint64(delta)
	return p, nil
}

func (t *pgTx) PutPosition(ctx context.Context, p model.UserPosition) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO user_positions (principal, collateral, synthetic_balance, risk_score, liquidation_price, delta_exposure)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (principal) DO UPDATE SET
		   collateral = $2, synthetic_balance = $3, risk_score = $4,
		   liquidation_price = $5, delta_exposure = $6`,
		p.Principal, int64(p.Collateral), int64(p.SyntheticBalance),
		int64(p.RiskScore), int64(p.LiquidationPrice), int64(p.DeltaExposure))
	return err
}

// --- Event ledger ---

func (t *pgTx) AppendEvent(ctx context.Context, e model.Event) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO events (id, type, principal, amount, price, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.Type, e.Principal, int64(e.Amount), int64(e.Price), e.Timestamp)
	return err
}

func (t *pgTx) Events(ctx context.Context, principal string, limit int) ([]model.Event, error) {
	var rows pgx.Rows
	var err error
	if principal == "" {
		rows, err = t.tx.Query(ctx,
			`SELECT id, type, principal, amount, price, timestamp
			 FROM events ORDER BY timestamp DESC LIMIT $1`, limit)
	} else {
		rows, err = t.tx.Query(ctx,
			`SELECT id, type, principal, amount, price, timestamp
			 FROM events WHERE principal = $1 ORDER BY timestamp DESC LIMIT $2`,
			principal, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		var amount, price int64
		if err := rows.Scan(&e.ID, &e.Type, &e.Principal, &amount, &price, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Amount = uint64(amount)
		e.Price = uint64(price)
		events = append(events, e)
	}
	return events, rows.Err()
}
