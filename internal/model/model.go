// Package model defines the core domain types shared across the protocol
// core. All prices are uint64 micro-units (6 decimals) and all ratios are
// uint64 basis points — never float64, and never rescaled, so that stored
// values stay bit-for-bit compatible with downstream consumers.
package model

import "time"

// OracleSource is the per-principal record of a registered price oracle.
// Created on registration (opt-in), mutated on authorization and on each
// accepted submission. Never deleted, only deauthorized.
type OracleSource struct {
	Principal          string `json:"principal"`
	Authorized         bool   `json:"authorized"`
	Reputation         uint64 `json:"reputation"`           // starts at 100, +1 per accepted submission
	LastSubmissionTime uint64 `json:"last_submission_time"` // unix seconds, 0 until first accept
}

// PriceState is the global price singleton. CurrentPrice only ever moves
// within the configured deviation bound of its previous committed value.
type PriceState struct {
	CurrentPrice      uint64 `json:"current_price"` // micro-units
	LastUpdateTime    uint64 `json:"last_update_time"`
	SubmissionCount   uint64 `json:"submission_count"`
	CircuitBreaker    bool   `json:"circuit_breaker"`
	AuthorizedOracles uint64 `json:"authorized_oracles"`
}

// UserPosition is the per-principal risk record. Mutated by RiskEngine
// operations only.
type UserPosition struct {
	Principal        string `json:"principal"`
	Collateral       uint64 `json:"collateral"`
	SyntheticBalance uint64 `json:"synthetic_balance"`
	RiskScore        uint64 `json:"risk_score"` // bps, 10000 = fully collateralized
	LiquidationPrice uint64 `json:"liquidation_price"`
	DeltaExposure    uint64 `json:"delta_exposure"`
}

// RiskState is the global risk singleton.
type RiskState struct {
	TotalRiskExposure uint64 `json:"total_risk_exposure"`
	LiquidationPool   uint64 `json:"liquidation_pool"`
	SystemHealth      uint64 `json:"system_health"` // bps, seeded at 10000
	LastRiskUpdate    uint64 `json:"last_risk_update"`
}

// RebalanceState is the global rebalance singleton. The conceptually
// signed current delta is stored as magnitude plus direction.
type RebalanceState struct {
	LastRebalanceTime uint64 `json:"last_rebalance_time"`
	DeltaMagnitude    uint64 `json:"delta_magnitude"`
	DeltaNegative     bool   `json:"delta_negative"`
	TargetDelta       uint64 `json:"target_delta"`
	FundingRate       uint64 `json:"funding_rate"` // ppm, bounded 0..1,000,000
	YieldPool         uint64 `json:"yield_pool"`
	RebalanceCount    uint64 `json:"rebalance_count"`
}

// SignedDelta returns the current delta as a signed value.
func (s RebalanceState) SignedDelta() int64 {
	if s.DeltaNegative {
		return -int64(s.DeltaMagnitude)
	}
	return int64(s.DeltaMagnitude)
}

// Event types recorded in the immutable event ledger.
const (
	EventPriceSubmitted   = "price_submitted"
	EventOracleAuthorized = "oracle_authorized"
	EventBreakerTripped   = "breaker_tripped"
	EventBreakerReset     = "breaker_reset"
	EventLiquidation      = "liquidation_executed"
	EventRebalance        = "rebalance_executed"
	EventYieldDistributed = "yield_distributed"
)

// Event is an immutable record of a committed state transition.
// Once created, these are never modified or deleted.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Principal string    `json:"principal"`
	Amount    uint64    `json:"amount"` // micro-units; meaning depends on Type
	Price     uint64    `json:"price"`  // micro-units at time of event, 0 if not price-related
	Timestamp time.Time `json:"timestamp"`
}
