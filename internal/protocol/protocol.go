// Package protocol defines the error taxonomy and the configured
// parameter set shared by the oracle, risk and rebalance engines.
//
// Every error here aborts the whole operation it occurs in: the store
// transaction rolls back and no partial state survives. There is no
// internal retry — callers resubmit with corrected inputs. The only
// post-failure escape hatch is a controller-issued breaker reset.
package protocol

import "errors"

var (
	// ErrUnauthorized is returned when the caller lacks the required
	// role (controller-only operation, or unauthorized oracle).
	ErrUnauthorized = errors.New("protocol: unauthorized")

	// ErrNotRegistered is returned when an oracle never opted in.
	ErrNotRegistered = errors.New("protocol: oracle not registered")

	// ErrCircuitBreakerActive blocks price submission and consumption
	// while the breaker is tripped.
	ErrCircuitBreakerActive = errors.New("protocol: circuit breaker active")

	// ErrStalePrice is returned by price reads once the last update is
	// older than the staleness threshold.
	ErrStalePrice = errors.New("protocol: stale price")

	// ErrDeviationExceeded rejects a submission that moves the price
	// beyond the deviation bound of the last committed value.
	ErrDeviationExceeded = errors.New("protocol: price deviation exceeded")

	// ErrSlippageExceeded rejects a rebalance above the slippage limit.
	ErrSlippageExceeded = errors.New("protocol: slippage exceeded")

	// ErrInvalidArgumentCount is returned when an operation receives a
	// malformed or incomplete argument list.
	ErrInvalidArgumentCount = errors.New("protocol: invalid argument count")

	// ErrInvalidFundingRate rejects funding rates outside 0..1,000,000 ppm.
	ErrInvalidFundingRate = errors.New("protocol: invalid funding rate")

	// ErrGroupPaymentMismatch is returned when the companion leg of a
	// grouped transaction is missing or does not match the declared
	// receiver and amount.
	ErrGroupPaymentMismatch = errors.New("protocol: group payment mismatch")
)

// Params is the protocol parameter set, constructed once at deployment
// and passed by reference into each operation. Values mirror the
// deployed contract configuration.
type Params struct {
	// Controller is the single principal allowed to run privileged
	// operations (authorize, trip/reset, health update, target delta).
	Controller string

	// RiskAddress and RebalanceAddress are the engine accounts that
	// companion payment legs must pay into.
	RiskAddress      string
	RebalanceAddress string

	SeedPrice          uint64 // micro-units
	DeviationBps       uint64 // max submission deviation, bps of prior price
	StalenessThreshold uint64 // seconds
	MinOracleSources   uint64 // reported in status, informational
	InitialReputation  uint64

	LiquidationThresholdBps uint64 // positions below this ratio are liquidatable
	LiquidationPenaltyBps   uint64

	RebalanceThreshold   uint64 // delta units
	MinRebalanceInterval uint64 // seconds
	MaxSlippage          uint64 // bps
	MaxFundingRate       uint64 // ppm
}

// DefaultParams returns the deployed contract defaults: $0.25 seed price,
// 5% deviation bound, 1h staleness, 120% liquidation threshold with a 5%
// penalty, 1h rebalance interval, 3% slippage cap, 100% funding cap.
func DefaultParams() Params {
	return Params{
		SeedPrice:               250000,
		DeviationBps:            500,
		StalenessThreshold:      3600,
		MinOracleSources:        3,
		InitialReputation:       100,
		LiquidationThresholdBps: 12000,
		LiquidationPenaltyBps:   500,
		RebalanceThreshold:      500,
		MinRebalanceInterval:    3600,
		MaxSlippage:             300,
		MaxFundingRate:          1000000,
	}
}
