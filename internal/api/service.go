// Package api exposes the protocol core's operation surface over HTTP.
// Caller identity is the declared principal field on each request —
// signature verification belongs to the surrounding ledger runtime, not
// to this core. Controller-gated operations compare the declared
// principal against the configured controller.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/synthex/protocol-core/internal/fixedpoint"
	"github.com/synthex/protocol-core/internal/ledger"
	"github.com/synthex/protocol-core/internal/metrics"
	"github.com/synthex/protocol-core/internal/oracle"
	"github.com/synthex/protocol-core/internal/protocol"
	"github.com/synthex/protocol-core/internal/rebalance"
	"github.com/synthex/protocol-core/internal/risk"
	"github.com/synthex/protocol-core/internal/store"
)

// Service binds the engines to the HTTP surface.
type Service struct {
	oracle    *oracle.Aggregator
	risk      *risk.Engine
	rebalance *rebalance.Engine
	store     store.Store
	params    protocol.Params
	wsHub     *WSHub // optional, nil disables broadcasts
}

// NewService creates the HTTP service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(agg *oracle.Aggregator, rk *risk.Engine, rb *rebalance.Engine, st store.Store, params protocol.Params, hub *WSHub) *Service {
	return &Service{
		oracle:    agg,
		risk:      rk,
		rebalance: rb,
		store:     st,
		params:    params,
		wsHub:     hub,
	}
}

// Mount registers all operation routes on the router.
func (s *Service) Mount(r chi.Router) {
	r.Route("/oracle", func(r chi.Router) {
		r.Post("/register", s.RegisterOracle)
		r.Post("/authorize", s.AuthorizeOracle)
		r.Post("/price", s.SubmitPrice)
		r.Get("/price", s.GetPrice)
		r.Post("/trip", s.TripBreaker)
		r.Post("/reset", s.ResetBreaker)
		r.Get("/sources/{principal}", s.GetSource)
	})
	r.Route("/risk", func(r chi.Router) {
		r.Post("/score", s.CalculateRiskScore)
		r.Post("/liquidation/check", s.CheckLiquidation)
		r.Post("/liquidation/execute", s.ExecuteLiquidation)
		r.Post("/health", s.UpdateSystemHealth)
		r.Post("/delta", s.CalculateDeltaExposure)
		r.Get("/positions/{principal}", s.GetPosition)
	})
	r.Route("/rebalance", func(r chi.Router) {
		r.Post("/delta", s.CalculateDelta)
		r.Get("/check", s.CheckRebalance)
		r.Post("/execute", s.ExecuteRebalance)
		r.Post("/funding", s.UpdateFundingRate)
		r.Post("/yield", s.DistributeYield)
		r.Post("/hedge", s.CalculateHedgeRatio)
		r.Post("/target", s.SetTargetDelta)
	})
	r.Get("/status", s.Status)
	r.Get("/events", s.Events)
	r.Get("/events/{principal}", s.Events)
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}
}

// --- Request types ---

// PrincipalRequest carries only the declared caller.
type PrincipalRequest struct {
	Principal string `json:"principal"`
}

// AuthorizeRequest authorizes a registered oracle (controller-only).
type AuthorizeRequest struct {
	Principal string `json:"principal"` // caller, must be controller
	Target    string `json:"target"`
}

// SubmitPriceRequest is the JSON body for POST /oracle/price.
type SubmitPriceRequest struct {
	Principal string `json:"principal"`
	Price     uint64 `json:"price"` // micro-units
}

// RiskScoreRequest is the JSON body for POST /risk/score.
type RiskScoreRequest struct {
	Principal  string `json:"principal"`
	Collateral uint64 `json:"collateral"`
	Balance    uint64 `json:"balance"`
	Price      uint64 `json:"price"`
}

// LiquidationCheckRequest is the JSON body for POST /risk/liquidation/check.
type LiquidationCheckRequest struct {
	Collateral uint64 `json:"collateral"`
	Balance    uint64 `json:"balance"`
	Price      uint64 `json:"price"`
}

// LiquidationExecuteRequest is the JSON body for POST /risk/liquidation/execute.
// Group carries the companion legs of the grouped transaction; the
// first must be a payment of exactly Amount to the risk engine address.
type LiquidationExecuteRequest struct {
	Principal string       `json:"principal"`
	Amount    uint64       `json:"amount"`
	Price     uint64       `json:"price"`
	Group     ledger.Group `json:"group"`
}

// HealthRequest is the JSON body for POST /risk/health.
type HealthRequest struct {
	Principal string `json:"principal"`
	Score     uint64 `json:"score"`
}

// DeltaExposureRequest is the JSON body for POST /risk/delta.
type DeltaExposureRequest struct {
	Principal  string `json:"principal"`
	Balance    uint64 `json:"balance"`
	Price      uint64 `json:"price"`
	Volatility uint64 `json:"volatility"` // bps
}

// PortfolioDeltaRequest is the JSON body for POST /rebalance/delta.
type PortfolioDeltaRequest struct {
	TotalSupply     uint64 `json:"total_supply"`
	TotalCollateral uint64 `json:"total_collateral"`
	Price           uint64 `json:"price"`
	PriceChange     uint64 `json:"price_change"`
}

// RebalanceExecuteRequest is the JSON body for POST /rebalance/execute.
type RebalanceExecuteRequest struct {
	Principal string       `json:"principal"`
	Amount    uint64       `json:"amount"`
	Direction uint64       `json:"direction"` // 1 buy, 0 sell
	Slippage  uint64       `json:"slippage"`  // bps
	Group     ledger.Group `json:"group"`
}

// FundingRequest is the JSON body for POST /rebalance/funding.
type FundingRequest struct {
	Rate uint64 `json:"rate"` // ppm
}

// YieldRequest is the JSON body for POST /rebalance/yield.
type YieldRequest struct {
	Principal string       `json:"principal"`
	Amount    uint64       `json:"amount"`
	Group     ledger.Group `json:"group"`
}

// HedgeRequest is the JSON body for POST /rebalance/hedge.
type HedgeRequest struct {
	PortfolioValue uint64 `json:"portfolio_value"`
	Volatility     uint64 `json:"volatility"`  // bps
	Correlation    uint64 `json:"correlation"` // bps
}

// TargetDeltaRequest is the JSON body for POST /rebalance/target.
type TargetDeltaRequest struct {
	Principal string `json:"principal"`
	Value     uint64 `json:"value"`
}

// --- Oracle handlers ---

// RegisterOracle handles POST /api/v1/oracle/register
func (s *Service) RegisterOracle(w http.ResponseWriter, r *http.Request) {
	var req PrincipalRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Principal == "" {
		writeErr(w, protocol.ErrInvalidArgumentCount)
		return
	}

	src, err := s.oracle.Register(r.Context(), req.Principal)
	if err != nil {
		writeErr(w, err)
		return
	}

	slog.Info("oracle registered", "principal", req.Principal)
	writeJSON(w, http.StatusCreated, src)
}

// AuthorizeOracle handles POST /api/v1/oracle/authorize
func (s *Service) AuthorizeOracle(w http.ResponseWriter, r *http.Request) {
	var req AuthorizeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Principal == "" || req.Target == "" {
		writeErr(w, protocol.ErrInvalidArgumentCount)
		return
	}

	if err := s.oracle.Authorize(r.Context(), req.Principal, req.Target); err != nil {
		writeErr(w, err)
		return
	}

	slog.Info("oracle authorized", "target", req.Target)
	writeJSON(w, http.StatusOK, map[string]string{"status": "authorized"})
}

// SubmitPrice handles POST /api/v1/oracle/price
func (s *Service) SubmitPrice(w http.ResponseWriter, r *http.Request) {
	var req SubmitPriceRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Principal == "" {
		writeErr(w, protocol.ErrInvalidArgumentCount)
		return
	}

	ps, err := s.oracle.SubmitPrice(r.Context(), req.Principal, req.Price)
	if err != nil {
		metrics.PriceSubmissions.WithLabelValues(outcome(err)).Inc()
		writeErr(w, err)
		return
	}

	metrics.PriceSubmissions.WithLabelValues("accepted").Inc()
	metrics.CurrentPrice.Set(float64(ps.CurrentPrice))

	slog.Info("price submitted",
		"oracle", req.Principal,
		"price", req.Price,
		"submission_count", ps.SubmissionCount,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "price_updated",
			Principal: req.Principal,
			Price:     fixedpoint.MicrosToDecimal(ps.CurrentPrice).String(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"price":            ps.CurrentPrice,
		"price_display":    fixedpoint.MicrosToDecimal(ps.CurrentPrice).String(),
		"last_update_time": ps.LastUpdateTime,
		"submission_count": ps.SubmissionCount,
	})
}

// GetPrice handles GET /api/v1/oracle/price
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	price, err := s.oracle.GetPrice(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"price":         price,
		"price_display": fixedpoint.MicrosToDecimal(price).String(),
	})
}

// TripBreaker handles POST /api/v1/oracle/trip
func (s *Service) TripBreaker(w http.ResponseWriter, r *http.Request) {
	s.setBreaker(w, r, true)
}

// ResetBreaker handles POST /api/v1/oracle/reset
func (s *Service) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	s.setBreaker(w, r, false)
}

func (s *Service) setBreaker(w http.ResponseWriter, r *http.Request, trip bool) {
	var req PrincipalRequest
	if !decode(w, r, &req) {
		return
	}

	var err error
	state, msgType := "reset", "circuit_breaker_reset"
	if trip {
		state, msgType = "tripped", "circuit_breaker_tripped"
		err = s.oracle.Trip(r.Context(), req.Principal)
	} else {
		err = s.oracle.Reset(r.Context(), req.Principal)
	}
	if err != nil {
		writeErr(w, err)
		return
	}

	if trip {
		metrics.CircuitBreaker.Set(1)
	} else {
		metrics.CircuitBreaker.Set(0)
	}

	slog.Warn("circuit breaker "+state, "controller", req.Principal)
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: msgType, Principal: req.Principal})
	}

	writeJSON(w, http.StatusOK, map[string]string{"circuit_breaker": state})
}

// GetSource handles GET /api/v1/oracle/sources/{principal}
func (s *Service) GetSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.oracle.Source(r.Context(), chi.URLParam(r, "principal"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

// --- Risk handlers ---

// CalculateRiskScore handles POST /api/v1/risk/score
func (s *Service) CalculateRiskScore(w http.ResponseWriter, r *http.Request) {
	var req RiskScoreRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Principal == "" {
		writeErr(w, protocol.ErrInvalidArgumentCount)
		return
	}

	score, err := s.risk.CalculateRiskScore(r.Context(), req.Principal, req.Collateral, req.Balance, req.Price)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"risk_score":         score,
		"risk_score_display": fixedpoint.BpsToDecimal(score).String(),
	})
}

// CheckLiquidation handles POST /api/v1/risk/liquidation/check
func (s *Service) CheckLiquidation(w http.ResponseWriter, r *http.Request) {
	var req LiquidationCheckRequest
	if !decode(w, r, &req) {
		return
	}

	eligible, err := s.risk.CheckLiquidation(req.Collateral, req.Balance, req.Price)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"liquidatable": eligible})
}

// ExecuteLiquidation handles POST /api/v1/risk/liquidation/execute
func (s *Service) ExecuteLiquidation(w http.ResponseWriter, r *http.Request) {
	var req LiquidationExecuteRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Principal == "" {
		writeErr(w, protocol.ErrInvalidArgumentCount)
		return
	}

	fee, err := s.risk.ExecuteLiquidation(r.Context(), req.Principal, req.Amount, req.Price, req.Group)
	if err != nil {
		writeErr(w, err)
		return
	}

	rs, _ := s.risk.State(r.Context())
	metrics.Liquidations.Inc()
	metrics.LiquidationPool.Set(float64(rs.LiquidationPool))

	slog.Info("liquidation executed",
		"liquidator", req.Principal,
		"amount", req.Amount,
		"protocol_fee", fee,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "liquidation_executed",
			Principal: req.Principal,
			Amount:    fixedpoint.MicrosToDecimal(req.Amount).String(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"protocol_fee":     fee,
		"liquidation_pool": rs.LiquidationPool,
	})
}

// UpdateSystemHealth handles POST /api/v1/risk/health
func (s *Service) UpdateSystemHealth(w http.ResponseWriter, r *http.Request) {
	var req HealthRequest
	if !decode(w, r, &req) {
		return
	}

	if err := s.risk.UpdateSystemHealth(r.Context(), req.Principal, req.Score); err != nil {
		writeErr(w, err)
		return
	}

	metrics.SystemHealth.Set(float64(req.Score))
	slog.Info("system health updated", "score", req.Score)
	writeJSON(w, http.StatusOK, map[string]uint64{"system_health": req.Score})
}

// CalculateDeltaExposure handles POST /api/v1/risk/delta
func (s *Service) CalculateDeltaExposure(w http.ResponseWriter, r *http.Request) {
	var req DeltaExposureRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Principal == "" {
		writeErr(w, protocol.ErrInvalidArgumentCount)
		return
	}

	delta, err := s.risk.CalculateDeltaExposure(r.Context(), req.Principal, req.Balance, req.Price, req.Volatility)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]uint64{"delta_exposure": delta})
}

// GetPosition handles GET /api/v1/risk/positions/{principal}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := s.risk.Position(r.Context(), chi.URLParam(r, "principal"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "position not found", http.StatusNotFound)
			return
		}
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// --- Rebalance handlers ---

// CalculateDelta handles POST /api/v1/rebalance/delta
func (s *Service) CalculateDelta(w http.ResponseWriter, r *http.Request) {
	var req PortfolioDeltaRequest
	if !decode(w, r, &req) {
		return
	}

	delta, err := s.rebalance.CalculateDelta(r.Context(), req.TotalSupply, req.TotalCollateral, req.Price, req.PriceChange)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"current_delta": delta})
}

// CheckRebalance handles GET /api/v1/rebalance/check
func (s *Service) CheckRebalance(w http.ResponseWriter, r *http.Request) {
	decision, err := s.rebalance.CheckRebalanceNeeded(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// ExecuteRebalance handles POST /api/v1/rebalance/execute
func (s *Service) ExecuteRebalance(w http.ResponseWriter, r *http.Request) {
	var req RebalanceExecuteRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Principal == "" {
		writeErr(w, protocol.ErrInvalidArgumentCount)
		return
	}

	rb, err := s.rebalance.ExecuteRebalance(r.Context(), req.Principal, req.Amount, req.Direction, req.Slippage, req.Group)
	if err != nil {
		writeErr(w, err)
		return
	}

	metrics.Rebalances.Inc()

	slog.Info("rebalance executed",
		"caller", req.Principal,
		"amount", req.Amount,
		"direction", req.Direction,
		"rebalance_count", rb.RebalanceCount,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "rebalance_executed",
			Principal: req.Principal,
			Amount:    fixedpoint.MicrosToDecimal(req.Amount).String(),
		})
	}

	writeJSON(w, http.StatusOK, rb)
}

// UpdateFundingRate handles POST /api/v1/rebalance/funding
func (s *Service) UpdateFundingRate(w http.ResponseWriter, r *http.Request) {
	var req FundingRequest
	if !decode(w, r, &req) {
		return
	}

	if err := s.rebalance.UpdateFundingRate(r.Context(), req.Rate); err != nil {
		writeErr(w, err)
		return
	}

	slog.Info("funding rate updated", "rate_ppm", req.Rate)
	writeJSON(w, http.StatusOK, map[string]uint64{"funding_rate": req.Rate})
}

// DistributeYield handles POST /api/v1/rebalance/yield
func (s *Service) DistributeYield(w http.ResponseWriter, r *http.Request) {
	var req YieldRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Principal == "" {
		writeErr(w, protocol.ErrInvalidArgumentCount)
		return
	}

	pool, err := s.rebalance.DistributeYield(r.Context(), req.Principal, req.Amount, req.Group)
	if err != nil {
		writeErr(w, err)
		return
	}

	metrics.YieldPool.Set(float64(pool))
	slog.Info("yield distributed", "amount", req.Amount, "yield_pool", pool)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "yield_distributed",
			Principal: req.Principal,
			Amount:    fixedpoint.MicrosToDecimal(req.Amount).String(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]uint64{"yield_pool": pool})
}

// CalculateHedgeRatio handles POST /api/v1/rebalance/hedge
func (s *Service) CalculateHedgeRatio(w http.ResponseWriter, r *http.Request) {
	var req HedgeRequest
	if !decode(w, r, &req) {
		return
	}

	ratio, err := s.rebalance.CalculateHedgeRatio(req.PortfolioValue, req.Volatility, req.Correlation)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"hedge_ratio":         ratio,
		"hedge_ratio_display": fixedpoint.BpsToDecimal(ratio).String(),
	})
}

// SetTargetDelta handles POST /api/v1/rebalance/target
func (s *Service) SetTargetDelta(w http.ResponseWriter, r *http.Request) {
	var req TargetDeltaRequest
	if !decode(w, r, &req) {
		return
	}

	if err := s.rebalance.SetTargetDelta(r.Context(), req.Principal, req.Value); err != nil {
		writeErr(w, err)
		return
	}

	slog.Info("target delta updated", "value", req.Value)
	writeJSON(w, http.StatusOK, map[string]uint64{"target_delta": req.Value})
}

// --- Status and events ---

// Status handles GET /api/v1/status — a snapshot of all global state.
func (s *Service) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ps, err := s.oracle.State(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	rs, err := s.risk.State(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	rb, err := s.rebalance.State(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"price":     ps,
		"risk":      rs,
		"rebalance": rb,
		"params": map[string]uint64{
			"deviation_bps":             s.params.DeviationBps,
			"staleness_threshold":       s.params.StalenessThreshold,
			"min_oracle_sources":        s.params.MinOracleSources,
			"liquidation_threshold_bps": s.params.LiquidationThresholdBps,
			"liquidation_penalty_bps":   s.params.LiquidationPenaltyBps,
			"rebalance_threshold":       s.params.RebalanceThreshold,
			"min_rebalance_interval":    s.params.MinRebalanceInterval,
			"max_slippage":              s.params.MaxSlippage,
			"max_funding_rate":          s.params.MaxFundingRate,
		},
	})
}

// Events handles GET /api/v1/events and /api/v1/events/{principal}
func (s *Service) Events(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")

	var events []any
	err := s.store.View(r.Context(), func(tx store.StateTx) error {
		evs, err := tx.Events(r.Context(), principal, 100)
		if err != nil {
			return err
		}
		for _, e := range evs {
			events = append(events, e)
		}
		return nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if events == nil {
		events = []any{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Helpers ---

// decode reads the JSON body into dst, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps protocol errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, protocol.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, protocol.ErrNotRegistered):
		return http.StatusNotFound
	case errors.Is(err, protocol.ErrCircuitBreakerActive),
		errors.Is(err, protocol.ErrStalePrice):
		return http.StatusConflict
	case errors.Is(err, protocol.ErrDeviationExceeded),
		errors.Is(err, protocol.ErrSlippageExceeded),
		errors.Is(err, protocol.ErrInvalidFundingRate),
		errors.Is(err, protocol.ErrGroupPaymentMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, protocol.ErrInvalidArgumentCount):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// outcome labels a submission rejection for metrics.
func outcome(err error) string {
	switch {
	case errors.Is(err, protocol.ErrDeviationExceeded):
		return "deviation_exceeded"
	case errors.Is(err, protocol.ErrCircuitBreakerActive):
		return "breaker_active"
	case errors.Is(err, protocol.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, protocol.ErrNotRegistered):
		return "not_registered"
	default:
		return "error"
	}
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), statusFor(err))
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
