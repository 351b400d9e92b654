package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/synthex/protocol-core/internal/ledger"
	"github.com/synthex/protocol-core/internal/oracle"
	"github.com/synthex/protocol-core/internal/protocol"
	"github.com/synthex/protocol-core/internal/rebalance"
	"github.com/synthex/protocol-core/internal/risk"
	"github.com/synthex/protocol-core/internal/store"
)

type testEnv struct {
	server *httptest.Server
	clock  *ledger.ManualClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	clock := ledger.NewManualClock(1_700_000_000)
	params := protocol.DefaultParams()
	if err := store.Seed(context.Background(), st, params, clock.Now()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := NewService(
		oracle.NewAggregator(st, clock, params),
		risk.NewEngine(st, clock, params),
		rebalance.NewEngine(st, clock, params),
		st, params, nil,
	)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Mount)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, clock: clock}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func wantStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("expected status %d, got %d", want, resp.StatusCode)
	}
	resp.Body.Close()
}

func TestOracleLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/v1/oracle/register", PrincipalRequest{Principal: "oracle-1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Submission before authorization is rejected.
	resp = env.post(t, "/api/v1/oracle/price", SubmitPriceRequest{Principal: "oracle-1", Price: 251000})
	wantStatus(t, resp, http.StatusForbidden)

	resp = env.post(t, "/api/v1/oracle/authorize", AuthorizeRequest{Principal: "controller", Target: "oracle-1"})
	wantStatus(t, resp, http.StatusOK)

	resp = env.post(t, "/api/v1/oracle/price", SubmitPriceRequest{Principal: "oracle-1", Price: 251000})
	var submitted struct {
		Price           uint64 `json:"price"`
		PriceDisplay    string `json:"price_display"`
		SubmissionCount uint64 `json:"submission_count"`
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit: expected 200, got %d", resp.StatusCode)
	}
	decodeBody(t, resp, &submitted)
	if submitted.Price != 251000 || submitted.SubmissionCount != 1 {
		t.Errorf("unexpected submit response: %+v", submitted)
	}
	if submitted.PriceDisplay != "0.251" {
		t.Errorf("expected display 0.251, got %s", submitted.PriceDisplay)
	}

	resp = env.get(t, "/api/v1/oracle/price")
	var price struct {
		Price uint64 `json:"price"`
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get price: expected 200, got %d", resp.StatusCode)
	}
	decodeBody(t, resp, &price)
	if price.Price != 251000 {
		t.Errorf("expected price 251000, got %d", price.Price)
	}
}

func TestSubmitPrice_DeviationMapsTo422(t *testing.T) {
	env := newTestEnv(t)

	env.post(t, "/api/v1/oracle/register", PrincipalRequest{Principal: "oracle-1"}).Body.Close()
	wantStatus(t, env.post(t, "/api/v1/oracle/authorize", AuthorizeRequest{Principal: "controller", Target: "oracle-1"}), http.StatusOK)

	resp := env.post(t, "/api/v1/oracle/price", SubmitPriceRequest{Principal: "oracle-1", Price: 300000})
	wantStatus(t, resp, http.StatusUnprocessableEntity)
}

func TestCircuitBreakerOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	// Non-controller cannot trip.
	wantStatus(t, env.post(t, "/api/v1/oracle/trip", PrincipalRequest{Principal: "mallory"}), http.StatusForbidden)

	wantStatus(t, env.post(t, "/api/v1/oracle/trip", PrincipalRequest{Principal: "controller"}), http.StatusOK)
	wantStatus(t, env.get(t, "/api/v1/oracle/price"), http.StatusConflict)

	wantStatus(t, env.post(t, "/api/v1/oracle/reset", PrincipalRequest{Principal: "controller"}), http.StatusOK)
	wantStatus(t, env.get(t, "/api/v1/oracle/price"), http.StatusOK)
}

func TestGetPrice_StaleMapsTo409(t *testing.T) {
	env := newTestEnv(t)

	env.clock.Advance(3601)
	wantStatus(t, env.get(t, "/api/v1/oracle/price"), http.StatusConflict)
}

func TestRiskScoreEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/v1/risk/score", RiskScoreRequest{
		Principal: "alice", Collateral: 100, Balance: 200, Price: 250000,
	})
	var body struct {
		RiskScore        uint64 `json:"risk_score"`
		RiskScoreDisplay string `json:"risk_score_display"`
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("score: expected 200, got %d", resp.StatusCode)
	}
	decodeBody(t, resp, &body)
	if body.RiskScore != 5000 {
		t.Errorf("expected score 5000, got %d", body.RiskScore)
	}
	if body.RiskScoreDisplay != "0.5" {
		t.Errorf("expected display 0.5, got %s", body.RiskScoreDisplay)
	}

	resp = env.get(t, "/api/v1/risk/positions/alice")
	wantStatus(t, resp, http.StatusOK)

	wantStatus(t, env.get(t, "/api/v1/risk/positions/nobody"), http.StatusNotFound)
}

func TestLiquidationEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/v1/risk/liquidation/check", LiquidationCheckRequest{
		Collateral: 100, Balance: 200, Price: 250000,
	})
	var check struct {
		Liquidatable bool `json:"liquidatable"`
	}
	decodeBody(t, resp, &check)
	if !check.Liquidatable {
		t.Error("expected position to be liquidatable")
	}

	group := ledger.Group{
		{Type: ledger.LegPayment, Sender: "liquidator", Receiver: "risk-engine", Amount: 100000},
		{Type: ledger.LegTrade, Sender: "liquidator"},
	}
	resp = env.post(t, "/api/v1/risk/liquidation/execute", LiquidationExecuteRequest{
		Principal: "liquidator", Amount: 100000, Price: 250000, Group: group,
	})
	var exec struct {
		ProtocolFee     uint64 `json:"protocol_fee"`
		LiquidationPool uint64 `json:"liquidation_pool"`
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute: expected 200, got %d", resp.StatusCode)
	}
	decodeBody(t, resp, &exec)
	if exec.ProtocolFee != 2500 || exec.LiquidationPool != 2500 {
		t.Errorf("unexpected execute response: %+v", exec)
	}

	// A mismatched group maps to 422 and leaves the pool alone.
	group[0].Amount = 99999
	resp = env.post(t, "/api/v1/risk/liquidation/execute", LiquidationExecuteRequest{
		Principal: "liquidator", Amount: 100000, Price: 250000, Group: group,
	})
	wantStatus(t, resp, http.StatusUnprocessableEntity)
}

func TestRebalanceEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/v1/rebalance/delta", PortfolioDeltaRequest{
		TotalSupply: 4_000_000, TotalCollateral: 0, Price: 250000, PriceChange: 10000,
	})
	var delta struct {
		CurrentDelta int64 `json:"current_delta"`
	}
	decodeBody(t, resp, &delta)
	if delta.CurrentDelta != 1_000_000 {
		t.Errorf("expected delta 1000000, got %d", delta.CurrentDelta)
	}

	env.clock.Advance(3600)
	resp = env.get(t, "/api/v1/rebalance/check")
	var decision rebalance.Decision
	decodeBody(t, resp, &decision)
	if !decision.Needed {
		t.Errorf("expected rebalance needed, got %+v", decision)
	}

	group := ledger.Group{
		{Type: ledger.LegPayment, Sender: "keeper", Receiver: "rebalance-engine", Amount: 1},
		{Type: ledger.LegTrade, Sender: "keeper"},
	}
	resp = env.post(t, "/api/v1/rebalance/execute", RebalanceExecuteRequest{
		Principal: "keeper", Amount: 1000, Direction: rebalance.DirectionSell, Slippage: 301, Group: group,
	})
	wantStatus(t, resp, http.StatusUnprocessableEntity)

	resp = env.post(t, "/api/v1/rebalance/execute", RebalanceExecuteRequest{
		Principal: "keeper", Amount: 1000, Direction: rebalance.DirectionSell, Slippage: 100, Group: group,
	})
	wantStatus(t, resp, http.StatusOK)
}

func TestFundingAndYieldEndpoints(t *testing.T) {
	env := newTestEnv(t)

	wantStatus(t, env.post(t, "/api/v1/rebalance/funding", FundingRequest{Rate: 1_000_000}), http.StatusOK)
	wantStatus(t, env.post(t, "/api/v1/rebalance/funding", FundingRequest{Rate: 1_000_001}), http.StatusUnprocessableEntity)

	group := ledger.Group{
		{Type: ledger.LegPayment, Sender: "strategy", Receiver: "rebalance-engine", Amount: 999},
		{Type: ledger.LegTrade, Sender: "strategy"},
	}
	resp := env.post(t, "/api/v1/rebalance/yield", YieldRequest{Principal: "strategy", Amount: 1000, Group: group})
	wantStatus(t, resp, http.StatusUnprocessableEntity)

	group[0].Amount = 1000
	resp = env.post(t, "/api/v1/rebalance/yield", YieldRequest{Principal: "strategy", Amount: 1000, Group: group})
	var yield struct {
		YieldPool uint64 `json:"yield_pool"`
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("yield: expected 200, got %d", resp.StatusCode)
	}
	decodeBody(t, resp, &yield)
	if yield.YieldPool != 1000 {
		t.Errorf("expected pool 1000, got %d", yield.YieldPool)
	}
}

func TestHedgeEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/v1/rebalance/hedge", HedgeRequest{
		PortfolioValue: 1_000_000, Volatility: 20000, Correlation: 10000,
	})
	var body struct {
		HedgeRatio uint64 `json:"hedge_ratio"`
	}
	decodeBody(t, resp, &body)
	if body.HedgeRatio != 10000 {
		t.Errorf("expected capped ratio 10000, got %d", body.HedgeRatio)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/api/v1/status")
	var body struct {
		Price struct {
			CurrentPrice uint64 `json:"current_price"`
		} `json:"price"`
		Risk struct {
			SystemHealth uint64 `json:"system_health"`
		} `json:"risk"`
		Params map[string]uint64 `json:"params"`
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", resp.StatusCode)
	}
	decodeBody(t, resp, &body)
	if body.Price.CurrentPrice != 250000 {
		t.Errorf("expected seeded price 250000, got %d", body.Price.CurrentPrice)
	}
	if body.Risk.SystemHealth != 10000 {
		t.Errorf("expected seeded health 10000, got %d", body.Risk.SystemHealth)
	}
	if body.Params["deviation_bps"] != 500 {
		t.Errorf("expected deviation 500, got %d", body.Params["deviation_bps"])
	}
}

func TestEventsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.post(t, "/api/v1/oracle/register", PrincipalRequest{Principal: "oracle-1"}).Body.Close()
	wantStatus(t, env.post(t, "/api/v1/oracle/authorize", AuthorizeRequest{Principal: "controller", Target: "oracle-1"}), http.StatusOK)
	wantStatus(t, env.post(t, "/api/v1/oracle/price", SubmitPriceRequest{Principal: "oracle-1", Price: 251000}), http.StatusOK)

	resp := env.get(t, "/api/v1/events/oracle-1")
	var events []struct {
		Type  string `json:"type"`
		Price uint64 `json:"price"`
	}
	decodeBody(t, resp, &events)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Price != 251000 {
		t.Errorf("expected newest event price 251000, got %d", events[0].Price)
	}

	resp = env.get(t, "/api/v1/events")
	var all []json.RawMessage
	decodeBody(t, resp, &all)
	if len(all) != 2 {
		t.Errorf("expected 2 events total, got %d", len(all))
	}
}

func TestInvalidBodyMapsTo400(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.server.URL+"/api/v1/oracle/register", "application/json", bytes.NewReader([]byte("{")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	wantStatus(t, resp, http.StatusBadRequest)

	resp = env.post(t, "/api/v1/oracle/register", PrincipalRequest{})
	wantStatus(t, resp, http.StatusBadRequest)
}
