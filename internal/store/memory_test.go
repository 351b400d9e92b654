package store

import (
	"context"
	"errors"
	"testing"

	"github.com/synthex/protocol-core/internal/model"
	"github.com/synthex/protocol-core/internal/protocol"
)

func TestSeed_InitializesSingletons(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	params := protocol.DefaultParams()

	if err := Seed(ctx, s, params, 1000); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := s.View(ctx, func(tx StateTx) error {
		ps, err := tx.PriceState(ctx)
		if err != nil {
			return err
		}
		if ps.CurrentPrice != params.SeedPrice {
			t.Errorf("expected seed price %d, got %d", params.SeedPrice, ps.CurrentPrice)
		}
		if ps.LastUpdateTime != 1000 {
			t.Errorf("expected last update 1000, got %d", ps.LastUpdateTime)
		}

		rs, err := tx.RiskState(ctx)
		if err != nil {
			return err
		}
		if rs.SystemHealth != 10000 {
			t.Errorf("expected system health 10000, got %d", rs.SystemHealth)
		}

		rb, err := tx.RebalanceState(ctx)
		if err != nil {
			return err
		}
		if rb.LastRebalanceTime != 1000 {
			t.Errorf("expected last rebalance 1000, got %d", rb.LastRebalanceTime)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestSeed_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	params := protocol.DefaultParams()

	if err := Seed(ctx, s, params, 1000); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Mutate the price, then re-seed: the second seed must not reset it.
	err := s.Update(ctx, func(tx StateTx) error {
		ps, err := tx.PriceState(ctx)
		if err != nil {
			return err
		}
		ps.CurrentPrice = 260000
		return tx.PutPriceState(ctx, ps)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := Seed(ctx, s, params, 2000); err != nil {
		t.Fatalf("re-seed: %v", err)
	}

	s.View(ctx, func(tx StateTx) error {
		ps, _ := tx.PriceState(ctx)
		if ps.CurrentPrice != 260000 {
			t.Errorf("re-seed clobbered price: got %d", ps.CurrentPrice)
		}
		return nil
	})
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := Seed(ctx, s, protocol.DefaultParams(), 1000); err != nil {
		t.Fatalf("seed: %v", err)
	}

	boom := errors.New("boom")
	err := s.Update(ctx, func(tx StateTx) error {
		ps, err := tx.PriceState(ctx)
		if err != nil {
			return err
		}
		ps.CurrentPrice = 999999
		if err := tx.PutPriceState(ctx, ps); err != nil {
			return err
		}
		if err := tx.PutOracle(ctx, model.OracleSource{Principal: "o1"}); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, model.Event{ID: "e1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	s.View(ctx, func(tx StateTx) error {
		ps, _ := tx.PriceState(ctx)
		if ps.CurrentPrice == 999999 {
			t.Error("price write survived a failed transaction")
		}
		if _, err := tx.Oracle(ctx, "o1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("oracle write survived a failed transaction: %v", err)
		}
		evs, _ := tx.Events(ctx, "", 10)
		if len(evs) != 0 {
			t.Errorf("event write survived a failed transaction: %d events", len(evs))
		}
		return nil
	})
}

func TestUpdate_ReadsOwnWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.Update(ctx, func(tx StateTx) error {
		if err := tx.PutOracle(ctx, model.OracleSource{Principal: "o1", Reputation: 100}); err != nil {
			return err
		}
		o, err := tx.Oracle(ctx, "o1")
		if err != nil {
			return err
		}
		if o.Reputation != 100 {
			t.Errorf("expected staged write visible, got reputation %d", o.Reputation)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestView_RejectsWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.View(ctx, func(tx StateTx) error {
		return tx.PutPriceState(ctx, model.PriceState{})
	})
	if err == nil {
		t.Fatal("expected error writing inside View")
	}
}

func TestEvents_NewestFirstWithFilter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.Update(ctx, func(tx StateTx) error {
		tx.AppendEvent(ctx, model.Event{ID: "e1", Principal: "alice"})
		tx.AppendEvent(ctx, model.Event{ID: "e2", Principal: "bob"})
		tx.AppendEvent(ctx, model.Event{ID: "e3", Principal: "alice"})
		return nil
	})

	s.View(ctx, func(tx StateTx) error {
		all, _ := tx.Events(ctx, "", 10)
		if len(all) != 3 || all[0].ID != "e3" || all[2].ID != "e1" {
			t.Errorf("expected [e3 e2 e1], got %v", all)
		}

		alice, _ := tx.Events(ctx, "alice", 10)
		if len(alice) != 2 || alice[0].ID != "e3" || alice[1].ID != "e1" {
			t.Errorf("expected [e3 e1] for alice, got %v", alice)
		}

		capped, _ := tx.Events(ctx, "", 1)
		if len(capped) != 1 || capped[0].ID != "e3" {
			t.Errorf("expected [e3], got %v", capped)
		}
		return nil
	})
}
