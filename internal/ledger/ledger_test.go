package ledger

import (
	"errors"
	"testing"

	"github.com/synthex/protocol-core/internal/protocol"
)

func TestManualClock_Advance(t *testing.T) {
	c := NewManualClock(1000)
	if c.Now() != 1000 {
		t.Fatalf("expected 1000, got %d", c.Now())
	}
	c.Advance(3600)
	if c.Now() != 4600 {
		t.Errorf("expected 4600, got %d", c.Now())
	}
}

func TestGroup_RequireSize(t *testing.T) {
	g := Group{{Type: LegPayment}}
	if err := g.RequireSize(2); !errors.Is(err, protocol.ErrGroupPaymentMismatch) {
		t.Errorf("expected group payment mismatch, got %v", err)
	}
	if err := g.RequireSize(1); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGroup_RequirePayment(t *testing.T) {
	ok := Group{
		{Type: LegPayment, Sender: "alice", Receiver: "risk-engine", Amount: 100000},
		{Type: LegTrade, Sender: "alice"},
	}
	if err := ok.RequirePayment("risk-engine", 100000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		g    Group
	}{
		{"too few legs", Group{{Type: LegPayment, Receiver: "risk-engine", Amount: 100000}}},
		{"wrong receiver", Group{
			{Type: LegPayment, Receiver: "mallory", Amount: 100000},
			{Type: LegTrade},
		}},
		{"wrong amount", Group{
			{Type: LegPayment, Receiver: "risk-engine", Amount: 99999},
			{Type: LegTrade},
		}},
		{"not a payment", Group{
			{Type: LegTrade, Receiver: "risk-engine", Amount: 100000},
			{Type: LegTrade},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.g.RequirePayment("risk-engine", 100000)
			if !errors.Is(err, protocol.ErrGroupPaymentMismatch) {
				t.Errorf("expected group payment mismatch, got %v", err)
			}
		})
	}
}
