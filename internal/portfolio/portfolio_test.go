package portfolio

import (
	"math"
	"testing"

	"kryptometer/models"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAddMergesWeightedAverage(t *testing.T) {
	b := NewBook(nil)

	if err := b.Add("BTCUSDT", 2, 100); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := b.Add("btcusdt", 1, 400); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	h, ok := b.Get("BTCUSDT")
	if !ok {
		t.Fatal("holding missing")
	}
	if h.Quantity != 3 {
		t.Errorf("expected quantity 3, got %v", h.Quantity)
	}
	if !almostEqual(h.AvgBuyPrice, 200) {
		t.Errorf("expected avg 200, got %v", h.AvgBuyPrice)
	}
}

func TestAddRejectsInvalidInput(t *testing.T) {
	b := NewBook(nil)

	if err := b.Add("BTCUSDT", 0, 100); err == nil {
		t.Error("expected error for zero quantity")
	}
	if err := b.Add("BTCUSDT", 1, -5); err == nil {
		t.Error("expected error for negative price")
	}
	if err := b.Add("", 1, 100); err == nil {
		t.Error("expected error for empty symbol")
	}
}

func TestRemoveReindexes(t *testing.T) {
	b := NewBook([]models.PortfolioHolding{
		{Symbol: "BTCUSDT", Quantity: 1, AvgBuyPrice: 100},
		{Symbol: "ETHUSDT", Quantity: 2, AvgBuyPrice: 50},
		{Symbol: "BNBUSDT", Quantity: 3, AvgBuyPrice: 10},
	})

	if !b.Remove("ETHUSDT") {
		t.Fatal("expected removal to succeed")
	}
	h, ok := b.Get("BNBUSDT")
	if !ok || h.Quantity != 3 {
		t.Errorf("index broken after removal: %v %v", h, ok)
	}
	if len(b.List()) != 2 {
		t.Errorf("unexpected holdings: %v", b.List())
	}
}

func TestValueAndProfitLoss(t *testing.T) {
	holdings := []models.PortfolioHolding{
		{Symbol: "BTCUSDT", Quantity: 2, AvgBuyPrice: 100},
		{Symbol: "DELISTED", Quantity: 5, AvgBuyPrice: 10},
	}
	prices := map[string]float64{"BTCUSDT": 150}

	// The unknown symbol values at zero rather than being excluded.
	if v := Value(holdings, prices); !almostEqual(v, 300) {
		t.Errorf("expected value 300, got %v", v)
	}
	if pl := ProfitLoss(holdings, prices); !almostEqual(pl, 100-50) {
		t.Errorf("expected P&L 50, got %v", pl)
	}
}
