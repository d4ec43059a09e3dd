package watchlist

import (
	"reflect"
	"testing"
)

func TestAddNormalizesAndRejectsDuplicates(t *testing.T) {
	r, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	if err := r.Add("btcusdt"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if !r.Contains("BTCUSDT") {
		t.Error("expected BTCUSDT to be watched")
	}
	if err := r.Add("BTCUSDT"); err == nil {
		t.Error("expected duplicate to be rejected")
	}
	if err := r.Add("  "); err == nil {
		t.Error("expected empty symbol to be rejected")
	}
	if got := r.Symbols(); !reflect.DeepEqual(got, []string{"BTCUSDT"}) {
		t.Errorf("unexpected symbols: %v", got)
	}
}

func TestRemovePreservesOrder(t *testing.T) {
	r, err := NewRegistry([]string{"BTCUSDT", "ETHUSDT", "BNBUSDT"})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	if !r.Remove("ethusdt") {
		t.Fatal("expected removal to succeed")
	}
	if r.Remove("ETHUSDT") {
		t.Fatal("expected second removal to fail")
	}
	if got := r.Symbols(); !reflect.DeepEqual(got, []string{"BTCUSDT", "BNBUSDT"}) {
		t.Errorf("unexpected symbols: %v", got)
	}
}

func TestReplaceAllIsAtomic(t *testing.T) {
	r, err := NewRegistry([]string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	// A duplicate in the incoming list rejects the whole replacement.
	if err := r.ReplaceAll([]string{"ETHUSDT", "ethusdt"}); err == nil {
		t.Fatal("expected duplicate import to fail")
	}
	if got := r.Symbols(); !reflect.DeepEqual(got, []string{"BTCUSDT"}) {
		t.Errorf("registry mutated by failed replace: %v", got)
	}

	if err := r.ReplaceAll([]string{"ETHUSDT", "ADAUSDT"}); err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}
	if got := r.Symbols(); !reflect.DeepEqual(got, []string{"ETHUSDT", "ADAUSDT"}) {
		t.Errorf("unexpected symbols: %v", got)
	}
}
