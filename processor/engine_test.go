package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kryptometer/config"
	"kryptometer/internal/alerts"
	"kryptometer/internal/channel"
	"kryptometer/internal/portfolio"
	"kryptometer/internal/store"
	"kryptometer/internal/watchlist"
	"kryptometer/models"
)

type loadCall struct {
	generation uint64
	symbols    []string
}

type fakeLoader struct {
	mu    sync.Mutex
	calls []loadCall
}

func (l *fakeLoader) Load(_ context.Context, generation uint64, symbols []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, loadCall{generation: generation, symbols: append([]string(nil), symbols...)})
}

func (l *fakeLoader) last() loadCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.calls) == 0 {
		return loadCall{}
	}
	return l.calls[len(l.calls)-1]
}

type fakeFeed struct {
	mu         sync.Mutex
	symbols    []string
	reconnects int
}

func (f *fakeFeed) SetSymbols(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symbols = append([]string(nil), symbols...)
}

func (f *fakeFeed) Reconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
}

type nopNotifier struct{}

func (nopNotifier) Notify(models.PriceAlert, float64) error { return nil }

func newTestEngine(t *testing.T, symbols []string) (*Engine, *channel.Channels, *fakeLoader, *fakeFeed, *store.Store, context.CancelFunc) {
	t.Helper()

	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	registry, err := watchlist.NewRegistry(symbols)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	ch := channel.NewChannels(4, 16, 16)
	loader := &fakeLoader{}
	feed := &fakeFeed{}
	evaluator := alerts.NewEvaluator(nil, nopNotifier{})
	book := portfolio.NewBook(nil)

	eng := NewEngine(&config.Config{}, ch, st, loader, feed, registry, evaluator, book)

	ctx, cancel := context.WithCancel(context.Background())
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		eng.Stop()
	})
	return eng, ch, loader, feed, st, cancel
}

func snapshot(gen uint64, stats ...models.SnapshotStats) models.SnapshotResult {
	return models.SnapshotResult{Generation: gen, Stats: stats}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestEngineBootstrapsFromMatchingSnapshot(t *testing.T) {
	eng, ch, loader, _, _, _ := newTestEngine(t, []string{"BTCUSDT"})

	if got := loader.last(); got.generation != 1 {
		t.Fatalf("expected initial load at generation 1, got %+v", got)
	}

	ch.SendSnapshot(snapshot(1, models.SnapshotStats{
		Symbol: "BTCUSDT", HighPrice: "100", LowPrice: "90", LastPrice: "95",
	}))

	waitFor(t, func() bool {
		states, err := eng.States()
		return err == nil && len(states) == 1 && states[0].LastPrice == 95
	}, "engine never bootstrapped")
}

func TestEngineDiscardsStaleSnapshot(t *testing.T) {
	eng, ch, loader, feed, _, _ := newTestEngine(t, []string{"BTCUSDT"})

	ch.SendSnapshot(snapshot(1, models.SnapshotStats{
		Symbol: "BTCUSDT", HighPrice: "100", LowPrice: "90", LastPrice: "95",
	}))
	waitFor(t, func() bool {
		states, _ := eng.States()
		return len(states) == 1
	}, "engine never bootstrapped")

	// Changing the registry bumps the generation.
	if err := eng.AddSymbol("ETHUSDT"); err != nil {
		t.Fatalf("AddSymbol failed: %v", err)
	}
	if got := loader.last(); got.generation != 2 || len(got.symbols) != 2 {
		t.Fatalf("expected reload at generation 2 for both symbols, got %+v", got)
	}
	feed.mu.Lock()
	feedSymbols := len(feed.symbols)
	feed.mu.Unlock()
	if feedSymbols != 2 {
		t.Fatalf("feed not updated, symbols: %d", feedSymbols)
	}

	// A late result for the old set must not overwrite anything.
	ch.SendSnapshot(snapshot(1, models.SnapshotStats{
		Symbol: "BTCUSDT", HighPrice: "1", LowPrice: "1", LastPrice: "1",
	}))

	// The matching result lands afterwards.
	ch.SendSnapshot(snapshot(2,
		models.SnapshotStats{Symbol: "BTCUSDT", HighPrice: "100", LowPrice: "90", LastPrice: "96"},
		models.SnapshotStats{Symbol: "ETHUSDT", HighPrice: "2000", LowPrice: "1800", LastPrice: "1900"},
	))

	waitFor(t, func() bool {
		states, _ := eng.States()
		return len(states) == 2 && states[0].LastPrice == 96
	}, "fresh snapshot never applied")
}

func TestEngineTicksDriveAlertsAndPersistence(t *testing.T) {
	eng, ch, _, _, st, _ := newTestEngine(t, []string{"BTCUSDT"})

	ch.SendSnapshot(snapshot(1, models.SnapshotStats{
		Symbol: "BTCUSDT", HighPrice: "50500", LowPrice: "48000", LastPrice: "49000",
	}))
	waitFor(t, func() bool {
		states, _ := eng.States()
		return len(states) == 1
	}, "engine never bootstrapped")

	alert, err := eng.AddAlert("BTCUSDT", models.AlertAbove, 50000)
	if err != nil {
		t.Fatalf("AddAlert failed: %v", err)
	}

	ch.SendTicks(models.TickBatch{Prices: map[string]string{"BTCUSDT": "50000"}, ReceivedAt: time.Now()})

	waitFor(t, func() bool {
		got, _ := eng.Alerts()
		return len(got) == 1 && got[0].Triggered
	}, "alert never triggered")

	// The trigger edge is persisted.
	var persisted []models.PriceAlert
	if err := st.Load(store.KeyAlerts, &persisted); err != nil {
		t.Fatalf("loading persisted alerts failed: %v", err)
	}
	if len(persisted) != 1 || persisted[0].ID != alert.ID || !persisted[0].Triggered {
		t.Errorf("unexpected persisted alerts: %+v", persisted)
	}
}

func TestEngineRemoveSymbolDropsState(t *testing.T) {
	eng, ch, _, _, st, _ := newTestEngine(t, []string{"BTCUSDT", "ETHUSDT"})

	ch.SendSnapshot(snapshot(1,
		models.SnapshotStats{Symbol: "BTCUSDT", HighPrice: "100", LowPrice: "90", LastPrice: "95"},
		models.SnapshotStats{Symbol: "ETHUSDT", HighPrice: "2000", LowPrice: "1800", LastPrice: "1900"},
	))
	waitFor(t, func() bool {
		states, _ := eng.States()
		return len(states) == 2
	}, "engine never bootstrapped")

	if err := eng.RemoveSymbol("ethusdt"); err != nil {
		t.Fatalf("RemoveSymbol failed: %v", err)
	}
	states, err := eng.States()
	if err != nil {
		t.Fatalf("States failed: %v", err)
	}
	if len(states) != 1 || states[0].Symbol != "BTCUSDT" {
		t.Errorf("unexpected states after removal: %+v", states)
	}
	if err := eng.RemoveSymbol("ETHUSDT"); err == nil {
		t.Error("expected error removing absent symbol")
	}

	var persisted []string
	if err := st.Load(store.KeyWatchlist, &persisted); err != nil {
		t.Fatalf("loading persisted watchlist failed: %v", err)
	}
	if len(persisted) != 1 || persisted[0] != "BTCUSDT" {
		t.Errorf("unexpected persisted watchlist: %v", persisted)
	}
}

func TestEngineImportIsAtomic(t *testing.T) {
	eng, _, loader, _, _, _ := newTestEngine(t, []string{"BTCUSDT"})

	if err := eng.ImportWatchlist([]string{"ETHUSDT", "ethusdt"}); err == nil {
		t.Fatal("expected duplicate import to fail")
	}
	symbols, err := eng.Watchlist()
	if err != nil {
		t.Fatalf("Watchlist failed: %v", err)
	}
	if len(symbols) != 1 || symbols[0] != "BTCUSDT" {
		t.Errorf("watchlist mutated by failed import: %v", symbols)
	}

	if err := eng.ImportWatchlist([]string{"ETHUSDT", "ADAUSDT"}); err != nil {
		t.Fatalf("ImportWatchlist failed: %v", err)
	}
	if got := loader.last(); got.generation != 2 || len(got.symbols) != 2 {
		t.Errorf("expected reload for imported set, got %+v", got)
	}
}

func TestEngineSurfacesSnapshotError(t *testing.T) {
	eng, ch, loader, _, _, _ := newTestEngine(t, []string{"BTCUSDT"})

	ch.SendSnapshot(models.SnapshotResult{Generation: 1, Err: errors.New("boom")})
	waitFor(t, func() bool {
		status, err := eng.Status()
		return err == nil && status.SnapshotError == "boom"
	}, "snapshot error never surfaced")

	// Refresh issues a new fetch and a successful result clears the error.
	if err := eng.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	gen := loader.last().generation
	if gen != 2 {
		t.Fatalf("expected generation 2, got %d", gen)
	}
	ch.SendSnapshot(snapshot(2, models.SnapshotStats{
		Symbol: "BTCUSDT", HighPrice: "100", LowPrice: "90", LastPrice: "95",
	}))
	waitFor(t, func() bool {
		status, _ := eng.Status()
		return status.SnapshotError == ""
	}, "snapshot error never cleared")
}

func TestEnginePortfolioValuation(t *testing.T) {
	eng, ch, _, _, _, _ := newTestEngine(t, []string{"BTCUSDT"})

	ch.SendSnapshot(snapshot(1, models.SnapshotStats{
		Symbol: "BTCUSDT", HighPrice: "200", LowPrice: "90", LastPrice: "150",
	}))
	waitFor(t, func() bool {
		states, _ := eng.States()
		return len(states) == 1
	}, "engine never bootstrapped")

	if err := eng.AddHolding("BTCUSDT", 2, 100); err != nil {
		t.Fatalf("AddHolding failed: %v", err)
	}
	view, err := eng.Portfolio()
	if err != nil {
		t.Fatalf("Portfolio failed: %v", err)
	}
	if view.Value != 300 {
		t.Errorf("expected value 300, got %v", view.Value)
	}
	if view.ProfitLoss != 100 {
		t.Errorf("expected P&L 100, got %v", view.ProfitLoss)
	}
}
