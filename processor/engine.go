package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"kryptometer/config"
	"kryptometer/internal/alerts"
	"kryptometer/internal/channel"
	"kryptometer/internal/metrics"
	"kryptometer/internal/portfolio"
	"kryptometer/internal/store"
	"kryptometer/internal/watchlist"
	"kryptometer/logger"
	"kryptometer/models"
)

// SnapshotLoader issues a one-shot statistics fetch whose result arrives
// on the snapshot channel tagged with the given generation.
type SnapshotLoader interface {
	Load(ctx context.Context, generation uint64, symbols []string)
}

// Feed is the engine's view of the streaming connection.
type Feed interface {
	SetSymbols(symbols []string)
	Reconnect()
}

// Status summarizes the engine's reconciliation state for the dashboard.
type Status struct {
	Generation    uint64 `json:"generation"`
	SymbolCount   int    `json:"symbolCount"`
	StateCount    int    `json:"stateCount"`
	SnapshotError string `json:"snapshotError,omitempty"`
}

// PortfolioView is the valuated portfolio returned to the dashboard.
type PortfolioView struct {
	Holdings   []models.PortfolioHolding `json:"holdings"`
	Value      float64                   `json:"value"`
	ProfitLoss float64                   `json:"profitLoss"`
}

// Engine owns the authoritative symbol state. All mutation happens on a
// single goroutine that reacts to one event at a time: a snapshot result,
// a tick batch, or a user command funneled in through the command
// channel. The tick application itself is the pure Apply function, so
// the loop needs no locking around state.
//
// Every snapshot fetch carries the generation current at issue time; a
// result whose generation no longer matches is discarded, so a registry
// change can never be overwritten by a stale response.
type Engine struct {
	config   *config.Config
	channels *channel.Channels
	store    *store.Store
	loader   SnapshotLoader
	feed     Feed
	registry *watchlist.Registry
	alerts   *alerts.Evaluator
	book     *portfolio.Book
	log      *logger.Entry

	states      map[string]models.SymbolState
	generation  uint64
	snapshotErr string
	prefs       map[string]interface{}

	commands chan func()

	ctx     context.Context
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewEngine(
	cfg *config.Config,
	ch *channel.Channels,
	st *store.Store,
	loader SnapshotLoader,
	feed Feed,
	registry *watchlist.Registry,
	evaluator *alerts.Evaluator,
	book *portfolio.Book,
) *Engine {
	return &Engine{
		config:   cfg,
		channels: ch,
		store:    st,
		loader:   loader,
		feed:     feed,
		registry: registry,
		alerts:   evaluator,
		book:     book,
		log:      logger.GetLogger().WithComponent("engine"),
		states:   make(map[string]models.SymbolState),
		prefs:    make(map[string]interface{}),
		commands: make(chan func(), 64),
	}
}

// Start loads persisted preferences, issues the initial snapshot fetch
// and launches the event loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.ctx = ctx
	e.mu.Unlock()

	if err := e.store.Load(store.KeyPrefs, &e.prefs); err != nil && !errors.Is(err, store.ErrNotFound) {
		e.log.WithError(err).Warn("failed to load ui preferences")
	}
	if e.prefs == nil {
		e.prefs = make(map[string]interface{})
	}

	e.generation = 1
	e.loader.Load(ctx, e.generation, e.registry.Symbols())

	e.wg.Add(1)
	go e.run()

	e.log.WithFields(logger.Fields{"symbols": e.registry.Symbols()}).Info("engine started")
	return nil
}

// Stop waits for the event loop to exit. The context passed to Start
// must be cancelled first.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()

	e.wg.Wait()
	e.log.Info("engine stopped")
}

func (e *Engine) run() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case res := <-e.channels.Snapshots:
			e.handleSnapshot(res)
		case batch := <-e.channels.Ticks:
			e.handleTicks(batch)
		case cmd := <-e.commands:
			cmd()
		}
	}
}

func (e *Engine) handleSnapshot(res models.SnapshotResult) {
	if res.Generation != e.generation {
		e.log.WithFields(logger.Fields{
			"result_generation":  res.Generation,
			"current_generation": e.generation,
		}).Debug("discarding stale snapshot result")
		return
	}
	if res.Err != nil {
		e.snapshotErr = res.Err.Error()
		metrics.IncrementSnapshotError()
		e.log.WithError(res.Err).Error("snapshot fetch failed")
		return
	}

	e.states = Bootstrap(res.Stats)
	e.snapshotErr = ""
	metrics.IncrementSnapshotSuccess()
	e.log.WithFields(logger.Fields{
		"generation": res.Generation,
		"symbols":    len(e.states),
	}).Info("state bootstrapped from snapshot")
}

func (e *Engine) handleTicks(batch models.TickBatch) {
	next, records := Apply(e.states, batch)
	e.states = next
	if len(records) == 0 {
		return
	}
	metrics.AddTicksApplied(len(records))

	if fired := e.alerts.Evaluate(e.lastPrices()); len(fired) > 0 {
		for range fired {
			metrics.IncrementAlertTriggered()
		}
		e.persistAlerts()
	}

	if e.config.History.Enabled {
		e.channels.SendHistory(records)
	}
}

func (e *Engine) lastPrices() map[string]float64 {
	prices := make(map[string]float64, len(e.states))
	for sym, st := range e.states {
		prices[sym] = st.LastPrice
	}
	return prices
}

// resnapshot invalidates any in-flight fetch and issues a new one for
// the current symbol set, then points the feed at it.
func (e *Engine) resnapshot() {
	e.generation++
	e.loader.Load(e.ctx, e.generation, e.registry.Symbols())
	e.feed.SetSymbols(e.registry.Symbols())
}

// do runs fn on the event loop and waits for its result.
func (e *Engine) do(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case e.commands <- func() { reply <- fn() }:
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}

// AddSymbol adds a symbol to the watchlist and re-snapshots the full
// set so the new symbol gets its statistics.
func (e *Engine) AddSymbol(symbol string) error {
	return e.do(func() error {
		if err := e.registry.Add(symbol); err != nil {
			return err
		}
		e.persistWatchlist()
		e.resnapshot()
		return nil
	})
}

// RemoveSymbol drops a symbol and its state immediately. The refetch
// only refreshes statistics for the remaining set.
func (e *Engine) RemoveSymbol(symbol string) error {
	return e.do(func() error {
		sym := watchlist.Normalize(symbol)
		if !e.registry.Remove(sym) {
			return fmt.Errorf("symbol %s not in watchlist", sym)
		}
		delete(e.states, sym)
		e.persistWatchlist()
		e.resnapshot()
		return nil
	})
}

// ImportWatchlist atomically replaces the watchlist. Invalid input
// leaves the current list untouched.
func (e *Engine) ImportWatchlist(symbols []string) error {
	return e.do(func() error {
		if err := e.registry.ReplaceAll(symbols); err != nil {
			return err
		}
		for sym := range e.states {
			if !e.registry.Contains(sym) {
				delete(e.states, sym)
			}
		}
		e.persistWatchlist()
		e.resnapshot()
		return nil
	})
}

// Refresh re-issues the snapshot fetch for the current set, recovering
// from an earlier snapshot failure.
func (e *Engine) Refresh() error {
	return e.do(func() error {
		e.resnapshot()
		return nil
	})
}

// Watchlist returns the ordered watched symbols.
func (e *Engine) Watchlist() ([]string, error) {
	var symbols []string
	err := e.do(func() error {
		symbols = e.registry.Symbols()
		return nil
	})
	return symbols, err
}

// States returns the reconciled symbol states in watchlist order.
// Symbols whose snapshot has not resolved yet are absent.
func (e *Engine) States() ([]models.SymbolState, error) {
	var out []models.SymbolState
	err := e.do(func() error {
		for _, sym := range e.registry.Symbols() {
			if st, ok := e.states[sym]; ok {
				out = append(out, st)
			}
		}
		return nil
	})
	return out, err
}

// Status reports generation, counts and any pending snapshot error.
func (e *Engine) Status() (Status, error) {
	var st Status
	err := e.do(func() error {
		st = Status{
			Generation:    e.generation,
			SymbolCount:   e.registry.Len(),
			StateCount:    len(e.states),
			SnapshotError: e.snapshotErr,
		}
		return nil
	})
	return st, err
}

// ReconnectFeed clears a terminal feed error and dials again.
func (e *Engine) ReconnectFeed() {
	e.feed.Reconnect()
}

func (e *Engine) AddAlert(symbol string, alertType models.AlertType, price float64) (models.PriceAlert, error) {
	var alert models.PriceAlert
	err := e.do(func() error {
		var err error
		alert, err = e.alerts.Add(symbol, alertType, price)
		if err != nil {
			return err
		}
		e.persistAlerts()
		return nil
	})
	return alert, err
}

func (e *Engine) RemoveAlert(id string) error {
	return e.do(func() error {
		if !e.alerts.Remove(id) {
			return fmt.Errorf("alert %s not found", id)
		}
		e.persistAlerts()
		return nil
	})
}

func (e *Engine) ToggleAlert(id string) error {
	return e.do(func() error {
		if !e.alerts.Toggle(id) {
			return fmt.Errorf("alert %s not found", id)
		}
		e.persistAlerts()
		return nil
	})
}

func (e *Engine) ResetAlert(id string) error {
	return e.do(func() error {
		if !e.alerts.Reset(id) {
			return fmt.Errorf("alert %s not found", id)
		}
		e.persistAlerts()
		return nil
	})
}

func (e *Engine) Alerts() ([]models.PriceAlert, error) {
	var out []models.PriceAlert
	err := e.do(func() error {
		out = e.alerts.List()
		return nil
	})
	return out, err
}

func (e *Engine) AddHolding(symbol string, quantity, price float64) error {
	return e.do(func() error {
		if err := e.book.Add(symbol, quantity, price); err != nil {
			return err
		}
		e.persistPortfolio()
		return nil
	})
}

func (e *Engine) UpdateHolding(symbol string, quantity, price float64) error {
	return e.do(func() error {
		if err := e.book.Update(symbol, quantity, price); err != nil {
			return err
		}
		e.persistPortfolio()
		return nil
	})
}

func (e *Engine) RemoveHolding(symbol string) error {
	return e.do(func() error {
		if !e.book.Remove(symbol) {
			return fmt.Errorf("no holding for %s", watchlist.Normalize(symbol))
		}
		e.persistPortfolio()
		return nil
	})
}

// Portfolio returns the holdings valued at the latest reconciled prices.
func (e *Engine) Portfolio() (PortfolioView, error) {
	var view PortfolioView
	err := e.do(func() error {
		holdings := e.book.List()
		prices := e.lastPrices()
		view = PortfolioView{
			Holdings:   holdings,
			Value:      portfolio.Value(holdings, prices),
			ProfitLoss: portfolio.ProfitLoss(holdings, prices),
		}
		return nil
	})
	return view, err
}

func (e *Engine) Preferences() (map[string]interface{}, error) {
	var out map[string]interface{}
	err := e.do(func() error {
		out = make(map[string]interface{}, len(e.prefs))
		for k, v := range e.prefs {
			out[k] = v
		}
		return nil
	})
	return out, err
}

func (e *Engine) SetPreferences(prefs map[string]interface{}) error {
	return e.do(func() error {
		e.prefs = prefs
		if err := e.store.Save(store.KeyPrefs, e.prefs); err != nil {
			e.log.WithError(err).Error("failed to persist ui preferences")
		}
		return nil
	})
}

func (e *Engine) persistWatchlist() {
	if err := e.store.Save(store.KeyWatchlist, e.registry.Symbols()); err != nil {
		e.log.WithError(err).Error("failed to persist watchlist")
	}
}

func (e *Engine) persistAlerts() {
	if err := e.store.Save(store.KeyAlerts, e.alerts.List()); err != nil {
		e.log.WithError(err).Error("failed to persist alerts")
	}
}

func (e *Engine) persistPortfolio() {
	if err := e.store.Save(store.KeyPortfolio, e.book.List()); err != nil {
		e.log.WithError(err).Error("failed to persist portfolio")
	}
}
