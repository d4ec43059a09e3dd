package models

import (
	"time"
)

// SymbolState is the reconciled view of a single watched trading pair. It is
// seeded from the 24h ticker snapshot and updated in place by streaming ticks.
//
// High/Low are session-lifetime extrema: they start at the snapshot values and
// are only ever widened by streaming ticks. They are intentionally not reset
// on a rolling 24h window, so over a long session they diverge from the
// exchange's own 24h figures.
type SymbolState struct {
	Symbol             string    `json:"symbol"`
	Open               float64   `json:"open"`
	Close              float64   `json:"close"`
	LastPrice          float64   `json:"lastPrice"`
	High               float64   `json:"high"`
	Low                float64   `json:"low"`
	PrevHigh           []float64 `json:"prevHigh"`
	PrevLow            []float64 `json:"prevLow"`
	PriceChange        float64   `json:"priceChange"`
	PriceChangePercent float64   `json:"priceChangePercent"`
	Volume             float64   `json:"volume"`
	QuoteVolume        float64   `json:"quoteVolume"`
}

// SnapshotStats is one entry of the Binance 24h ticker statistics response.
// All numeric fields arrive as decimal strings.
type SnapshotStats struct {
	Symbol             string `json:"symbol"`
	OpenPrice          string `json:"openPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
}

// SnapshotResult carries a resolved snapshot fetch back to the engine. The
// generation is compared against the engine's current one so that a response
// issued for an outdated symbol set is discarded instead of overwriting
// fresher state.
type SnapshotResult struct {
	Generation uint64
	Stats      []SnapshotStats
	Err        error
}

// TickBatch is a partial price update covering some subset of watched
// symbols, folded from a single streaming response.
type TickBatch struct {
	Prices     map[string]string
	ReceivedAt time.Time
}

// TickRecord is a single applied price update, emitted by the engine for the
// history writer.
type TickRecord struct {
	Symbol string
	Price  float64
	Change float64
	At     time.Time
}

// AlertType selects the direction of a price alert threshold.
type AlertType string

const (
	AlertAbove AlertType = "above"
	AlertBelow AlertType = "below"
)

// PriceAlert is a user-defined one-shot price threshold. Triggered latches
// true until explicitly reset; Enabled=false suppresses evaluation but keeps
// the record.
type PriceAlert struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Type      AlertType `json:"type"`
	Price     float64   `json:"price"`
	Enabled   bool      `json:"enabled"`
	Triggered bool      `json:"triggered"`
	CreatedAt time.Time `json:"createdAt"`
}

// PortfolioHolding is one position in the user's portfolio. AvgBuyPrice is
// the cost-basis weighted average across all adds for the symbol.
type PortfolioHolding struct {
	Symbol      string  `json:"symbol"`
	Quantity    float64 `json:"quantity"`
	AvgBuyPrice float64 `json:"avgBuyPrice"`
}

// FeedState is the lifecycle state of the streaming connection.
type FeedState string

const (
	FeedConnecting FeedState = "connecting"
	FeedOpen       FeedState = "open"
	FeedClosing    FeedState = "closing"
	FeedClosed     FeedState = "closed"
)

// TickerRequest is the outbound websocket envelope for a price query.
type TickerRequest struct {
	ID     string       `json:"id"`
	Method string       `json:"method"`
	Params TickerParams `json:"params"`
}

// TickerParams carries the symbol set of a price query.
type TickerParams struct {
	Symbols []string `json:"symbols"`
}

// SymbolPrice is one symbol/price pair of a streaming response.
type SymbolPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// RateLimitStatus reports request-weight usage as returned inside streaming
// responses.
type RateLimitStatus struct {
	RateLimitType string `json:"rateLimitType"`
	Interval      string `json:"interval"`
	IntervalNum   int    `json:"intervalNum"`
	Limit         int    `json:"limit"`
	Count         int    `json:"count"`
}

// TickerResponse is the inbound websocket envelope. Status follows HTTP
// semantics: 200 carries a result list, 429 and 418 signal rate limiting and
// an IP ban respectively.
type TickerResponse struct {
	ID         string            `json:"id"`
	Status     int               `json:"status"`
	Result     []SymbolPrice     `json:"result"`
	RateLimits []RateLimitStatus `json:"ratelimits"`
}
