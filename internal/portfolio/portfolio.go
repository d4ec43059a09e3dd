package portfolio

import (
	"fmt"

	"kryptometer/internal/watchlist"
	"kryptometer/models"
)

// Book holds the portfolio positions. Like the registry it is owned by
// the engine loop; valuation is a pure function over a price map.
type Book struct {
	holdings []models.PortfolioHolding
	index    map[string]int
}

func NewBook(holdings []models.PortfolioHolding) *Book {
	b := &Book{index: make(map[string]int)}
	for _, h := range holdings {
		b.holdings = append(b.holdings, h)
		b.index[h.Symbol] = len(b.holdings) - 1
	}
	return b
}

// Add records a buy. Adding to an existing position merges via a
// cost-basis weighted average and sums the quantities.
func (b *Book) Add(symbol string, quantity, price float64) error {
	sym := watchlist.Normalize(symbol)
	if sym == "" {
		return fmt.Errorf("empty symbol")
	}
	if quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %v", quantity)
	}
	if price <= 0 {
		return fmt.Errorf("price must be positive, got %v", price)
	}

	if i, ok := b.index[sym]; ok {
		h := &b.holdings[i]
		total := h.Quantity + quantity
		h.AvgBuyPrice = (h.AvgBuyPrice*h.Quantity + price*quantity) / total
		h.Quantity = total
		return nil
	}

	b.holdings = append(b.holdings, models.PortfolioHolding{
		Symbol:      sym,
		Quantity:    quantity,
		AvgBuyPrice: price,
	})
	b.index[sym] = len(b.holdings) - 1
	return nil
}

// Update overwrites quantity and average buy price for an existing
// position.
func (b *Book) Update(symbol string, quantity, price float64) error {
	sym := watchlist.Normalize(symbol)
	i, ok := b.index[sym]
	if !ok {
		return fmt.Errorf("no holding for %s", sym)
	}
	if quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %v", quantity)
	}
	if price <= 0 {
		return fmt.Errorf("price must be positive, got %v", price)
	}
	b.holdings[i].Quantity = quantity
	b.holdings[i].AvgBuyPrice = price
	return nil
}

// Remove drops a position. Returns false when the symbol was not held.
func (b *Book) Remove(symbol string) bool {
	sym := watchlist.Normalize(symbol)
	i, ok := b.index[sym]
	if !ok {
		return false
	}
	b.holdings = append(b.holdings[:i], b.holdings[i+1:]...)
	delete(b.index, sym)
	for j := i; j < len(b.holdings); j++ {
		b.index[b.holdings[j].Symbol] = j
	}
	return true
}

func (b *Book) Get(symbol string) (models.PortfolioHolding, bool) {
	i, ok := b.index[watchlist.Normalize(symbol)]
	if !ok {
		return models.PortfolioHolding{}, false
	}
	return b.holdings[i], true
}

// List returns a copy of the holdings in insertion order.
func (b *Book) List() []models.PortfolioHolding {
	out := make([]models.PortfolioHolding, len(b.holdings))
	copy(out, b.holdings)
	return out
}

// Value computes total current value. Symbols without a known price
// value at zero rather than being excluded.
func Value(holdings []models.PortfolioHolding, prices map[string]float64) float64 {
	var total float64
	for _, h := range holdings {
		total += h.Quantity * prices[h.Symbol]
	}
	return total
}

// ProfitLoss computes unrealized P&L against the cost basis. An unknown
// price counts as zero, so the position reads as a full loss until a
// price arrives.
func ProfitLoss(holdings []models.PortfolioHolding, prices map[string]float64) float64 {
	var total float64
	for _, h := range holdings {
		total += h.Quantity * (prices[h.Symbol] - h.AvgBuyPrice)
	}
	return total
}
