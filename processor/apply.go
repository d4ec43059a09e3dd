package processor

import (
	"strconv"

	"kryptometer/models"
)

// Bootstrap builds a fresh state map from snapshot statistics. It fully
// replaces any prior state: high and low start at the snapshot's 24h
// extrema, the extremum history is seeded with those same values, and
// priceChange starts at zero. Entries with an unparsable price are
// skipped.
func Bootstrap(stats []models.SnapshotStats) map[string]models.SymbolState {
	states := make(map[string]models.SymbolState, len(stats))
	for _, s := range stats {
		last, err := strconv.ParseFloat(s.LastPrice, 64)
		if err != nil {
			continue
		}
		high, err := strconv.ParseFloat(s.HighPrice, 64)
		if err != nil {
			continue
		}
		low, err := strconv.ParseFloat(s.LowPrice, 64)
		if err != nil {
			continue
		}
		open, _ := strconv.ParseFloat(s.OpenPrice, 64)
		pct, _ := strconv.ParseFloat(s.PriceChangePercent, 64)
		volume, _ := strconv.ParseFloat(s.Volume, 64)
		quoteVolume, _ := strconv.ParseFloat(s.QuoteVolume, 64)

		states[s.Symbol] = models.SymbolState{
			Symbol:             s.Symbol,
			Open:               open,
			Close:              last,
			LastPrice:          last,
			High:               high,
			Low:                low,
			PrevHigh:           []float64{high},
			PrevLow:            []float64{low},
			PriceChange:        0,
			PriceChangePercent: pct,
			Volume:             volume,
			QuoteVolume:        quoteVolume,
		}
	}
	return states
}

// Apply folds a tick batch into the state map and returns the updated
// map together with one record per applied tick. The input map is not
// mutated.
//
// Per symbol, against the pre-update values: a price above high pushes
// the old high onto the extremum history and becomes the new high; a
// price below low does the same for the low; priceChange is the delta
// from the previous lastPrice. Symbols in the batch without state are
// ignored (state is only ever created by Bootstrap), and symbols with
// state but absent from the batch are untouched.
func Apply(states map[string]models.SymbolState, batch models.TickBatch) (map[string]models.SymbolState, []models.TickRecord) {
	next := make(map[string]models.SymbolState, len(states))
	for sym, st := range states {
		next[sym] = st
	}

	var records []models.TickRecord
	for sym, raw := range batch.Prices {
		st, ok := next[sym]
		if !ok {
			continue
		}
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}

		if price > st.High {
			st.PrevHigh = appendCopy(st.PrevHigh, st.High)
			st.High = price
		} else if price < st.Low {
			st.PrevLow = appendCopy(st.PrevLow, st.Low)
			st.Low = price
		}
		st.PriceChange = price - st.LastPrice
		st.LastPrice = price

		next[sym] = st
		records = append(records, models.TickRecord{
			Symbol: sym,
			Price:  price,
			Change: st.PriceChange,
			At:     batch.ReceivedAt,
		})
	}
	return next, records
}

// appendCopy appends without aliasing the input slice's backing array,
// keeping previously returned states immutable.
func appendCopy(s []float64, v float64) []float64 {
	out := make([]float64, len(s), len(s)+1)
	copy(out, s)
	return append(out, v)
}
