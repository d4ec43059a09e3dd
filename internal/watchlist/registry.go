package watchlist

import (
	"fmt"
	"strings"
)

// Registry is the ordered set of watched symbols. Input is
// case-insensitive; symbols are stored upper-cased and duplicates are
// rejected at insertion time. The registry is owned by the engine loop
// and must not be mutated from other goroutines.
type Registry struct {
	symbols []string
	index   map[string]struct{}
}

func NewRegistry(symbols []string) (*Registry, error) {
	r := &Registry{index: make(map[string]struct{})}
	for _, s := range symbols {
		if err := r.Add(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Normalize upper-cases and trims a raw symbol string.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Add appends a symbol to the registry. Empty and duplicate symbols are
// rejected.
func (r *Registry) Add(symbol string) error {
	sym := Normalize(symbol)
	if sym == "" {
		return fmt.Errorf("empty symbol")
	}
	if _, ok := r.index[sym]; ok {
		return fmt.Errorf("symbol %s already in watchlist", sym)
	}
	r.symbols = append(r.symbols, sym)
	r.index[sym] = struct{}{}
	return nil
}

// Remove drops a symbol from the registry. Returns false when the
// symbol was not present.
func (r *Registry) Remove(symbol string) bool {
	sym := Normalize(symbol)
	if _, ok := r.index[sym]; !ok {
		return false
	}
	delete(r.index, sym)
	for i, s := range r.symbols {
		if s == sym {
			r.symbols = append(r.symbols[:i], r.symbols[i+1:]...)
			break
		}
	}
	return true
}

// ReplaceAll swaps the full symbol set, used by imports. The incoming
// list is validated as a whole; on any invalid or duplicate entry the
// registry is left untouched.
func (r *Registry) ReplaceAll(symbols []string) error {
	next, err := NewRegistry(symbols)
	if err != nil {
		return err
	}
	r.symbols = next.symbols
	r.index = next.index
	return nil
}

// Contains reports whether the symbol is watched.
func (r *Registry) Contains(symbol string) bool {
	_, ok := r.index[Normalize(symbol)]
	return ok
}

// Symbols returns a copy of the ordered symbol list.
func (r *Registry) Symbols() []string {
	out := make([]string, len(r.symbols))
	copy(out, r.symbols)
	return out
}

func (r *Registry) Len() int {
	return len(r.symbols)
}
