package repository

import (
	"sync"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
	"MarketSync/pkg/util"
)

// SymbolStore is the in-memory latest-record table. Reads return clones so
// callers never alias store-owned memory; writes come only from the merge
// engine.
type SymbolStore struct {
	mu   sync.RWMutex
	data map[string]*models.StockQuote
}

// NewSymbolStore creates an empty symbol store.
func NewSymbolStore() repository.SymbolStore {
	return &SymbolStore{data: make(map[string]*models.StockQuote)}
}

func (s *SymbolStore) Get(symbol string) (*models.StockQuote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.data[util.NormalizeSymbol(symbol)]
	if !ok {
		return nil, false
	}
	return q.Clone(), true
}

func (s *SymbolStore) All() map[string]*models.StockQuote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*models.StockQuote, len(s.data))
	for sym, q := range s.data {
		out[sym] = q.Clone()
	}
	return out
}

func (s *SymbolStore) Put(quote *models.StockQuote) {
	if quote == nil || quote.Symbol == "" {
		return
	}
	s.mu.Lock()
	s.data[util.NormalizeSymbol(quote.Symbol)] = quote.Clone()
	s.mu.Unlock()
}

func (s *SymbolStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
