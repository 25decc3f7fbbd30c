package execution

import (
	"sort"
	"sync"

	"PerpGate/internal/domain/models"
)

// LifecycleStore holds one record per open position, keyed by symbol.
// Records are inserted by Open, mutated by MarkPartial and removed by Close.
type LifecycleStore struct {
	mu      sync.RWMutex
	records map[string]models.Lifecycle
}

func NewLifecycleStore() *LifecycleStore {
	return &LifecycleStore{records: make(map[string]models.Lifecycle)}
}

func (s *LifecycleStore) Open(lc models.Lifecycle) {
	s.mu.Lock()
	s.records[lc.Symbol] = lc
	s.mu.Unlock()
}

func (s *LifecycleStore) Get(symbol string) (models.Lifecycle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lc, ok := s.records[symbol]
	return lc, ok
}

// MarkPartial flags the partial take-profit as done. It reports false when no record exists.
func (s *LifecycleStore) MarkPartial(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	lc, ok := s.records[symbol]
	if !ok {
		return false
	}
	lc.PartialTaken = true
	s.records[symbol] = lc
	return true
}

// Observe refreshes the venue-side size and ROI. It reports false when no record exists.
func (s *LifecycleStore) Observe(symbol string, size, pnlPercent float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	lc, ok := s.records[symbol]
	if !ok {
		return false
	}
	lc.Size = size
	lc.LastPnLPercent = pnlPercent
	s.records[symbol] = lc
	return true
}

// Close removes and returns the record.
func (s *LifecycleStore) Close(symbol string) (models.Lifecycle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lc, ok := s.records[symbol]
	if ok {
		delete(s.records, symbol)
	}
	return lc, ok
}

func (s *LifecycleStore) All() []models.Lifecycle {
	s.mu.RLock()
	out := make([]models.Lifecycle, 0, len(s.records))
	for _, lc := range s.records {
		out = append(out, lc)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
