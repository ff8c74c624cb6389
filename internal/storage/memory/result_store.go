// Package memory keeps session results in process memory for development and
// tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/patent-crawler/internal/crawler"
)

// ResultStore maps session keys to the latest run's records.
type ResultStore struct {
	mu   sync.RWMutex
	data map[string][]crawler.PatentRecord
}

// NewResultStore creates an empty store.
func NewResultStore() *ResultStore {
	return &ResultStore{data: make(map[string][]crawler.PatentRecord)}
}

// PutResults replaces whatever the session held before.
func (s *ResultStore) PutResults(_ context.Context, sessionKey string, records []crawler.PatentRecord) error {
	cp := append([]crawler.PatentRecord{}, records...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sessionKey] = cp
	return nil
}

// GetResults returns a copy of the session's records.
func (s *ResultStore) GetResults(_ context.Context, sessionKey string) ([]crawler.PatentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records, ok := s.data[sessionKey]
	if !ok {
		return nil, crawler.ErrSessionNotFound
	}
	return append([]crawler.PatentRecord{}, records...), nil
}
