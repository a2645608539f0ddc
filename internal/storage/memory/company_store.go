package memory

import (
	"context"
	"sync"

	"github.com/camaradata/crawl-coordinator/internal/crawl"
)

// CompanyStore keeps company records keyed by (name, postal code).
type CompanyStore struct {
	mu      sync.RWMutex
	records map[string]crawl.CompanyRecord
}

// NewCompanyStore returns an empty store.
func NewCompanyStore() *CompanyStore {
	return &CompanyStore{records: make(map[string]crawl.CompanyRecord)}
}

// LoadIndex returns every stored record.
func (s *CompanyStore) LoadIndex(_ context.Context) ([]crawl.CompanyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawl.CompanyRecord, 0, len(s.records))
	for _, rec := range s.records {
		rec.Activities = append([]crawl.Activity(nil), rec.Activities...)
		out = append(out, rec)
	}
	return out, nil
}

// SaveBatch upserts the given records.
func (s *CompanyStore) SaveBatch(_ context.Context, batch []crawl.CompanyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range batch {
		rec.Activities = append([]crawl.Activity(nil), rec.Activities...)
		s.records[rec.Name+"|"+rec.AreaCode] = rec
	}
	return nil
}

// Len returns the number of stored records.
func (s *CompanyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
