// Package source resolves the records an indexing configuration selects for
// a site. The data model behind sites and page trees lives elsewhere; this
// package only reads what is needed to fill the queue.
package source

import (
	"context"
	"sync"

	"github.com/searchsync/indexqueue/internal/domain"
)

// RecordSource lists the records matching an indexing configuration.
type RecordSource interface {
	Records(ctx context.Context, site string, cfg domain.IndexingConfiguration) ([]domain.SourceRecord, error)
}

// StaticRecordSource serves records kept in memory, keyed by site and table.
type StaticRecordSource struct {
	mu      sync.RWMutex
	records map[string]map[string][]domain.SourceRecord
}

func NewStaticRecordSource() *StaticRecordSource {
	return &StaticRecordSource{records: make(map[string]map[string][]domain.SourceRecord)}
}

// Add appends records for a site. Each record's Table selects the configurations it matches.
func (s *StaticRecordSource) Add(site string, recs ...domain.SourceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byTable, ok := s.records[site]
	if !ok {
		byTable = make(map[string][]domain.SourceRecord)
		s.records[site] = byTable
	}
	for _, r := range recs {
		byTable[r.Table] = append(byTable[r.Table], r)
	}
}

func (s *StaticRecordSource) Records(_ context.Context, site string, cfg domain.IndexingConfiguration) ([]domain.SourceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.records[site][cfg.Table]
	out := make([]domain.SourceRecord, len(recs))
	copy(out, recs)
	return out, nil
}

var _ RecordSource = (*StaticRecordSource)(nil)
