package store

import (
	"context"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/flockwatch/aggregator/internal/model"
)

// MemoryStore is an identity-keyed, bounded detection store. The detector
// simulator uses it as its source of truth; tests use it as a
// DetectionSource without Redis. When the identity cap is reached the
// least-recently-updated identity is evicted.
type MemoryStore struct {
	mu      sync.RWMutex
	records *lru.Cache[string, model.DetectionRecord]
}

// NewMemoryStore creates a store capped at capacity identities.
func NewMemoryStore(capacity int) *MemoryStore {
	records, _ := lru.New[string, model.DetectionRecord](capacity)
	return &MemoryStore{records: records}
}

// Upsert merges a record with any existing record of the same identity:
// FirstSeen is preserved and SeenCount never decreases. The stored record
// is returned.
func (s *MemoryStore) Upsert(rec model.DetectionRecord) model.DetectionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.records.Peek(rec.ID); ok {
		rec.FirstSeen = old.FirstSeen
		if rec.SeenCount <= old.SeenCount {
			rec.SeenCount = old.SeenCount + 1
		}
		if rec.LastSeen < old.LastSeen {
			rec.LastSeen = old.LastSeen
		}
	}
	if rec.LastSeen < rec.FirstSeen {
		rec.LastSeen = rec.FirstSeen
	}
	if rec.SeenCount < 1 {
		rec.SeenCount = 1
	}

	s.records.Add(rec.ID, rec)
	return rec
}

// MarkFalsePositive attaches an FP annotation to a stored record.
func (s *MemoryStore) MarkFalsePositive(id string, score float64, category, reason string, analyzedAt int64, source model.AnalysisSource) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records.Peek(id)
	if !ok {
		return false
	}
	rec.FPScore = &score
	rec.FPCategory = category
	rec.FPReason = reason
	rec.AnalyzedAt = analyzedAt
	rec.AnalysisSource = source
	s.records.Add(id, rec)
	return true
}

// Clear removes every record.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records.Purge()
}

// Len returns the number of stored identities.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.Len()
}

// ListDetections returns every record, newest LastSeen first.
func (s *MemoryStore) ListDetections(_ context.Context) ([]model.DetectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.records.Keys()
	records := make([]model.DetectionRecord, 0, len(keys))
	for _, id := range keys {
		if rec, ok := s.records.Peek(id); ok {
			records = append(records, rec)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].LastSeen != records[j].LastSeen {
			return records[i].LastSeen > records[j].LastSeen
		}
		return records[i].ID < records[j].ID
	})

	return records, nil
}

// Counts derives the per-threat-level totals from the stored records.
func (s *MemoryStore) Counts(ctx context.Context) (model.AggregateCounts, error) {
	records, err := s.ListDetections(ctx)
	if err != nil {
		return model.AggregateCounts{}, err
	}
	return model.CountDetections(records), nil
}
