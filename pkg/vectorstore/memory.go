package vectorstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store for tests. Distances are cosine
// distances computed as 1 - dot product, matching pgvector's <=> operator
// on unit-normalized vectors.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Item
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string][]Item)}
}

// Upsert implements Store. Existing ids are replaced in place, preserving
// insertion order.
func (s *MemoryStore) Upsert(_ context.Context, collection string, items []Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.collections[collection]
	for _, item := range items {
		replaced := false
		for i := range existing {
			if existing[i].ID == item.ID {
				existing[i] = item
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, item)
		}
	}
	s.collections[collection] = existing
	return nil
}

// Query implements Store with an exact scan.
func (s *MemoryStore) Query(_ context.Context, collection string, vector []float32, n int, filter map[string]string) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []Result
	for _, item := range s.collections[collection] {
		if !matchesFilter(item.Metadata, filter) {
			continue
		}
		results = append(results, Result{
			ID:       item.ID,
			Document: item.Document,
			Metadata: item.Metadata,
			Distance: 1 - dot(vector, item.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if len(results) > n {
		results = results[:n]
	}
	return results, nil
}

// DeleteCollection implements Store.
func (s *MemoryStore) DeleteCollection(_ context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, collection)
	return nil
}

// Count returns the number of items in a collection.
func (s *MemoryStore) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

// Items returns a copy of a collection's items in insertion order.
func (s *MemoryStore) Items(collection string) []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, len(s.collections[collection]))
	copy(out, s.collections[collection])
	return out
}

func matchesFilter(metadata, filter map[string]string) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := 0; i < len(a) && i < len(b); i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
