package relay

import (
	"context"
	"sync"

	"github.com/openivr/flowpulse/pkg/models"
)

// MemoryStore is the in-process snapshot store.
type MemoryStore struct {
	mu   sync.RWMutex
	snap *models.Snapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snap: models.NewSnapshot()}
}

// Load returns the current snapshot. Snapshots are immutable, so the stored
// pointer is returned as-is.
func (s *MemoryStore) Load(ctx context.Context) (*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap, nil
}

// Save replaces the stored snapshot.
func (s *MemoryStore) Save(ctx context.Context, snap *models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
