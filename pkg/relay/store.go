package relay

import (
	"context"
	"fmt"

	"github.com/openivr/flowpulse/pkg/config"
	"github.com/openivr/flowpulse/pkg/models"
)

// SnapshotStore persists the relay's authoritative view-model snapshot so
// the push and polling paths serve the same state.
type SnapshotStore interface {
	// Load retrieves the current snapshot; an empty store yields an empty
	// snapshot, not an error.
	Load(ctx context.Context) (*models.Snapshot, error)

	// Save replaces the stored snapshot
	Save(ctx context.Context, snap *models.Snapshot) error

	// Close cleans up resources
	Close() error
}

// NewStore creates a snapshot store based on the configuration.
func NewStore(cfg config.StoreConfig) (SnapshotStore, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
