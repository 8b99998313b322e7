package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/openivr/flowpulse/pkg/config"
	"github.com/openivr/flowpulse/pkg/models"
)

// RedisStore keeps the snapshot in redis so multiple relay instances serve
// the same live-data state.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	key := cfg.Key
	if key == "" {
		key = "flowpulse:snapshot"
	}
	return &RedisStore{client: client, key: key}, nil
}

// Load retrieves the stored snapshot; a missing key yields an empty one.
func (s *RedisStore) Load(ctx context.Context) (*models.Snapshot, error) {
	data, err := s.client.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return models.NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap models.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode stored snapshot: %w", err)
	}
	if snap.NodeStatuses == nil {
		snap.NodeStatuses = map[string]models.NodeStatus{}
	}
	return &snap, nil
}

// Save replaces the stored snapshot.
func (s *RedisStore) Save(ctx context.Context, snap *models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Close closes the redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
