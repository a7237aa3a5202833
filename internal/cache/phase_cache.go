package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// PhaseSnapshot is the small blob the poll path reads before touching
// Postgres. Written through on every phase advance.
type PhaseSnapshot struct {
	Phase string `json:"phase"`
	Round int    `json:"round"`
}

type PhaseCache interface {
	Set(ctx context.Context, code string, snap PhaseSnapshot) error
	Get(ctx context.Context, code string) (*PhaseSnapshot, error)
	Delete(ctx context.Context, code string) error
}

type phaseCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPhaseCache(client *redis.Client) PhaseCache {
	return &phaseCache{
		client: client,
		ttl:    24 * time.Hour, // rooms are reset, not deleted; the cache just ages out
	}
}

func (c *phaseCache) key(code string) string {
	return fmt.Sprintf("room:%s", code)
}

func (c *phaseCache) Set(ctx context.Context, code string, snap PhaseSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(code), data, c.ttl).Err()
}

// Get returns (nil, nil) on a miss so callers fall through to the store.
func (c *phaseCache) Get(ctx context.Context, code string) (*PhaseSnapshot, error) {
	data, err := c.client.Get(ctx, c.key(code)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap PhaseSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *phaseCache) Delete(ctx context.Context, code string) error {
	return c.client.Del(ctx, c.key(code)).Err()
}
