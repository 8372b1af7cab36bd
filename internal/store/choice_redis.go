package store

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"github.com/local/cardbatch/internal/manifest"
)

// RedisChoices persists selection choices keyed by (reference, side) with no
// expiry, so a source disambiguated once stays disambiguated across runs.
type RedisChoices struct {
	client *redis.Client
	keyNS  string
}

func NewRedisChoices(client *redis.Client) *RedisChoices {
	return &RedisChoices{client: client, keyNS: "choice"}
}

func (s *RedisChoices) key(reference string, side manifest.Side) string {
	return fmt.Sprintf("%s:%s:%s", s.keyNS, reference, side)
}

func (s *RedisChoices) Get(ctx context.Context, reference string, side manifest.Side) ([]int, bool, error) {
	raw, err := s.client.Get(ctx, s.key(reference, side)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var indices []int
	if err := json.Unmarshal([]byte(raw), &indices); err != nil {
		return nil, false, fmt.Errorf("corrupt choice for %s/%s: %w", reference, side, err)
	}
	return indices, true, nil
}

func (s *RedisChoices) Put(ctx context.Context, reference string, side manifest.Side, indices []int) error {
	b, _ := json.Marshal(indices)
	return s.client.Set(ctx, s.key(reference, side), b, 0).Err()
}
