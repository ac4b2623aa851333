package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// GroupCache handles Redis operations for group membership and
// group-scoped values
type GroupCache interface {
	AddMember(ctx context.Context, group, member string) error
	RemoveMember(ctx context.Context, group, member string) error
	Members(ctx context.Context, group string, limit int) ([]string, error)

	GetValue(ctx context.Context, scope, key string, dst interface{}) (bool, error)
	SetValue(ctx context.Context, scope, key string, value interface{}, ttl time.Duration) error
	DeleteValue(ctx context.Context, scope, key string) error
}

type groupCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewGroupCache creates a new group cache
func NewGroupCache(client *redis.Client) GroupCache {
	return &groupCache{
		client: client,
		ttl:    24 * time.Hour, // orphaned groups expire after 24h
	}
}

func (c *groupCache) groupKey(group string) string {
	return fmt.Sprintf("omnirelay:group:%s:members", group)
}

func (c *groupCache) valueKey(scope, key string) string {
	return fmt.Sprintf("%s:%s", scope, key)
}

func (c *groupCache) AddMember(ctx context.Context, group, member string) error {
	key := c.groupKey(group)
	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(time.Now().Unix()), Member: member})
	pipe.Expire(ctx, key, c.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *groupCache) RemoveMember(ctx context.Context, group, member string) error {
	return c.client.ZRem(ctx, c.groupKey(group), member).Err()
}

func (c *groupCache) Members(ctx context.Context, group string, limit int) ([]string, error) {
	return c.client.ZRange(ctx, c.groupKey(group), 0, int64(limit)-1).Result()
}

func (c *groupCache) GetValue(ctx context.Context, scope, key string, dst interface{}) (bool, error) {
	data, err := c.client.Get(ctx, c.valueKey(scope, key)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return false, err
	}
	return true, nil
}

func (c *groupCache) SetValue(ctx context.Context, scope, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.valueKey(scope, key), data, ttl).Err()
}

func (c *groupCache) DeleteValue(ctx context.Context, scope, key string) error {
	return c.client.Del(ctx, c.valueKey(scope, key)).Err()
}
