package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"devchat/client/internal/history"
	"devchat/client/internal/models"
)

// RedisProfileCache keeps counterpart profiles in Redis with a TTL.
type RedisProfileCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisProfileCache wraps an existing client.
func NewRedisProfileCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisProfileCache {
	return &RedisProfileCache{client: client, prefix: prefix, ttl: ttl}
}

// DialRedis connects and pings, so a misconfigured cache fails at startup.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to connect to redis")
	}
	return client, nil
}

func (c *RedisProfileCache) key(userID string) string {
	return c.prefix + ":" + userID
}

func (c *RedisProfileCache) Get(ctx context.Context, userID string) (*models.CounterpartProfile, error) {
	data, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, history.ErrCacheMiss
		}
		return nil, errors.Wrap(err, "failed to get from redis")
	}

	var profile models.CounterpartProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal cached profile")
	}
	return &profile, nil
}

func (c *RedisProfileCache) Set(ctx context.Context, profile *models.CounterpartProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return errors.Wrap(err, "failed to marshal profile")
	}
	if err := c.client.Set(ctx, c.key(profile.UserID), data, c.ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to set in redis")
	}
	return nil
}

var _ history.ProfileCache = (*RedisProfileCache)(nil)
