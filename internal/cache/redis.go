package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "riskmate:agg:"

// Redis is a cache shared by every replica. Each organization has an index
// set listing its live keys so InvalidateOrg can drop them without SCAN.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing client
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// NewRedisClient builds and pings a client. It returns the client even when
// the ping fails so callers may decide whether to degrade.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return client, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func dataKey(orgID, key string) string { return redisKeyPrefix + orgID + ":" + key }
func indexKey(orgID string) string     { return redisKeyPrefix + "idx:" + orgID }

// Get reads one entry
func (r *Redis) Get(ctx context.Context, orgID, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, dataKey(orgID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set writes one entry and records it in the organization's index
func (r *Redis) Set(ctx context.Context, orgID, key string, value []byte, ttl time.Duration) error {
	k := dataKey(orgID, key)
	idx := indexKey(orgID)

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, k, value, ttl)
	pipe.SAdd(ctx, idx, k)
	pipe.Expire(ctx, idx, 2*ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// InvalidateOrg deletes every indexed key for orgID
func (r *Redis) InvalidateOrg(ctx context.Context, orgID string) error {
	idx := indexKey(orgID)
	keys, err := r.client.SMembers(ctx, idx).Result()
	if err != nil {
		return err
	}
	keys = append(keys, idx)
	return r.client.Del(ctx, keys...).Err()
}
