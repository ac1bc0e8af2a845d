package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

// unreachableClient points at a port nothing listens on so every command fails fast
func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedis_ErrorsSurfaceWhenUnreachable(t *testing.T) {
	c := NewRedis(unreachableClient(t))
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "org-1", "k")
	assert.Error(t, err)
	assert.False(t, ok)

	assert.Error(t, c.Set(ctx, "org-1", "k", []byte("v"), time.Minute))
	assert.Error(t, c.InvalidateOrg(ctx, "org-1"))
}

func TestNewRedisClient_PingFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	client, err := NewRedisClient(ctx, "127.0.0.1:1", "", 0)
	assert.Error(t, err)
	assert.NotNil(t, client)
	client.Close()
}

func TestRedisKeys(t *testing.T) {
	assert.Equal(t, "riskmate:agg:org-1:readiness", dataKey("org-1", "readiness"))
	assert.Equal(t, "riskmate:agg:idx:org-1", indexKey("org-1"))
}
