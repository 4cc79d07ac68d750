package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestNilClientIsEmptyCache(t *testing.T) {
	var c *Client
	ctx := context.Background()

	assert.NotPanics(t, func() {
		c.Set(ctx, "k", []byte("v"), time.Minute)
		c.Delete(ctx, "k")
		c.SetJSON(ctx, "k", map[string]string{"a": "b"}, time.Minute)
	})
	assert.Nil(t, c.Get(ctx, "k"))

	var dst map[string]string
	assert.False(t, c.GetJSON(ctx, "k", &dst))
	assert.Error(t, c.Ping(ctx))
	assert.NoError(t, c.Close())
}

func TestUnreachableRedisFailsSafe(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := NewFromRedis(rdb)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	c.SetJSON(ctx, "profile", map[string]string{"a": "b"}, time.Minute)
	assert.Nil(t, c.Get(ctx, "profile"))

	var dst map[string]string
	assert.False(t, c.GetJSON(ctx, "profile", &dst))
	assert.Error(t, c.Ping(ctx))
}
