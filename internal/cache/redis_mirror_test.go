package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("no local redis reachable: %v", err)
	}
	return rdb
}

func TestRedisMirror_InsertAlwaysUpdatesLocalCacheRegardlessOfPublish(t *testing.T) {
	rdb := dialTestRedis(t)
	defer rdb.Close()

	local := New(8)
	mirror := NewRedisMirror(local, rdb, "pyexec:test:cache:warm")

	key := Sum("1 + 1")
	mirror.Insert(key, "__result__ = 1 + 1")

	got, ok := mirror.Get(key)
	require.True(t, ok)
	assert.Equal(t, "__result__ = 1 + 1", got)
}

func TestRedisMirror_SubscribePrePopulatesFromPeerInsert(t *testing.T) {
	rdb := dialTestRedis(t)
	defer rdb.Close()

	channel := "pyexec:test:cache:warm:subscribe"
	publisher := NewRedisMirror(New(8), rdb, channel)
	subscriber := NewRedisMirror(New(8), rdb, channel)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go subscriber.Subscribe(ctx)

	time.Sleep(50 * time.Millisecond) // let the subscription establish

	key := Sum("2 + 2")
	publisher.Insert(key, "__result__ = 2 + 2")

	deadline := time.After(500 * time.Millisecond)
	for {
		if got, ok := subscriber.Get(key); ok {
			assert.Equal(t, "__result__ = 2 + 2", got)
			return
		}
		select {
		case <-deadline:
			t.Fatal("subscriber never received peer insert")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
