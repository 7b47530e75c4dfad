package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisMirror wraps a local Cache with a best-effort cross-process
// cache-warm broadcast over Redis Pub/Sub. It is strictly an
// optimization: a Cache that never reaches Redis behaves exactly per
// spec (local-only, correctness unaffected).
type RedisMirror struct {
	cache   *Cache
	rdb     *redis.Client
	channel string
}

type mirrorMessage struct {
	Key    string `json:"key"`
	Source string `json:"source"`
}

// NewRedisMirror wraps cache with a mirror publishing/subscribing on channel.
func NewRedisMirror(cache *Cache, rdb *redis.Client, channel string) *RedisMirror {
	return &RedisMirror{cache: cache, rdb: rdb, channel: channel}
}

// Insert inserts into the local cache and best-effort publishes the
// insertion to peers. Publish failures never affect the local result.
// It takes no context, matching Cache.Insert's signature (Store), since
// the publish is a detached best-effort side effect, not something a
// caller should be able to cancel along with its own request.
func (m *RedisMirror) Insert(key Key, value string) {
	m.cache.Insert(key, value)

	payload, err := json.Marshal(mirrorMessage{Key: hex.EncodeToString(key[:]), Source: value})
	if err != nil {
		return
	}
	if err := m.rdb.Publish(context.Background(), m.channel, payload).Err(); err != nil {
		slog.Warn("cache: failed to publish mirror event", "error", err)
	}
}

// Get delegates to the local cache.
func (m *RedisMirror) Get(key Key) (string, bool) {
	return m.cache.Get(key)
}

// Len delegates to the local cache.
func (m *RedisMirror) Len() int {
	return m.cache.Len()
}

// Subscribe runs until ctx is cancelled, pre-populating the local cache
// from peers' insert broadcasts. It never republishes what it receives.
func (m *RedisMirror) Subscribe(ctx context.Context) {
	pubsub := m.rdb.Subscribe(ctx, m.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var mm mirrorMessage
			if err := json.Unmarshal([]byte(msg.Payload), &mm); err != nil {
				continue
			}
			raw, err := hex.DecodeString(mm.Key)
			if err != nil || len(raw) != 32 {
				continue
			}
			var key Key
			copy(key[:], raw)
			m.cache.Insert(key, mm.Source)
		}
	}
}
