// Package store provides storage backends for the dialogue core's
// SessionStore contract beyond the built-in in-memory one.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	companion "github.com/glimmerkin/companion-core-go"
)

// RedisSessionStore implements companion.SessionStore on Redis.
//
// Keys are namespaced as "{prefix}:session:{id}" for the session snapshot
// and "{prefix}:history:{id}:{kind}" for the append-only history lists.
type RedisSessionStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Prefix string        // key prefix, default "companion"
	TTL    time.Duration // TTL for session snapshots, 0 = no expiry
}

// NewRedisSessionStore creates a SessionStore backed by Redis. Works with
// a go-redis Client, ClusterClient, or Ring.
func NewRedisSessionStore(client redis.UniversalClient, config ...RedisConfig) *RedisSessionStore {
	cfg := RedisConfig{Prefix: "companion"}
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "companion"
	}
	return &RedisSessionStore{client: client, prefix: cfg.Prefix, ttl: cfg.TTL}
}

func (r *RedisSessionStore) sessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", r.prefix, id)
}

func (r *RedisSessionStore) historyKey(id, kind string) string {
	return fmt.Sprintf("%s:history:%s:%s", r.prefix, id, kind)
}

func (r *RedisSessionStore) Get(ctx context.Context, id string) (*companion.Session, error) {
	raw, err := r.client.Get(ctx, r.sessionKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var sess companion.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

// Put replaces the stored snapshot with a single SET, the one-step swap the
// orchestrator's atomic commit relies on.
func (r *RedisSessionStore) Put(ctx context.Context, sess *companion.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	if err := r.client.Set(ctx, r.sessionKey(sess.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, id string) error {
	keys := []string{
		r.sessionKey(id),
		r.historyKey(id, companion.HistorySwitches),
		r.historyKey(id, companion.HistoryChoices),
		r.historyKey(id, companion.HistoryUnlocks),
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *RedisSessionStore) ListIDs(ctx context.Context) ([]string, error) {
	pattern := fmt.Sprintf("%s:session:*", r.prefix)
	keys, err := r.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("redis keys: %w", err)
	}
	prefixLen := len(fmt.Sprintf("%s:session:", r.prefix))
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		if len(k) > prefixLen {
			ids = append(ids, k[prefixLen:])
		}
	}
	return ids, nil
}

func (r *RedisSessionStore) AppendHistory(ctx context.Context, sessionID, kind, entry string) error {
	if err := r.client.RPush(ctx, r.historyKey(sessionID, kind), entry).Err(); err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	return nil
}

func (r *RedisSessionStore) History(ctx context.Context, sessionID, kind string, limit int) ([]string, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	entries, err := r.client.LRange(ctx, r.historyKey(sessionID, kind), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	return entries, nil
}

func (r *RedisSessionStore) Close() error {
	return r.client.Close()
}

// Compile-time interface check.
var _ companion.SessionStore = (*RedisSessionStore)(nil)
