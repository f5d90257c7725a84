package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	companion "github.com/glimmerkin/companion-core-go"
)

func newTestStore(t *testing.T, config ...RedisConfig) *RedisSessionStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisSessionStore(client, config...)
}

func TestGet_Missing(t *testing.T) {
	s := newTestStore(t)
	sess, err := s.Get(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestPutGet_Roundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)

	sess := companion.NewSession("s1", "companion", now)
	sess.TurnCount = 3
	sess.SwitchHistory = append(sess.SwitchHistory, companion.SwitchRecord{
		From: "companion", To: "nurturing", Reason: "sadness trigger", At: now,
	})
	sess.Unlocked = map[string]companion.UnlockRecord{
		"frag_count5": {FragmentID: "frag_count5", At: now},
	}
	require.NoError(t, s.Put(ctx, sess))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.TurnCount)
	assert.Equal(t, companion.PersonaID("companion"), got.ActivePersona)
	require.Len(t, got.SwitchHistory, 1)
	assert.Equal(t, companion.PersonaID("nurturing"), got.SwitchHistory[0].To)
	assert.True(t, got.IsUnlocked("frag_count5"))
	assert.Equal(t, 50, got.Affinity.Purity)
}

func TestPut_ReplacesSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sess := companion.NewSession("s1", "companion", now)
	require.NoError(t, s.Put(ctx, sess))

	sess.TurnCount = 7
	require.NoError(t, s.Put(ctx, sess))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 7, got.TurnCount)
}

func TestHistory_AppendAndTail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, entry := range []string{"a", "b", "c"} {
		require.NoError(t, s.AppendHistory(ctx, "s1", companion.HistoryChoices, entry))
	}

	all, err := s.History(ctx, "s1", companion.HistoryChoices, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, all)

	tail, err := s.History(ctx, "s1", companion.HistoryChoices, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, tail)

	// Kinds never mix.
	other, err := s.History(ctx, "s1", companion.HistorySwitches, 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestDelete_ClearsSessionAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := companion.NewSession("s1", "companion", time.Now().UTC())
	require.NoError(t, s.Put(ctx, sess))
	require.NoError(t, s.AppendHistory(ctx, "s1", companion.HistoryUnlocks, "x"))

	require.NoError(t, s.Delete(ctx, "s1"))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)

	entries, err := s.History(ctx, "s1", companion.HistoryUnlocks, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put(ctx, companion.NewSession(id, "companion", now)))
	}

	ids, err := s.ListIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)
}

func TestCustomPrefixIsolation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	ctx := context.Background()
	now := time.Now().UTC()

	first := NewRedisSessionStore(client, RedisConfig{Prefix: "app_a"})
	second := NewRedisSessionStore(client, RedisConfig{Prefix: "app_b"})

	require.NoError(t, first.Put(ctx, companion.NewSession("s1", "companion", now)))

	got, err := second.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)

	ids, err := second.ListIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPut_TTLExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	s := NewRedisSessionStore(client, RedisConfig{TTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, companion.NewSession("s1", "companion", time.Now().UTC())))

	mr.FastForward(2 * time.Minute)

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
