package companion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_GetMissingIsNil(t *testing.T) {
	st := NewInMemorySessionStore()
	sess, err := st.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestInMemoryStore_PutGetRoundtrip(t *testing.T) {
	st := NewInMemorySessionStore()
	ctx := context.Background()
	sess := NewSession("s1", "companion", testDay())
	sess.TurnCount = 3
	applyUnlocks(sess, []UnlockRecord{{FragmentID: "f1", At: testDay()}})
	require.NoError(t, st.Put(ctx, sess))

	got, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.TurnCount)
	assert.True(t, got.IsUnlocked("f1"))
}

func TestInMemoryStore_IsolatesStoredState(t *testing.T) {
	st := NewInMemorySessionStore()
	ctx := context.Background()
	sess := NewSession("s1", "companion", testDay())
	require.NoError(t, st.Put(ctx, sess))

	// Mutating the caller's copy after Put must not leak into the store.
	sess.TurnCount = 42
	got, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.TurnCount)

	// Mutating a fetched copy must not leak either.
	got.TurnCount = 7
	again, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.TurnCount)
}

func TestInMemoryStore_History(t *testing.T) {
	st := NewInMemorySessionStore()
	ctx := context.Background()
	require.NoError(t, st.AppendHistory(ctx, "s1", HistoryChoices, `{"n":1}`))
	require.NoError(t, st.AppendHistory(ctx, "s1", HistoryChoices, `{"n":2}`))
	require.NoError(t, st.AppendHistory(ctx, "s1", HistoryChoices, `{"n":3}`))

	all, err := st.History(ctx, "s1", HistoryChoices, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}, all)

	tail, err := st.History(ctx, "s1", HistoryChoices, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"n":2}`, `{"n":3}`}, tail)
}

func TestInMemoryStore_DeleteClearsHistory(t *testing.T) {
	st := NewInMemorySessionStore()
	ctx := context.Background()
	require.NoError(t, st.Put(ctx, NewSession("s1", "companion", testDay())))
	require.NoError(t, st.AppendHistory(ctx, "s1", HistorySwitches, "x"))
	require.NoError(t, st.Delete(ctx, "s1"))

	sess, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, sess)
	entries, err := st.History(ctx, "s1", HistorySwitches, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInMemoryStore_ListIDs(t *testing.T) {
	st := NewInMemorySessionStore()
	ctx := context.Background()
	require.NoError(t, st.Put(ctx, NewSession("a", "companion", testDay())))
	require.NoError(t, st.Put(ctx, NewSession("b", "companion", testDay())))

	ids, err := st.ListIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}
