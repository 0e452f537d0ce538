package credit

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	store := NewStore(db)
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store
}

func TestStoreBalanceStartsAtZero(t *testing.T) {
	store := testStore(t)
	bal, err := store.GetBalance(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, bal.Remaining)
	assert.False(t, bal.Unlimited)
}

func TestStoreGrantDeductAdd(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	require.NoError(t, store.Grant(ctx, "u1", 10, "signup"))

	remaining, err := store.Deduct(ctx, "u1", 3, "run", "r1")
	require.NoError(t, err)
	assert.Equal(t, 7, remaining)

	remaining, err = store.Add(ctx, "u1", 3, "refund: run", "r1")
	require.NoError(t, err)
	assert.Equal(t, 10, remaining)
}

func TestStoreSetUnlimited(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	require.NoError(t, store.SetUnlimited(ctx, "vip", true))
	bal, err := store.GetBalance(ctx, "vip")
	require.NoError(t, err)
	assert.True(t, bal.Unlimited)

	require.NoError(t, store.SetUnlimited(ctx, "vip", false))
	bal, err = store.GetBalance(ctx, "vip")
	require.NoError(t, err)
	assert.False(t, bal.Unlimited)
}

func TestStoreHistory(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	require.NoError(t, store.Grant(ctx, "u1", 10, "signup"))
	_, err := store.Deduct(ctx, "u1", 2, "run", "r1")
	require.NoError(t, err)
	_, err = store.Add(ctx, "u1", 2, "refund: run", "r1")
	require.NoError(t, err)

	entries, err := store.History(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	types := map[EntryType]int{}
	sum := 0
	for _, e := range entries {
		types[e.Type]++
		sum += e.Amount
		assert.Equal(t, "u1", e.UserID)
		assert.NotZero(t, e.CreatedAt)
	}
	assert.Equal(t, 1, types[EntryGrant])
	assert.Equal(t, 1, types[EntryUsage])
	assert.Equal(t, 1, types[EntryRefund])
	assert.Equal(t, 10, sum)
}

func TestStoreMeterRoundTrip(t *testing.T) {
	// The SQL store satisfies the meter's Ledger contract end to end.
	ctx := context.Background()
	store := testStore(t)
	require.NoError(t, store.Grant(ctx, "u1", 5, "signup"))

	var ledger Ledger = store
	bal, err := ledger.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, bal.Remaining)
}
