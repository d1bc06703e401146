//go:build integration
// +build integration

package test

import (
	"context"
	"testing"

	"github.com/coregx/recora"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRUDRoundTrip(t *testing.T) {
	ForEachDialect(t, func(t *testing.T, ds *DatabaseSetup) {
		ctx := context.Background()
		c := ds.Client

		keys := InsertTestUsers(t, c, 3)

		users, err := c.FindByKeys(ctx, "users", keys)
		require.NoError(t, err)
		require.Len(t, users, 3)
		assert.Equal(t, "User1", String(users[0].Get("name")))
		assert.Equal(t, "User3", String(users[2].Get("name")))

		n, err := c.Update(ctx, "users",
			map[string]any{"status": "verified"},
			recora.Query{Where: map[string]any{"email": "user2@example.com"}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		verified, err := c.Count(ctx, "users", recora.Query{Where: map[string]any{"status": "verified"}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), verified)

		n, err = c.Delete(ctx, "users", recora.Query{Where: map[string]any{"email": "user3@example.com"}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		total, err := c.Count(ctx, "users", recora.Query{})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
	})
}

func TestSkipVersusNull(t *testing.T) {
	ForEachDialect(t, func(t *testing.T, ds *DatabaseSetup) {
		ctx := context.Background()
		c := ds.Client

		keys := InsertTestUsers(t, c, 1)
		id := keys.Rows[0][0]

		// nil writes NULL; Skip leaves the column untouched.
		_, err := c.Update(ctx, "users",
			map[string]any{"name": nil, "age": recora.Skip()},
			recora.Query{Where: map[string]any{"id": id}})
		require.NoError(t, err)

		u, err := c.FindByID(ctx, "users", id)
		require.NoError(t, err)
		assert.Nil(t, u.Get("name"))
		assert.NotNil(t, u.Get("age"))
	})
}

func TestSkipPatternBatchInsert(t *testing.T) {
	ForEachDialect(t, func(t *testing.T, ds *DatabaseSetup) {
		ctx := context.Background()
		c := ds.Client

		// Rows with mixed column sets batch into one statement per
		// assignment pattern but keep their caller positions.
		keys, err := c.CreateMany(ctx, "users", []map[string]any{
			{"email": "a@example.com", "name": "A", "age": 30},
			{"email": "b@example.com"},
			{"email": "c@example.com", "name": "C", "age": 40},
		})
		require.NoError(t, err)
		require.Equal(t, 3, keys.Len())

		users, err := c.FindByKeys(ctx, "users", keys)
		require.NoError(t, err)
		require.Len(t, users, 3)
		assert.Equal(t, "a@example.com", String(users[0].Get("email")))
		assert.Equal(t, "b@example.com", String(users[1].Get("email")))
		assert.Nil(t, users[1].Get("name"))
		assert.Equal(t, "c@example.com", String(users[2].Get("email")))
	})
}

func TestUpdateManyBatch(t *testing.T) {
	ForEachDialect(t, func(t *testing.T, ds *DatabaseSetup) {
		ctx := context.Background()
		c := ds.Client

		keys := InsertTestUsers(t, c, 3)
		ds.Statements.Store(0)

		n, err := c.UpdateMany(ctx, "users", []recora.RowUpdate{
			{Key: []any{keys.Rows[0][0]}, Set: map[string]any{"name": "First", "status": "gold"}},
			{Key: []any{keys.Rows[1][0]}, Set: map[string]any{"name": "Second", "status": recora.Skip()}},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		assert.Equal(t, int64(1), ds.Statements.Load(), "whole batch in one statement")

		first, err := c.FindByID(ctx, "users", keys.Rows[0][0])
		require.NoError(t, err)
		assert.Equal(t, "First", String(first.Get("name")))
		assert.Equal(t, "gold", String(first.Get("status")))

		second, err := c.FindByID(ctx, "users", keys.Rows[1][0])
		require.NoError(t, err)
		assert.Equal(t, "Second", String(second.Get("name")))
		assert.Equal(t, "active", String(second.Get("status")), "skipped cell keeps its stored value")
	})
}

func TestUpsertConflictHandling(t *testing.T) {
	ForEachDialect(t, func(t *testing.T, ds *DatabaseSetup) {
		ctx := context.Background()
		c := ds.Client

		_, err := c.Upsert(ctx, "users",
			map[string]any{"email": "up@example.com", "name": "Original"},
			[]string{"email"}, nil)
		require.NoError(t, err)

		_, err = c.Upsert(ctx, "users",
			map[string]any{"email": "up@example.com", "name": "Ignored"},
			[]string{"email"}, nil)
		require.NoError(t, err)

		u, err := c.FindOne(ctx, "users", recora.Query{Where: map[string]any{"email": "up@example.com"}})
		require.NoError(t, err)
		assert.Equal(t, "Original", String(u.Get("name")))

		_, err = c.Upsert(ctx, "users",
			map[string]any{"email": "up@example.com", "name": "Updated"},
			[]string{"email"}, []string{"name"})
		require.NoError(t, err)

		u, err = c.FindOne(ctx, "users", recora.Query{Where: map[string]any{"email": "up@example.com"}})
		require.NoError(t, err)
		assert.Equal(t, "Updated", String(u.Get("name")))
	})
}

func TestDeleteReturning(t *testing.T) {
	ForEachDialect(t, func(t *testing.T, ds *DatabaseSetup) {
		ctx := context.Background()
		c := ds.Client

		keys := InsertTestUsers(t, c, 2)
		deleted, err := c.DeleteReturning(ctx, "users",
			recora.Query{Where: map[string]any{"email": "user1@example.com"}})
		require.NoError(t, err)
		require.Equal(t, 1, deleted.Len())
		assert.EqualValues(t, keys.Rows[0][0], deleted.Rows[0][0])

		n, err := c.Count(ctx, "users", recora.Query{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestFindHardLimitAgainstServer(t *testing.T) {
	ForEachDialect(t, func(t *testing.T, ds *DatabaseSetup) {
		ctx := context.Background()
		c := ds.Client

		InsertTestUsers(t, c, 5)

		_, err := c.Find(ctx, "users", recora.Query{MaxRows: 3})
		var limitErr *recora.LimitExceededError
		require.ErrorAs(t, err, &limitErr)
		assert.Equal(t, 3, limitErr.Limit)
		assert.Equal(t, "users", limitErr.Model)

		users, err := c.Find(ctx, "users", recora.Query{MaxRows: -1})
		require.NoError(t, err)
		assert.Len(t, users, 5)
	})
}
