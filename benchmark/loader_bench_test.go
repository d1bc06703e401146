package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/coregx/recora"
	_ "modernc.org/sqlite"
)

// setupBenchDB opens an in-memory SQLite database with the bench
// schema applied.
func setupBenchDB(b *testing.B) *recora.Client {
	b.Helper()
	c, err := recora.Open("sqlite", ":memory:", benchRegistry(b))
	if err != nil {
		b.Fatalf("Failed to open database: %v", err)
	}
	b.Cleanup(func() { c.Close() })
	c.Executor().(*recora.SQLExecutor).DB().SetMaxOpenConns(1)

	ctx := context.Background()
	for _, ddl := range []string{
		`CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL,
			name TEXT,
			age INTEGER,
			status TEXT DEFAULT 'active'
		)`,
		`CREATE TABLE posts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER,
			title TEXT
		)`,
	} {
		if _, err := c.Exec(ctx, ddl); err != nil {
			b.Fatalf("Failed to create table: %v", err)
		}
	}
	return c
}

func seedBenchDB(b *testing.B, c *recora.Client, userCount, postsPerUser int) {
	b.Helper()
	ctx := context.Background()
	users := make([]map[string]any, userCount)
	for i := range users {
		users[i] = map[string]any{"email": fmt.Sprintf("u%d@example.com", i), "name": fmt.Sprintf("User%d", i), "age": 20 + i%50}
	}
	keys, err := c.CreateMany(ctx, "users", users)
	if err != nil {
		b.Fatal(err)
	}
	for _, key := range keys.Rows {
		posts := make([]map[string]any, postsPerUser)
		for i := range posts {
			posts[i] = map[string]any{"user_id": key[0], "title": fmt.Sprintf("Post %d", i)}
		}
		if _, err := c.CreateMany(ctx, "posts", posts); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkInsert(b *testing.B) {
	c := setupBenchDB(b)
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Create(ctx, "users", map[string]any{
			"email": fmt.Sprintf("bench%d@example.com", i),
			"name":  "Bench",
			"age":   30,
		}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBatchInsert(b *testing.B) {
	for _, size := range []int{10, 100} {
		b.Run(fmt.Sprintf("rows_%d", size), func(b *testing.B) {
			c := setupBenchDB(b)
			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				rows := make([]map[string]any, size)
				for j := range rows {
					rows[j] = map[string]any{"email": fmt.Sprintf("b%d_%d@example.com", i, j)}
				}
				if _, err := c.CreateMany(ctx, "users", rows); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkFind(b *testing.B) {
	c := setupBenchDB(b)
	seedBenchDB(b, c, 100, 0)
	ctx := context.Background()
	q := recora.Query{Where: map[string]any{"status": "active"}, Limit: 50}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Find(ctx, "users", q); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkRelationLoad compares the batched loader against issuing
// one query per parent row.
func BenchmarkRelationLoad(b *testing.B) {
	const userCount, postsPerUser = 50, 5

	b.Run("batched", func(b *testing.B) {
		c := setupBenchDB(b)
		seedBenchDB(b, c, userCount, postsPerUser)
		ctx := context.Background()
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			users, err := c.Find(ctx, "users", recora.Query{})
			if err != nil {
				b.Fatal(err)
			}
			for _, u := range users {
				if _, err := u.Many(ctx, "posts"); err != nil {
					b.Fatal(err)
				}
			}
		}
	})

	b.Run("per_row", func(b *testing.B) {
		c := setupBenchDB(b)
		seedBenchDB(b, c, userCount, postsPerUser)
		ctx := context.Background()
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			users, err := c.Find(ctx, "users", recora.Query{})
			if err != nil {
				b.Fatal(err)
			}
			for _, u := range users {
				if _, err := c.Find(ctx, "posts", recora.Query{
					Where: map[string]any{"user_id": u.Get("id")},
				}); err != nil {
					b.Fatal(err)
				}
			}
		}
	})
}

func BenchmarkUpdateMany(b *testing.B) {
	c := setupBenchDB(b)
	keysCtx := context.Background()
	users := make([]map[string]any, 100)
	for i := range users {
		users[i] = map[string]any{"email": fmt.Sprintf("u%d@example.com", i)}
	}
	keys, err := c.CreateMany(keysCtx, "users", users)
	if err != nil {
		b.Fatal(err)
	}
	updates := make([]recora.RowUpdate, len(keys.Rows))
	for i, key := range keys.Rows {
		updates[i] = recora.RowUpdate{Key: key, Set: map[string]any{"status": "verified"}}
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.UpdateMany(keysCtx, "users", updates); err != nil {
			b.Fatal(err)
		}
	}
}
