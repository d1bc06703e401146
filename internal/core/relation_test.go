package core

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor serves canned rows per table and records every statement
// so tests can count queries.
type fakeExecutor struct {
	users    Rows
	posts    Rows
	profiles Rows

	queries []Statement
	execs   []Statement
	result  Result
}

func (f *fakeExecutor) Query(_ context.Context, sqlText string, params []any) (Rows, error) {
	f.queries = append(f.queries, Statement{SQL: sqlText, Params: params})
	switch {
	case strings.Contains(sqlText, `"users"`), strings.Contains(sqlText, "`users`"):
		return f.users, nil
	case strings.Contains(sqlText, `"posts"`), strings.Contains(sqlText, "`posts`"):
		return f.posts, nil
	case strings.Contains(sqlText, `"profiles"`), strings.Contains(sqlText, "`profiles`"):
		return f.profiles, nil
	}
	return nil, nil
}

func (f *fakeExecutor) Exec(_ context.Context, sqlText string, params []any) (Result, error) {
	f.execs = append(f.execs, Statement{SQL: sqlText, Params: params})
	return f.result, nil
}

func (f *fakeExecutor) queryCount() int { return len(f.queries) }

func newFakeClient(t *testing.T, dialect string, fake *fakeExecutor, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(dialect, fake, testRegistry(t), opts...)
	require.NoError(t, err)
	return c
}

func userRow(id, tenant int, email string) map[string]any {
	return map[string]any{"id": int64(id), "tenant_id": int64(tenant), "email": email, "name": email, "status": "active"}
}

func postRow(id, tenant, author int, title string) map[string]any {
	return map[string]any{"id": int64(id), "tenant_id": int64(tenant), "author_id": int64(author), "title": title, "status": "published", "created_at": int64(id)}
}

func TestHasManyBatchesAcrossSiblings(t *testing.T) {
	fake := &fakeExecutor{
		users: Rows{userRow(1, 1, "a"), userRow(2, 1, "b"), userRow(3, 1, "c")},
		posts: Rows{postRow(10, 1, 1, "p10"), postRow(11, 1, 1, "p11"), postRow(12, 1, 2, "p12")},
	}
	c := newFakeClient(t, "sqlite", fake)
	ctx := context.Background()

	users, err := c.Find(ctx, "users", Query{})
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, 1, fake.queryCount())

	// First relation access loads for every sibling in one query.
	posts, err := users[0].Many(ctx, "posts")
	require.NoError(t, err)
	assert.Len(t, posts, 2)
	assert.Equal(t, 2, fake.queryCount(), "one query for the whole result set")

	// Sibling and repeat accesses are cache hits.
	posts, err = users[1].Many(ctx, "posts")
	require.NoError(t, err)
	assert.Len(t, posts, 1)
	assert.Equal(t, "p12", posts[0].Get("title"))

	posts, err = users[2].Many(ctx, "posts")
	require.NoError(t, err)
	assert.Empty(t, posts)

	_, err = users[0].Many(ctx, "posts")
	require.NoError(t, err)
	assert.Equal(t, 2, fake.queryCount(), "no further queries after the batch")
}

func TestHasManyDeduplicatesKeyTuples(t *testing.T) {
	// Both posts share the author, so the membership carries one tuple.
	fake := &fakeExecutor{
		posts: Rows{postRow(10, 1, 1, "x"), postRow(11, 1, 1, "y")},
		users: Rows{userRow(1, 1, "a")},
	}
	c := newFakeClient(t, "sqlite", fake)
	ctx := context.Background()

	posts, err := c.Find(ctx, "posts", Query{})
	require.NoError(t, err)

	_, err = posts[0].One(ctx, "author")
	require.NoError(t, err)

	last := fake.queries[len(fake.queries)-1]
	assert.Equal(t, []any{int64(1)}, last.Params)
}

func TestBelongsToSharesTargetInstance(t *testing.T) {
	fake := &fakeExecutor{
		posts: Rows{postRow(10, 1, 1, "x"), postRow(11, 1, 1, "y")},
		users: Rows{userRow(1, 1, "a")},
	}
	c := newFakeClient(t, "sqlite", fake)
	ctx := context.Background()

	posts, err := c.Find(ctx, "posts", Query{})
	require.NoError(t, err)

	first, err := posts[0].One(ctx, "author")
	require.NoError(t, err)
	second, err := posts[1].One(ctx, "author")
	require.NoError(t, err)

	require.NotNil(t, first)
	assert.Same(t, first, second, "same key tuple must resolve to the same record")
	assert.Equal(t, 2, fake.queryCount())
}

func TestNullForeignKeySkipsQuery(t *testing.T) {
	post := postRow(10, 1, 1, "x")
	post["author_id"] = nil
	fake := &fakeExecutor{posts: Rows{post}}
	c := newFakeClient(t, "sqlite", fake)
	ctx := context.Background()

	posts, err := c.Find(ctx, "posts", Query{})
	require.NoError(t, err)

	author, err := posts[0].One(ctx, "author")
	require.NoError(t, err)
	assert.Nil(t, author)
	assert.Equal(t, 1, fake.queryCount(), "null keys must not reach the database")
}

func TestCompositeKeyTenantIsolation(t *testing.T) {
	fake := &fakeExecutor{
		users: Rows{userRow(1, 1, "a"), userRow(2, 2, "b")},
		posts: Rows{
			postRow(10, 1, 1, "t1-a"),
			// Same author id under another tenant: must match nobody.
			postRow(11, 2, 1, "t2-orphan"),
			postRow(12, 2, 2, "t2-b"),
		},
	}
	c := newFakeClient(t, "sqlite", fake)
	ctx := context.Background()

	users, err := c.Find(ctx, "users", Query{})
	require.NoError(t, err)

	got, err := users[0].Many(ctx, "tenant_posts")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t1-a", got[0].Get("title"))

	got, err = users[1].Many(ctx, "tenant_posts")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t2-b", got[0].Get("title"))
}

func TestPerParentLimitClientSideTruncation(t *testing.T) {
	// MySQL has no window strategy: the loader runs the unbounded query
	// and truncates each parent's group to the declared limit.
	fake := &fakeExecutor{
		users: Rows{userRow(1, 1, "a"), userRow(2, 1, "b"), userRow(3, 1, "c")},
		posts: Rows{
			postRow(10, 1, 1, "a1"), postRow(11, 1, 1, "a2"),
			postRow(12, 1, 2, "b1"),
			postRow(13, 1, 3, "c1"), postRow(14, 1, 3, "c2"), postRow(15, 1, 3, "c3"),
		},
	}
	c := newFakeClient(t, "mysql", fake)
	ctx := context.Background()

	users, err := c.Find(ctx, "users", Query{})
	require.NoError(t, err)

	counts := make([]int, 3)
	for i, u := range users {
		posts, err := u.Many(ctx, "recent_posts")
		require.NoError(t, err)
		counts[i] = len(posts)
	}
	assert.Equal(t, []int{2, 1, 2}, counts)
	assert.Equal(t, 2, fake.queryCount())
	assert.NotContains(t, fake.queries[1].SQL, "ROW_NUMBER")
}

func TestPerParentWindowLimitSQL(t *testing.T) {
	fake := &fakeExecutor{
		users: Rows{userRow(1, 1, "a")},
		posts: Rows{},
	}
	c := newFakeClient(t, "sqlite", fake)
	ctx := context.Background()

	users, err := c.Find(ctx, "users", Query{})
	require.NoError(t, err)
	_, err = users[0].Many(ctx, "recent_posts")
	require.NoError(t, err)

	assert.Contains(t, fake.queries[1].SQL, "ROW_NUMBER() OVER (PARTITION BY")
	assert.Contains(t, fake.queries[1].SQL, "rn <= 2")
}

func TestRelationHardLimitErrors(t *testing.T) {
	fake := &fakeExecutor{
		users: Rows{userRow(1, 1, "a")},
		posts: Rows{postRow(10, 1, 1, "x"), postRow(11, 1, 1, "y"), postRow(12, 1, 1, "z")},
	}
	c := newFakeClient(t, "mysql", fake)
	ctx := context.Background()

	users, err := c.Find(ctx, "users", Query{})
	require.NoError(t, err)

	_, err = users[0].Many(ctx, "bounded_posts")
	var limitErr *LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 2, limitErr.Limit)
	assert.Equal(t, 3, limitErr.Actual)
	assert.Equal(t, "relation", limitErr.Context)
	assert.Equal(t, "bounded_posts", limitErr.Relation)

	// The failure is cached like any other outcome.
	_, err = users[0].Many(ctx, "bounded_posts")
	assert.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 2, fake.queryCount())
}

func TestLoadedTargetsGetFreshContext(t *testing.T) {
	fake := &fakeExecutor{
		users:    Rows{userRow(1, 1, "a")},
		posts:    Rows{postRow(10, 1, 1, "x")},
		profiles: Rows{},
	}
	c := newFakeClient(t, "sqlite", fake)
	ctx := context.Background()

	users, err := c.Find(ctx, "users", Query{})
	require.NoError(t, err)
	posts, err := users[0].Many(ctx, "posts")
	require.NoError(t, err)
	require.Len(t, posts, 1)

	assert.NotNil(t, posts[0].Context())
	assert.NotSame(t, users[0].Context(), posts[0].Context())

	// Nested access batches one level deeper through the new context.
	author, err := posts[0].One(ctx, "author")
	require.NoError(t, err)
	require.NotNil(t, author)
	assert.Equal(t, 3, fake.queryCount())
}

func TestPreloadAllRunsConcurrently(t *testing.T) {
	fake := &fakeExecutor{
		users:    Rows{userRow(1, 1, "a"), userRow(2, 1, "b")},
		posts:    Rows{postRow(10, 1, 1, "x")},
		profiles: Rows{{"id": int64(1), "user_id": int64(1), "bio": "hi"}},
	}
	c := newFakeClient(t, "sqlite", fake)
	ctx := context.Background()

	users, err := c.Find(ctx, "users", Query{})
	require.NoError(t, err)

	require.NoError(t, users[0].Context().PreloadAll(ctx, "posts", "profile"))
	assert.Equal(t, 3, fake.queryCount())

	// Everything below is served from the context cache.
	_, err = users[0].Many(ctx, "posts")
	require.NoError(t, err)
	profile, err := users[0].One(ctx, "profile")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "hi", profile.Get("bio"))

	missing, err := users[1].One(ctx, "profile")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Equal(t, 3, fake.queryCount())
}

func TestRelationLoadsBypassVerbHooks(t *testing.T) {
	verbs := 0
	fake := &fakeExecutor{
		users: Rows{userRow(1, 1, "a")},
		posts: Rows{postRow(10, 1, 1, "x")},
	}
	c := newFakeClient(t, "sqlite", fake, WithMiddleware(Middleware{
		Verb: func(next VerbFunc) VerbFunc {
			return func(ctx context.Context, info VerbInfo) (any, error) {
				verbs++
				return next(ctx, info)
			}
		},
	}))
	ctx := context.Background()

	users, err := c.Find(ctx, "users", Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, verbs)

	_, err = users[0].Many(ctx, "posts")
	require.NoError(t, err)
	assert.Equal(t, 1, verbs, "relation loads are not verbs")
}

func TestRelationKindMismatch(t *testing.T) {
	fake := &fakeExecutor{
		users: Rows{userRow(1, 1, "a")},
		posts: Rows{postRow(10, 1, 1, "x")},
	}
	c := newFakeClient(t, "sqlite", fake)
	ctx := context.Background()

	users, err := c.Find(ctx, "users", Query{})
	require.NoError(t, err)

	_, err = users[0].One(ctx, "posts")
	assert.ErrorContains(t, err, "has_many")
	_, err = users[0].Many(ctx, "profile")
	assert.ErrorContains(t, err, "not has_many")
	_, err = users[0].Many(ctx, "nope")
	assert.ErrorContains(t, err, "unknown relation")
}
