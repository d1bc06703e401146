//go:build integration
// +build integration

package test

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coregx/recora"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO required)
)

// DatabaseSetup encapsulates a client, its backing container, and a
// counter of executed statements for batching assertions.
type DatabaseSetup struct {
	Client     *recora.Client
	Container  testcontainers.Container
	Dialect    string
	Statements *atomic.Int64
}

// Close cleans up database resources.
func (ds *DatabaseSetup) Close() {
	if ds.Client != nil {
		ds.Client.Close() //nolint:errcheck
	}
	if ds.Container != nil {
		ds.Container.Terminate(context.Background()) //nolint:errcheck
	}
}

// NewRegistry declares the users/posts schema shared by all
// integration tests.
func NewRegistry(t *testing.T) *recora.Registry {
	t.Helper()
	reg := recora.NewRegistry()
	require.NoError(t, reg.Register(recora.TableSpec{
		Name: "users",
		Columns: []recora.Column{
			{Name: "id", PrimaryKey: true},
			{Name: "email"},
			{Name: "name"},
			{Name: "age"},
			{Name: "status"},
		},
		Relations: []recora.RelationSpec{
			{
				Name: "posts", Kind: recora.HasMany,
				SourceColumns: []string{"id"}, TargetTable: "posts", TargetColumns: []string{"user_id"},
				Order: []recora.OrderSpec{{Column: "id"}},
			},
			{
				Name: "latest_posts", Kind: recora.HasMany,
				SourceColumns: []string{"id"}, TargetTable: "posts", TargetColumns: []string{"user_id"},
				Limit: 2, Order: []recora.OrderSpec{{Column: "id", Desc: true}},
			},
			{
				Name: "bounded_posts", Kind: recora.HasMany,
				SourceColumns: []string{"id"}, TargetTable: "posts", TargetColumns: []string{"user_id"},
				HardLimit: 2,
			},
		},
	}))
	require.NoError(t, reg.Register(recora.TableSpec{
		Name: "posts",
		Columns: []recora.Column{
			{Name: "id", PrimaryKey: true},
			{Name: "user_id"},
			{Name: "title"},
			{Name: "content"},
		},
		Relations: []recora.RelationSpec{
			{
				Name: "author", Kind: recora.BelongsTo,
				SourceColumns: []string{"user_id"}, TargetTable: "users", TargetColumns: []string{"id"},
			},
		},
	}))
	require.NoError(t, reg.Link())
	return reg
}

func open(t *testing.T, driver, dsn string) (*recora.Client, *atomic.Int64) {
	t.Helper()
	var statements atomic.Int64
	c, err := recora.Open(driver, dsn, NewRegistry(t),
		recora.WithQueryHook(func(_ context.Context, _ recora.QueryEvent) {
			statements.Add(1)
		}),
	)
	require.NoError(t, err)
	return c, &statements
}

// SetupPostgreSQLTestDB creates a PostgreSQL test database.
// Uses testcontainers if available, falls back to env DSN.
func SetupPostgreSQLTestDB(t *testing.T) *DatabaseSetup {
	ctx := context.Background()

	// Check for manual DSN first (allows testing without Docker)
	if dsn := os.Getenv("POSTGRES_TEST_DSN"); dsn != "" {
		c, n := open(t, "postgres", dsn)
		return &DatabaseSetup{Client: c, Dialect: "postgres", Statements: n}
	}

	pgContainer, err := postgres.Run(
		ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skip("Docker not available for PostgreSQL integration tests: " + err.Error())
	}

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	c, n := open(t, "postgres", dsn)
	return &DatabaseSetup{Client: c, Container: pgContainer, Dialect: "postgres", Statements: n}
}

// SetupMySQLTestDB creates a MySQL test database.
// Uses testcontainers if available, falls back to env DSN.
func SetupMySQLTestDB(t *testing.T) *DatabaseSetup {
	ctx := context.Background()

	if dsn := os.Getenv("MYSQL_TEST_DSN"); dsn != "" {
		c, n := open(t, "mysql", dsn)
		return &DatabaseSetup{Client: c, Dialect: "mysql", Statements: n}
	}

	mysqlContainer, err := mysql.Run(
		ctx,
		"mysql:8.0",
		mysql.WithDatabase("testdb"),
		mysql.WithUsername("user"),
		mysql.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("port: 3306  MySQL Community Server").
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skip("Docker not available for MySQL integration tests: " + err.Error())
	}

	dsn, err := mysqlContainer.ConnectionString(ctx)
	require.NoError(t, err)

	c, n := open(t, "mysql", dsn)
	return &DatabaseSetup{Client: c, Container: mysqlContainer, Dialect: "mysql", Statements: n}
}

// SetupSQLiteTestDB creates an in-memory SQLite database.
// Always works, no external dependencies.
func SetupSQLiteTestDB(t *testing.T) *DatabaseSetup {
	c, n := open(t, "sqlite", ":memory:")
	// One shared in-memory database requires one connection.
	c.Executor().(*recora.SQLExecutor).DB().SetMaxOpenConns(1)
	return &DatabaseSetup{Client: c, Dialect: "sqlite", Statements: n}
}

// CreateSchema creates the users and posts tables for the setup's
// dialect, dropping any previous run's leftovers first.
func CreateSchema(t *testing.T, ds *DatabaseSetup) {
	ctx := context.Background()

	var usersSQL, postsSQL string
	switch ds.Dialect {
	case "postgres":
		usersSQL = `
			CREATE TABLE users (
				id BIGSERIAL PRIMARY KEY,
				email VARCHAR(255) UNIQUE NOT NULL,
				name VARCHAR(255),
				age INTEGER,
				status VARCHAR(50) DEFAULT 'active'
			)
		`
		postsSQL = `
			CREATE TABLE posts (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT,
				title VARCHAR(255),
				content TEXT
			)
		`
	case "mysql":
		usersSQL = `
			CREATE TABLE users (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				email VARCHAR(255) UNIQUE NOT NULL,
				name VARCHAR(255),
				age INT,
				status VARCHAR(50) DEFAULT 'active'
			)
		`
		postsSQL = `
			CREATE TABLE posts (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				user_id BIGINT,
				title VARCHAR(255),
				content TEXT
			)
		`
	case "sqlite":
		usersSQL = `
			CREATE TABLE users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				email VARCHAR(255) UNIQUE NOT NULL,
				name VARCHAR(255),
				age INTEGER,
				status VARCHAR(50) DEFAULT 'active'
			)
		`
		postsSQL = `
			CREATE TABLE posts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER,
				title VARCHAR(255),
				content TEXT
			)
		`
	}

	for _, stmt := range []string{"DROP TABLE IF EXISTS posts", "DROP TABLE IF EXISTS users", usersSQL, postsSQL} {
		_, err := ds.Client.Exec(ctx, stmt)
		require.NoError(t, err)
	}
	ds.Statements.Store(0)
}

// InsertTestUsers inserts count users and returns their keys.
func InsertTestUsers(t *testing.T, c *recora.Client, count int) *recora.PkeyResult {
	rows := make([]map[string]any, count)
	for i := 1; i <= count; i++ {
		rows[i-1] = map[string]any{
			"email": fmt.Sprintf("user%d@example.com", i),
			"name":  fmt.Sprintf("User%d", i),
			"age":   20 + (i % 50), // Ages 20-70
		}
	}
	keys, err := c.CreateMany(context.Background(), "users", rows)
	require.NoError(t, err)
	require.Equal(t, count, keys.Len())
	return keys
}

// InsertTestPosts inserts count posts belonging to userID.
func InsertTestPosts(t *testing.T, c *recora.Client, userID any, count int) {
	rows := make([]map[string]any, count)
	for i := 1; i <= count; i++ {
		rows[i-1] = map[string]any{
			"user_id": userID,
			"title":   fmt.Sprintf("Post %d", i),
			"content": fmt.Sprintf("Content of post %d", i),
		}
	}
	_, err := c.CreateMany(context.Background(), "posts", rows)
	require.NoError(t, err)
}

// String tolerates drivers that scan text columns as []byte.
func String(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ForEachDialect runs fn once per reachable backend.
func ForEachDialect(t *testing.T, fn func(t *testing.T, ds *DatabaseSetup)) {
	setups := map[string]func(*testing.T) *DatabaseSetup{
		"sqlite":   SetupSQLiteTestDB,
		"postgres": SetupPostgreSQLTestDB,
		"mysql":    SetupMySQLTestDB,
	}
	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			ds := setup(t)
			defer ds.Close()
			CreateSchema(t, ds)
			fn(t, ds)
		})
	}
}
