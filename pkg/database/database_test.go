package database

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "test.db"), MaxOpenConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		driver  string
		want    Dialect
		wantErr bool
	}{
		{driver: "", want: SQLite},
		{driver: "sqlite3", want: SQLite},
		{driver: "Postgres", want: Postgres},
		{driver: "pgx", want: Postgres},
		{driver: "mysql", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			got, err := ParseDialect(tt.driver)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDialect_Rebind(t *testing.T) {
	q := "UPDATE t SET a = ?, b = ? WHERE id = ?"
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, "UPDATE t SET a = $1, b = $2 WHERE id = $3", Postgres.Rebind(q))
}

func TestIsUniqueViolation(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec("CREATE TABLE u (k TEXT PRIMARY KEY, v TEXT UNIQUE)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO u (k, v) VALUES ('a', 'x')")
	require.NoError(t, err)

	_, err = db.Exec("INSERT INTO u (k, v) VALUES ('b', 'x')")
	assert.True(t, IsUniqueViolation(err))
	_, err = db.Exec("INSERT INTO u (k, v) VALUES ('a', 'y')")
	assert.True(t, IsUniqueViolation(err))

	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
}

func TestIsTransientConflict(t *testing.T) {
	assert.True(t, IsTransientConflict(&pgconn.PgError{Code: "40P01"}))
	assert.True(t, IsTransientConflict(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsTransientConflict(fmt.Errorf("failed to commit transaction: %w", &pgconn.PgError{Code: "40001"})))
	assert.False(t, IsTransientConflict(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsTransientConflict(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.False(t, IsTransientConflict(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.False(t, IsTransientConflict(errors.New("boom")))
	assert.False(t, IsTransientConflict(nil))
}

func TestMigrator_Embedded(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db, zap.NewNop())

	applied, err := m.RunMigrations()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, applied, 1)

	for _, table := range []string{"outbox_events", "workflow_definitions", "workflow_instances", "approval_tasks"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, table)
	}

	applied, err = m.RunMigrations()
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestMigrator_FailedMigrationRollsBack(t *testing.T) {
	db := openTestDB(t)
	source := fstest.MapFS{
		"001_ok.sql":     {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"002_broken.sql": {Data: []byte("CREATE TABLE b (id INTEGER); INSERT INTO missing VALUES (1);")},
		"README.md":      {Data: []byte("ignored")},
	}
	m := NewMigratorFS(db, source, zap.NewNop())

	applied, err := m.RunMigrations()
	assert.Error(t, err)
	assert.Equal(t, 1, applied)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n))
	assert.Equal(t, 1, n)
	err = db.QueryRow("SELECT COUNT(*) FROM b").Scan(&n)
	assert.Error(t, err, "table from the failed migration must not exist")
}
