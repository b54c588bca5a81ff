package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ashour158/People-sub002/internal/infrastructure/persistence/sqldb"
	"github.com/Ashour158/People-sub002/pkg/database"
)

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// base carries what every repository needs to run a query
type base struct {
	db *sqldb.DB
}

func (b base) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return b.db.Executor(ctx).ExecContext(ctx, b.db.Dialect().Rebind(query), args...)
}

func (b base) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return b.db.Executor(ctx).QueryContext(ctx, b.db.Dialect().Rebind(query), args...)
}

func (b base) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return b.db.Executor(ctx).QueryRowContext(ctx, b.db.Dialect().Rebind(query), args...)
}

func (b base) postgres() bool {
	return b.db.Dialect() == database.Postgres
}

// affected reports whether a conditional update matched a row
func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n > 0, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func marshalJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal json: %w", err)
	}
	return string(data), nil
}

func unmarshalMap(data string) (map[string]interface{}, error) {
	m := make(map[string]interface{})
	if data == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal json: %w", err)
	}
	return m, nil
}
