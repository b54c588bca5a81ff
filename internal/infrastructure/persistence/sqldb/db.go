package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Ashour158/People-sub002/internal/application/port"
	"github.com/Ashour158/People-sub002/pkg/database"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const txKey contextKey = "tx"

// DB wraps a database connection and implements port.TransactionManager.
// Repositories obtain their executor from it, so they join a transaction
// carried in the context.
type DB struct {
	db      *sql.DB
	dialect database.Dialect
	logger  *zap.Logger
}

// NewDB creates a new database wrapper
func NewDB(db *database.DB, logger *zap.Logger) *DB {
	return &DB{
		db:      db.DB,
		dialect: db.Dialect,
		logger:  logger,
	}
}

// Dialect returns the SQL dialect of the connection
func (db *DB) Dialect() database.Dialect {
	return db.dialect
}

// WithTransaction implements port.TransactionManager
// Executes the provided function within a database transaction
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	// Check if already in a transaction
	if tx := extractTx(ctx); tx != nil {
		// Reuse existing transaction
		return fn(ctx)
	}

	// Start new transaction
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		db.logger.Error("Failed to begin transaction", zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Add transaction to context
	txCtx := context.WithValue(ctx, txKey, tx)

	// Handle panic and ensure rollback
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			db.logger.Error("Transaction panicked, rolled back", zap.Any("panic", p))
			panic(p)
		}
	}()

	// Execute function
	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
		return classify(err)
	}

	// Commit transaction
	if err := tx.Commit(); err != nil {
		db.logger.Error("Failed to commit transaction", zap.Error(err))
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}

// InTransaction reports whether ctx carries a transaction
func InTransaction(ctx context.Context) bool {
	return extractTx(ctx) != nil
}

// extractTx retrieves transaction from context if present
func extractTx(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// Executor returns the transaction in ctx, or the database itself
func (db *DB) Executor(ctx context.Context) Executor {
	if tx := extractTx(ctx); tx != nil {
		return tx
	}
	return db.db
}

// Executor covers both *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Ping verifies the connection is alive
func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Verify interface compliance
var _ port.TransactionManager = (*DB)(nil)

// classify marks errors of an aborted transaction that is worth running
// again with port.ErrTransactionConflict
func classify(err error) error {
	if database.IsTransientConflict(err) && !errors.Is(err, port.ErrTransactionConflict) {
		return fmt.Errorf("%w: %w", port.ErrTransactionConflict, err)
	}
	return err
}
