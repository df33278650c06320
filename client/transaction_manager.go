package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrTransactionInProgress = errors.New("transaction already in progress")
	ErrNoTransaction         = errors.New("no transaction in progress")
)

// TransactionManager runs statements either directly against the pool or, between
// Begin and Commit/Rollback, inside a single transaction. It never nests.
type TransactionManager struct {
	db *sql.DB
	mu sync.Mutex
	tx *sql.Tx
}

func NewTransactionManager(db *sql.DB) *TransactionManager {
	return &TransactionManager{db: db}
}

func (m *TransactionManager) Begin(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tx != nil {
		return ErrTransactionInProgress
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	m.tx = tx
	return nil
}

func (m *TransactionManager) Commit() error {
	tx, err := m.detach()
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (m *TransactionManager) Rollback() error {
	tx, err := m.detach()
	if err != nil {
		return err
	}
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

func (m *TransactionManager) detach() (*sql.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tx == nil {
		return nil, ErrNoTransaction
	}
	tx := m.tx
	m.tx = nil
	return tx, nil
}

// Tx returns the open transaction, or nil.
func (m *TransactionManager) Tx() *sql.Tx {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx
}

func (m *TransactionManager) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if tx := m.Tx(); tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return m.db.ExecContext(ctx, query, args...)
}

func (m *TransactionManager) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := m.Tx(); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return m.db.QueryContext(ctx, query, args...)
}

func (m *TransactionManager) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	if tx := m.Tx(); tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return m.db.QueryRowContext(ctx, query, args...)
}

// WithTransaction runs fn inside a new transaction. The transaction commits
// when fn returns nil and rolls back when fn fails or panics; a panic is
// re-raised after the rollback.
func (m *TransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) (err error) {
	if err := m.Begin(ctx); err != nil {
		return err
	}
	tx := m.Tx()

	defer func() {
		if p := recover(); p != nil {
			_ = m.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := m.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return m.Commit()
}
