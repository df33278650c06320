package lock

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

const lockTimeout = 5 * time.Second

// PostgresDistributedLockManager takes session-level advisory locks. A session
// lock belongs to the connection that took it, so each held lock pins its own
// connection out of the pool until it is released.
type PostgresDistributedLockManager struct {
	db    *sql.DB
	mu    sync.Mutex
	conns map[int]*sql.Conn
}

func NewPostgresDistributedLockManager(db *sql.DB) *PostgresDistributedLockManager {
	return &PostgresDistributedLockManager{
		db:    db,
		conns: make(map[int]*sql.Conn),
	}
}

func (l *PostgresDistributedLockManager) Acquire(ctx context.Context, lockID int) error {
	l.mu.Lock()
	if _, held := l.conns[lockID]; held {
		l.mu.Unlock()
		return fmt.Errorf("failed to acquire lock: lock %d already held by this process", lockID)
	}
	// Reserve the slot so a concurrent Acquire of the same id fails fast.
	l.conns[lockID] = nil
	l.mu.Unlock()

	conn, err := l.lock(ctx, lockID)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		delete(l.conns, lockID)
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.conns[lockID] = conn
	return nil
}

func (l *PostgresDistributedLockManager) lock(ctx context.Context, lockID int) (*sql.Conn, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (l *PostgresDistributedLockManager) Release(ctx context.Context, lockID int) error {
	l.mu.Lock()
	conn := l.conns[lockID]
	if conn != nil {
		delete(l.conns, lockID)
	}
	l.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("failed to release lock: lock %d is not held", lockID)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", lockID); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	return nil
}
