package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/RezaEskandarii/pgqueue/internal/constants"
	"github.com/RezaEskandarii/pgqueue/internal/state"
	"github.com/RezaEskandarii/pgqueue/types"
)

// StoredTimeout is the timeout a store records for a job published with d.
// Timeouts are kept in whole seconds; anything under one second counts as
// unset and gets the default.
func StoredTimeout(d time.Duration) time.Duration {
	if d < time.Second {
		return constants.DefaultJobTimeout
	}
	return d.Truncate(time.Second)
}

// JobStore defines the interface for persisting and claiming queue jobs.
type JobStore interface {
	// Insert stores a new unfulfilled job and returns its ID.
	Insert(ctx context.Context, job types.NewJob) (int64, error)

	// FindByID returns a job regardless of its status.
	FindByID(ctx context.Context, id int64) (*types.Job, error)

	// ClaimBatch opens a transaction and locks every unfulfilled job of the
	// oldest queue that no other runner holds. It returns (nil, nil) when there
	// is nothing to claim; the transaction is already rolled back in that case.
	ClaimBatch(ctx context.Context, opts ClaimOptions) (Claim, error)

	// FindFinished returns the terminal rows among ids.
	FindFinished(ctx context.Context, ids []int64) ([]types.JobResult, error)

	// CountJobsGroupedByStatus reports how many jobs are in each status.
	CountJobsGroupedByStatus(ctx context.Context) (map[state.JobStatus]int, error)

	// Close releases the underlying connections.
	Close() error
}

// ClaimOptions tunes a single claim attempt.
type ClaimOptions struct {
	// MinPriority excludes jobs with a lower priority.
	MinPriority int
	// LeaseTimeout bounds how long the claiming transaction may sit idle while
	// a handler runs. Zero leaves the server default in place.
	LeaseTimeout time.Duration
}

// Claim is an open transaction holding the locks on a batch of jobs that all
// belong to the same queue, oldest first.
type Claim interface {
	Jobs() []types.Job

	// Finish records the terminal status and result for ids.
	Finish(ctx context.Context, ids []int64, status state.JobStatus, result json.RawMessage) error

	// Tx exposes the transaction for transactional notifications. Stores that
	// are not backed by SQL return nil.
	Tx() *sql.Tx

	Commit() error
	Rollback() error
}
