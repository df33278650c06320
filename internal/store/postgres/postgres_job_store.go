package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/RezaEskandarii/pgqueue/internal/constants"
	"github.com/RezaEskandarii/pgqueue/internal/state"
	"github.com/RezaEskandarii/pgqueue/internal/store"
	"github.com/RezaEskandarii/pgqueue/types"
	"github.com/lib/pq"
)

type postgresJobStore struct {
	db *sql.DB
}

// NewPostgresJobStore creates a JobStore backed by the jobs table.
func NewPostgresJobStore(db *sql.DB) store.JobStore {
	return &postgresJobStore{db: db}
}

func (s *postgresJobStore) Insert(ctx context.Context, job types.NewJob) (int64, error) {
	args, err := types.CanonicalArgs(job.Args)
	if err != nil {
		return 0, err
	}
	queue := job.Queue
	if queue == "" {
		queue = constants.DefaultQueueName
	}
	timeout := store.StoredTimeout(job.Timeout)

	query := `
		INSERT INTO jobs (
			category,
			args,
			queue,
			priority,
			timeout
		)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var id int64
	err = s.db.QueryRowContext(ctx, query,
		job.Category,
		string(args),
		queue,
		job.Priority,
		int64(timeout/time.Second),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

func (s *postgresJobStore) FindByID(ctx context.Context, id int64) (*types.Job, error) {
	query := `
		SELECT id, category, args, queue, status, priority, timeout,
		       created_at, finished_at, result
		FROM jobs
		WHERE id = $1
	`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job with ID %d not found: %w", id, err)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *postgresJobStore) ClaimBatch(ctx context.Context, opts store.ClaimOptions) (store.Claim, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}

	jobs, err := s.claim(ctx, tx, opts)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if len(jobs) == 0 {
		if err := tx.Rollback(); err != nil {
			return nil, fmt.Errorf("rollback empty claim: %w", err)
		}
		return nil, nil
	}
	return &postgresClaim{tx: tx, jobs: jobs}, nil
}

func (s *postgresJobStore) claim(ctx context.Context, tx *sql.Tx, opts store.ClaimOptions) ([]types.Job, error) {
	if opts.LeaseTimeout > 0 {
		// SET does not take bind parameters; the value is an integer we computed.
		stmt := fmt.Sprintf("SET LOCAL idle_in_transaction_session_timeout = %d", opts.LeaseTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("set lease timeout: %w", err)
		}
	}

	queues, err := pendingQueues(ctx, tx, opts.MinPriority)
	if err != nil {
		return nil, err
	}

	for _, queue := range queues {
		var locked bool
		err := tx.QueryRowContext(ctx,
			`SELECT pg_try_advisory_xact_lock($1, hashtext($2))`,
			constants.QueueLockNamespace, queue,
		).Scan(&locked)
		if err != nil {
			return nil, fmt.Errorf("lock queue %q: %w", queue, err)
		}
		if !locked {
			continue
		}

		jobs, err := lockQueueJobs(ctx, tx, queue, opts.MinPriority)
		if err != nil {
			return nil, err
		}
		if len(jobs) > 0 {
			return jobs, nil
		}
	}
	return nil, nil
}

// pendingQueues lists queues with unfulfilled work, the one holding the
// globally oldest job first.
func pendingQueues(ctx context.Context, tx *sql.Tx, minPriority int) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT queue
		FROM jobs
		WHERE status = $1 AND priority >= $2
		GROUP BY queue
		ORDER BY MIN(created_at), MIN(id)
	`, state.StatusUnfulfilled, minPriority)
	if err != nil {
		return nil, fmt.Errorf("list pending queues: %w", err)
	}
	defer rows.Close()

	var queues []string
	for rows.Next() {
		var queue string
		if err := rows.Scan(&queue); err != nil {
			return nil, err
		}
		queues = append(queues, queue)
	}
	return queues, rows.Err()
}

func lockQueueJobs(ctx context.Context, tx *sql.Tx, queue string, minPriority int) ([]types.Job, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, category, args, queue, status, priority, timeout,
		       created_at, finished_at, result
		FROM jobs
		WHERE status = $1 AND queue = $2 AND priority >= $3
		ORDER BY created_at, id
		FOR UPDATE SKIP LOCKED
	`, state.StatusUnfulfilled, queue, minPriority)
	if err != nil {
		return nil, fmt.Errorf("lock jobs in queue %q: %w", queue, err)
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *postgresJobStore) FindFinished(ctx context.Context, ids []int64) ([]types.JobResult, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, result
		FROM jobs
		WHERE status <> $1 AND id = ANY($2)
	`, state.StatusUnfulfilled, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("find finished jobs: %w", err)
	}
	defer rows.Close()

	var results []types.JobResult
	for rows.Next() {
		var (
			res    types.JobResult
			result []byte
		)
		if err := rows.Scan(&res.JobID, &res.Status, &result); err != nil {
			return nil, err
		}
		if result != nil {
			res.Result = json.RawMessage(result)
		} else {
			res.Result = json.RawMessage("null")
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

func (s *postgresJobStore) CountJobsGroupedByStatus(ctx context.Context) (map[state.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) AS count
		FROM jobs
		GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[state.JobStatus]int)
	for rows.Next() {
		var status state.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		result[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, status := range state.AllStatuses {
		if _, ok := result[status]; !ok {
			result[status] = 0
		}
	}
	return result, nil
}

func (s *postgresJobStore) Close() error {
	return s.db.Close()
}

type postgresClaim struct {
	tx   *sql.Tx
	jobs []types.Job
}

func (c *postgresClaim) Jobs() []types.Job {
	return c.jobs
}

func (c *postgresClaim) Tx() *sql.Tx {
	return c.tx
}

func (c *postgresClaim) Finish(ctx context.Context, ids []int64, status state.JobStatus, result json.RawMessage) error {
	if !state.IsValidTransition(state.StatusUnfulfilled, status) {
		return fmt.Errorf("invalid terminal status %q", status)
	}
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	res, err := c.tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1,
		    result = $2,
		    finished_at = now()
		WHERE id = ANY($3) AND status = $4
	`, status, string(result), pq.Array(ids), state.StatusUnfulfilled)
	if err != nil {
		return fmt.Errorf("finish jobs %v: %w", ids, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != int64(len(ids)) {
		return fmt.Errorf("finish jobs %v: updated %d of %d rows", ids, affected, len(ids))
	}
	return nil
}

func (c *postgresClaim) Commit() error {
	return c.tx.Commit()
}

func (c *postgresClaim) Rollback() error {
	return c.tx.Rollback()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*types.Job, error) {
	var (
		job            types.Job
		args, result   []byte
		timeoutSeconds int64
		finishedAt     sql.NullTime
	)
	if err := row.Scan(
		&job.ID,
		&job.Category,
		&args,
		&job.Queue,
		&job.Status,
		&job.Priority,
		&timeoutSeconds,
		&job.CreatedAt,
		&finishedAt,
		&result,
	); err != nil {
		return nil, err
	}
	job.Args = json.RawMessage(args)
	job.Timeout = time.Duration(timeoutSeconds) * time.Second
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	if result != nil {
		job.Result = json.RawMessage(result)
	}
	return &job, nil
}

// IsConcurrencyConflict reports whether err is a serialization failure or a
// deadlock, both of which are resolved by retrying the claim.
func IsConcurrencyConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}
