package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RezaEskandarii/pgqueue/internal/constants"
	"github.com/RezaEskandarii/pgqueue/internal/state"
	"github.com/RezaEskandarii/pgqueue/internal/store"
	"github.com/RezaEskandarii/pgqueue/types"
)

// ErrLeaseExpired is returned by a claim whose lease ran out before it was
// committed. Its locks have already been handed back.
var ErrLeaseExpired = errors.New("claim lease expired")

// JobStore keeps jobs in process memory. Queue and row locks behave like their
// PostgreSQL counterparts: a queue is held by at most one open claim, and a
// claim that is rolled back or outlives its lease releases everything it held.
type JobStore struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*types.Job
	order  []int64
	queues map[string]*memoryClaim
	rows   map[int64]*memoryClaim
	now    func() time.Time
}

// NewJobStore returns an empty in-memory store.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:   make(map[int64]*types.Job),
		queues: make(map[string]*memoryClaim),
		rows:   make(map[int64]*memoryClaim),
		now:    time.Now,
	}
}

var _ store.JobStore = (*JobStore)(nil)

func (s *JobStore) Insert(ctx context.Context, job types.NewJob) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	args, err := types.CanonicalArgs(job.Args)
	if err != nil {
		return 0, err
	}
	queue := job.Queue
	if queue == "" {
		queue = constants.DefaultQueueName
	}
	timeout := store.StoredTimeout(job.Timeout)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.jobs[id] = &types.Job{
		ID:        id,
		Category:  job.Category,
		Args:      args,
		Queue:     queue,
		Status:    state.StatusUnfulfilled,
		Priority:  job.Priority,
		Timeout:   timeout,
		CreatedAt: s.now(),
	}
	s.order = append(s.order, id)
	return id, nil
}

func (s *JobStore) FindByID(ctx context.Context, id int64) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job with ID %d not found: %w", id, sql.ErrNoRows)
	}
	cp := *job
	return &cp, nil
}

func (s *JobStore) ClaimBatch(ctx context.Context, opts store.ClaimOptions) (store.Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLeasesLocked()

	for _, queue := range s.pendingQueuesLocked(opts.MinPriority) {
		if _, held := s.queues[queue]; held {
			continue
		}

		var jobs []types.Job
		for _, id := range s.order {
			job := s.jobs[id]
			if job.Queue != queue || job.Status != state.StatusUnfulfilled || job.Priority < opts.MinPriority {
				continue
			}
			if _, locked := s.rows[id]; locked {
				continue
			}
			jobs = append(jobs, *job)
		}
		if len(jobs) == 0 {
			continue
		}

		c := &memoryClaim{
			store:  s,
			queue:  queue,
			jobs:   jobs,
			staged: make(map[int64]stagedResult),
		}
		if opts.LeaseTimeout > 0 {
			c.deadline = s.now().Add(opts.LeaseTimeout)
		}
		s.queues[queue] = c
		for _, job := range jobs {
			s.rows[job.ID] = c
		}
		return c, nil
	}
	return nil, nil
}

// pendingQueuesLocked lists queues with unfulfilled work, oldest job first.
// Insertion order is creation order, so the first sighting of a queue is its
// oldest job.
func (s *JobStore) pendingQueuesLocked(minPriority int) []string {
	seen := make(map[string]struct{})
	var queues []string
	for _, id := range s.order {
		job := s.jobs[id]
		if job.Status != state.StatusUnfulfilled || job.Priority < minPriority {
			continue
		}
		if _, ok := seen[job.Queue]; !ok {
			seen[job.Queue] = struct{}{}
			queues = append(queues, job.Queue)
		}
	}
	return queues
}

func (s *JobStore) expireLeasesLocked() {
	now := s.now()
	for _, c := range s.queues {
		if !c.deadline.IsZero() && now.After(c.deadline) {
			c.expired = true
			s.releaseLocked(c)
		}
	}
}

func (s *JobStore) releaseLocked(c *memoryClaim) {
	if s.queues[c.queue] == c {
		delete(s.queues, c.queue)
	}
	for _, job := range c.jobs {
		if s.rows[job.ID] == c {
			delete(s.rows, job.ID)
		}
	}
	c.done = true
}

func (s *JobStore) FindFinished(ctx context.Context, ids []int64) ([]types.JobResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []types.JobResult
	for _, id := range ids {
		job, ok := s.jobs[id]
		if !ok || !job.Status.IsTerminal() {
			continue
		}
		results = append(results, types.JobResult{
			JobID:  id,
			Status: job.Status,
			Result: job.Result,
		})
	}
	return results, nil
}

func (s *JobStore) CountJobsGroupedByStatus(ctx context.Context) (map[state.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[state.JobStatus]int)
	for _, status := range state.AllStatuses {
		result[status] = 0
	}
	for _, job := range s.jobs {
		result[job.Status]++
	}
	return result, nil
}

func (s *JobStore) Close() error {
	return nil
}

type stagedResult struct {
	status state.JobStatus
	result json.RawMessage
}

type memoryClaim struct {
	store    *JobStore
	queue    string
	jobs     []types.Job
	staged   map[int64]stagedResult
	deadline time.Time
	done     bool
	expired  bool
}

func (c *memoryClaim) Jobs() []types.Job {
	return c.jobs
}

func (c *memoryClaim) Tx() *sql.Tx {
	return nil
}

func (c *memoryClaim) Finish(ctx context.Context, ids []int64, status state.JobStatus, result json.RawMessage) error {
	if !state.IsValidTransition(state.StatusUnfulfilled, status) {
		return fmt.Errorf("invalid terminal status %q", status)
	}
	if len(result) == 0 {
		result = json.RawMessage("null")
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	if err := c.checkOpenLocked(); err != nil {
		return err
	}
	for _, id := range ids {
		if c.store.rows[id] != c {
			return fmt.Errorf("finish jobs %v: job %d is not held by this claim", ids, id)
		}
		if _, ok := c.staged[id]; ok {
			return fmt.Errorf("finish jobs %v: job %d already finished", ids, id)
		}
	}
	for _, id := range ids {
		c.staged[id] = stagedResult{status: status, result: result}
	}
	return nil
}

func (c *memoryClaim) Commit() error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	if err := c.checkOpenLocked(); err != nil {
		return err
	}
	now := c.store.now()
	for id, staged := range c.staged {
		job := c.store.jobs[id]
		if job.Status != state.StatusUnfulfilled {
			continue
		}
		finishedAt := now
		job.Status = staged.status
		job.Result = staged.result
		job.FinishedAt = &finishedAt
	}
	c.store.releaseLocked(c)
	return nil
}

func (c *memoryClaim) Rollback() error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	if c.done {
		return sql.ErrTxDone
	}
	c.store.releaseLocked(c)
	return nil
}

func (c *memoryClaim) checkOpenLocked() error {
	if !c.done && !c.deadline.IsZero() && c.store.now().After(c.deadline) {
		c.expired = true
		c.store.releaseLocked(c)
	}
	if c.expired {
		return ErrLeaseExpired
	}
	if c.done {
		return sql.ErrTxDone
	}
	return nil
}
