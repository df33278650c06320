package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/RezaEskandarii/pgqueue/custom_errors"
	"github.com/RezaEskandarii/pgqueue/internal/constants"
	"github.com/RezaEskandarii/pgqueue/internal/message_broaker"
	"github.com/RezaEskandarii/pgqueue/internal/state"
	"github.com/RezaEskandarii/pgqueue/internal/store"
	pgstore "github.com/RezaEskandarii/pgqueue/internal/store/postgres"
	"github.com/RezaEskandarii/pgqueue/internal/workloop"
	"github.com/RezaEskandarii/pgqueue/types"
	"github.com/RezaEskandarii/pgqueue/types/config"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type HandlerFunc = config.HandlerFunc

var ErrHandlerNotFound = config.ErrHandlerNotFound

// RunnerOptions tunes a Runner. Zero values fall back to the package defaults.
type RunnerOptions struct {
	PollInterval  time.Duration
	MaxJobTimeout time.Duration
	LeaseGrace    time.Duration
	MinPriority   int
}

func (o RunnerOptions) withDefaults() RunnerOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = config.DefaultPollInterval
	}
	if o.MaxJobTimeout <= 0 {
		o.MaxJobTimeout = config.DefaultMaxJobTimeout
	}
	if o.LeaseGrace <= 0 {
		o.LeaseGrace = config.DefaultLeaseGrace
	}
	return o
}

// RunnerOptionsFromConfig copies the runner settings out of cfg.
func RunnerOptionsFromConfig(cfg *config.QueueConfig) RunnerOptions {
	return RunnerOptions{
		PollInterval:  cfg.PollInterval,
		MaxJobTimeout: cfg.MaxJobTimeout,
		LeaseGrace:    cfg.LeaseGrace,
		MinPriority:   cfg.MinPriority,
	}
}

// Runner claims batches of jobs from a single queue at a time and executes
// them with the registered handlers. One Runner drives one work loop.
type Runner struct {
	store    store.JobStore
	broker   message_broaker.MessageBroker
	handlers *config.JobHandler
	opts     RunnerOptions
	loop     *workloop.WorkLoop
	workerID string
	log      *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	started   bool
	destroyed bool
}

func NewRunner(jobStore store.JobStore, broker message_broaker.MessageBroker, handlers *config.JobHandler, opts RunnerOptions, logger *logrus.Entry) *Runner {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if handlers == nil {
		handlers = config.NewJobHandler()
	}
	opts = opts.withDefaults()
	workerID := uuid.NewString()
	logger = logger.WithFields(logrus.Fields{
		"component": "runner",
		"worker_id": workerID,
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:    jobStore,
		broker:   broker,
		handlers: handlers,
		opts:     opts,
		loop:     workloop.New("job-runner", opts.PollInterval, logger),
		workerID: workerID,
		log:      logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (r *Runner) WorkerID() string {
	return r.workerID
}

// Register adds the handler for category. Registering a category twice fails.
func (r *Runner) Register(category string, handler HandlerFunc) error {
	return r.handlers.Register(category, handler)
}

// RegisterFunc registers a typed handler: args are decoded into A and the
// returned T becomes the job's result.
func RegisterFunc[A, T any](r *Runner, category string, fn func(ctx context.Context, args A) (T, error)) error {
	return r.Register(category, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args A
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decode args for %s: %w", category, err)
		}
		return fn(ctx, args)
	})
}

// Start begins claiming jobs. It is idempotent and does nothing once the
// runner has been destroyed.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.destroyed {
		return
	}
	r.started = true
	r.loop.Run(r.run)
	r.log.Info("runner started")
}

// Destroy stops the work loop after the in-flight batch, if any, commits.
func (r *Runner) Destroy() error {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return nil
	}
	r.destroyed = true
	r.mu.Unlock()

	err := r.loop.ShutDown()
	r.cancel()
	r.log.Info("runner stopped")
	return err
}

func (r *Runner) run(loop *workloop.WorkLoop) error {
	msgs, err := r.broker.Consume(r.ctx, constants.NewJobsChannel)
	if err != nil {
		r.log.WithError(err).Warn("failed to subscribe to new jobs, falling back to polling")
	} else {
		go func() {
			for range msgs {
				loop.Wake()
			}
		}()
	}

	for !loop.ShuttingDown() {
		found, err := r.processBatch(r.ctx)
		if err != nil {
			entry := r.log.WithError(err)
			if pgstore.IsConcurrencyConflict(err) {
				entry.Warn("batch aborted by a concurrent transaction, retrying")
			} else {
				entry.Error("failed to process batch")
			}
			loop.Sleep()
			continue
		}
		if !found {
			loop.Sleep()
		}
	}
	return nil
}

// processBatch claims, executes and finishes one batch. It reports whether any
// work was found.
func (r *Runner) processBatch(ctx context.Context) (bool, error) {
	claim, err := r.store.ClaimBatch(ctx, store.ClaimOptions{
		MinPriority:  r.opts.MinPriority,
		LeaseTimeout: r.opts.MaxJobTimeout + r.opts.LeaseGrace,
	})
	if err != nil {
		return false, fmt.Errorf("claim batch: %w", err)
	}
	if claim == nil {
		return false, nil
	}

	committed := false
	defer func() {
		if !committed {
			_ = claim.Rollback()
		}
	}()

	jobs := claim.Jobs()
	representative := jobs[0]
	ids := coalesce(jobs)

	entry := r.log.WithFields(logrus.Fields{
		"job_id":    representative.ID,
		"category":  representative.Category,
		"queue":     representative.Queue,
		"coalesced": len(ids),
	})
	entry.Debug("executing job")

	started := time.Now()
	status, result := r.execute(ctx, representative, ids)

	if err := claim.Finish(ctx, ids, status, result); err != nil {
		return true, fmt.Errorf("finish batch: %w", err)
	}

	txPublisher, transactional := r.broker.(message_broaker.TxPublisher)
	tx := claim.Tx()
	if transactional && tx != nil {
		if err := txPublisher.PublishTx(ctx, tx, constants.JobsFinishedChannel, nil); err != nil {
			return true, fmt.Errorf("notify finished: %w", err)
		}
	}

	if err := claim.Commit(); err != nil {
		return true, fmt.Errorf("commit batch: %w", err)
	}
	committed = true

	if !transactional || tx == nil {
		if err := r.broker.Publish(ctx, constants.JobsFinishedChannel, nil); err != nil {
			entry.WithError(err).Warn("failed to notify finished jobs")
		}
	}

	entry.WithFields(logrus.Fields{
		"status":   status,
		"duration": time.Since(started),
	}).Info("job finished")
	return true, nil
}

// coalesce returns the ids of the jobs that do the same work as the first,
// which are executed once and share its outcome.
func coalesce(jobs []types.Job) []int64 {
	ids := []int64{jobs[0].ID}
	for _, job := range jobs[1:] {
		if types.SameWork(jobs[0], job) {
			ids = append(ids, job.ID)
		}
	}
	return ids
}

type outcome struct {
	value any
	err   error
}

// execute runs the handler for job under its deadline. A handler error, panic
// or timeout becomes a rejection carrying the serialized failure.
func (r *Runner) execute(ctx context.Context, job types.Job, ids []int64) (state.JobStatus, json.RawMessage) {
	timeout := job.Timeout
	if timeout <= 0 || timeout > r.opts.MaxJobTimeout {
		timeout = r.opts.MaxJobTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	hctx = withJobInfo(hctx, JobInfo{
		JobID:        job.ID,
		Category:     job.Category,
		Queue:        job.Queue,
		CoalescedIDs: ids,
		WorkerID:     r.workerID,
	})

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: &custom_errors.HandlerPanicError{
					Category: job.Category,
					Value:    fmt.Sprint(p),
					Stack:    string(debug.Stack()),
				}}
			}
		}()
		value, err := r.handlers.Execute(hctx, job.Category, job.Args)
		done <- outcome{value: value, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-hctx.Done():
		// The handler keeps its goroutine until it notices the cancelled
		// context; its eventual result is discarded.
		out = outcome{err: &custom_errors.JobTimeoutError{Category: job.Category, Timeout: timeout}}
	}

	if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && errors.Is(hctx.Err(), context.DeadlineExceeded) {
		out.err = &custom_errors.JobTimeoutError{Category: job.Category, Timeout: timeout}
	}
	if out.err != nil {
		r.log.WithError(out.err).WithFields(logrus.Fields{
			"job_id":   job.ID,
			"category": job.Category,
		}).Warn("job rejected")
		return state.StatusRejected, custom_errors.SerializeError(out.err)
	}

	result, err := json.Marshal(out.value)
	if err != nil {
		return state.StatusRejected, custom_errors.SerializeError(fmt.Errorf("marshal result: %w", err))
	}
	return state.StatusResolved, result
}
