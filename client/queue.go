package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/RezaEskandarii/pgqueue/internal/message_broaker"
	"github.com/RezaEskandarii/pgqueue/internal/state"
	"github.com/RezaEskandarii/pgqueue/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Migrator brings the schema up to date before a Queue starts.
type Migrator func(ctx context.Context) error

type QueueOption func(*Queue)

func WithMigrator(m Migrator) QueueOption {
	return func(q *Queue) { q.migrate = m }
}

// WithCloser registers extra resources, such as a shared *sql.DB or redis
// client, that Destroy closes after the broker and store.
func WithCloser(c io.Closer) QueueOption {
	return func(q *Queue) { q.closers = append(q.closers, c) }
}

func WithLogger(logger *logrus.Entry) QueueOption {
	return func(q *Queue) { q.log = logger }
}

// Queue ties a Publisher and a Runner that share one store and broker.
type Queue struct {
	publisher *Publisher
	runner    *Runner
	store     store.JobStore
	broker    message_broaker.MessageBroker
	migrate   Migrator
	closers   []io.Closer
	log       *logrus.Entry

	mu        sync.Mutex
	started   bool
	destroyed bool
}

func NewQueue(publisher *Publisher, runner *Runner, jobStore store.JobStore, broker message_broaker.MessageBroker, opts ...QueueOption) *Queue {
	q := &Queue{
		publisher: publisher,
		runner:    runner,
		store:     jobStore,
		broker:    broker,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.log == nil {
		q.log = logrus.NewEntry(logrus.StandardLogger())
	}
	q.log = q.log.WithField("component", "queue")
	return q
}

func (q *Queue) Publisher() *Publisher { return q.publisher }

func (q *Queue) Runner() *Runner { return q.runner }

// Start runs pending migrations and starts the runner. Calling it again is a no-op.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.destroyed {
		return errors.New("queue has been destroyed")
	}
	if q.started {
		return nil
	}
	if q.migrate != nil {
		if err := q.migrate(ctx); err != nil {
			return fmt.Errorf("start queue: %w", err)
		}
	}
	q.runner.Start()
	q.started = true
	q.log.WithField("worker_id", q.runner.WorkerID()).Info("queue started")
	return nil
}

func (q *Queue) Register(category string, handler HandlerFunc) error {
	return q.runner.Register(category, handler)
}

func (q *Queue) Publish(ctx context.Context, category string, args any, opts ...PublishOption) (*Job, error) {
	return q.publisher.Publish(ctx, category, args, opts...)
}

// Stats counts jobs per status.
func (q *Queue) Stats(ctx context.Context) (map[state.JobStatus]int, error) {
	return q.store.CountJobsGroupedByStatus(ctx)
}

// Destroy stops both work loops and closes every connection the queue owns.
// It is safe to call more than once.
func (q *Queue) Destroy() error {
	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return nil
	}
	q.destroyed = true
	q.mu.Unlock()

	var g errgroup.Group
	g.Go(q.publisher.Destroy)
	g.Go(q.runner.Destroy)
	errs := []error{g.Wait()}

	if q.broker != nil {
		errs = append(errs, q.broker.Close())
	}
	if q.store != nil {
		errs = append(errs, q.store.Close())
	}
	for _, c := range q.closers {
		errs = append(errs, c.Close())
	}

	q.log.Info("queue destroyed")
	return errors.Join(errs...)
}
