package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RezaEskandarii/pgqueue/custom_errors"
	"github.com/RezaEskandarii/pgqueue/internal/constants"
	"github.com/RezaEskandarii/pgqueue/internal/message_broaker"
	"github.com/RezaEskandarii/pgqueue/internal/state"
	"github.com/RezaEskandarii/pgqueue/internal/store"
	"github.com/RezaEskandarii/pgqueue/internal/workloop"
	"github.com/sirupsen/logrus"
)

// notificationRelay settles the jobs a publisher is waiting on. Its work loop
// starts with the first registered job and drains finished rows whenever a
// completion notification arrives or the poll interval elapses.
type notificationRelay struct {
	store  store.JobStore
	broker message_broaker.MessageBroker
	loop   *workloop.WorkLoop
	log    *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	awaiting   map[int64]*Job
	started    bool
	destroyed  bool
	publishing sync.WaitGroup
}

func newNotificationRelay(jobStore store.JobStore, broker message_broaker.MessageBroker, pollInterval time.Duration, logger *logrus.Entry) *notificationRelay {
	ctx, cancel := context.WithCancel(context.Background())
	return &notificationRelay{
		store:    jobStore,
		broker:   broker,
		loop:     workloop.New("notification-relay", pollInterval, logger),
		log:      logger,
		ctx:      ctx,
		cancel:   cancel,
		awaiting: make(map[int64]*Job),
	}
}

// reserve admits one publish. The caller must register its job, if any, before
// calling release; destroy waits for every admitted publish to do so.
func (r *notificationRelay) reserve() (release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return nil, ErrPublisherDestroyed
	}
	r.publishing.Add(1)
	return r.publishing.Done, nil
}

// register starts awaiting job. It is only called inside a reservation.
func (r *notificationRelay) register(job *Job) {
	r.mu.Lock()
	r.awaiting[job.ID()] = job
	start := !r.started
	r.started = true
	r.mu.Unlock()

	if start {
		r.loop.Run(r.run)
	}
	// The job may already have finished before we were listening for it.
	r.loop.Wake()
}

func (r *notificationRelay) run(loop *workloop.WorkLoop) error {
	msgs, err := r.broker.Consume(r.ctx, constants.JobsFinishedChannel)
	if err != nil {
		r.log.WithError(err).Warn("failed to subscribe to finished jobs, falling back to polling")
	} else {
		go func() {
			for range msgs {
				loop.Wake()
			}
		}()
	}

	for !loop.ShuttingDown() {
		if err := r.drain(r.ctx); err != nil {
			r.log.WithError(err).Error("failed to drain finished jobs")
		}
		loop.Sleep()
	}
	return nil
}

// drain settles every awaited job that has reached a terminal status, and
// repeats until a pass finds nothing new.
func (r *notificationRelay) drain(ctx context.Context) error {
	for {
		ids := r.awaitedIDs()
		if len(ids) == 0 {
			return nil
		}

		results, err := r.store.FindFinished(ctx, ids)
		if err != nil {
			return fmt.Errorf("drain notifications: %w", err)
		}
		if len(results) == 0 {
			return nil
		}

		for _, res := range results {
			job := r.take(res.JobID)
			if job == nil {
				continue
			}
			switch res.Status {
			case state.StatusResolved:
				job.fulfill(res.Result)
			case state.StatusRejected:
				job.reject(&custom_errors.JobFailure{JobID: res.JobID, Document: res.Result})
			default:
				job.reject(fmt.Errorf("job %d finished with unknown status %q", res.JobID, res.Status))
			}
			r.log.WithFields(logrus.Fields{
				"job_id": res.JobID,
				"status": res.Status,
			}).Debug("job settled")
		}
	}
}

func (r *notificationRelay) awaitedIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]int64, 0, len(r.awaiting))
	for id := range r.awaiting {
		ids = append(ids, id)
	}
	return ids
}

func (r *notificationRelay) take(id int64) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	job := r.awaiting[id]
	delete(r.awaiting, id)
	return job
}

func (r *notificationRelay) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.awaiting)
}

// destroy refuses new publishes, waits for admitted ones to register, then
// stops the loop and rejects whatever is still pending.
func (r *notificationRelay) destroy() error {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return nil
	}
	r.destroyed = true
	r.mu.Unlock()

	r.publishing.Wait()

	err := r.loop.ShutDown()
	r.cancel()

	r.mu.Lock()
	pending := r.awaiting
	r.awaiting = make(map[int64]*Job)
	r.mu.Unlock()

	for _, job := range pending {
		job.reject(ErrPublisherDestroyed)
	}
	return err
}
