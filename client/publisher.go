package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/RezaEskandarii/pgqueue/internal/constants"
	"github.com/RezaEskandarii/pgqueue/internal/message_broaker"
	"github.com/RezaEskandarii/pgqueue/internal/store"
	"github.com/RezaEskandarii/pgqueue/types"
	"github.com/sirupsen/logrus"
)

var ErrPublisherDestroyed = errors.New("publisher has been destroyed")

type publishOptions struct {
	queue    string
	timeout  time.Duration
	priority int
}

type PublishOption func(*publishOptions)

// WithQueueName places the job in a named queue. Jobs sharing a queue run one
// at a time across every runner.
func WithQueueName(name string) PublishOption {
	return func(o *publishOptions) { o.queue = name }
}

// WithTimeout bounds how long the handler may run. Runners cap it at their
// configured maximum.
func WithTimeout(d time.Duration) PublishOption {
	return func(o *publishOptions) { o.timeout = d }
}

func WithPriority(p int) PublishOption {
	return func(o *publishOptions) { o.priority = p }
}

type Publisher struct {
	store  store.JobStore
	broker message_broaker.MessageBroker
	relay  *notificationRelay
	log    *logrus.Entry
}

func NewPublisher(jobStore store.JobStore, broker message_broaker.MessageBroker, pollInterval time.Duration, logger *logrus.Entry) *Publisher {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("component", "publisher")
	return &Publisher{
		store:  jobStore,
		broker: broker,
		relay:  newNotificationRelay(jobStore, broker, pollInterval, logger),
		log:    logger,
	}
}

// Publish stores a new job and returns a handle that settles with its result.
// args is marshalled to JSON; a json.RawMessage is used as is.
func (p *Publisher) Publish(ctx context.Context, category string, args any, opts ...PublishOption) (*Job, error) {
	if category == "" {
		return nil, errors.New("publish: category is required")
	}
	o := publishOptions{queue: constants.DefaultQueueName}
	for _, opt := range opts {
		opt(&o)
	}
	if o.queue == "" {
		o.queue = constants.DefaultQueueName
	}

	release, err := p.relay.reserve()
	if err != nil {
		return nil, err
	}
	defer release()

	payload, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("publish %s: marshal args: %w", category, err)
	}

	id, err := p.store.Insert(ctx, types.NewJob{
		Category: category,
		Args:     payload,
		Queue:    o.queue,
		Priority: o.priority,
		Timeout:  o.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("publish %s: %w", category, err)
	}

	job := newJob(id)
	p.relay.register(job)

	// The row is already durable, so a lost wake-up only delays the job until
	// the next poll.
	if err := p.broker.Publish(ctx, constants.NewJobsChannel, nil); err != nil {
		p.log.WithError(err).WithField("job_id", id).Warn("failed to notify runners")
	}

	p.log.WithFields(logrus.Fields{
		"job_id":   id,
		"category": category,
		"queue":    o.queue,
	}).Debug("job published")
	return job, nil
}

// Pending reports how many published jobs are still awaiting a result.
func (p *Publisher) Pending() int {
	return p.relay.pending()
}

// Destroy stops the relay. Publish calls already in progress finish first, and
// every job that has not settled, theirs included, is rejected with
// ErrPublisherDestroyed.
func (p *Publisher) Destroy() error {
	return p.relay.destroy()
}
