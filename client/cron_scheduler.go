package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NextRun returns the first activation of expr strictly after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression '%s': %w", expr, err)
	}
	return schedule.Next(from), nil
}

// CronScheduler publishes a job every time a cron expression fires. Ticks from
// several processes publish identical jobs, which runners coalesce while they
// are still pending.
type CronScheduler struct {
	publisher *Publisher
	cron      *cron.Cron
	log       *logrus.Entry

	mu      sync.Mutex
	running bool
}

func NewCronScheduler(publisher *Publisher, logger *logrus.Entry) *CronScheduler {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &CronScheduler{
		publisher: publisher,
		cron:      cron.New(cron.WithParser(cronParser)),
		log:       logger.WithField("component", "cron"),
	}
}

// Schedule accepts five-field expressions and descriptors such as "@every 1m"
// or "@daily".
func (s *CronScheduler) Schedule(expression, category string, args any, opts ...PublishOption) (cron.EntryID, error) {
	if category == "" {
		return 0, fmt.Errorf("schedule %q: category is required", expression)
	}
	id, err := s.cron.AddFunc(expression, func() {
		s.tick(expression, category, args, opts)
	})
	if err != nil {
		return 0, fmt.Errorf("schedule %s: %w", category, err)
	}
	s.log.WithFields(logrus.Fields{
		"category":   category,
		"expression": expression,
	}).Info("cron job scheduled")
	return id, nil
}

func (s *CronScheduler) tick(expression, category string, args any, opts []PublishOption) {
	entry := s.log.WithFields(logrus.Fields{
		"category":   category,
		"expression": expression,
	})
	job, err := s.publisher.Publish(context.Background(), category, args, opts...)
	if err != nil {
		entry.WithError(err).Error("failed to publish cron job")
		return
	}
	entry.WithField("job_id", job.ID()).Debug("cron job published")
}

// Unschedule removes a previously scheduled entry.
func (s *CronScheduler) Unschedule(id cron.EntryID) {
	s.cron.Remove(id)
}

func (s *CronScheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

func (s *CronScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
}

// Stop prevents further ticks and waits for running ones to return, or for ctx.
func (s *CronScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
