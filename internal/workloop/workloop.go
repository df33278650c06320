// Package workloop runs one long-lived function per concern that sleeps until
// it is woken, its poll interval elapses, or the loop is shut down.
package workloop

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// WorkLoop owns a single goroutine. The function handed to Run must loop until
// ShuttingDown reports true and call Sleep whenever it has nothing to do.
type WorkLoop struct {
	label        string
	pollInterval time.Duration
	log          *logrus.Entry

	wake         chan struct{}
	stop         chan struct{}
	done         chan struct{}
	shuttingDown atomic.Bool

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	err      error
}

func New(label string, pollInterval time.Duration, logger *logrus.Entry) *WorkLoop {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &WorkLoop{
		label:        label,
		pollInterval: pollInterval,
		log:          logger.WithField("workloop", label),
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (l *WorkLoop) Label() string {
	return l.label
}

// Run starts fn on its own goroutine. Only the first call has any effect, and
// nothing is started once ShutDown has been called.
func (l *WorkLoop) Run(fn func(loop *WorkLoop) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.shuttingDown.Load() {
		return
	}
	l.started = true

	go func() {
		defer close(l.done)
		err := fn(l)
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
	}()
}

func (l *WorkLoop) ShuttingDown() bool {
	return l.shuttingDown.Load()
}

// Wake resolves the current Sleep, or the next one if nobody is sleeping.
func (l *WorkLoop) Wake() {
	select {
	case l.wake <- struct{}{}:
		l.log.Debug("waking up")
	default:
	}
}

// Sleep blocks until Wake is called, the poll interval elapses or shutdown begins.
func (l *WorkLoop) Sleep() {
	if l.ShuttingDown() {
		return
	}
	timer := time.NewTimer(l.pollInterval)
	defer timer.Stop()

	select {
	case <-l.wake:
	case <-timer.C:
	case <-l.stop:
	}
}

// ShutDown flags the loop, wakes it once and waits for the running function to
// return. It returns that function's error.
func (l *WorkLoop) ShutDown() error {
	l.log.Debug("shutting down")
	l.mu.Lock()
	l.shuttingDown.Store(true)
	started := l.started
	l.mu.Unlock()

	l.stopOnce.Do(func() { close(l.stop) })
	l.Wake()

	if !started {
		return nil
	}
	<-l.done

	l.mu.Lock()
	defer l.mu.Unlock()
	l.log.Debug("completed shutdown")
	return l.err
}
