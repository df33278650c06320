package message_broaker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const (
	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
	listenerPingInterval = 90 * time.Second
)

// Postgres sends notifications with pg_notify and receives them on a single
// dedicated LISTEN connection shared by all consumers of the broker.
type Postgres struct {
	db     *sql.DB
	dsn    string
	logger *logrus.Entry

	mu       sync.Mutex
	listener *pq.Listener
	subs     *subscribers
	done     chan struct{}
	closed   bool

	// listenMu orders LISTEN and UNLISTEN against changes in consumer counts.
	listenMu sync.Mutex
}

// channelListener is the part of *pq.Listener that manages LISTEN state.
type channelListener interface {
	Listen(channel string) error
	Unlisten(channel string) error
}

// NewPostgres creates a broker that publishes through db and listens on its
// own connection opened from dsn. The listener connects on first Consume.
func NewPostgres(db *sql.DB, dsn string, logger *logrus.Entry) *Postgres {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Postgres{
		db:     db,
		dsn:    dsn,
		logger: logger.WithField("broker", "postgres"),
		subs:   newSubscribers(),
		done:   make(chan struct{}),
	}
}

func (p *Postgres) Publish(ctx context.Context, channel string, message []byte) error {
	if err := ValidateChannelName(channel); err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, channel, string(message)); err != nil {
		return fmt.Errorf("notify %s: %w", channel, err)
	}
	return nil
}

// PublishTx queues the notification inside tx; PostgreSQL delivers it when tx
// commits and drops it on rollback.
func (p *Postgres) PublishTx(ctx context.Context, tx *sql.Tx, channel string, message []byte) error {
	if err := ValidateChannelName(channel); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, channel, string(message)); err != nil {
		return fmt.Errorf("notify %s: %w", channel, err)
	}
	return nil
}

func (p *Postgres) Consume(ctx context.Context, channel string) (<-chan []byte, error) {
	if err := ValidateChannelName(channel); err != nil {
		return nil, err
	}
	listener, err := p.ensureListener()
	if err != nil {
		return nil, err
	}

	sub, err := p.subscribe(listener, channel)
	if err != nil {
		return nil, err
	}
	p.subs.watch(ctx, sub, p.done, func(channel string) {
		p.unlisten(listener, channel)
	})
	return sub.ch, nil
}

// subscribe adds a consumer and issues LISTEN when it is the channel's first.
func (p *Postgres) subscribe(listener channelListener, channel string) (*subscriber, error) {
	p.listenMu.Lock()
	defer p.listenMu.Unlock()

	sub, first, err := p.subs.add(channel)
	if err != nil {
		return nil, err
	}
	if first {
		if err := listener.Listen(channel); err != nil && !errors.Is(err, pq.ErrChannelAlreadyOpen) {
			p.subs.remove(sub)
			return nil, fmt.Errorf("listen %s: %w", channel, err)
		}
	}
	return sub, nil
}

// unlisten drops the LISTEN for channel unless a consumer subscribed again
// after the last one left.
func (p *Postgres) unlisten(listener channelListener, channel string) {
	p.listenMu.Lock()
	defer p.listenMu.Unlock()

	if p.subs.count(channel) > 0 {
		return
	}
	if err := listener.Unlisten(channel); err != nil && !errors.Is(err, pq.ErrChannelNotOpen) {
		p.logger.WithError(err).WithField("channel", channel).Debug("unlisten failed")
	}
}

func (p *Postgres) ensureListener() (*pq.Listener, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrBrokerClosed
	}
	if p.listener != nil {
		return p.listener, nil
	}

	p.listener = pq.NewListener(p.dsn, listenerMinReconnect, listenerMaxReconnect, p.onListenerEvent)
	go p.dispatch(p.listener)
	return p.listener, nil
}

func (p *Postgres) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		p.logger.Debug("listener connected")
	case pq.ListenerEventDisconnected:
		p.logger.WithError(err).Warn("listener disconnected")
	case pq.ListenerEventReconnected:
		p.logger.Info("listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		p.logger.WithError(err).Warn("listener connection attempt failed")
	}
}

func (p *Postgres) dispatch(listener *pq.Listener) {
	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case n, ok := <-listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// Reconnected: anything sent while we were away is lost, so
				// wake every consumer and let it poll.
				p.subs.broadcast(nil)
				continue
			}
			p.subs.deliver(n.Channel, []byte(n.Extra))
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					p.logger.WithError(err).Debug("listener ping failed")
				}
			}()
		case <-p.done:
			return
		}
	}
}

func (p *Postgres) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	listener := p.listener
	p.mu.Unlock()

	p.subs.closeAll()
	if listener != nil {
		return listener.Close()
	}
	return nil
}
