package message_broaker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"
)

// MessageBroker carries wake-up notifications between publishers and runners.
// Delivery is at-least-once to subscribers that are connected when the message
// is sent; payloads are not stored.
type MessageBroker interface {
	Publish(ctx context.Context, channel string, message []byte) error
	// Consume subscribes to channel. The subscription is active when Consume
	// returns, and the returned channel is closed once ctx is done or the
	// broker is closed.
	Consume(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// TxPublisher is implemented by brokers that can send a message as part of a
// database transaction, so that subscribers only hear about it on commit.
type TxPublisher interface {
	PublishTx(ctx context.Context, tx *sql.Tx, channel string, message []byte) error
}

var ErrBrokerClosed = errors.New("message broker closed")

var channelNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidateChannelName rejects names that cannot be used verbatim as a
// PostgreSQL LISTEN identifier.
func ValidateChannelName(channel string) error {
	if !channelNamePattern.MatchString(channel) {
		return fmt.Errorf("invalid channel name %q", channel)
	}
	return nil
}

// subscriberBufferSize bounds how many undelivered wake-ups a slow consumer may
// accumulate; later ones are dropped since one pending wake-up is enough.
const subscriberBufferSize = 16

type subscriber struct {
	channel string
	ch      chan []byte
}

// subscribers fans messages out to in-process consumers grouped by channel.
type subscribers struct {
	mu        sync.Mutex
	byChannel map[string]map[*subscriber]struct{}
	closed    bool
}

func newSubscribers() *subscribers {
	return &subscribers{byChannel: make(map[string]map[*subscriber]struct{})}
}

// add registers a consumer and reports whether it is the first on channel.
func (s *subscribers) add(channel string) (*subscriber, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, ErrBrokerClosed
	}
	sub := &subscriber{channel: channel, ch: make(chan []byte, subscriberBufferSize)}
	set, ok := s.byChannel[channel]
	if !ok {
		set = make(map[*subscriber]struct{})
		s.byChannel[channel] = set
	}
	set[sub] = struct{}{}
	return sub, !ok, nil
}

// remove unregisters sub, closes its channel and reports whether channel has
// no consumers left.
func (s *subscribers) remove(sub *subscriber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.byChannel[sub.channel]
	if !ok {
		return false
	}
	if _, ok := set[sub]; !ok {
		return false
	}
	delete(set, sub)
	close(sub.ch)
	if len(set) == 0 {
		delete(s.byChannel, sub.channel)
		return true
	}
	return false
}

func (s *subscribers) count(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byChannel[channel])
}

func (s *subscribers) deliver(channel string, message []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sub := range s.byChannel[channel] {
		select {
		case sub.ch <- message:
		default:
		}
	}
}

// broadcast delivers message on every channel. Used after a reconnect, when
// notifications may have been missed.
func (s *subscribers) broadcast(message []byte) {
	s.mu.Lock()
	channels := make([]string, 0, len(s.byChannel))
	for channel := range s.byChannel {
		channels = append(channels, channel)
	}
	s.mu.Unlock()

	for _, channel := range channels {
		s.deliver(channel, message)
	}
}

func (s *subscribers) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for channel, set := range s.byChannel {
		for sub := range set {
			close(sub.ch)
		}
		delete(s.byChannel, channel)
	}
}

// watch removes sub once ctx is done and calls onEmpty if it was the last
// consumer of its channel.
func (s *subscribers) watch(ctx context.Context, sub *subscriber, done <-chan struct{}, onEmpty func(channel string)) {
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		if s.remove(sub) && onEmpty != nil {
			onEmpty(sub.channel)
		}
	}()
}
