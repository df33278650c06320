package message_broaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const natsFlushTimeout = 5 * time.Second

// NATS relays notifications as core NATS messages on "<prefix><channel>".
type NATS struct {
	conn      *nats.Conn
	prefix    string
	done      chan struct{}
	closeOnce sync.Once
}

// NewNATS connects to url. The connection is owned by the broker.
func NewNATS(url, prefix string, opts ...nats.Option) (*NATS, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATS{conn: nc, prefix: prefix, done: make(chan struct{})}, nil
}

func (n *NATS) subject(channel string) string {
	return n.prefix + channel
}

func (n *NATS) Publish(ctx context.Context, channel string, message []byte) error {
	if err := ValidateChannelName(channel); err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject(channel), message); err != nil {
		return fmt.Errorf("nats publish %s: %w", channel, err)
	}
	return nil
}

func (n *NATS) Consume(ctx context.Context, channel string) (<-chan []byte, error) {
	if err := ValidateChannelName(channel); err != nil {
		return nil, err
	}
	select {
	case <-n.done:
		return nil, ErrBrokerClosed
	default:
	}

	msgs := make(chan *nats.Msg, subscriberBufferSize)
	sub, err := n.conn.ChanSubscribe(n.subject(channel), msgs)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", channel, err)
	}
	// Flush round-trips to the server so the subscription is registered
	// before we return.
	if err := n.conn.FlushTimeout(natsFlushTimeout); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("nats subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBufferSize)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()

		for {
			select {
			case msg := <-msgs:
				select {
				case out <- msg.Data:
				default:
				}
			case <-ctx.Done():
				return
			case <-n.done:
				return
			}
		}
	}()

	return out, nil
}

func (n *NATS) Close() error {
	n.closeOnce.Do(func() {
		close(n.done)
		n.conn.Close()
	})
	return nil
}
