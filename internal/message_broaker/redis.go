package message_broaker

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis relays notifications over Redis pub/sub. The caller owns the client.
type Redis struct {
	client    *redis.Client
	prefix    string
	done      chan struct{}
	closeOnce sync.Once
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
		done:   make(chan struct{}),
	}
}

func (r *Redis) topic(channel string) string {
	return r.prefix + channel
}

func (r *Redis) Publish(ctx context.Context, channel string, message []byte) error {
	if err := ValidateChannelName(channel); err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.topic(channel), message).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

func (r *Redis) Consume(ctx context.Context, channel string) (<-chan []byte, error) {
	if err := ValidateChannelName(channel); err != nil {
		return nil, err
	}
	select {
	case <-r.done:
		return nil, ErrBrokerClosed
	default:
	}

	pubsub := r.client.Subscribe(ctx, r.topic(channel))
	// Receive blocks until the server confirms the subscription.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	msgs := pubsub.Channel()
	out := make(chan []byte, subscriberBufferSize)

	go func() {
		defer close(out)
		defer pubsub.Close()

		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
				}
			case <-ctx.Done():
				return
			case <-r.done:
				return
			}
		}
	}()

	return out, nil
}

func (r *Redis) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	return nil
}
