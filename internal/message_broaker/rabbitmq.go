package message_broaker

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQ relays notifications through one fanout exchange per channel. Each
// consumer binds its own exclusive, auto-deleted queue so every subscriber
// sees every message.
type RabbitMQ struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	prefix   string
	mu       sync.Mutex
	declared map[string]bool
}

// NewRabbitMQ creates a new instance of RabbitMQ message broker.
func NewRabbitMQ(url, exchangePrefix string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &RabbitMQ{
		conn:     conn,
		channel:  ch,
		prefix:   exchangePrefix,
		declared: make(map[string]bool),
	}, nil
}

func (r *RabbitMQ) exchange(channel string) string {
	return r.prefix + channel
}

func (r *RabbitMQ) declareExchange(channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.declared[channel] {
		return nil
	}
	if err := r.channel.ExchangeDeclare(
		r.exchange(channel),
		amqp.ExchangeFanout,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", r.exchange(channel), err)
	}
	r.declared[channel] = true
	return nil
}

func (r *RabbitMQ) Publish(ctx context.Context, channel string, message []byte) error {
	if err := ValidateChannelName(channel); err != nil {
		return err
	}
	if err := r.declareExchange(channel); err != nil {
		return err
	}
	return r.channel.PublishWithContext(
		ctx,
		r.exchange(channel),
		"",
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        message,
		},
	)
}

func (r *RabbitMQ) Consume(ctx context.Context, channel string) (<-chan []byte, error) {
	if err := ValidateChannelName(channel); err != nil {
		return nil, err
	}
	if err := r.declareExchange(channel); err != nil {
		return nil, err
	}

	r.mu.Lock()
	q, err := r.channel.QueueDeclare(
		"",
		false,
		true,
		true,
		false,
		nil,
	)
	if err == nil {
		err = r.channel.QueueBind(q.Name, "", r.exchange(channel), false, nil)
	}
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("bind queue for %s: %w", channel, err)
	}

	msgs, err := r.channel.ConsumeWithContext(
		ctx,
		q.Name,
		"",
		true,
		true,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, err
	}

	out := make(chan []byte, subscriberBufferSize)

	go func() {
		defer close(out)

		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Body:
				default:
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (r *RabbitMQ) Close() error {
	if err := r.channel.Close(); err != nil {
		_ = r.conn.Close()
		return err
	}
	return r.conn.Close()
}
