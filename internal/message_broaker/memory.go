package message_broaker

import (
	"context"
	"sync"
)

// Memory is an in-process broker for single-process deployments and tests.
type Memory struct {
	subs      *subscribers
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemory() *Memory {
	return &Memory{
		subs: newSubscribers(),
		done: make(chan struct{}),
	}
}

func (m *Memory) Publish(ctx context.Context, channel string, message []byte) error {
	if err := ValidateChannelName(channel); err != nil {
		return err
	}
	select {
	case <-m.done:
		return ErrBrokerClosed
	default:
	}
	m.subs.deliver(channel, message)
	return nil
}

func (m *Memory) Consume(ctx context.Context, channel string) (<-chan []byte, error) {
	if err := ValidateChannelName(channel); err != nil {
		return nil, err
	}
	sub, _, err := m.subs.add(channel)
	if err != nil {
		return nil, err
	}
	m.subs.watch(ctx, sub, m.done, nil)
	return sub.ch, nil
}

func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		m.subs.closeAll()
	})
	return nil
}
