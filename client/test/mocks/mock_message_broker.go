package mocks

import "context"

// MockMessageBroker is a mock implementation of message_broaker.MessageBroker for testing.
type MockMessageBroker struct {
	PublishFunc func(ctx context.Context, channel string, message []byte) error
	ConsumeFunc func(ctx context.Context, channel string) (<-chan []byte, error)
	CloseFunc   func() error
}

func (m *MockMessageBroker) Publish(ctx context.Context, channel string, message []byte) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, channel, message)
	}
	return nil
}

// Consume returns a channel that never delivers until ctx is done, so callers
// fall back to polling.
func (m *MockMessageBroker) Consume(ctx context.Context, channel string) (<-chan []byte, error) {
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, channel)
	}
	ch := make(chan []byte)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (m *MockMessageBroker) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
