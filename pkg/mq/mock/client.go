// Package mock provides an in-memory mq.ClientInterface for tests.
package mock

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/sewer-monitor/pkg/mq"
)

// MockClient records published bodies and serves deliveries from a channel.
// Zero-valued error fields mean success.
type MockClient struct {
	mu sync.Mutex

	// PushFunc overrides Push when set.
	PushFunc  func(ctx context.Context, data []byte) error
	PushError error

	// Deliveries is returned by Consume.
	Deliveries   chan amqp.Delivery
	ConsumeError error

	CloseError error

	pushed       [][]byte
	unsafePushed [][]byte
	consumeCalls int
	closeCalls   int
}

// NewMockClient creates a MockClient with a buffered delivery channel.
func NewMockClient() *MockClient {
	return &MockClient{
		Deliveries: make(chan amqp.Delivery, 16),
	}
}

// Push implements mq.ClientInterface.
func (m *MockClient) Push(ctx context.Context, data []byte) error {
	m.mu.Lock()
	fn, err := m.PushFunc, m.PushError
	m.mu.Unlock()

	if fn != nil {
		err = fn(ctx, data)
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.pushed = append(m.pushed, append([]byte(nil), data...))
	m.mu.Unlock()
	return nil
}

// UnsafePush implements mq.ClientInterface. It fails with PushError when set.
func (m *MockClient) UnsafePush(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PushError != nil {
		return m.PushError
	}
	m.unsafePushed = append(m.unsafePushed, append([]byte(nil), data...))
	return nil
}

// Consume implements mq.ClientInterface.
func (m *MockClient) Consume() (<-chan amqp.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumeCalls++
	if m.ConsumeError != nil {
		return nil, m.ConsumeError
	}
	return m.Deliveries, nil
}

// SetConsumeError changes the error returned by Consume while the mock is in use.
func (m *MockClient) SetConsumeError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConsumeError = err
}

// Close implements mq.ClientInterface.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return m.CloseError
}

// Pushed returns the bodies accepted by Push, oldest first.
func (m *MockClient) Pushed() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.pushed))
	copy(out, m.pushed)
	return out
}

// UnsafePushed returns the bodies accepted by UnsafePush.
func (m *MockClient) UnsafePushed() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.unsafePushed))
	copy(out, m.unsafePushed)
	return out
}

// ConsumeCalls returns how many times Consume was called.
func (m *MockClient) ConsumeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consumeCalls
}

// CloseCalls returns how many times Close was called.
func (m *MockClient) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

var _ mq.ClientInterface = (*MockClient)(nil)
