package mocks

import (
	"context"
	"sync"

	"github.com/srg/medlink/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockTransport is a mock device.Transport. Subscribed handlers are kept so that tests can
// deliver frames with SimulateFrame, the way a real transport would from its own goroutine.
type MockTransport struct {
	mock.Mock

	mu        sync.Mutex
	handlers  map[string]device.FrameHandler
	connected bool
}

// NewMockTransport creates an empty MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{handlers: make(map[string]device.FrameHandler)}
}

func (m *MockTransport) Connect(ctx context.Context, address string) error {
	args := m.Called(ctx, address)
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

func (m *MockTransport) Disconnect() error {
	args := m.Called()
	m.mu.Lock()
	m.connected = false
	m.handlers = make(map[string]device.FrameHandler)
	m.mu.Unlock()
	return args.Error(0)
}

func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockTransport) Subscribe(ctx context.Context, characteristic string, handler device.FrameHandler) error {
	args := m.Called(ctx, characteristic, handler)
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	m.handlers[characteristic] = handler
	m.mu.Unlock()
	return nil
}

func (m *MockTransport) Write(ctx context.Context, characteristic string, payload []byte) error {
	args := m.Called(ctx, characteristic, payload)
	return args.Error(0)
}

// SimulateFrame delivers frame to the handler subscribed on characteristic. It reports
// whether a handler was subscribed.
func (m *MockTransport) SimulateFrame(characteristic string, frame []byte) bool {
	m.mu.Lock()
	handler, ok := m.handlers[characteristic]
	m.mu.Unlock()
	if !ok {
		return false
	}
	handler(characteristic, frame)
	return true
}

// MonitoredTransport is a MockTransport that also reports link loss.
type MonitoredTransport struct {
	*MockTransport

	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewMonitoredTransport creates a MonitoredTransport whose link is up.
func NewMonitoredTransport() *MonitoredTransport {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &MonitoredTransport{MockTransport: NewMockTransport(), ctx: ctx, cancel: cancel}
}

func (m *MonitoredTransport) ConnectionContext() context.Context {
	return m.ctx
}

// LoseConnection cancels the connection context with cause.
func (m *MonitoredTransport) LoseConnection(cause error) {
	m.cancel(cause)
}

var (
	_ device.Transport         = (*MockTransport)(nil)
	_ device.ConnectionMonitor = (*MonitoredTransport)(nil)
)
