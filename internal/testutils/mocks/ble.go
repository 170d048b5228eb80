// Package mocks provides testify mocks for the go-ble interfaces and for device.Transport.
package mocks

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockDevice is a mock ble.Device. Methods that are not overridden panic through the
// embedded nil interface, which flags unexpected calls loudly.
type MockDevice struct {
	ble.Device
	mock.Mock
}

func (m *MockDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := m.Called(ctx, a)
	client, _ := args.Get(0).(ble.Client)
	return client, args.Error(1)
}

func (m *MockDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	args := m.Called(ctx, allowDup, h)
	return args.Error(0)
}

func (m *MockDevice) Stop() error {
	args := m.Called()
	return args.Error(0)
}

// MockClient is a mock ble.Client. It remembers notification handlers so tests can push
// frames with Notify, and exposes a Disconnected channel closed by SimulateDisconnect.
type MockClient struct {
	ble.Client
	mock.Mock

	mu           sync.Mutex
	handlers     map[*ble.Characteristic]ble.NotificationHandler
	disconnected chan struct{}
	once         sync.Once
}

// NewMockClient creates a MockClient with an open Disconnected channel.
func NewMockClient() *MockClient {
	return &MockClient{
		handlers:     make(map[*ble.Characteristic]ble.NotificationHandler),
		disconnected: make(chan struct{}),
	}
}

func (m *MockClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	profile, _ := args.Get(0).(*ble.Profile)
	return profile, args.Error(1)
}

func (m *MockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	args := m.Called(c, ind, h)
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	m.handlers[c] = h
	m.mu.Unlock()
	return nil
}

func (m *MockClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	args := m.Called(c, ind)
	m.mu.Lock()
	delete(m.handlers, c)
	m.mu.Unlock()
	return args.Error(0)
}

func (m *MockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	args := m.Called(c, value, noRsp)
	return args.Error(0)
}

func (m *MockClient) CancelConnection() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockClient) Disconnected() <-chan struct{} {
	return m.disconnected
}

// SimulateDisconnect closes the Disconnected channel once.
func (m *MockClient) SimulateDisconnect() {
	m.once.Do(func() { close(m.disconnected) })
}

// Notify delivers data to the handler subscribed to the characteristic with the given
// UUID string. It reports whether a handler was found.
func (m *MockClient) Notify(uuid string, data []byte) bool {
	target := ble.MustParse(uuid)

	m.mu.Lock()
	var handler ble.NotificationHandler
	for c, h := range m.handlers {
		if c.UUID.Equal(target) {
			handler = h
			break
		}
	}
	m.mu.Unlock()

	if handler == nil {
		return false
	}
	handler(data)
	return true
}

// MockAdvertisement is a fixed ble.Advertisement.
type MockAdvertisement struct {
	ble.Advertisement

	Name          string
	Address       string
	Signal        int
	ServiceUUIDs  []ble.UUID
	IsConnectable bool
}

func (a *MockAdvertisement) LocalName() string    { return a.Name }
func (a *MockAdvertisement) Addr() ble.Addr       { return ble.NewAddr(a.Address) }
func (a *MockAdvertisement) RSSI() int            { return a.Signal }
func (a *MockAdvertisement) Services() []ble.UUID { return a.ServiceUUIDs }
func (a *MockAdvertisement) Connectable() bool    { return a.IsConnectable }
