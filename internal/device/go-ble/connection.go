package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/medlink/internal/device"
	"github.com/srg/medlink/internal/groutine"
)

// ----------------------------
// Configuration Constants
// ----------------------------

const (
	// DefaultConnectTimeout bounds dialing and profile discovery.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultBLEWriteChunkSize is the maximum number of bytes to write in a single BLE operation.
	// BLE 4.0/4.1 defines ATT_MTU of 23 bytes (20 bytes payload after ATT header overhead).
	DefaultBLEWriteChunkSize = 20

	// DefaultBLEWriteDelay is the delay between consecutive write chunks.
	DefaultBLEWriteDelay = 10 * time.Millisecond
)

// ----------------------------
// Device Factory
// ----------------------------

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// ----------------------------
// BLE Connection
// ----------------------------

type subscription struct {
	char     *ble.Characteristic
	indicate bool
}

// Connection is a go-ble backed device.Transport for a single peripheral.
type Connection struct {
	logger         *logrus.Logger
	connectTimeout time.Duration

	writeMutex  sync.Mutex
	connMutex   sync.RWMutex
	client      ble.Client
	isConnected bool

	chars map[string]*ble.Characteristic
	subs  map[string]subscription

	ctx    context.Context
	cancel context.CancelCauseFunc
}

var (
	_ device.Transport         = (*Connection)(nil)
	_ device.ConnectionMonitor = (*Connection)(nil)
)

// NewConnection creates a disconnected transport.
func NewConnection(logger *logrus.Logger) *Connection {
	if logger == nil {
		logger = logrus.New()
	}
	return &Connection{
		logger:         logger,
		connectTimeout: DefaultConnectTimeout,
		chars:          make(map[string]*ble.Characteristic),
		subs:           make(map[string]subscription),
		ctx:            context.Background(),
	}
}

// SetConnectTimeout overrides DefaultConnectTimeout. Non-positive values are ignored.
func (c *Connection) SetConnectTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	c.connMutex.Lock()
	c.connectTimeout = d
	c.connMutex.Unlock()
}

// Connect dials the peripheral and discovers its GATT profile.
func (c *Connection) Connect(ctx context.Context, address string) error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if strings.TrimSpace(address) == "" {
		c.logger.Error("Connection attempt with empty address")
		return fmt.Errorf("device address is empty")
	}

	if c.isConnectedInternal() {
		c.logger.WithField("address", address).Warn("Connection attempt while already connected")
		return device.ErrAlreadyConnected
	}

	c.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": c.connectTimeout,
	}).Info("Connecting to BLE device...")

	dev, err := DeviceFactory()
	if err != nil {
		c.logger.WithField("error", err).Error("Failed to create BLE device")
		return fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}

	connCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	c.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := dev.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	c.logger.WithField("address", address).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to discover profile")
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			c.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	chars := make(map[string]*ble.Characteristic)
	for _, svc := range profile.Services {
		for _, char := range svc.Characteristics {
			uuid := device.NormalizeUUID(char.UUID.String())
			c.logger.WithFields(logrus.Fields{
				"service_uuid": device.NormalizeUUID(svc.UUID.String()),
				"char_uuid":    uuid,
			}).Debug("Found characteristic UUID")
			chars[uuid] = char
		}
	}

	c.client = client
	c.chars = chars
	c.subs = make(map[string]subscription)
	c.isConnected = true

	// Derive from the caller's context so cancelling the session also ends the monitor.
	c.ctx, c.cancel = context.WithCancelCause(ctx)
	c.monitorDisconnect(c.ctx, client, c.cancel)

	c.logger.WithFields(logrus.Fields{
		"address":         address,
		"services":        len(profile.Services),
		"characteristics": len(chars),
	}).Info("BLE device connected successfully")
	return nil
}

// monitorDisconnect watches the client's Disconnected channel, when the backend exposes one.
func (c *Connection) monitorDisconnect(ctx context.Context, client ble.Client, cancel context.CancelCauseFunc) {
	notifier, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		c.logger.Debug("Client does not expose a Disconnected() channel")
		return
	}

	groutine.Go(context.Background(), "ble-connection-monitor", func(monitorCtx context.Context) {
		select {
		case <-notifier.Disconnected():
			c.logger.WithField("goroutine", groutine.Name(monitorCtx)).Warn("Peripheral reported disconnection")
			c.connMutex.Lock()
			if c.client == client {
				c.isConnected = false
			}
			c.connMutex.Unlock()
			cancel(fmt.Errorf("%w: connection lost", device.ErrNotConnected))
		case <-ctx.Done():
		}
	})
}

// Disconnect unsubscribes every active subscription and cancels the connection.
// Calling it on a disconnected transport is a no-op.
func (c *Connection) Disconnect() error {
	c.connMutex.Lock()
	if c.client == nil {
		c.connMutex.Unlock()
		c.logger.Debug("Disconnect called but already disconnected")
		return nil
	}

	client := c.client
	cancel := c.cancel
	subs := c.subs

	c.client = nil
	c.cancel = nil
	c.isConnected = false
	c.subs = make(map[string]subscription)
	c.connMutex.Unlock()

	c.logger.WithField("subscriptions", len(subs)).Info("Disconnecting BLE device...")

	var unsubscribeErrors []string
	for uuid, sub := range subs {
		if err := NormalizeError(client.Unsubscribe(sub.char, sub.indicate)); err != nil {
			unsubscribeErrors = append(unsubscribeErrors, fmt.Sprintf("%s: %v", uuid, err))
		}
	}
	if len(unsubscribeErrors) > 0 {
		c.logger.WithField("errors", strings.Join(unsubscribeErrors, "; ")).Warn("Failed to unsubscribe from some characteristics during disconnect")
	}

	if cancel != nil {
		cancel(nil)
	}

	if err := client.CancelConnection(); err != nil {
		c.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return NormalizeError(err)
	}

	c.logger.Info("BLE device disconnected successfully")
	return nil
}

// isConnectedInternal checks the connection status without acquiring locks.
// Should only be called when the caller already holds connMutex.
func (c *Connection) isConnectedInternal() bool {
	return c.client != nil && c.isConnected
}

// IsConnected reports whether the link is up.
func (c *Connection) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.isConnectedInternal()
}

// ConnectionContext returns a context that is cancelled when the connection is lost or closed.
func (c *Connection) ConnectionContext() context.Context {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.ctx
}

// lookup snapshots the client and the characteristic under the read lock.
func (c *Connection) lookup(characteristic string) (ble.Client, *ble.Characteristic, error) {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	if !c.isConnectedInternal() {
		return nil, nil, device.ErrNotConnected
	}
	uuid := device.NormalizeUUID(characteristic)
	char, ok := c.chars[uuid]
	if !ok {
		return nil, nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{characteristic}}
	}
	return c.client, char, nil
}

// Subscribe enables notifications, or indications when the characteristic only supports
// those, and forwards every frame to handler.
func (c *Connection) Subscribe(ctx context.Context, characteristic string, handler device.FrameHandler) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	client, char, err := c.lookup(characteristic)
	if err != nil {
		return err
	}

	var indicate bool
	switch {
	case char.Property&ble.CharNotify != 0:
	case char.Property&ble.CharIndicate != 0:
		indicate = true
	default:
		return fmt.Errorf("characteristic %s does not support notifications: %w", characteristic, device.ErrUnsupported)
	}

	sender := device.NormalizeUUID(characteristic)
	err = NormalizeError(client.Subscribe(char, indicate, func(data []byte) {
		frame := make([]byte, len(data))
		copy(frame, data)
		handler(sender, frame)
	}))
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"char_uuid": sender,
			"indicate":  indicate,
			"error":     err,
		}).Error("Failed to subscribe to characteristic")
		return fmt.Errorf("failed to subscribe to characteristic %s: %w", characteristic, err)
	}

	c.connMutex.Lock()
	if c.client == client {
		c.subs[sender] = subscription{char: char, indicate: indicate}
	}
	c.connMutex.Unlock()

	c.logger.WithFields(logrus.Fields{
		"char_uuid": sender,
		"indicate":  indicate,
	}).Info("Subscribed to characteristic")
	return nil
}

// Write sends payload to the characteristic in DefaultBLEWriteChunkSize chunks,
// with response when the characteristic supports it.
func (c *Connection) Write(ctx context.Context, characteristic string, payload []byte) error {
	client, char, err := c.lookup(characteristic)
	if err != nil {
		return err
	}

	var noRsp bool
	switch {
	case char.Property&ble.CharWrite != 0:
	case char.Property&ble.CharWriteNR != 0:
		noRsp = true
	default:
		return fmt.Errorf("characteristic %s does not support write operations: %w", characteristic, device.ErrUnsupported)
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	data := payload
	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := len(data)
		if n > DefaultBLEWriteChunkSize {
			n = DefaultBLEWriteChunkSize
		}
		if err := client.WriteCharacteristic(char, data[:n], noRsp); err != nil {
			return fmt.Errorf("failed to write to characteristic %s: %w", characteristic, NormalizeError(err))
		}
		data = data[n:]
		if len(data) > 0 {
			time.Sleep(DefaultBLEWriteDelay)
		}
	}

	c.logger.WithFields(logrus.Fields{
		"char_uuid": device.NormalizeUUID(characteristic),
		"bytes":     len(payload),
		"no_rsp":    noRsp,
	}).Debug("Wrote characteristic")
	return nil
}
