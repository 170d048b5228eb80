package session

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/medlink/internal/device"
	"github.com/srg/medlink/internal/trace"
)

// Session is one connection attempt to one peripheral, driven by a device-type-specific
// protocol. Sessions are single-use.
type Session interface {
	ID() string
	DeviceType() string
	Address() string

	// Connect asks the transport for a connection. It reports failure by returning false.
	Connect(ctx context.Context) bool
	// Disconnect releases the connection if one is held. It never fails.
	Disconnect()
	// OnFrame handles a notification. It is called on the transport's goroutine and must
	// not block.
	OnFrame(sender string, frame []byte)
	// Run connects, drives the protocol to a terminal state and disconnects. Protocol and
	// transport failures are reported through State and Err; the returned error is reserved
	// for configuration problems detected before connecting and for ErrSessionUsed.
	Run(ctx context.Context) error

	State() State
	Result() []byte
	Err() error
}

// Options carries the collaborators a session is built with.
type Options struct {
	Transport device.Transport
	Logger    *logrus.Logger
	Recorder  trace.Recorder
	// Timeout bounds the whole run, connection setup included. Zero falls back to the
	// profile timeout, and without one the run lasts until the context ends.
	Timeout time.Duration
}
