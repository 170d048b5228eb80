package session

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownDeviceType is matched by UnknownDeviceTypeError.
	ErrUnknownDeviceType = errors.New("unknown device type")
	// ErrSessionUsed is returned by Run on a session that already ran.
	ErrSessionUsed = errors.New("session already used")
	// ErrConnectFailed wraps the transport error when a connection cannot be established.
	ErrConnectFailed = errors.New("connection failed")
	// ErrChecksum is set when the device reports that a frame failed its checksum.
	ErrChecksum = errors.New("device reported a checksum error")
	// ErrDeviceReported is set when the device signals a protocol-level failure.
	ErrDeviceReported = errors.New("device reported an error")
	// ErrNoTransport is returned when a session is run without a transport.
	ErrNoTransport = errors.New("no transport configured")
	// ErrPanic wraps a panic recovered while driving the protocol.
	ErrPanic = errors.New("protocol step panicked")
)

// UnknownDeviceTypeError is returned by Registry.Create for an unregistered type.
type UnknownDeviceTypeError struct {
	Type string
}

func (e *UnknownDeviceTypeError) Error() string {
	return fmt.Sprintf("unknown device type %q", e.Type)
}

// Is reports whether target is ErrUnknownDeviceType.
func (e *UnknownDeviceTypeError) Is(target error) bool {
	return target == ErrUnknownDeviceType
}
