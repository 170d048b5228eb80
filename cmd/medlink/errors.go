package main

import (
	"errors"
	"fmt"

	"github.com/srg/medlink/internal/device"
	"github.com/srg/medlink/internal/session"
	"github.com/srg/medlink/pkg/config"
)

// ErrSessionFailed is returned by the run command when the session ended in the Error state.
var ErrSessionFailed = errors.New("session failed")

// FormatUserError turns internal errors into a message a user can act on.
func FormatUserError(err error) string {
	var unknown *session.UnknownDeviceTypeError
	var cfgErr *config.ConfigError

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off; enable it and try again"
	case errors.As(err, &unknown):
		return fmt.Sprintf("unknown device type %q (see 'medlink types')", unknown.Type)
	case errors.As(err, &cfgErr):
		return fmt.Sprintf("configuration: %s", cfgErr.Error())
	case errors.Is(err, session.ErrConnectFailed):
		return fmt.Sprintf("%s (is the device advertising and in range?)", err)
	case errors.Is(err, device.ErrTimeout):
		return "the device did not finish the measurement in time"
	default:
		return err.Error()
	}
}
