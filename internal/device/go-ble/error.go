package goble

import (
	"fmt"
	"strings"

	"github.com/srg/medlink/internal/device"
)

// darwinPoweredOff is the CoreBluetooth state error go-ble reports when the radio is off.
const darwinPoweredOff = "central manager has invalid state: have=4 want=5"

// NormalizeError maps go-ble specific error strings to the device error taxonomy.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if strings.HasPrefix(err.Error(), darwinPoweredOff) {
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	}
	return device.NormalizeError(err)
}
