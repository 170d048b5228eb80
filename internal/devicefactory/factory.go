package devicefactory

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/medlink/internal/device"
	goble "github.com/srg/medlink/internal/device/go-ble"
)

// NewTransport creates the device.Transport sessions connect through.
// This is a variable so that it can be overridden in tests.
var NewTransport = func(logger *logrus.Logger) device.Transport {
	return goble.NewConnection(logger)
}

// NewScanner creates a device.Scanner for discovery.
// This is a variable so that it can be overridden in tests.
var NewScanner = func() (device.Scanner, error) {
	return goble.NewScanner()
}
