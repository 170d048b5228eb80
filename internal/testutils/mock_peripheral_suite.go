//go:build test

package testutils

import (
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	goble "github.com/srg/medlink/internal/device/go-ble"
	"github.com/stretchr/testify/suite"
)

// Characteristic UUIDs of the default mock peripheral.
const (
	DefaultWriteUUID    = "fff2"
	DefaultIndicateUUID = "fff1"
)

// MockBLEPeripheralSuite swaps goble.DeviceFactory for a mocked peripheral around every test.
//
// Custom peripherals are configured before calling the parent SetupTest:
//
//	func (s *ConnectionSuite) SetupTest() {
//	    s.WithPeripheral().
//	        WithService("fff0").
//	        WithCharacteristic("fff1", "indicate")
//
//	    s.MockBLEPeripheralSuite.SetupTest()
//	}
type MockBLEPeripheralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	OriginalDeviceFactory func() (blelib.Device, error)
	TestTimeout           time.Duration

	PeripheralBuilder *PeripheralDeviceBuilder
}

// SetupSuite initializes the helper and remembers the real device factory.
func (s *MockBLEPeripheralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 5 * time.Second
	s.OriginalDeviceFactory = goble.DeviceFactory

	s.T().Cleanup(func() {
		if s.OriginalDeviceFactory != nil {
			goble.DeviceFactory = s.OriginalDeviceFactory
		}
	})
}

// SetupTest installs the mocked device factory.
func (s *MockBLEPeripheralSuite) SetupTest() {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = createDefaultPeripheralBuilder()
	}

	builder := s.PeripheralBuilder
	goble.DeviceFactory = func() (blelib.Device, error) {
		return builder.Build(), nil
	}
}

// TearDownTest restores the factory and resets the builder.
func (s *MockBLEPeripheralSuite) TearDownTest() {
	if s.OriginalDeviceFactory != nil {
		goble.DeviceFactory = s.OriginalDeviceFactory
	}
	s.PeripheralBuilder = nil
}

// WithPeripheral returns the peripheral builder for configuration in SetupTest.
func (s *MockBLEPeripheralSuite) WithPeripheral() *PeripheralDeviceBuilder {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewPeripheralDeviceBuilder()
	}
	return s.PeripheralBuilder
}

// createDefaultPeripheralBuilder mimics a blood-pressure monitor: a write characteristic
// and an indicate characteristic in one vendor service.
func createDefaultPeripheralBuilder() *PeripheralDeviceBuilder {
	return NewPeripheralDeviceBuilder().FromJSON(`
		{
			"services": [
				{
					"uuid": "fff0",
					"characteristics": [
						{ "uuid": %q, "properties": "write" },
						{ "uuid": %q, "properties": "indicate" }
					]
				}
			]
		}`, DefaultWriteUUID, DefaultIndicateUUID)
}
