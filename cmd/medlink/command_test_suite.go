//go:build test

package main

import (
	"bytes"
	"context"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/medlink/internal/device"
	goble "github.com/srg/medlink/internal/device/go-ble"
	"github.com/srg/medlink/internal/devicefactory"
	"github.com/srg/medlink/internal/testutils"
	"github.com/srg/medlink/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

// Test device address for consistent mock device identification
const TestDeviceAddress = "00:00:00:00:00:01"

const testDevicesYAML = `
BloodPressureMonitor:
  chars: { write: "fff2", indicate: "fff1" }
  commands: { handshake: "01" }
WeighingScale:
  chars: { write: "ffe9", indicate: "ffe4" }
  commands: { weigh: "AA02" }
Thermometer:
  chars: { write: "2a1c", indicate: "2a1e" }
  commands: { read: "01" }
`

// replayScanner delivers a fixed list of advertisements and then waits for the scan to end.
type replayScanner struct {
	ads []blelib.Advertisement
}

func (r *replayScanner) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	for _, adv := range r.ads {
		handler(goble.NewBLEAdvertisement(adv))
	}
	<-ctx.Done()
	return ctx.Err()
}

// CommandTestSuite swaps the device factories for mocks and resets command flags around
// every test. All cmd/medlink test suites should embed it.
type CommandTestSuite struct {
	suite.Suite

	Helper    *testutils.TestHelper
	Transport *mocks.MockTransport
	Scanner   *replayScanner
	Stderr    *bytes.Buffer

	DevicesFile string

	originalTransport func(*logrus.Logger) device.Transport
	originalScanner   func() (device.Scanner, error)
}

func (s *CommandTestSuite) SetupTest() {
	s.Helper = testutils.NewTestHelper(s.T())
	s.Transport = mocks.NewMockTransport()
	s.Scanner = &replayScanner{}
	s.Stderr = new(bytes.Buffer)
	s.DevicesFile = s.Helper.WriteFixture("devices.yaml", testDevicesYAML)

	s.originalTransport = devicefactory.NewTransport
	s.originalScanner = devicefactory.NewScanner
	devicefactory.NewTransport = func(*logrus.Logger) device.Transport { return s.Transport }
	devicefactory.NewScanner = func() (device.Scanner, error) { return s.Scanner, nil }

	s.ResetFlags()
}

// ResetFlags restores every command flag to its default, since flag values outlive an
// Execute call.
func (s *CommandTestSuite) ResetFlags() {
	for cmd, addFlags := range map[*cobra.Command]func(*cobra.Command){
		runCmd:   addRunFlags,
		scanCmd:  addScanFlags,
		traceCmd: addTraceFlags,
	} {
		cmd.ResetFlags()
		addFlags(cmd)
	}
}

func (s *CommandTestSuite) TearDownTest() {
	devicefactory.NewTransport = s.originalTransport
	devicefactory.NewScanner = s.originalScanner
}

// WriteTarget writes a target file and returns its path.
func (s *CommandTestSuite) WriteTarget(deviceType, address string) string {
	return s.Helper.WriteFixture("target.yaml", "type: "+deviceType+"\naddress: \""+address+"\"\n")
}

// ExpectMeasurement sets up a transport that connects, then answers the handshake write
// with the given frames on the indicate characteristic.
func (s *CommandTestSuite) ExpectMeasurement(frames ...[]byte) {
	s.Transport.On("Connect", mock.Anything, TestDeviceAddress).Return(nil).Once()
	s.Transport.On("Subscribe", mock.Anything, "fff1", mock.Anything).Return(nil).Once()
	s.Transport.On("Write", mock.Anything, "fff2", []byte{0x01}).Run(func(mock.Arguments) {
		for _, f := range frames {
			s.Transport.SimulateFrame("fff1", f)
		}
	}).Return(nil).Once()
	s.Transport.On("Disconnect").Return(nil).Once()
}

// ExecuteCommand runs cmd under a fresh root command and returns what it wrote to stdout.
// Log output and progress go to s.Stderr.
func (s *CommandTestSuite) ExecuteCommand(cmd *cobra.Command, args ...string) (string, error) {
	root := &cobra.Command{Use: "medlink", SilenceErrors: true, SilenceUsage: true}
	addGlobalFlags(root)
	root.AddCommand(cmd)

	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(s.Stderr)
	root.SetArgs(append([]string{cmd.Name()}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// cobra only hands the root context to subcommands that have none yet
	cmd.SetContext(ctx)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}
