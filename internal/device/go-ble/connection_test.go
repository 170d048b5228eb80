//go:build test

package goble_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/medlink/internal/device"
	goble "github.com/srg/medlink/internal/device/go-ble"
	"github.com/srg/medlink/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type ConnectionTestSuite struct {
	testutils.MockBLEPeripheralSuite
}

func (s *ConnectionTestSuite) connect() *goble.Connection {
	conn := goble.NewConnection(s.Logger)
	s.Require().NoError(conn.Connect(context.Background(), "AA:BB:CC:DD:EE:FF"))
	s.T().Cleanup(func() { _ = conn.Disconnect() })
	return conn
}

func (s *ConnectionTestSuite) TestConnect_IndexesCharacteristics() {
	// GOAL: Verify a connection discovers the profile and reports itself connected
	//
	// TEST SCENARIO: Connect to mock peripheral → IsConnected true → second Connect refused

	conn := s.connect()

	s.True(conn.IsConnected(), "connection MUST report connected")
	err := conn.Connect(context.Background(), "AA:BB:CC:DD:EE:FF")
	s.ErrorIs(err, device.ErrAlreadyConnected)
}

func (s *ConnectionTestSuite) TestConnect_EmptyAddress() {
	conn := goble.NewConnection(s.Logger)

	s.Error(conn.Connect(context.Background(), "  "))
	s.False(conn.IsConnected())
}

func (s *ConnectionTestSuite) TestSubscribe_DeliversIndications() {
	// GOAL: Verify indications reach the frame handler with the normalized sender and a private copy
	//
	// TEST SCENARIO: subscribe indicate char → peripheral indicates → handler receives sender "fff1"

	conn := s.connect()

	type received struct {
		sender string
		frame  []byte
	}
	got := make(chan received, 1)
	err := conn.Subscribe(context.Background(), "0000FFF1-0000-1000-8000-00805F9B34FB", func(sender string, frame []byte) {
		got <- received{sender: sender, frame: frame}
	})
	s.Require().NoError(err)

	raw := []byte{0x06}
	s.Require().True(s.PeripheralBuilder.Client().Notify(testutils.DefaultIndicateUUID, raw))
	raw[0] = 0xFF

	select {
	case r := <-got:
		s.Equal("fff1", r.sender)
		s.Equal([]byte{0x06}, r.frame, "handler MUST receive its own copy of the frame")
	case <-time.After(s.TestTimeout):
		s.FailNow("frame MUST be delivered")
	}

	s.PeripheralBuilder.Client().AssertCalled(s.T(), "Subscribe", mock.Anything, true, mock.Anything)
}

func (s *ConnectionTestSuite) TestSubscribe_Errors() {
	conn := s.connect()

	err := conn.Subscribe(context.Background(), "2a19", func(string, []byte) {})
	var notFound *device.NotFoundError
	s.ErrorAs(err, &notFound, "unknown characteristic MUST be reported as not found")

	err = conn.Subscribe(context.Background(), testutils.DefaultWriteUUID, func(string, []byte) {})
	s.ErrorIs(err, device.ErrUnsupported, "write-only characteristic MUST NOT be subscribable")
}

func (s *ConnectionTestSuite) TestWrite_ChunksPayload() {
	// GOAL: Verify writes are split into ATT-sized chunks with response
	//
	// TEST SCENARIO: write 45 bytes → three WriteCharacteristic calls (20, 20, 5)

	conn := s.connect()
	payload := make([]byte, 45)

	s.Require().NoError(conn.Write(context.Background(), testutils.DefaultWriteUUID, payload))

	client := s.PeripheralBuilder.Client()
	client.AssertNumberOfCalls(s.T(), "WriteCharacteristic", 3)
	s.Len(client.Calls[len(client.Calls)-1].Arguments.Get(1).([]byte), 5)
	s.False(client.Calls[len(client.Calls)-1].Arguments.Bool(2), "write characteristic MUST be written with response")
}

func (s *ConnectionTestSuite) TestWrite_NotConnected() {
	conn := goble.NewConnection(s.Logger)

	err := conn.Write(context.Background(), testutils.DefaultWriteUUID, []byte{0x01})
	s.ErrorIs(err, device.ErrNotConnected)
}

func (s *ConnectionTestSuite) TestDisconnect_UnsubscribesAndCancels() {
	conn := goble.NewConnection(s.Logger)
	s.Require().NoError(conn.Connect(context.Background(), "AA:BB:CC:DD:EE:FF"))
	s.Require().NoError(conn.Subscribe(context.Background(), testutils.DefaultIndicateUUID, func(string, []byte) {}))
	linkCtx := conn.ConnectionContext()

	s.Require().NoError(conn.Disconnect())

	client := s.PeripheralBuilder.Client()
	client.AssertNumberOfCalls(s.T(), "Unsubscribe", 1)
	client.AssertNumberOfCalls(s.T(), "CancelConnection", 1)
	s.False(conn.IsConnected())
	s.Error(linkCtx.Err(), "connection context MUST be cancelled on disconnect")

	s.NoError(conn.Disconnect(), "second Disconnect MUST be a no-op")
	client.AssertNumberOfCalls(s.T(), "CancelConnection", 1)
}

func (s *ConnectionTestSuite) TestConnectionContext_ReportsLinkLoss() {
	// GOAL: Verify the monitor goroutine turns a peripheral-side disconnect into a cancelled context
	//
	// TEST SCENARIO: peripheral disconnects → ConnectionContext done with ErrNotConnected cause

	conn := s.connect()
	linkCtx := conn.ConnectionContext()

	s.PeripheralBuilder.Client().SimulateDisconnect()

	select {
	case <-linkCtx.Done():
		s.ErrorIs(context.Cause(linkCtx), device.ErrNotConnected)
		s.False(conn.IsConnected())
	case <-time.After(s.TestTimeout):
		s.FailNow("link loss MUST cancel the connection context")
	}
}

func TestConnectionTestSuite(t *testing.T) {
	suite.Run(t, new(ConnectionTestSuite))
}

type DialFailureTestSuite struct {
	testutils.MockBLEPeripheralSuite
}

func (s *DialFailureTestSuite) SetupTest() {
	s.WithPeripheral().WithDialError(errors.New("can't dial: is Bluetooth turned on?"))
	s.MockBLEPeripheralSuite.SetupTest()
}

func (s *DialFailureTestSuite) TestConnect_NormalizesDialErrors() {
	conn := goble.NewConnection(s.Logger)

	err := conn.Connect(context.Background(), "AA:BB:CC:DD:EE:FF")

	s.ErrorIs(err, device.ErrBluetoothOff, "platform errors MUST be normalized")
	s.False(conn.IsConnected())
}

func TestDialFailureTestSuite(t *testing.T) {
	suite.Run(t, new(DialFailureTestSuite))
}
