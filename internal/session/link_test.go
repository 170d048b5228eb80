package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/medlink/internal/device"
	"github.com/srg/medlink/internal/testutils"
	"github.com/srg/medlink/internal/testutils/mocks"
	"github.com/srg/medlink/internal/trace"
	"github.com/srg/medlink/pkg/config"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const stateWaiting State = "Waiting"

// echoSession is a minimal handler: subscribe to "I", write 0x01 to "W", complete on 0x06.
type echoSession struct {
	*Link
	start func(ctx context.Context) error
}

func newEchoSession(opts Options) *echoSession {
	p := &echoSession{Link: NewLink("echo", "AA:BB:CC:DD:EE:FF", nil, opts)}
	p.start = func(ctx context.Context) error {
		if err := p.Subscribe(ctx, "I", p.OnFrame); err != nil {
			return err
		}
		p.Advance(StateConnected, stateWaiting)
		return p.Write(ctx, "W", []byte{0x01})
	}
	return p
}

func (p *echoSession) OnFrame(sender string, frame []byte) {
	if p.State() == stateWaiting && bytes.Equal(frame, []byte{0x06}) {
		p.Complete(stateWaiting, frame)
		return
	}
	p.Ignore(sender, frame)
}

func (p *echoSession) Run(ctx context.Context) error {
	return p.Drive(ctx, p.start)
}

var _ Session = (*echoSession)(nil)

type memoryRecorder struct {
	mu     sync.Mutex
	events []trace.Event
}

func (r *memoryRecorder) Record(e trace.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *memoryRecorder) kinds() []trace.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]trace.Kind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

type LinkTestSuite struct {
	suite.Suite
	helper    *testutils.TestHelper
	transport *mocks.MockTransport
	recorder  *memoryRecorder
}

func (s *LinkTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.transport = mocks.NewMockTransport()
	s.recorder = &memoryRecorder{}
}

func (s *LinkTestSuite) options() Options {
	return Options{Transport: s.transport, Logger: s.helper.Logger, Recorder: s.recorder}
}

func (s *LinkTestSuite) TestRun_CompletesAndDisconnectsOnce() {
	// GOAL: Verify the full lifecycle reaches ResultReceived and releases the connection once
	//
	// TEST SCENARIO: connect OK → subscribe → write triggers ack frame → ResultReceived → disconnect once

	s.transport.On("Connect", mock.Anything, "AA:BB:CC:DD:EE:FF").Return(nil).Once()
	s.transport.On("Subscribe", mock.Anything, "I", mock.Anything).Return(nil).Once()
	s.transport.On("Write", mock.Anything, "W", []byte{0x01}).Run(func(mock.Arguments) {
		s.transport.SimulateFrame("I", []byte{0x06})
	}).Return(nil).Once()
	s.transport.On("Disconnect").Return(nil).Once()

	p := newEchoSession(s.options())
	s.Require().NoError(p.Run(context.Background()))

	s.Equal(StateResultReceived, p.State(), "session MUST end in ResultReceived")
	s.Equal([]byte{0x06}, p.Result())
	s.NoError(p.Err())
	s.False(p.IsConnected(), "connection MUST be released")
	s.transport.AssertNumberOfCalls(s.T(), "Disconnect", 1)
	s.transport.AssertExpectations(s.T())

	select {
	case <-p.Done():
	default:
		s.Fail("Done MUST be closed once terminal")
	}

	s.Contains(s.recorder.kinds(), trace.KindFrame, "received frames MUST be traced")
	s.Contains(s.recorder.kinds(), trace.KindCommand, "written commands MUST be traced")
}

func (s *LinkTestSuite) TestRun_ConnectFailure() {
	// GOAL: Verify a failed connect ends the session without protocol steps or disconnect
	//
	// TEST SCENARIO: transport Connect fails → state Error → no Subscribe, Write or Disconnect

	s.transport.On("Connect", mock.Anything, mock.Anything).Return(errors.New("radio off")).Once()

	p := newEchoSession(s.options())
	s.Require().NoError(p.Run(context.Background()), "connect failures MUST NOT escape Run")

	s.Equal(StateError, p.State())
	s.ErrorIs(p.Err(), ErrConnectFailed)
	s.Contains(p.Err().Error(), "radio off")
	s.transport.AssertNotCalled(s.T(), "Subscribe", mock.Anything, mock.Anything, mock.Anything)
	s.transport.AssertNotCalled(s.T(), "Write", mock.Anything, mock.Anything, mock.Anything)
	s.transport.AssertNotCalled(s.T(), "Disconnect")
}

func (s *LinkTestSuite) TestRun_WriteFailure() {
	// GOAL: Verify a transport write error is contained in Run and still releases the connection
	//
	// TEST SCENARIO: Write fails → state Error with the write error → disconnect exactly once

	writeErr := errors.New("att error")
	s.transport.On("Connect", mock.Anything, mock.Anything).Return(nil)
	s.transport.On("Subscribe", mock.Anything, "I", mock.Anything).Return(nil)
	s.transport.On("Write", mock.Anything, "W", mock.Anything).Return(writeErr).Once()
	s.transport.On("Disconnect").Return(nil).Once()

	p := newEchoSession(s.options())
	s.Require().NoError(p.Run(context.Background()))

	s.Equal(StateError, p.State())
	s.ErrorIs(p.Err(), writeErr)
	s.transport.AssertNumberOfCalls(s.T(), "Disconnect", 1)
	s.Contains(s.recorder.kinds(), trace.KindError, "failures MUST be traced")
}

func (s *LinkTestSuite) TestRun_SubscribeFailure() {
	s.transport.On("Connect", mock.Anything, mock.Anything).Return(nil)
	s.transport.On("Subscribe", mock.Anything, "I", mock.Anything).Return(device.ErrUnsupported)
	s.transport.On("Disconnect").Return(nil).Once()

	p := newEchoSession(s.options())
	s.Require().NoError(p.Run(context.Background()))

	s.Equal(StateError, p.State())
	s.ErrorIs(p.Err(), device.ErrUnsupported)
	s.transport.AssertNotCalled(s.T(), "Write", mock.Anything, mock.Anything, mock.Anything)
	s.transport.AssertNumberOfCalls(s.T(), "Disconnect", 1)
}

func (s *LinkTestSuite) TestRun_PanicIsRecovered() {
	// GOAL: Verify a panic inside a protocol step is turned into StateError
	//
	// TEST SCENARIO: Write panics → Run returns normally → state Error (ErrPanic) → disconnect once

	s.transport.On("Connect", mock.Anything, mock.Anything).Return(nil)
	s.transport.On("Subscribe", mock.Anything, "I", mock.Anything).Return(nil)
	s.transport.On("Write", mock.Anything, "W", mock.Anything).Run(func(mock.Arguments) {
		panic("boom")
	}).Return(nil)
	s.transport.On("Disconnect").Return(nil).Once()

	p := newEchoSession(s.options())
	s.NotPanics(func() {
		s.Require().NoError(p.Run(context.Background()))
	})

	s.Equal(StateError, p.State())
	s.ErrorIs(p.Err(), ErrPanic)
	s.transport.AssertNumberOfCalls(s.T(), "Disconnect", 1)
}

func (s *LinkTestSuite) TestRun_CancellationDisconnects() {
	// GOAL: Verify cancelling the context during the wait still releases the connection
	//
	// TEST SCENARIO: device never answers → ctx cancelled → Run returns → state Error → disconnect once

	s.transport.On("Connect", mock.Anything, mock.Anything).Return(nil)
	s.transport.On("Subscribe", mock.Anything, "I", mock.Anything).Return(nil)
	s.transport.On("Write", mock.Anything, "W", mock.Anything).Return(nil)
	s.transport.On("Disconnect").Return(nil).Once()

	p := newEchoSession(s.options())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	finished := make(chan error, 1)
	go func() { finished <- p.Run(ctx) }()

	s.Eventually(func() bool { return p.State() == stateWaiting }, time.Second, 5*time.Millisecond,
		"session MUST reach the waiting state")
	cancel()

	select {
	case err := <-finished:
		s.NoError(err)
	case <-time.After(2 * time.Second):
		s.FailNow("Run MUST return after cancellation")
	}

	s.Equal(StateError, p.State())
	s.ErrorIs(p.Err(), context.Canceled)
	s.transport.AssertNumberOfCalls(s.T(), "Disconnect", 1)
}

func (s *LinkTestSuite) TestRun_Timeout() {
	s.transport.On("Connect", mock.Anything, mock.Anything).Return(nil)
	s.transport.On("Subscribe", mock.Anything, "I", mock.Anything).Return(nil)
	s.transport.On("Write", mock.Anything, "W", mock.Anything).Return(nil)
	s.transport.On("Disconnect").Return(nil).Once()

	opts := s.options()
	opts.Timeout = 30 * time.Millisecond
	p := newEchoSession(opts)

	s.Require().NoError(p.Run(context.Background()))

	s.Equal(StateError, p.State())
	s.ErrorIs(p.Err(), device.ErrTimeout, "an expired session timeout MUST force Error")
	s.transport.AssertNumberOfCalls(s.T(), "Disconnect", 1)
}

func (s *LinkTestSuite) TestRun_TimeoutBoundsConnect() {
	// GOAL: Verify the session timeout also bounds connection setup
	//
	// TEST SCENARIO: Connect blocks until its context ends → timeout expires → state Error (connect failed) → no disconnect

	s.transport.On("Connect", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(context.DeadlineExceeded).Once()

	opts := s.options()
	opts.Timeout = 30 * time.Millisecond
	p := newEchoSession(opts)

	started := time.Now()
	s.Require().NoError(p.Run(context.Background()))

	s.Less(time.Since(started), 2*time.Second, "a hanging connect MUST be cut off by the session timeout")
	s.Equal(StateError, p.State())
	s.ErrorIs(p.Err(), ErrConnectFailed)
	s.transport.AssertNotCalled(s.T(), "Subscribe", mock.Anything, mock.Anything, mock.Anything)
	s.transport.AssertNotCalled(s.T(), "Disconnect")
}

func (s *LinkTestSuite) TestRun_LinkLoss() {
	// GOAL: Verify a transport that reports link loss ends the wait
	//
	// TEST SCENARIO: monitored transport drops the link while waiting → state Error (not connected)

	monitored := mocks.NewMonitoredTransport()
	monitored.On("Connect", mock.Anything, mock.Anything).Return(nil)
	monitored.On("Subscribe", mock.Anything, "I", mock.Anything).Return(nil)
	monitored.On("Write", mock.Anything, "W", mock.Anything).Run(func(mock.Arguments) {
		monitored.LoseConnection(device.ErrNotConnected)
	}).Return(nil)
	monitored.On("Disconnect").Return(nil).Once()

	p := newEchoSession(Options{Transport: monitored, Logger: s.helper.Logger})
	s.Require().NoError(p.Run(context.Background()))

	s.Equal(StateError, p.State())
	s.ErrorIs(p.Err(), device.ErrNotConnected)
	monitored.AssertNumberOfCalls(s.T(), "Disconnect", 1)
}

func (s *LinkTestSuite) TestRun_SessionIsSingleUse() {
	s.transport.On("Connect", mock.Anything, mock.Anything).Return(errors.New("nope")).Once()

	p := newEchoSession(s.options())
	s.Require().NoError(p.Run(context.Background()))
	s.ErrorIs(p.Run(context.Background()), ErrSessionUsed, "second Run MUST be refused")
	s.transport.AssertNumberOfCalls(s.T(), "Connect", 1)
}

func (s *LinkTestSuite) TestRun_NoTransport() {
	p := newEchoSession(Options{Logger: s.helper.Logger})

	s.ErrorIs(p.Run(context.Background()), ErrNoTransport)
	s.Equal(StateError, p.State())
}

func (s *LinkTestSuite) TestAbort() {
	cfgErr := errors.New("missing chars.write")
	p := newEchoSession(s.options())

	s.Equal(cfgErr, p.Abort(cfgErr))
	s.Equal(StateError, p.State())
	s.ErrorIs(p.Err(), cfgErr)
	s.ErrorIs(p.Abort(cfgErr), ErrSessionUsed)
	s.transport.AssertNotCalled(s.T(), "Connect", mock.Anything, mock.Anything)
}

func (s *LinkTestSuite) TestDisconnect_NotConnectedIsNoop() {
	p := newEchoSession(s.options())

	s.NotPanics(p.Disconnect)
	s.transport.AssertNotCalled(s.T(), "Disconnect")
}

func (s *LinkTestSuite) TestDisconnect_SwallowsTransportFailures() {
	s.transport.On("Connect", mock.Anything, mock.Anything).Return(nil)
	s.transport.On("Disconnect").Run(func(mock.Arguments) { panic("driver crashed") }).Return(nil).Once()

	p := newEchoSession(s.options())
	s.Require().True(p.Connect(context.Background()))
	s.True(p.Connect(context.Background()), "Connect while connected MUST succeed without redialing")
	s.transport.AssertNumberOfCalls(s.T(), "Connect", 1)

	s.NotPanics(p.Disconnect, "Disconnect MUST never panic")
	s.False(p.IsConnected())
	s.NotPanics(p.Disconnect)
	s.transport.AssertNumberOfCalls(s.T(), "Disconnect", 1)
}

func (s *LinkTestSuite) TestTransitions_AreGated() {
	// GOAL: Verify compare-and-set transitions and terminal-state stickiness
	//
	// TEST SCENARIO: wrong source state refused → valid transition accepted → terminal refuses all

	l := NewLink("echo", "addr", nil, s.options())

	s.False(l.Advance(StateConnected, StateConnecting), "transition from a state not held MUST be refused")
	s.Equal(StateIdle, l.State())

	s.True(l.Advance(StateIdle, StateConnecting))
	s.True(l.Complete(StateConnecting, []byte{0xFC}))

	s.False(l.Fail(errors.New("late")), "terminal state MUST NOT change")
	s.False(l.Advance(StateResultReceived, StateIdle))
	s.Equal(StateResultReceived, l.State())
	s.NoError(l.Err())

	result := l.Result()
	result[0] = 0x00
	s.Equal([]byte{0xFC}, l.Result(), "Result MUST return a copy")
}

func (s *LinkTestSuite) TestNewLink_ProfileTimeout() {
	profile := &config.Profile{Name: "echo", Timeout: time.Minute}

	s.Equal(time.Minute, NewLink("echo", "addr", profile, Options{}).timeout)
	s.Equal(time.Second, NewLink("echo", "addr", profile, Options{Timeout: time.Second}).timeout,
		"explicit timeout MUST win over the profile")

	a, b := NewLink("echo", "addr", nil, Options{}), NewLink("echo", "addr", nil, Options{})
	s.NotEqual(a.ID(), b.ID(), "session IDs MUST be unique")
}

func TestLinkTestSuite(t *testing.T) {
	suite.Run(t, new(LinkTestSuite))
}
