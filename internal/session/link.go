package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/medlink/internal/device"
	"github.com/srg/medlink/internal/trace"
	"github.com/srg/medlink/pkg/config"
)

// Link holds the state shared by every protocol handler: the transport connection, the
// current protocol state and the outcome. Handlers embed *Link and implement OnFrame and
// Run on top of it.
//
// State changes are compare-and-set: a transition names the state it expects to leave and
// is refused if the session has moved on. Frames arrive on the transport's goroutine while
// Run waits on its own, so all fields are guarded by mu.
type Link struct {
	id         string
	deviceType string
	address    string
	transport  device.Transport
	recorder   trace.Recorder
	logger     *logrus.Entry
	timeout    time.Duration

	mu         sync.Mutex
	state      State
	connected  bool
	used       bool
	result     []byte
	err        error
	connectErr error
	done       chan struct{}
}

// NewLink creates a Link in StateIdle. The profile's timeout applies when opts.Timeout is zero.
func NewLink(deviceType, address string, profile *config.Profile, opts Options) *Link {
	id := uuid.NewString()

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = trace.NoopRecorder{}
	}
	timeout := opts.Timeout
	if timeout == 0 && profile != nil {
		timeout = profile.Timeout
	}

	return &Link{
		id:         id,
		deviceType: deviceType,
		address:    address,
		transport:  opts.Transport,
		recorder:   recorder,
		timeout:    timeout,
		logger: logger.WithFields(logrus.Fields{
			"session":     id,
			"device_type": deviceType,
			"address":     address,
		}),
		state: StateIdle,
		done:  make(chan struct{}),
	}
}

func (l *Link) ID() string         { return l.id }
func (l *Link) DeviceType() string { return l.deviceType }
func (l *Link) Address() string    { return l.address }

// Logger returns the session-scoped logger.
func (l *Link) Logger() *logrus.Entry { return l.logger }

// State returns the current protocol state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Result returns a copy of the frame that completed the session, or nil.
func (l *Link) Result() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.result == nil {
		return nil
	}
	return append([]byte(nil), l.result...)
}

// Err returns the reason the session ended in StateError.
func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Done is closed once the session reaches a terminal state.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// IsConnected reports whether the session holds a connection.
func (l *Link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Connect asks the transport for a connection and reports whether it succeeded.
// Calling it while connected returns true without reconnecting.
func (l *Link) Connect(ctx context.Context) bool {
	l.mu.Lock()
	if l.connected {
		l.mu.Unlock()
		return true
	}
	l.mu.Unlock()

	if l.transport == nil {
		l.setConnectErr(ErrNoTransport)
		return false
	}

	if err := l.transport.Connect(ctx, l.address); err != nil {
		l.logger.WithError(err).Warn("Connection failed")
		l.setConnectErr(err)
		return false
	}

	l.mu.Lock()
	l.connected = true
	l.connectErr = nil
	l.mu.Unlock()

	l.logger.Info("Connected")
	return true
}

func (l *Link) setConnectErr(err error) {
	l.mu.Lock()
	l.connectErr = err
	l.mu.Unlock()
}

// Disconnect asks the transport to disconnect if the session is connected. Transport
// errors and panics are logged and swallowed.
func (l *Link) Disconnect() {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return
	}
	l.connected = false
	l.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			l.logger.WithField("panic", r).Error("Transport panicked during disconnect")
		}
	}()

	if err := l.transport.Disconnect(); err != nil {
		l.logger.WithError(err).Warn("Disconnect failed")
		return
	}
	l.logger.Info("Disconnected")
}

// Advance moves the session from one state to another. It returns false, leaving the
// state unchanged, when the session is not in from or is already terminal.
func (l *Link) Advance(from, to State) bool {
	return l.transition(from, to, nil, nil, false)
}

// Complete moves the session from the given state to StateResultReceived, keeping a copy
// of the result frame.
func (l *Link) Complete(from State, result []byte) bool {
	return l.transition(from, StateResultReceived, append([]byte{}, result...), nil, false)
}

// FailFrom moves the session from the given state to StateError.
func (l *Link) FailFrom(from State, err error) bool {
	return l.transition(from, StateError, nil, err, false)
}

// Fail moves the session to StateError from whatever non-terminal state it is in.
func (l *Link) Fail(err error) bool {
	return l.transition("", StateError, nil, err, true)
}

// Abort ends an unused session in StateError without connecting and returns err, or
// ErrSessionUsed when the session already ran. Handlers use it for configuration errors.
func (l *Link) Abort(err error) error {
	if !l.claim() {
		return ErrSessionUsed
	}
	l.logger.WithError(err).Error("Session aborted before connecting")
	l.Fail(err)
	return err
}

func (l *Link) transition(from, to State, result []byte, err error, anyFrom bool) bool {
	l.mu.Lock()
	current := l.state
	if current.IsTerminal() || (!anyFrom && current != from) {
		l.mu.Unlock()
		return false
	}
	l.state = to
	if result != nil {
		l.result = result
	}
	if err != nil {
		l.err = err
	}
	if to.IsTerminal() {
		close(l.done)
	}
	l.mu.Unlock()

	entry := l.logger.WithFields(logrus.Fields{"from": current, "to": to})
	if err != nil {
		entry.WithError(err).Warn("Session failed")
		l.record(trace.Event{Kind: trace.KindError, From: string(current), Message: err.Error()})
	} else {
		entry.Debug("State changed")
	}
	l.record(trace.Event{Kind: trace.KindState, From: string(current), To: string(to)})
	return true
}

// Ignore notes a frame that has no meaning in the current state.
func (l *Link) Ignore(sender string, frame []byte) {
	l.logger.WithFields(logrus.Fields{
		"state":  l.State(),
		"sender": sender,
		"frame":  fmt.Sprintf("% X", frame),
	}).Debug("Ignoring unexpected frame")
}

// Subscribe registers handler for notifications on characteristic. Every frame is traced
// before it reaches the handler.
func (l *Link) Subscribe(ctx context.Context, characteristic string, handler device.FrameHandler) error {
	err := l.transport.Subscribe(ctx, characteristic, func(sender string, frame []byte) {
		l.record(trace.Event{
			Kind:           trace.KindFrame,
			Direction:      trace.DirectionIn,
			Characteristic: sender,
			Data:           frame,
		})
		handler(sender, frame)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", characteristic, err)
	}
	l.logger.WithField("characteristic", characteristic).Debug("Subscribed")
	return nil
}

// Write sends payload to characteristic. Writes are never retried.
func (l *Link) Write(ctx context.Context, characteristic string, payload []byte) error {
	l.record(trace.Event{
		Kind:           trace.KindCommand,
		Direction:      trace.DirectionOut,
		Characteristic: characteristic,
		Data:           payload,
	})
	if err := l.transport.Write(ctx, characteristic, payload); err != nil {
		return fmt.Errorf("write to %s: %w", characteristic, err)
	}
	l.logger.WithFields(logrus.Fields{
		"characteristic": characteristic,
		"payload":        fmt.Sprintf("% X", payload),
	}).Debug("Command written")
	return nil
}

func (l *Link) record(event trace.Event) {
	event.Timestamp = time.Now()
	event.SessionID = l.id
	event.DeviceType = l.deviceType
	event.Address = l.address
	l.recorder.Record(event)
}

func (l *Link) claim() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.used {
		return false
	}
	l.used = true
	return true
}

// Drive runs the session lifecycle around the protocol-specific start step:
// Idle -> Connecting -> Connected, then start, then a wait for a terminal state.
//
// A connect failure ends the session in StateError without disconnecting. Once connected,
// the connection is released exactly once before Drive returns, whether the protocol
// completes, start fails or panics, the timeout expires, the link drops or ctx is cancelled.
func (l *Link) Drive(ctx context.Context, start func(ctx context.Context) error) error {
	if !l.claim() {
		return ErrSessionUsed
	}
	if l.transport == nil {
		l.Fail(ErrNoTransport)
		return ErrNoTransport
	}

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, l.timeout, device.ErrTimeout)
		defer cancel()
	}

	l.Advance(StateIdle, StateConnecting)
	if !l.Connect(ctx) {
		l.mu.Lock()
		cause := l.connectErr
		l.mu.Unlock()
		l.FailFrom(StateConnecting, fmt.Errorf("%w: %w", ErrConnectFailed, cause))
		return nil
	}
	defer l.Disconnect()
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithField("panic", r).Error("Recovered from panic while driving protocol")
			l.Fail(fmt.Errorf("%w: %v", ErrPanic, r))
		}
	}()

	l.Advance(StateConnecting, StateConnected)

	if err := start(ctx); err != nil {
		l.Fail(err)
		return nil
	}

	l.await(ctx)
	return nil
}

func (l *Link) await(ctx context.Context) {
	var lost <-chan struct{}
	var linkCtx context.Context
	if m, ok := l.transport.(device.ConnectionMonitor); ok {
		if linkCtx = m.ConnectionContext(); linkCtx != nil {
			lost = linkCtx.Done()
		}
	}

	select {
	case <-l.done:
	case <-ctx.Done():
		l.Fail(contextCause(ctx))
	case <-lost:
		if ctx.Err() != nil {
			l.Fail(contextCause(ctx))
			return
		}
		cause := context.Cause(linkCtx)
		if cause == nil || errors.Is(cause, context.Canceled) {
			cause = device.ErrNotConnected
		}
		l.Fail(fmt.Errorf("link lost: %w", cause))
	}
}

func contextCause(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}
