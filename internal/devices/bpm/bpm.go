// Package bpm drives a blood-pressure monitor: a handshake command acknowledged by a single
// byte, followed by a measurement whose result frame is identified by its leading byte.
package bpm

import (
	"bytes"
	"context"

	"github.com/srg/medlink/internal/session"
	"github.com/srg/medlink/pkg/config"
)

// DeviceType is the registry key and profile name of this handler.
const DeviceType = "BloodPressureMonitor"

// Device-specific states.
const (
	StateHandshaking session.State = "Handshaking"
	StateMeasuring   session.State = "Measuring"
)

// Frame patterns, overridable through the profile's frames section.
var (
	DefaultHandshakeAck  = []byte{0x06}
	DefaultResultPrefix  = []byte{0xFC}
	DefaultChecksumError = []byte{0xFD}
)

// Monitor is the blood-pressure monitor session.
type Monitor struct {
	*session.Link

	writeChar    string
	indicateChar string
	handshake    []byte

	ack           []byte
	resultPrefix  []byte
	checksumError []byte

	configErr error
}

// New builds a Monitor. Missing profile keys are reported when the session runs.
func New(address string, profile *config.Profile, opts session.Options) session.Session {
	m := &Monitor{
		Link:          session.NewLink(DeviceType, address, profile, opts),
		ack:           profile.Frame("handshake_ack", DefaultHandshakeAck),
		resultPrefix:  profile.Frame("result", DefaultResultPrefix),
		checksumError: profile.Frame("checksum_error", DefaultChecksumError),
	}
	m.configErr = m.resolve(profile)
	return m
}

func (m *Monitor) resolve(profile *config.Profile) error {
	var err error
	if m.writeChar, err = profile.Char("write"); err != nil {
		return err
	}
	if m.indicateChar, err = profile.Char("indicate"); err != nil {
		return err
	}
	if m.handshake, err = profile.Command("handshake"); err != nil {
		return err
	}
	return nil
}

// Run connects, performs the handshake and waits for the measurement result.
func (m *Monitor) Run(ctx context.Context) error {
	if m.configErr != nil {
		return m.Abort(m.configErr)
	}
	return m.Drive(ctx, m.start)
}

func (m *Monitor) start(ctx context.Context) error {
	if err := m.Subscribe(ctx, m.indicateChar, m.OnFrame); err != nil {
		return err
	}
	// Entered before the write so that an immediate acknowledgement is not missed.
	m.Advance(session.StateConnected, StateHandshaking)
	return m.Write(ctx, m.writeChar, m.handshake)
}

// OnFrame interprets a frame according to the current state.
func (m *Monitor) OnFrame(sender string, frame []byte) {
	switch state := m.State(); state {
	case StateHandshaking:
		switch {
		case bytes.Equal(frame, m.ack):
			m.Advance(StateHandshaking, StateMeasuring)
		case bytes.HasPrefix(frame, m.checksumError):
			m.FailFrom(StateHandshaking, session.ErrChecksum)
		default:
			m.Ignore(sender, frame)
		}
	case StateMeasuring:
		switch {
		case bytes.HasPrefix(frame, m.resultPrefix):
			m.Complete(StateMeasuring, frame)
		case bytes.HasPrefix(frame, m.checksumError):
			m.FailFrom(StateMeasuring, session.ErrChecksum)
		default:
			m.Ignore(sender, frame)
		}
	default:
		m.Ignore(sender, frame)
	}
}

var _ session.Session = (*Monitor)(nil)
