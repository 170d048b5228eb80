// Package scale drives a weighing scale. After the weigh command is acknowledged the scale
// streams interim readings while the load settles, then sends one final reading.
//
// The frame bytes below are placeholder defaults, not taken from any particular scale.
// A profile replaces them through its frames section (ack, interim, final and error),
// for example:
//
//	WeighingScale:
//	  chars: { write: "ffe9", indicate: "ffe4" }
//	  commands: { weigh: "AA02" }
//	  frames: { ack: "A0", interim: "CA", final: "CB", error: "CE" }
package scale

import (
	"bytes"
	"context"
	"sync"

	"github.com/srg/medlink/internal/session"
	"github.com/srg/medlink/pkg/config"
)

// DeviceType is the registry key and profile name of this handler.
const DeviceType = "WeighingScale"

const (
	StateRequesting session.State = "Requesting"
	StateWeighing   session.State = "Weighing"
)

var (
	DefaultAck           = []byte{0xA0}
	DefaultInterimPrefix = []byte{0xCA}
	DefaultFinalPrefix   = []byte{0xCB}
	DefaultErrorPrefix   = []byte{0xCE}
)

// Scale is the weighing scale session.
type Scale struct {
	*session.Link

	writeChar    string
	indicateChar string
	weigh        []byte

	ack           []byte
	interimPrefix []byte
	finalPrefix   []byte
	errorPrefix   []byte

	mu      sync.Mutex
	interim []byte

	configErr error
}

// New builds a Scale.
func New(address string, profile *config.Profile, opts session.Options) session.Session {
	s := &Scale{
		Link:          session.NewLink(DeviceType, address, profile, opts),
		ack:           profile.Frame("ack", DefaultAck),
		interimPrefix: profile.Frame("interim", DefaultInterimPrefix),
		finalPrefix:   profile.Frame("final", DefaultFinalPrefix),
		errorPrefix:   profile.Frame("error", DefaultErrorPrefix),
	}

	var err error
	if s.writeChar, err = profile.Char("write"); err != nil {
		s.configErr = err
	} else if s.indicateChar, err = profile.Char("indicate"); err != nil {
		s.configErr = err
	} else if s.weigh, err = profile.Command("weigh"); err != nil {
		s.configErr = err
	}
	return s
}

func (s *Scale) Run(ctx context.Context) error {
	if s.configErr != nil {
		return s.Abort(s.configErr)
	}
	return s.Drive(ctx, func(ctx context.Context) error {
		if err := s.Subscribe(ctx, s.indicateChar, s.OnFrame); err != nil {
			return err
		}
		s.Advance(session.StateConnected, StateRequesting)
		return s.Write(ctx, s.writeChar, s.weigh)
	})
}

func (s *Scale) OnFrame(sender string, frame []byte) {
	switch s.State() {
	case StateRequesting:
		switch {
		case bytes.Equal(frame, s.ack):
			s.Advance(StateRequesting, StateWeighing)
			return
		case bytes.HasPrefix(frame, s.errorPrefix):
			s.FailFrom(StateRequesting, session.ErrDeviceReported)
			return
		}
	case StateWeighing:
		switch {
		case bytes.HasPrefix(frame, s.interimPrefix):
			s.mu.Lock()
			s.interim = append(s.interim[:0], frame...)
			s.mu.Unlock()
			return
		case bytes.HasPrefix(frame, s.finalPrefix):
			s.Complete(StateWeighing, frame)
			return
		case bytes.HasPrefix(frame, s.errorPrefix):
			s.FailFrom(StateWeighing, session.ErrDeviceReported)
			return
		}
	}
	s.Ignore(sender, frame)
}

// LastInterim returns the most recent unsettled reading, or nil.
func (s *Scale) LastInterim() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interim == nil {
		return nil
	}
	return append([]byte(nil), s.interim...)
}

var _ session.Session = (*Scale)(nil)
