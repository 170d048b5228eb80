package trace

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Kind classifies an event.
type Kind uint8

const (
	// KindFrame is a notification frame received from the device.
	KindFrame Kind = iota
	// KindCommand is a payload written to the device.
	KindCommand
	// KindState is a protocol state transition.
	KindState
	// KindError is a session failure.
	KindError
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindFrame:
		return "frame"
	case KindCommand:
		return "command"
	case KindState:
		return "state"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseKind converts a kind name back to a Kind.
func ParseKind(s string) (Kind, error) {
	for k := KindFrame; k <= KindError; k++ {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// Direction indicates data flow relative to the host.
type Direction uint8

const (
	// DirectionNone is used for events that carry no payload.
	DirectionNone Direction = iota
	// DirectionIn is data received from the device.
	DirectionIn
	// DirectionOut is data written to the device.
	DirectionOut
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "-"
	}
}

// Event is one recorded step of a session.
type Event struct {
	Timestamp      time.Time `cbor:"1,keyasint"`
	SessionID      string    `cbor:"2,keyasint"`
	DeviceType     string    `cbor:"3,keyasint,omitempty"`
	Address        string    `cbor:"4,keyasint,omitempty"`
	Kind           Kind      `cbor:"5,keyasint"`
	Direction      Direction `cbor:"6,keyasint,omitempty"`
	Characteristic string    `cbor:"7,keyasint,omitempty"`
	Data           []byte    `cbor:"8,keyasint,omitempty"`
	From           string    `cbor:"9,keyasint,omitempty"`
	To             string    `cbor:"10,keyasint,omitempty"`
	Message        string    `cbor:"11,keyasint,omitempty"`
}

// String renders the event as a single human-readable line.
func (e Event) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %-7s", e.Timestamp.Format(time.RFC3339Nano), shortID(e.SessionID), e.Kind)
	switch e.Kind {
	case KindFrame, KindCommand:
		fmt.Fprintf(&b, " %s %s %s", e.Direction, e.Characteristic, strings.ToUpper(hex.EncodeToString(e.Data)))
	case KindState:
		fmt.Fprintf(&b, " %s -> %s", e.From, e.To)
	case KindError:
		if e.From != "" {
			fmt.Fprintf(&b, " in %s:", e.From)
		}
		fmt.Fprintf(&b, " %s", e.Message)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
