package trace

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects events. Zero-valued fields match everything; SessionID also matches
// the short id prefix printed by Event.String.
type Filter struct {
	SessionID string
	Kind      *Kind
}

func (f *Filter) matches(event Event) bool {
	if f.SessionID != "" && !strings.HasPrefix(event.SessionID, f.SessionID) {
		return false
	}
	if f.Kind != nil && event.Kind != *f.Kind {
		return false
	}
	return true
}

// Reader streams events from a trace.
type Reader struct {
	r       io.Reader
	decoder *cbor.Decoder
	filter  Filter
}

// OpenReader opens a trace file and returns a Reader applying filter.
func OpenReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewReader(f, filter), nil
}

// NewReader reads events from r applying filter.
func NewReader(r io.Reader, filter Filter) *Reader {
	return &Reader{
		r:       r,
		decoder: NewDecoder(r),
		filter:  filter,
	}
}

// Next returns the next matching event, or io.EOF when the trace is exhausted.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		if err := r.decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		if r.filter.matches(event) {
			return event, nil
		}
	}
}

// All drains the reader.
func (r *Reader) All() ([]Event, error) {
	var events []Event
	for {
		event, err := r.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
}

// Close closes the underlying source if it is closable.
func (r *Reader) Close() error {
	if c, ok := r.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
