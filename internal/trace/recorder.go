package trace

import (
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Recorder receives trace events. Implementations must be safe for concurrent use,
// since frames arrive on the transport's goroutine.
type Recorder interface {
	Record(event Event)
}

// NoopRecorder discards all events.
type NoopRecorder struct{}

// Record discards the event.
func (NoopRecorder) Record(Event) {}

// FileRecorder appends events to a file in CBOR format.
type FileRecorder struct {
	w       io.WriteCloser
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
}

// NewFileRecorder opens path for appending, creating it with mode 0644 if needed.
func NewFileRecorder(path string) (*FileRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return NewWriterRecorder(f), nil
}

// NewWriterRecorder records events to w. Close closes w.
func NewWriterRecorder(w io.WriteCloser) *FileRecorder {
	return &FileRecorder{
		w:       w,
		encoder: NewEncoder(w),
	}
}

// Record encodes the event. Encoding failures are dropped so that tracing never
// interferes with a running session.
func (r *FileRecorder) Record(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	_ = r.encoder.Encode(event)
}

// Close closes the underlying writer. Subsequent calls and records are no-ops.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.w.Close()
}

// MultiRecorder fans events out to several recorders.
type MultiRecorder []Recorder

// Record forwards the event to every recorder.
func (m MultiRecorder) Record(event Event) {
	for _, r := range m {
		r.Record(event)
	}
}

var (
	_ Recorder = NoopRecorder{}
	_ Recorder = (*FileRecorder)(nil)
	_ Recorder = MultiRecorder(nil)
)
