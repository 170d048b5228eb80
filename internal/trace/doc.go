// Package trace records the protocol exchange of device sessions as a stream of CBOR events.
//
// A session emits one Event for every frame it receives, every command it writes, every
// state transition and every failure. Events use integer map keys and nanosecond RFC 3339
// timestamps, and a trace file is simply the concatenation of encoded events, so it can be
// appended to by FileRecorder and streamed back by Reader.
package trace
