package session

// State is a protocol state. Each device type defines its own set; the states below are
// shared by all of them.
type State string

const (
	StateIdle           State = "Idle"
	StateConnecting     State = "Connecting"
	StateConnected      State = "Connected"
	StateResultReceived State = "ResultReceived"
	StateError          State = "Error"
)

// IsTerminal reports whether a session in this state is finished.
func (s State) IsTerminal() bool {
	return s == StateResultReceived || s == StateError
}

func (s State) String() string {
	return string(s)
}
