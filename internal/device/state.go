package device

import "fmt"

// State is the device's operating state. Exactly one is current; every
// transition happens inside a tick, never asynchronously.
type State uint8

const (
	StateDisconnected State = iota
	StateIdle
	StateRecording
	StateProcessing
	StatePlaying
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateProcessing:
		return "processing"
	case StatePlaying:
		return "playing"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Ordinal returns the wire encoding of the state used in status responses.
func (s State) Ordinal() uint8 {
	return uint8(s)
}

// StatusLines renders the two-line indicator text for a state. Pure
// function; the display collaborator decides what to do with it.
func StatusLines(s State) (string, string) {
	switch s {
	case StateDisconnected:
		return "VoiceMic", "waiting for link"
	case StateIdle:
		return "VoiceMic", "ready"
	case StateRecording:
		return "Recording", "speak now"
	case StateProcessing:
		return "Processing", "please wait"
	case StatePlaying:
		return "Playing", "..."
	default:
		return "VoiceMic", ""
	}
}
