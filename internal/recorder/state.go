package recorder

import "fmt"

// State is the recorder's position in its lifecycle.
//
//	Idle ──Start──▶ Armed ◀──────────────┐
//	  ▲   fail╲       │ speech            │ silence window elapsed
//	  │        ▼      ▼                   │
//	  │      Error  Recording ────────────┘ (Paused instead when gated)
//	  └──Stop── any
//
// Armed and Paused swap whenever the gate (user pause or active playback)
// opens or closes. Recording ignores the gate until the utterance closes.
type State int

const (
	// StateIdle means capture is released.
	StateIdle State = iota

	// StateArmed means capture is live and the next loud frame opens an
	// utterance.
	StateArmed

	// StateRecording means an utterance is open and accumulating frames.
	StateRecording

	// StatePaused means capture is live but new utterances are suppressed.
	StatePaused

	// StateError means capture could not be acquired or was lost.
	StateError
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateError; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("recorder: unknown state %q", text)
}

// Active reports whether capture is held in this state.
func (s State) Active() bool {
	return s == StateArmed || s == StateRecording || s == StatePaused
}
