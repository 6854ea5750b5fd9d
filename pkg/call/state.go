// Package call orchestrates one realtime tutoring call: microphone blocks
// out to the model, synthesized speech back to the speaker, per-minute
// billing, and a small state machine the UI can observe.
package call

// Phase is the lifecycle state of a session.
type Phase int

const (
	// PhaseIdle is the initial state; nothing is held.
	PhaseIdle Phase = iota

	// PhaseConnecting covers dialing, credential rotation, and waiting for
	// the setup acknowledgement.
	PhaseConnecting

	// PhaseConnected is live audio both ways. Billing ticks only here.
	PhaseConnected

	// PhaseError is terminal: a fatal fault ended the call. Resources are
	// released but the phase stays visible so the UI can show what happened.
	PhaseError

	// PhaseTerminated is terminal: the call ended normally.
	PhaseTerminated
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseConnecting:
		return "CONNECTING"
	case PhaseConnected:
		return "CONNECTED"
	case PhaseError:
		return "ERROR"
	case PhaseTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the phase can never change again.
func (p Phase) Terminal() bool {
	return p == PhaseError || p == PhaseTerminated
}
