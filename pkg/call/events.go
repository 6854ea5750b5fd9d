package call

// Severity classifies a notice for UI presentation.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notice is a user-facing message from the session.
type Notice struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`

	// PaymentURL carries a checkout link on billing notices, empty otherwise.
	PaymentURL string `json:"payment_url,omitempty"`
}

// Status is a snapshot of the observable session state. Everything in it is
// advisory display state; nothing downstream keys off it.
type Status struct {
	Phase   Phase `json:"-"`
	Elapsed int64 `json:"elapsed"`

	// Level is the microphone input level, 0..100. Still reported while
	// muted: mute stops forwarding, not metering.
	Level float64 `json:"level"`

	// Speaking reports whether the tutor is mid-turn, derived from the
	// explicit turn events only.
	Speaking bool `json:"speaking"`

	// BufferedMS is how much model speech is scheduled but not yet played.
	// A UI hint; it gates nothing.
	BufferedMS int64 `json:"buffered_ms"`

	Muted bool `json:"muted"`
}
