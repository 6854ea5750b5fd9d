package call

import "fmt"

// The session sorts faults into a small taxonomy that fixes how each is
// handled: device faults are fatal, connection faults rotate credentials and
// retry before going terminal, decode faults drop the chunk
// (audio.DecodeError), billing faults hang up gracefully, and send faults
// during teardown are swallowed.

// DeviceError is a microphone or speaker fault. Fatal; no retry.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string { return fmt.Sprintf("call: device: %v", e.Err) }
func (e *DeviceError) Unwrap() error { return e.Err }

// ConnectionError is a transport fault. During connect it triggers bounded
// credential rotation; once the pool is exhausted, or mid-call, it is
// terminal.
type ConnectionError struct {
	Err      error
	Attempts int
}

func (e *ConnectionError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("call: connection failed after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("call: connection: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// BillingError is a funds or store fault. The call ends gracefully with a
// payment prompt rather than an error screen.
type BillingError struct {
	Err error
}

func (e *BillingError) Error() string { return fmt.Sprintf("call: billing: %v", e.Err) }
func (e *BillingError) Unwrap() error { return e.Err }
