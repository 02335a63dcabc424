package supervisor

import "errors"

// Sentinel errors for supervisor operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotRunning is returned when Start or Stop is called before Run
	// has begun, or after the supervisor has shut down.
	ErrNotRunning = errors.New("supervisor: event loop not running")

	// ErrNoDevices is returned when Start is called with a startup
	// configuration that contains no device entries.
	ErrNoDevices = errors.New("supervisor: startup config has no devices")
)
