package domain

import "fmt"

// MissingDataError reports that a required historical data key was absent or
// empty during cycle extraction. The caller is expected to fall back to a
// cached or global slope rather than retry.
type MissingDataError struct {
	Key DataKey
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("missing critical historical data for key %q", string(e.Key))
}

// InvalidRangeError reports a malformed input range: an out-of-bounds hour, an
// inverted time interval, or an empty identifier. Fatal to the call; never
// silently coerced.
type InvalidRangeError struct {
	Field  string
	Reason string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CommandFailure wraps an error raised by the external scheduler commander.
// Controller state is left unchanged so the next tick retries the decision.
type CommandFailure struct {
	Command string
	Err     error
}

func (e *CommandFailure) Error() string {
	return fmt.Sprintf("scheduler command %s failed: %v", e.Command, e.Err)
}

func (e *CommandFailure) Unwrap() error { return e.Err }
