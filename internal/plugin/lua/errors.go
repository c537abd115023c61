package lua

import "errors"

// Errors for Lua state operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrNoSource is returned when a plugin has neither a file nor inline code.
	ErrNoSource = errors.New("lua plugin has no source")

	// ErrNotStarted is returned by calls that need a started plugin.
	ErrNotStarted = errors.New("lua plugin is not started")
)

// HandlerError is returned when a Lua handler reports failure by returning
// false and an optional reason.
type HandlerError struct {
	Reason string
}

func (e *HandlerError) Error() string {
	if e.Reason == "" {
		return "lua handler failed"
	}
	return "lua handler failed: " + e.Reason
}
