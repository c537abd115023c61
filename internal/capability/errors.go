package capability

import "errors"

// Sentinel errors for the capability registry.
var (
	// ErrAlreadyProvided is returned under PolicyReject when the name is taken.
	ErrAlreadyProvided = errors.New("capability already provided")

	// ErrInvalidName is returned for an empty or malformed capability name.
	ErrInvalidName = errors.New("invalid capability name")

	// ErrNilInstance is returned when providing a nil instance.
	ErrNilInstance = errors.New("capability instance cannot be nil")
)
