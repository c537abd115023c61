package message

import "errors"

// ErrInvalid is matched by every ValidationError via errors.Is.
var ErrInvalid = errors.New("invalid message")

// ValidationError describes why a message was rejected.
type ValidationError struct {
	// Category is the category of the rejected message.
	Category Category

	// Field names the offending field (e.g. "target", "type").
	Field string

	// Reason is a short description of the problem.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Category.IsKnown() {
		return "invalid " + e.Category.String() + " message: " + e.Field + " " + e.Reason
	}
	return "invalid message: " + e.Field + " " + e.Reason
}

// Is allows errors.Is to match ValidationError with ErrInvalid.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}
