package message

import "strings"

// Category is the closed set of message kinds.
type Category int

const (
	// CategoryUnknown is the zero value and is never valid.
	CategoryUnknown Category = iota

	// CategoryIntentRequest asks a target capability to perform an action.
	CategoryIntentRequest

	// CategoryIntentResponse reports that an action completed.
	CategoryIntentResponse

	// CategoryNotice broadcasts that something happened.
	CategoryNotice

	// CategoryProposal suggests something to a single plugin.
	CategoryProposal
)

// String returns a human-readable category name.
func (c Category) String() string {
	switch c {
	case CategoryIntentRequest:
		return "intent_request"
	case CategoryIntentResponse:
		return "intent_response"
	case CategoryNotice:
		return "notice"
	case CategoryProposal:
		return "proposal"
	default:
		return "unknown"
	}
}

// IsKnown reports whether c is one of the defined categories.
func (c Category) IsKnown() bool {
	return c >= CategoryIntentRequest && c <= CategoryProposal
}

// ParseCategory parses a category name as returned by String.
// Hyphens and camel case forms ("intent-request", "IntentRequest") are accepted.
func ParseCategory(s string) Category {
	norm := strings.ToLower(strings.ReplaceAll(strings.ReplaceAll(s, "-", ""), "_", ""))
	switch norm {
	case "intentrequest", "request":
		return CategoryIntentRequest
	case "intentresponse", "response":
		return CategoryIntentResponse
	case "notice":
		return CategoryNotice
	case "proposal":
		return CategoryProposal
	default:
		return CategoryUnknown
	}
}
