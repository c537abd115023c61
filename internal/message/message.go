package message

import (
	"time"

	"github.com/google/uuid"
)

// ResponseSuffix is appended to the action to form an IntentResponse's default Type.
const ResponseSuffix = ".response"

// Message is the envelope routed by the bus.
// Messages are values; modifying methods return copies. The Payload is
// shared between copies and must be treated as read-only by handlers.
type Message struct {
	// ID is a unique identifier for this message instance.
	ID string

	// Category is the message kind.
	Category Category

	// Type is the routing key subscribers register for.
	Type string

	// Payload carries message-specific data.
	Payload any

	// Timestamp is when the message was created.
	Timestamp time.Time

	// Source is the capability name of the publisher, if known.
	Source string

	// Priority optionally overrides the batcher's classification.
	Priority Priority

	// Target is the capability asked to act (IntentRequest).
	Target string

	// Action is the requested or completed action (IntentRequest, IntentResponse).
	Action string

	// EventName is what happened (Notice).
	EventName string

	// TargetPlugin is the plugin a Proposal is addressed to.
	TargetPlugin string

	// Suggestion is what a Proposal suggests.
	Suggestion string
}

func newMessage(c Category, typ string, payload any) Message {
	return Message{
		ID:        uuid.NewString(),
		Category:  c,
		Type:      typ,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// NewNotice creates a Notice for eventName. The routing Type is eventName.
func NewNotice(eventName string, payload any) Message {
	m := newMessage(CategoryNotice, eventName, payload)
	m.EventName = eventName
	return m
}

// NewIntentRequest asks target to perform action. The routing Type is action.
func NewIntentRequest(target, action string, payload any) Message {
	m := newMessage(CategoryIntentRequest, action, payload)
	m.Target = target
	m.Action = action
	return m
}

// NewIntentResponse reports that action completed.
// The routing Type is action + ResponseSuffix.
func NewIntentResponse(action string, payload any) Message {
	typ := ""
	if action != "" {
		typ = action + ResponseSuffix
	}
	m := newMessage(CategoryIntentResponse, typ, payload)
	m.Action = action
	return m
}

// NewProposal suggests something to targetPlugin. The routing Type is suggestion.
func NewProposal(targetPlugin, suggestion string, payload any) Message {
	m := newMessage(CategoryProposal, suggestion, payload)
	m.TargetPlugin = targetPlugin
	m.Suggestion = suggestion
	return m
}

// Validate returns a *ValidationError describing the first problem found,
// or nil if the message is valid.
func (m Message) Validate() error {
	if !m.Category.IsKnown() {
		return &ValidationError{Category: m.Category, Field: "category", Reason: "is unknown"}
	}
	if m.Type == "" {
		return &ValidationError{Category: m.Category, Field: "type", Reason: "is empty"}
	}
	if !ValidType(m.Type) {
		return &ValidationError{Category: m.Category, Field: "type", Reason: "is malformed: " + m.Type}
	}

	switch m.Category {
	case CategoryIntentRequest:
		if m.Target == "" {
			return &ValidationError{Category: m.Category, Field: "target", Reason: "is empty"}
		}
		if m.Action == "" {
			return &ValidationError{Category: m.Category, Field: "action", Reason: "is empty"}
		}
	case CategoryIntentResponse:
		if m.Action == "" {
			return &ValidationError{Category: m.Category, Field: "action", Reason: "is empty"}
		}
	case CategoryNotice:
		if m.EventName == "" {
			return &ValidationError{Category: m.Category, Field: "event_name", Reason: "is empty"}
		}
	case CategoryProposal:
		if m.TargetPlugin == "" {
			return &ValidationError{Category: m.Category, Field: "target_plugin", Reason: "is empty"}
		}
		if m.Suggestion == "" {
			return &ValidationError{Category: m.Category, Field: "suggestion", Reason: "is empty"}
		}
	}
	return nil
}

// IsValid reports whether the message can be published.
func (m Message) IsValid() bool {
	return m.Validate() == nil
}

// WithSource returns a copy of the message with a different source.
func (m Message) WithSource(source string) Message {
	m.Source = source
	return m
}

// WithTimestamp returns a copy of the message with a different timestamp.
func (m Message) WithTimestamp(ts time.Time) Message {
	m.Timestamp = ts
	return m
}

// WithType returns a copy of the message routed under typ.
func (m Message) WithType(typ string) Message {
	m.Type = typ
	return m
}

// WithPriority returns a copy of the message with an explicit priority.
func (m Message) WithPriority(p Priority) Message {
	m.Priority = p
	return m
}

// WithPayload returns a copy of the message carrying payload.
func (m Message) WithPayload(payload any) Message {
	m.Payload = payload
	return m
}

// Name returns the most specific label for logging: the event name for
// notices, the action for intents, the suggestion for proposals.
func (m Message) Name() string {
	switch m.Category {
	case CategoryNotice:
		return m.EventName
	case CategoryIntentRequest, CategoryIntentResponse:
		return m.Action
	case CategoryProposal:
		return m.Suggestion
	default:
		return m.Type
	}
}
