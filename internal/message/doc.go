// Package message defines the envelope exchanged over the plexus bus.
//
// Every message belongs to one of four categories:
//
//	IntentRequest   "target, please do action"
//	IntentResponse  "action completed"
//	Notice          "eventName happened" (broadcast)
//	Proposal        "targetPlugin, shall we suggestion?" (non-binding)
//
// The category set is closed. The routing key (Type) is an open, dot
// separated string such as "user.action_taken"; subscribers register for an
// exact Type.
//
// # Construction
//
//	n := message.NewNotice("user.action_taken", map[string]any{"user": "Alex"})
//	r := message.NewIntentRequest("editor", "document.save", nil).WithSource("toolbar")
//
// Factories fill in the ID, the timestamp and a default Type:
//
//	Notice          Type = EventName
//	IntentRequest   Type = Action
//	IntentResponse  Type = Action + ".response"
//	Proposal        Type = Suggestion
//
// WithType overrides the default. Messages are values; the With* methods
// return modified copies.
//
// # Validity
//
// A message is valid when its category is known, its Type is a well formed
// routing key and the fields its category requires are non-empty. IsValid
// never panics, so publishers can be rejected cheaply before any delivery.
//
// # Payload access
//
// Lookup evaluates a gjson path against the JSON form of the payload and
// WithPayloadField patches the payload through sjson:
//
//	m.Lookup("user").String() // "Alex"
//	m2, err := m.WithPayloadField("meta.retries", 2)
package message
