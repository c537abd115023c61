package message

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// PayloadJSON returns the payload encoded as JSON.
// Raw JSON payloads ([]byte, json.RawMessage) are returned as-is; a nil
// payload encodes as "null".
func (m Message) PayloadJSON() ([]byte, error) {
	switch p := m.Payload.(type) {
	case nil:
		return []byte("null"), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return p, nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encoding payload of message %s: %w", m.ID, err)
		}
		return b, nil
	}
}

// Lookup evaluates a gjson path against the payload.
// A payload that cannot be encoded yields a non-existent result.
func (m Message) Lookup(path string) gjson.Result {
	b, err := m.PayloadJSON()
	if err != nil {
		return gjson.Result{}
	}
	return gjson.GetBytes(b, path)
}

// WithPayloadField returns a copy of the message whose payload has value
// set at path. The resulting payload is a json.RawMessage.
func (m Message) WithPayloadField(path string, value any) (Message, error) {
	b, err := m.PayloadJSON()
	if err != nil {
		return m, err
	}
	if string(b) == "null" {
		b = []byte("{}")
	}
	out, err := sjson.SetBytes(b, path, value)
	if err != nil {
		return m, fmt.Errorf("setting payload field %q: %w", path, err)
	}
	m.Payload = json.RawMessage(out)
	return m, nil
}
