package domain

import (
	"encoding/json"
)

// TriggerPayload is the shape the invoker needs out of the stored
// payload to build an agent invocation. Anything else in the payload is
// opaque and passed through untouched.
type TriggerPayload struct {
	EventType string          `json:"event_type"`
	Event     json.RawMessage `json:"event"`
}

// ParseTriggerPayload validates the immutable payload captured at
// ingestion. A failure here is non-retriable: the payload never changes,
// so redelivery cannot fix it.
func ParseTriggerPayload(raw []byte) (*TriggerPayload, error) {
	if len(raw) == 0 {
		return nil, NewValidationError("payload is empty")
	}
	var p TriggerPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, NewValidationError("payload is not valid JSON: " + err.Error())
	}
	if p.EventType == "" {
		return nil, NewValidationError("payload missing event_type")
	}
	if len(p.Event) == 0 {
		return nil, NewValidationError("payload missing event")
	}
	return &p, nil
}
