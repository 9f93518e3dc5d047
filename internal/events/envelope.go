// Package events is the idempotent event processor: it consumes
// push-delivered event envelopes, runs the extraction engine at most
// once per dedup key, persists the result with a create-only write, and
// re-emits a ready notification on duplicate delivery.
package events

import (
	"encoding/base64"
	"encoding/json"

	"github.com/sells-group/docflow/internal/model"
)

// EventEnvelope is the v1 event wire format.
type EventEnvelope struct {
	Version   string          `json:"version"`
	Event     string          `json:"event"`
	RequestID string          `json:"requestId,omitempty"`
	Source    string          `json:"source,omitempty"`
	ReplyTo   string          `json:"replyTo,omitempty"`
	Meta      map[string]any  `json:"meta,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Validate checks the v1 envelope contract against the dispatch key.
func (e *EventEnvelope) Validate(event string) error {
	if e.Version != "1" {
		return model.NewValidationError("version", "envelope version must be \"1\"")
	}
	if e.Event == "" {
		return model.NewValidationError("event", "must be a non-empty string")
	}
	if e.Event != event {
		return model.NewValidationError("event", "path event does not match envelope event")
	}
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return model.NewValidationError("payload", "must not be empty")
	}
	return nil
}

// MessageKey returns meta.messageKey when present.
func (e *EventEnvelope) MessageKey() string {
	if e.Meta == nil {
		return ""
	}
	if v, ok := e.Meta["messageKey"].(string); ok {
		return v
	}
	return ""
}

// pushBody is the push-delivery wrapper: the envelope rides
// base64-encoded in message.data.
type pushBody struct {
	Message struct {
		Data       string            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// Delivery is a decoded push delivery.
type Delivery struct {
	Envelope     *EventEnvelope
	Attributes   map[string]string
	Subscription string
}

// DecodePush unwraps a push-delivery body into the event envelope it
// carries.
func DecodePush(body []byte) (*Delivery, error) {
	var pb pushBody
	if err := json.Unmarshal(body, &pb); err != nil {
		return nil, model.NewValidationError("body", "push body is not valid JSON: "+err.Error())
	}
	if pb.Message.Data == "" {
		return nil, model.NewValidationError("message.data", "missing in push body")
	}

	raw, err := base64.StdEncoding.DecodeString(pb.Message.Data)
	if err != nil {
		return nil, model.NewValidationError("message.data", "not valid base64: "+err.Error())
	}

	var env EventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, model.NewValidationError("message.data", "decoded data is not a valid envelope: "+err.Error())
	}

	return &Delivery{
		Envelope:     &env,
		Attributes:   pb.Message.Attributes,
		Subscription: pb.Subscription,
	}, nil
}

// ReadyPayload is the payload of the ready notification.
type ReadyPayload struct {
	Status    string `json:"status"`
	ResultURI string `json:"resultUri"`
}

// ReadyEnvelope is the notification emitted after an extraction is
// persisted, and re-emitted on duplicate delivery.
type ReadyEnvelope struct {
	Version   string         `json:"version"`
	Event     string         `json:"event"`
	RequestID string         `json:"requestId"`
	Source    string         `json:"source,omitempty"`
	ReplyTo   string         `json:"replyTo,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	Payload   ReadyPayload   `json:"payload"`
}
