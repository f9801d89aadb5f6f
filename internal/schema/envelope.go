package schema

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	TopicOrderCreate     = "order.create.v1"
	TopicOrderStatus     = "order.status.v1"
	TopicOrderValidation = "order.validation.v1"

	DLQSuffix = ".dlq"
)

const (
	DefaultSchemaVersion = "1.0"
	DefaultSource        = "omnia-oms"
)

// DLQTopic maps a main topic to its dead-letter variant.
func DLQTopic(topic string) string { return topic + DLQSuffix }

// Envelope is the common metadata wrapper carried by every event.
// MessageID and Timestamp are mandatory on the wire.
type Envelope struct {
	MessageID     string `json:"messageId"`
	Timestamp     string `json:"timestamp"` // RFC3339
	SchemaVersion string `json:"schemaVersion,omitempty"`
	Source        string `json:"source,omitempty"`
	TraceID       string `json:"traceId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	EventType     string `json:"eventType"`
}

var ErrMissingRequiredFields = errors.New("missing required message fields: messageId, timestamp")

// Stamp fills in generator-assigned envelope fields that the caller left empty.
func (e *Envelope) Stamp(now time.Time) {
	if e.MessageID == "" {
		e.MessageID = uuid.NewString()
	}
	if e.Timestamp == "" {
		e.Timestamp = now.UTC().Format(time.RFC3339Nano)
	}
	if e.SchemaVersion == "" {
		e.SchemaVersion = DefaultSchemaVersion
	}
	if e.Source == "" {
		e.Source = DefaultSource
	}
}

// DecodeEnvelope parses just the envelope portion of a raw message. Absence of
// messageId or timestamp is a hard failure, matching the deserialization contract.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	if env.MessageID == "" || env.Timestamp == "" {
		return Envelope{}, ErrMissingRequiredFields
	}
	return env, nil
}
