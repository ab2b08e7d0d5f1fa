package eventing

import (
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps event payload with metadata.
type Envelope struct {
	EventID         string          `json:"event_id"`
	EventType       string          `json:"event_type"`
	OccurredAt      time.Time       `json:"occurred_at"`
	CorrelationID   string          `json:"correlation_id"`
	MeteringPointID string          `json:"metering_point_id"`
	SchemaVersion   int             `json:"schema_version"`
	Payload         json.RawMessage `json:"payload"`
}

// Meta provides envelope overrides.
type Meta struct {
	EventID         string
	EventType       string
	OccurredAt      time.Time
	CorrelationID   string
	MeteringPointID string
	SchemaVersion   int
}

// BuildEnvelope constructs an envelope from event payload and metadata. Missing
// metadata is taken from the payload's MeteringPointID and OccurredAt fields.
func BuildEnvelope(event any, meta Meta) (Envelope, error) {
	if event == nil {
		return Envelope{}, errors.New("eventing: nil event")
	}

	eventType := meta.EventType
	if eventType == "" {
		t := reflect.TypeOf(event)
		for t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		eventType = t.String()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}

	meteringPointID := meta.MeteringPointID
	if meteringPointID == "" {
		meteringPointID = extractStringField(event, "MeteringPointID")
	}
	occurredAt := meta.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = extractTimeField(event, "OccurredAt")
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	eventID := meta.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	correlationID := meta.CorrelationID
	if correlationID == "" {
		correlationID = eventID
	}
	schemaVersion := meta.SchemaVersion
	if schemaVersion == 0 {
		schemaVersion = 1
	}

	return Envelope{
		EventID:         eventID,
		EventType:       eventType,
		OccurredAt:      occurredAt.UTC(),
		CorrelationID:   correlationID,
		MeteringPointID: meteringPointID,
		SchemaVersion:   schemaVersion,
		Payload:         payload,
	}, nil
}

func structValue(event any) (reflect.Value, bool) {
	value := reflect.ValueOf(event)
	for value.Kind() == reflect.Ptr {
		if value.IsNil() {
			return reflect.Value{}, false
		}
		value = value.Elem()
	}
	return value, value.Kind() == reflect.Struct
}

func extractStringField(event any, names ...string) string {
	value, ok := structValue(event)
	if !ok {
		return ""
	}
	for _, name := range names {
		field := value.FieldByName(name)
		if field.IsValid() && field.Kind() == reflect.String {
			return field.String()
		}
	}
	return ""
}

func extractTimeField(event any, name string) time.Time {
	value, ok := structValue(event)
	if !ok {
		return time.Time{}
	}
	field := value.FieldByName(name)
	if !field.IsValid() || !field.CanInterface() {
		return time.Time{}
	}
	if t, ok := field.Interface().(time.Time); ok {
		return t
	}
	return time.Time{}
}
