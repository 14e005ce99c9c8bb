package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the CloudEvents v1.0 carrier every outbox row stores. The
// dispatcher hands the whole envelope to handlers; they decode Data into the
// typed payload.
type Envelope struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	Type            string          `json:"type"`
	Subject         string          `json:"subject"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	Data            json.RawMessage `json:"data"`
	CorrelationID   string          `json:"correlationid,omitempty"`
}

const (
	specVersion = "1.0"
	typePrefix  = "io.hanghae.ecommerce"
)

// Wrap builds the envelope around a marshaled payload. eventType is the bare
// domain event name; the reverse-DNS prefix is applied here.
func Wrap(source, eventType, subject, correlationID string, data []byte) Envelope {
	return Envelope{
		SpecVersion:     specVersion,
		ID:              uuid.NewString(),
		Source:          source,
		Type:            fmt.Sprintf("%s.%s", typePrefix, eventType),
		Subject:         subject,
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            data,
		CorrelationID:   correlationID,
	}
}

// Open decodes an envelope from a stored outbox payload.
func Open(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode event envelope: %w", err)
	}
	return env, nil
}
