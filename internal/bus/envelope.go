package bus

import (
	"encoding/json"
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Envelope wraps an event payload with the metadata needed for origin
// filtering and duplicate suppression.
type Envelope struct {
	ID        string          `json:"id"`
	Origin    string          `json:"origin"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// NewEnvelope stamps payload with a fresh id and the current time in
// milliseconds.
func NewEnvelope(origin, eventType string, payload []byte) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Origin:    origin,
		Type:      eventType,
		Payload:   json.RawMessage(payload),
		Timestamp: time.Now().UnixMilli(),
	}
}

// MarshalEnvelope encodes env for transports that carry raw bytes.
func MarshalEnvelope(env Envelope) ([]byte, error) {
	data, err := gojson.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// UnmarshalEnvelope decodes an envelope and checks its required fields.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := gojson.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.ID == "" || env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope missing id or type")
	}
	return env, nil
}
