package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ActorRef struct {
	UserID uuid.UUID `json:"userId"`
	Role   string    `json:"role,omitempty"`
}

// PayloadEnvelope is the body of every outbox row and of the Pub/Sub message
// published from it. Consumers dedupe on EventID.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

func (e PayloadEnvelope) ParsedEventID() (uuid.UUID, error) {
	id, err := uuid.Parse(e.EventID)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid event id %q", e.EventID)
	}
	return id, nil
}

// DecodeEnvelope rejects bodies written by a newer envelope version than
// this build understands.
func DecodeEnvelope(body []byte) (PayloadEnvelope, error) {
	var envelope PayloadEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Version < 1 || envelope.Version > currentEnvelopeVersion {
		return PayloadEnvelope{}, fmt.Errorf("unsupported envelope version %d", envelope.Version)
	}
	return envelope, nil
}
