package events

import (
	"encoding/json"
	"time"
)

// Envelope is the wire form of one exported core event.
type Envelope struct {
	EventType  string          `json:"event_type"`
	Account    string          `json:"account"`
	JID        string          `json:"jid"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

func NewEnvelope(eventType, account, jid string, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventType:  eventType,
		Account:    account,
		JID:        jid,
		OccurredAt: time.Now(),
		Payload:    raw,
	}, nil
}
