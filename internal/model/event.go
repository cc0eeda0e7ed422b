package model

import (
	"encoding/json"
	"time"
)

// GenesisHash is the prevHash of the first event in every log.
const GenesisHash = "GENESIS"

// TimeFormat is the layout of Event.TS.
const TimeFormat = time.RFC3339Nano

// Event is one line of the life log. Events are immutable once written.
type Event struct {
	TS       string          `json:"ts"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	PrevHash string          `json:"prevHash"`
	Hash     string          `json:"hash"`
}

// Time parses TS. A malformed timestamp yields the zero time.
func (e Event) Time() time.Time {
	t, err := time.Parse(TimeFormat, e.TS)
	if err != nil {
		return time.Time{}
	}
	return t
}

// EventInput is what callers hand to the log; ts and hashes are stamped on append.
type EventInput struct {
	Type    string
	Payload json.RawMessage
}

// NewEventInput marshals payload into an EventInput.
func NewEventInput(typ string, payload any) (EventInput, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return EventInput{}, err
	}
	return EventInput{Type: typ, Payload: b}, nil
}
