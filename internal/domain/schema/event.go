// Package schema defines the venue link's data model: credentials, endpoints,
// streaming events and trading payloads.
package schema

import (
	"time"

	json "github.com/goccy/go-json"
)

// EventType classifies streaming envelopes.
type EventType string

const (
	// EventTypePrice carries market data ticks.
	EventTypePrice EventType = "price"
	// EventTypeAccount carries account snapshots.
	EventTypeAccount EventType = "account"
	// EventTypePosition carries position updates.
	EventTypePosition EventType = "position"
	// EventTypeOrder carries order lifecycle updates.
	EventTypeOrder EventType = "order"
	// EventTypeNotification carries venue notices.
	EventTypeNotification EventType = "notification"
	// EventTypeAuth is the handshake envelope type in both directions.
	EventTypeAuth EventType = "auth"
	// EventTypeFatal is synthesised locally when the connection gives up; every subscriber receives it.
	EventTypeFatal EventType = "fatal"
)

// DataEventTypes lists the envelope types delivered to subscribers.
var DataEventTypes = []EventType{
	EventTypePrice,
	EventTypeAccount,
	EventTypePosition,
	EventTypeOrder,
	EventTypeNotification,
}

// IsData reports whether t is a subscribable data type.
func (t EventType) IsData() bool {
	for _, candidate := range DataEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// Event is one message delivered to a subscriber.
type Event struct {
	Type      EventType
	Data      json.RawMessage
	Timestamp time.Time
	// Err is set only on EventTypeFatal.
	Err error
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}
