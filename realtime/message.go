// Package realtime receives ward events (bed changes, vital alerts, lab
// results) from the backend over a WebSocket.
package realtime

import (
	"encoding/json"
	"time"
)

// RouteWS is the WebSocket endpoint of the backend
const RouteWS = "/ws"

// Message types on the wire
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeEvent       = "event"
)

// Topics the console subscribes to
const (
	TopicBeds         = "beds"
	TopicVitalsAlerts = "vitals.alerts"
	TopicLabResults   = "lab.results"
)

// DefaultTopics are subscribed when none are given
var DefaultTopics = []string{TopicBeds, TopicVitalsAlerts, TopicLabResults}

// Message is a frame exchanged on the socket. Clients send subscribe and
// unsubscribe frames carrying Topics; the backend sends event frames
// carrying Topic and Data.
type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	Topics    []string        `json:"topics,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitzero"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Event is a delivered event frame
type Event struct {
	Topic     string
	Timestamp time.Time
	Data      json.RawMessage
}

// Decode unmarshals the event payload into v
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}
