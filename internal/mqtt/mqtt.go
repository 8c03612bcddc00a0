// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/dglab-voice/internal/event"
)

// Topic is the MQTT topic for pulse and session events.
const Topic = "dglab/voice/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "dglab/voice/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a pulse or session event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(e event.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(e SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Pulse PulsePayload `json:"pulse"`
}

// PulsePayload contains the event details. Only the fields relevant to the
// event type are present.
type PulsePayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Channel   string `json:"channel,omitempty"`
	Name      string `json:"name,omitempty"`
	Value     *int   `json:"value,omitempty"`
	Reported  *int   `json:"reported,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	TargetID  string `json:"target_id,omitempty"`
}

// FormatPayload creates the JSON payload for an event.
func FormatPayload(e event.Event) ([]byte, error) {
	p := PulsePayload{
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
		Event:     string(e.Type),
		Channel:   e.Channel,
		Name:      e.Name,
		ClientID:  e.ClientID,
		TargetID:  e.TargetID,
	}
	switch e.Type {
	case event.TypeTrigger, event.TypeExpire, event.TypeStrength:
		v := e.Value
		p.Value = &v
	case event.TypeLimit:
		v, r := e.Value, e.Reported
		p.Value, p.Reported = &v, &r
	}
	return json.Marshal(Payload{Pulse: p})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(e SystemEvent) ([]byte, error) {
	if e.RawPayload != nil {
		return e.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
			Event:     e.Event,
			Reason:    e.Reason,
		},
	}
	return json.Marshal(payload)
}
