// Package event defines the lifecycle events emitted by the pulse scheduler and
// the pairing relay. Consumers (status tracker, MQTT publisher) implement Sink.
package event

import "time"

// Type identifies what happened.
type Type string

const (
	TypeTrigger  Type = "TRIGGER"  // a rule matched and a trigger was queued on a channel
	TypeExpire   Type = "EXPIRE"   // a trigger reached its duration
	TypeStrength Type = "STRENGTH" // effective strength sent to the device changed
	TypeLimit    Type = "LIMIT"    // device reported strength and limits
	TypeBind     Type = "BIND"     // a session was formed
	TypeBreak    Type = "BREAK"    // a session was torn down
)

// Event is a single occurrence. Fields not relevant to Type are zero.
type Event struct {
	Timestamp time.Time
	Type      Type
	Channel   string // "A" or "B"
	Name      string // trigger name
	Value     int    // strength, duration or limit depending on Type
	Reported  int    // device-reported current strength (LIMIT only)
	ClientID  string
	TargetID  string
}

// Sink receives events. Emit must not block for long; it is called from the
// scheduler tick and the relay read loops.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) { f(e) }

// Multi fans an event out to several sinks in order.
type Multi []Sink

// Emit forwards e to every non-nil sink.
func (m Multi) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})
