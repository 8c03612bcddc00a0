// Package status provides a thread-safe status tracker for the dglab-voice daemon.
// It consumes pulse and relay events and is read by the HTTP handlers and the
// MQTT system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/dglab-voice/internal/event"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	IntervalMs  int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	Rules       int
	Waves       int
	EStop       bool // GPIO emergency stop enabled
}

// Session states as reported in JSON.
const (
	SessionEmpty  = "EMPTY"
	SessionActive = "ACTIVE"
)

// ChannelStatus is the observed state of one output channel.
type ChannelStatus struct {
	Limit       int    // device-reported ceiling
	Reported    int    // device-reported current strength
	Strength    int    // last effective strength sent
	Triggers    int    // triggers queued since start
	Expires     int    // triggers that ran to completion
	LastTrigger string // name of the most recent trigger
}

// Active is the number of triggers currently running on the channel.
func (c ChannelStatus) Active() int {
	return c.Triggers - c.Expires
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Session       string
	ClientID      string
	TargetID      string
	Binds         int
	A             ChannelStatus
	B             ChannelStatus
	Halts         int
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Session:   SessionEmpty,
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Emit implements event.Sink.
func (t *Tracker) Emit(e event.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch e.Type {
	case event.TypeBind:
		t.snap.Session = SessionActive
		t.snap.ClientID = e.ClientID
		t.snap.TargetID = e.TargetID
		t.snap.Binds++
		return
	case event.TypeBreak:
		t.snap.Session = SessionEmpty
		t.snap.ClientID = ""
		t.snap.TargetID = ""
		return
	}

	ch := t.channel(e.Channel)
	if ch == nil {
		return
	}
	switch e.Type {
	case event.TypeTrigger:
		ch.Triggers++
		ch.LastTrigger = e.Name
	case event.TypeExpire:
		ch.Expires++
	case event.TypeStrength:
		ch.Strength = e.Value
	case event.TypeLimit:
		ch.Limit = e.Value
		ch.Reported = e.Reported
	}
}

func (t *Tracker) channel(name string) *ChannelStatus {
	switch name {
	case "A":
		return &t.snap.A
	case "B":
		return &t.snap.B
	}
	return nil
}

// RecordHalt counts an emergency stop. Halted triggers never expire, so the
// expiry count is brought level with the trigger count.
func (t *Tracker) RecordHalt() {
	t.mu.Lock()
	t.snap.Halts++
	t.snap.A.Expires = t.snap.A.Triggers
	t.snap.B.Expires = t.snap.B.Triggers
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
