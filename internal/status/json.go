package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string                 `json:"event,omitempty"`
	Reason        string                 `json:"reason,omitempty"`
	Session       SessionJSON            `json:"session"`
	Channels      map[string]ChannelJSON `json:"channels"`
	Halts         int                    `json:"halts"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	StartTime     string                 `json:"start_time"`
	Timestamp     string                 `json:"timestamp"`
	MQTT          MQTTStatus             `json:"mqtt"`
	Network       *NetworkJSON           `json:"network,omitempty"`
	Config        ConfigJSON             `json:"config"`
}

// SessionJSON reports the pairing state.
type SessionJSON struct {
	State    string `json:"state"`
	ClientID string `json:"client_id,omitempty"`
	TargetID string `json:"target_id,omitempty"`
	Binds    int    `json:"binds"`
}

// ChannelJSON is the JSON representation of one output channel.
type ChannelJSON struct {
	Limit       int    `json:"limit"`
	Reported    int    `json:"reported"`
	Strength    int    `json:"strength"`
	Active      int    `json:"active"`
	Triggers    int    `json:"triggers"`
	Expires     int    `json:"expires"`
	LastTrigger string `json:"last_trigger,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	IntervalMs  int64  `json:"interval_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	Rules       int    `json:"rules"`
	Waves       int    `json:"waves"`
	EStop       bool   `json:"estop"`
}

func channelJSON(c ChannelStatus) ChannelJSON {
	return ChannelJSON{
		Limit:       c.Limit,
		Reported:    c.Reported,
		Strength:    c.Strength,
		Active:      c.Active(),
		Triggers:    c.Triggers,
		Expires:     c.Expires,
		LastTrigger: c.LastTrigger,
	}
}

func buildInner(snap Snapshot) StatusInner {
	state := snap.Session
	if state == "" {
		state = SessionEmpty
	}

	return StatusInner{
		Session: SessionJSON{
			State:    state,
			ClientID: snap.ClientID,
			TargetID: snap.TargetID,
			Binds:    snap.Binds,
		},
		Channels: map[string]ChannelJSON{
			"A": channelJSON(snap.A),
			"B": channelJSON(snap.B),
		},
		Halts:         snap.Halts,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			IntervalMs:  snap.Config.IntervalMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			Rules:       snap.Config.Rules,
			Waves:       snap.Config.Waves,
			EStop:       snap.Config.EStop,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
