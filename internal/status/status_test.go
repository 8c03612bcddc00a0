package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/dglab-voice/internal/event"
)

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{IntervalMs: 100, Broker: "tcp://localhost:1883", HTTPAddr: ":8080", Rules: 3}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.IntervalMs != 100 {
		t.Errorf("Config.IntervalMs: got %d, want 100", snap.Config.IntervalMs)
	}
	if snap.Config.HTTPAddr != ":8080" {
		t.Errorf("Config.HTTPAddr: got %q, want %q", snap.Config.HTTPAddr, ":8080")
	}
	if snap.Session != SessionEmpty {
		t.Errorf("Session: got %q, want EMPTY", snap.Session)
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestEmitSessionEvents(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.Emit(event.Event{Type: event.TypeBind, ClientID: "c1", TargetID: "t1"})
	snap := tr.Snapshot()
	if snap.Session != SessionActive {
		t.Errorf("Session: got %q, want ACTIVE", snap.Session)
	}
	if snap.ClientID != "c1" || snap.TargetID != "t1" {
		t.Errorf("ids: got (%q, %q), want (c1, t1)", snap.ClientID, snap.TargetID)
	}

	tr.Emit(event.Event{Type: event.TypeBreak, ClientID: "c1", TargetID: "t1"})
	snap = tr.Snapshot()
	if snap.Session != SessionEmpty {
		t.Errorf("Session: got %q, want EMPTY", snap.Session)
	}
	if snap.ClientID != "" || snap.TargetID != "" {
		t.Errorf("ids should be cleared, got (%q, %q)", snap.ClientID, snap.TargetID)
	}
	if snap.Binds != 1 {
		t.Errorf("Binds: got %d, want 1", snap.Binds)
	}
}

func TestEmitChannelEvents(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.Emit(event.Event{Type: event.TypeLimit, Channel: "A", Value: 80, Reported: 12})
	tr.Emit(event.Event{Type: event.TypeLimit, Channel: "B", Value: 60, Reported: 0})
	tr.Emit(event.Event{Type: event.TypeTrigger, Channel: "A", Name: "open-A", Value: 500})
	tr.Emit(event.Event{Type: event.TypeTrigger, Channel: "A", Name: "close-A", Value: 500})
	tr.Emit(event.Event{Type: event.TypeStrength, Channel: "A", Value: 40})
	tr.Emit(event.Event{Type: event.TypeExpire, Channel: "A", Name: "open-A"})
	tr.Emit(event.Event{Type: event.TypeTrigger, Channel: "?", Name: "ignored"})

	snap := tr.Snapshot()
	if snap.A.Limit != 80 || snap.A.Reported != 12 {
		t.Errorf("A limit/reported: got %d/%d, want 80/12", snap.A.Limit, snap.A.Reported)
	}
	if snap.B.Limit != 60 {
		t.Errorf("B limit: got %d, want 60", snap.B.Limit)
	}
	if snap.A.Triggers != 2 || snap.A.Expires != 1 || snap.A.Active() != 1 {
		t.Errorf("A counts: got triggers=%d expires=%d active=%d", snap.A.Triggers, snap.A.Expires, snap.A.Active())
	}
	if snap.A.LastTrigger != "close-A" {
		t.Errorf("A last trigger: got %q, want close-A", snap.A.LastTrigger)
	}
	if snap.A.Strength != 40 {
		t.Errorf("A strength: got %d, want 40", snap.A.Strength)
	}
	if snap.B.Triggers != 0 {
		t.Errorf("B triggers: got %d, want 0", snap.B.Triggers)
	}
}

func TestRecordHalt(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Emit(event.Event{Type: event.TypeTrigger, Channel: "A"})
	tr.Emit(event.Event{Type: event.TypeTrigger, Channel: "B"})

	tr.RecordHalt()

	snap := tr.Snapshot()
	if snap.Halts != 1 {
		t.Errorf("Halts: got %d, want 1", snap.Halts)
	}
	if snap.A.Active() != 0 || snap.B.Active() != 0 {
		t.Errorf("active after halt: got A=%d B=%d, want 0", snap.A.Active(), snap.B.Active())
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network initially")
	}

	net := &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"}
	tr.SetNetwork(net)

	snap := tr.Snapshot()
	if snap.Network == nil {
		t.Fatal("expected non-nil Network")
	}
	if snap.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want %q", snap.Network.IP, "192.168.1.42")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Emit(event.Event{Type: event.TypeStrength, Channel: "A", Value: 10})

	snap1 := tr.Snapshot()

	tr.Emit(event.Event{Type: event.TypeStrength, Channel: "A", Value: 90})

	if snap1.A.Strength != 10 {
		t.Error("snapshot should be a copy; A.Strength was modified")
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Session:       SessionActive,
		ClientID:      "c1",
		TargetID:      "t1",
		Binds:         2,
		A:             ChannelStatus{Limit: 80, Reported: 5, Strength: 40, Triggers: 3, Expires: 1, LastTrigger: "open-A"},
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{IntervalMs: 100, HeartbeatMs: 900000, Broker: "tcp://localhost:1883", HTTPAddr: ":8080"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Session.State != "ACTIVE" {
		t.Errorf("Session.State: got %q, want ACTIVE", parsed.Status.Session.State)
	}
	if parsed.Status.Session.ClientID != "c1" {
		t.Errorf("Session.ClientID: got %q, want c1", parsed.Status.Session.ClientID)
	}
	a := parsed.Status.Channels["A"]
	if a.Limit != 80 || a.Strength != 40 || a.Active != 2 {
		t.Errorf("channel A: got %+v", a)
	}
	if _, ok := parsed.Status.Channels["B"]; !ok {
		t.Error("expected channel B in JSON")
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
	if parsed.Status.MQTT.Connected != true {
		t.Error("expected MQTT.Connected=true")
	}
	// Event and Reason should be omitted
	if parsed.Status.Event != "" {
		t.Errorf("expected empty Event for web format, got %q", parsed.Status.Event)
	}
	if parsed.Status.Reason != "" {
		t.Errorf("expected empty Reason for web format, got %q", parsed.Status.Reason)
	}
}

func TestFormatJSONZeroSnapshot(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	json.Unmarshal(data, &parsed)

	if parsed.Status.Session.State != "EMPTY" {
		t.Errorf("Session.State: got %q, want EMPTY", parsed.Status.Session.State)
	}
}

func TestFormatStatusEvent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Session:       SessionEmpty,
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{IntervalMs: 100, Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "HEARTBEAT", "")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "HEARTBEAT" {
		t.Errorf("Event: got %q, want HEARTBEAT", parsed.Status.Event)
	}
	if parsed.Status.Reason != "" {
		t.Errorf("Reason: got %q, want empty", parsed.Status.Reason)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
}

func TestFormatStatusEventShutdown(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(30 * time.Minute),
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatStatusEvent(snap, "STARTUP", "")

	// Verify "reason" is not in the raw JSON output
	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestFormatJSONWithNetwork(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC),
		Network:   &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "MyNet"},
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	json.Unmarshal(data, &parsed)

	if parsed.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if parsed.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", parsed.Status.Network.IP)
	}
	if parsed.Status.Network.SSID != "MyNet" {
		t.Errorf("Network.SSID: got %q, want MyNet", parsed.Status.Network.SSID)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Emit(event.Event{Type: event.TypeStrength, Channel: "A", Value: i})
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
		}
	}()

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
		}
	}()

	wg.Wait()
}
