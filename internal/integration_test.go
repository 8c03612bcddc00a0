package internal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/dglab-voice/internal/event"
	"github.com/sweeney/dglab-voice/internal/gpio"
	"github.com/sweeney/dglab-voice/internal/mqtt"
	"github.com/sweeney/dglab-voice/internal/pulse"
	"github.com/sweeney/dglab-voice/internal/relay"
	"github.com/sweeney/dglab-voice/internal/status"
	"github.com/sweeney/dglab-voice/internal/transcript"
	"github.com/sweeney/dglab-voice/internal/web"
)

func intPtr(v int) *int { return &v }

var (
	testWaves = pulse.Waves{
		"w1": {"0A0A0A0A00000000", "0A0A0A0A64646464"},
	}
	testRules = []pulse.Rule{
		{
			Name:  "zap",
			Match: []string{"zap"},
			Actions: map[pulse.Channel]pulse.Action{
				pulse.ChannelA: {Duration: 50, Wave: "w1", Strength: intPtr(50)},
			},
		},
		{
			Name:     "hold",
			Match:    []string{"hold"},
			Duration: 60000,
			Actions: map[pulse.Channel]pulse.Action{
				pulse.ChannelB: {Wave: "w1"},
			},
		},
	}
)

// stack is the daemon wired the way main wires it, behind an httptest server.
type stack struct {
	tracker    *status.Tracker
	publisher  *mqtt.FakePublisher
	relay      *relay.Relay
	controller *pulse.Controller
	srv        *httptest.Server
}

func newStack(t *testing.T) *stack {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	tracker := status.NewTracker(time.Now(), status.Config{Rules: len(testRules), Waves: len(testWaves)})
	publisher := mqtt.NewFakePublisher()
	sink := mqtt.NewSink(publisher, 0, nil)
	events := event.Multi{tracker, sink}

	rl := relay.New(relay.Options{Events: events})
	controller := pulse.New(rl, testWaves, testRules, pulse.Options{
		Interval: 10 * time.Millisecond,
		Events:   events,
	})
	rl.SetHandler(controller)

	srv := httptest.NewServer(web.New("", tracker, rl, nil).Handler())

	done := make(chan struct{}, 2)
	go func() { controller.Run(ctx); done <- struct{}{} }()
	go func() { sink.Run(ctx); done <- struct{}{} }()

	t.Cleanup(func() {
		controller.Close(context.Background())
		rl.Close()
		srv.Close()
		cancel()
		<-done
		<-done
	})
	return &stack{tracker: tracker, publisher: publisher, relay: rl, controller: controller, srv: srv}
}

func (s *stack) dial(t *testing.T, path string) (*websocket.Conn, string) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { ws.Close() })

	env := readEnvelope(t, ws)
	if env.Type != relay.TypeBind || env.Message != "targetId" {
		t.Fatalf("expected id message, got %+v", env)
	}
	return ws, env.ClientID
}

// pair connects an app and a device and binds them.
func (s *stack) pair(t *testing.T) (app, device *websocket.Conn, appID, deviceID string) {
	t.Helper()
	app, appID = s.dial(t, "/ws")
	device, deviceID = s.dial(t, "/"+appID)

	bind := relay.Envelope{Type: relay.TypeBind, ClientID: appID, TargetID: deviceID, Message: "DGLAB"}
	if err := device.WriteJSON(bind); err != nil {
		t.Fatalf("write bind: %v", err)
	}
	for _, ws := range []*websocket.Conn{device, app} {
		if env := readEnvelope(t, ws); env.Message != relay.CodeBound {
			t.Fatalf("expected bind ack, got %+v", env)
		}
	}
	return app, device, appID, deviceID
}

func readEnvelope(t *testing.T, ws *websocket.Conn) relay.Envelope {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env relay.Envelope
	if err := ws.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

// readCommands reads device commands until stop is seen, skipping heartbeats.
func readCommands(t *testing.T, ws *websocket.Conn, stop string) []string {
	t.Helper()
	var cmds []string
	for {
		env := readEnvelope(t, ws)
		if env.Type != relay.TypeMsg {
			continue
		}
		cmd, _ := env.Message.(string)
		cmds = append(cmds, cmd)
		if cmd == stop {
			return cmds
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func reportLimits(t *testing.T, s *stack, device *websocket.Conn, appID, deviceID string) {
	t.Helper()
	msg := relay.Envelope{Type: relay.TypeMsg, ClientID: appID, TargetID: deviceID, Message: "strength-0+0+100+100"}
	if err := device.WriteJSON(msg); err != nil {
		t.Fatalf("write telemetry: %v", err)
	}
	waitFor(t, "limits", func() bool {
		return s.controller.Limit(pulse.ChannelA) == 100 && s.controller.Limit(pulse.ChannelB) == 100
	})
}

// TestIntegrationUtteranceToDevice tests the complete flow from a transcript
// line to device commands, status and MQTT.
func TestIntegrationUtteranceToDevice(t *testing.T) {
	s := newStack(t)
	app, device, appID, deviceID := s.pair(t)
	reportLimits(t, s, device, appID, deviceID)

	src := transcript.NewReaderSource(strings.NewReader(`{"text": "z a p now"}`+"\n"), nil)
	if err := src.Run(context.Background(), s.controller.Feed); err != nil {
		t.Fatalf("transcript: %v", err)
	}

	cmds := readCommands(t, device, "strength-1+2+0")
	if cmds[0] != "strength-1+2+50" {
		t.Errorf("first command: got %q, want strength-1+2+50", cmds[0])
	}
	want := []string{
		pulse.PulseCommand(pulse.ChannelA, "0A0A0A0A00000000"),
		pulse.PulseCommand(pulse.ChannelA, "0A0A0A0A64646464"),
	}
	for i, w := range want {
		if cmds[1+i] != w {
			t.Errorf("command %d: got %q, want %q", 1+i, cmds[1+i], w)
		}
	}
	if got := cmds[len(cmds)-2]; got != "clear-1" {
		t.Errorf("expected clear-1 before final zero, got %q", got)
	}

	// The app sees the recognised utterance.
	for {
		env := readEnvelope(t, app)
		if env.Type == relay.TypeHeartbeat && env.Message == "zapnow" {
			break
		}
	}

	waitFor(t, "expire", func() bool { return s.tracker.Snapshot().A.Expires == 1 })
	snap := s.tracker.Snapshot()
	if snap.Session != status.SessionActive {
		t.Errorf("session: got %q, want %q", snap.Session, status.SessionActive)
	}
	if snap.ClientID != appID || snap.TargetID != deviceID {
		t.Errorf("ids: got %s/%s", snap.ClientID, snap.TargetID)
	}
	if snap.A.Limit != 100 || snap.A.Triggers != 1 || snap.A.LastTrigger != "zap-A" {
		t.Errorf("channel A: got %+v", snap.A)
	}
	if snap.B.Triggers != 0 {
		t.Errorf("channel B should be untouched: got %+v", snap.B)
	}

	waitFor(t, "mqtt final strength", func() bool {
		n := 0
		for _, typ := range s.publisher.EventTypes() {
			if typ == event.TypeStrength {
				n++
			}
		}
		return n == 2
	})
	types := s.publisher.EventTypes()
	wantOrder := []event.Type{event.TypeBind, event.TypeLimit, event.TypeTrigger, event.TypeStrength, event.TypeExpire}
	i := 0
	for _, typ := range types {
		if i < len(wantOrder) && typ == wantOrder[i] {
			i++
		}
	}
	if i != len(wantOrder) {
		t.Errorf("mqtt events %v do not contain %v in order", types, wantOrder)
	}
}

func TestIntegrationStatusEndpoint(t *testing.T) {
	s := newStack(t)
	_, _, appID, _ := s.pair(t)

	resp, err := http.Get(s.srv.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var got status.StatusJSON
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, body)
	}
	if got.Status.Session.State != status.SessionActive {
		t.Errorf("state: got %q", got.Status.Session.State)
	}
	if got.Status.Session.ClientID != appID {
		t.Errorf("client_id: got %q, want %q", got.Status.Session.ClientID, appID)
	}
	if got.Status.Config.Rules != 2 {
		t.Errorf("config.rules: got %d, want 2", got.Status.Config.Rules)
	}
}

func TestIntegrationEmergencyStop(t *testing.T) {
	s := newStack(t)
	_, device, appID, deviceID := s.pair(t)
	reportLimits(t, s, device, appID, deviceID)

	if err := s.controller.Feed("hold"); err != nil {
		t.Fatalf("feed: %v", err)
	}
	readCommands(t, device, "strength-2+2+100")
	if s.controller.Active(pulse.ChannelB) != 1 {
		t.Fatalf("expected one active trigger on B")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tick := make(chan time.Time)
	watchDone := make(chan error, 1)
	go func() {
		reader := gpio.NewFakeReader(false, false, true, true)
		watchDone <- gpio.Watch(ctx, reader, gpio.NewButton(0), tick, time.Now, func() {
			s.controller.Halt()
			s.tracker.RecordHalt()
		}, nil)
	}()
	for i := 0; i < 4; i++ {
		tick <- time.Now()
	}

	readCommands(t, device, "clear-2")
	waitFor(t, "halt", func() bool { return s.controller.Active(pulse.ChannelB) == 0 })
	if got := s.tracker.Snapshot().Halts; got != 1 {
		t.Errorf("halts: got %d, want 1", got)
	}

	cancel()
	if err := <-watchDone; err != nil {
		t.Errorf("watch: %v", err)
	}
}

func TestIntegrationDeviceDisconnectEndsSession(t *testing.T) {
	s := newStack(t)
	app, device, _, _ := s.pair(t)

	device.Close()

	env := readEnvelope(t, app)
	for env.Type == relay.TypeHeartbeat {
		env = readEnvelope(t, app)
	}
	if env.Type != relay.TypeBreak || env.Message != relay.CodeBroken {
		t.Errorf("expected break, got %+v", env)
	}
	waitFor(t, "session end", func() bool { return s.tracker.Snapshot().Session == status.SessionEmpty })

	// Commands without a session are dropped silently.
	if err := s.relay.FeedControl(context.Background(), "clear-1"); err != nil {
		t.Errorf("FeedControl without session: %v", err)
	}
}
