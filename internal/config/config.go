// Package config loads the daemon's TOML configuration file.
//
// The file layout follows the original tool: [server], [wave] with one array
// of hex frames per wave name, and [rules.<name>] tables with optional
// [rules.<name>.A] / [rules.<name>.B] channel actions. Optional [transcriber],
// [mqtt], [gpio] and [mdns] sections configure the surrounding daemon.
package config

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"

	"github.com/sweeney/dglab-voice/internal/pulse"
)

// Defaults.
const (
	DefaultPort          = 8080
	DefaultSource        = "-"
	DefaultGPIOChip      = "gpiochip0"
	DefaultGPIOLine      = 17
	DefaultGPIODebounce  = 50 * time.Millisecond
	DefaultGPIOPoll      = 20 * time.Millisecond
	DefaultMDNSInstance  = "dglab-voice"
	DefaultMQTTClientID  = "dglab-voice"
	DefaultMQTTHeartbeat = 15 * time.Minute
)

// Duration is a time.Duration written as a Go duration string ("250ms").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Server configures the HTTP listener.
type Server struct {
	Addr      string `toml:"addr"`
	Port      int    `toml:"port"`
	ClientDir string `toml:"client_dir"` // static control UI served at "/" when set
}

// ListenAddr returns host:port for the HTTP listener.
func (s Server) ListenAddr() string {
	return net.JoinHostPort(s.Addr, strconv.Itoa(s.Port))
}

// Transcriber configures the utterance source. Source is "-" for stdin, a
// path to a FIFO or file, or "off".
type Transcriber struct {
	Source string `toml:"source"`
}

// MQTT configures event publishing. An empty Broker disables it.
type MQTT struct {
	Broker    string   `toml:"broker"`
	ClientID  string   `toml:"client_id"`
	Heartbeat Duration `toml:"heartbeat"`
}

// GPIO configures the emergency-stop button.
type GPIO struct {
	Enabled  bool     `toml:"enabled"`
	Chip     string   `toml:"chip"`
	Line     int      `toml:"line"`
	Debounce Duration `toml:"debounce"`
	Poll     Duration `toml:"poll"`
}

// MDNS configures zeroconf advertisement of the relay.
type MDNS struct {
	Enabled  bool   `toml:"enabled"`
	Instance string `toml:"instance"`
}

// Config is the validated configuration.
type Config struct {
	Server      Server
	Transcriber Transcriber
	MQTT        MQTT
	GPIO        GPIO
	MDNS        MDNS
	Waves       pulse.Waves
	Rules       []pulse.Rule // in file order
}

type actionFile struct {
	Duration int    `toml:"duration"`
	Wave     string `toml:"wave"`
	Strength *int   `toml:"strength"`
}

type ruleFile struct {
	Match    []string    `toml:"match"`
	Duration int         `toml:"duration"`
	A        *actionFile `toml:"A"`
	B        *actionFile `toml:"B"`
}

type file struct {
	Server      Server              `toml:"server"`
	Transcriber Transcriber         `toml:"transcriber"`
	MQTT        MQTT                `toml:"mqtt"`
	GPIO        GPIO                `toml:"gpio"`
	MDNS        MDNS                `toml:"mdns"`
	Wave        map[string][]string `toml:"wave"`
	Rules       map[string]ruleFile `toml:"rules"`
}

// Load reads and validates the configuration at path.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a TOML document.
func Parse(data []byte) (*Config, error) {
	var f file
	md, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}

	cfg := &Config{
		Server:      f.Server,
		Transcriber: f.Transcriber,
		MQTT:        f.MQTT,
		GPIO:        f.GPIO,
		MDNS:        f.MDNS,
	}
	applyDefaults(cfg)

	if cfg.Waves, err = buildWaves(f.Wave); err != nil {
		return nil, err
	}
	if cfg.Rules, err = buildRules(f.Rules, ruleOrder(md)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Transcriber.Source == "" {
		cfg.Transcriber.Source = DefaultSource
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = DefaultMQTTClientID
	}
	if cfg.MQTT.Heartbeat == 0 {
		cfg.MQTT.Heartbeat = Duration(DefaultMQTTHeartbeat)
	}
	if cfg.GPIO.Chip == "" {
		cfg.GPIO.Chip = DefaultGPIOChip
	}
	if cfg.GPIO.Line == 0 {
		cfg.GPIO.Line = DefaultGPIOLine
	}
	if cfg.GPIO.Debounce == 0 {
		cfg.GPIO.Debounce = Duration(DefaultGPIODebounce)
	}
	if cfg.GPIO.Poll == 0 {
		cfg.GPIO.Poll = Duration(DefaultGPIOPoll)
	}
	if cfg.MDNS.Instance == "" {
		cfg.MDNS.Instance = DefaultMDNSInstance
	}
}

// ruleOrder returns rule names in the order they appear in the document.
func ruleOrder(md toml.MetaData) []string {
	var names []string
	seen := map[string]bool{}
	for _, k := range md.Keys() {
		if len(k) < 2 || k[0] != "rules" || seen[k[1]] {
			continue
		}
		seen[k[1]] = true
		names = append(names, k[1])
	}
	return names
}

func buildWaves(in map[string][]string) (pulse.Waves, error) {
	waves := make(pulse.Waves, len(in))
	names := make([]string, 0, len(in))
	for name := range in {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		frames := in[name]
		if len(frames) == 0 {
			errs = append(errs, fmt.Errorf("wave %q: no frames", name))
			continue
		}
		for _, fr := range frames {
			if err := pulse.ValidateFrame(fr); err != nil {
				errs = append(errs, fmt.Errorf("wave %q: %w", name, err))
			}
		}
		waves[name] = pulse.Waveform(frames)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return waves, nil
}

func buildRules(in map[string]ruleFile, order []string) ([]pulse.Rule, error) {
	var (
		rules []pulse.Rule
		errs  []error
	)
	for _, name := range order {
		rf, ok := in[name]
		if !ok {
			continue
		}
		r, err := buildRule(name, rf)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, r)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return rules, nil
}

func buildRule(name string, rf ruleFile) (pulse.Rule, error) {
	r := pulse.Rule{
		Name:     name,
		Match:    rf.Match,
		Duration: rf.Duration,
		Actions:  map[pulse.Channel]pulse.Action{},
	}
	if len(rf.Match) == 0 {
		return r, fmt.Errorf("rule %q: match is empty", name)
	}
	for _, m := range rf.Match {
		if strings.TrimSpace(m) == "" {
			return r, fmt.Errorf("rule %q: blank match phrase", name)
		}
	}
	if rf.Duration < 0 {
		return r, fmt.Errorf("rule %q: negative duration", name)
	}
	for _, ca := range []struct {
		ch pulse.Channel
		af *actionFile
	}{{pulse.ChannelA, rf.A}, {pulse.ChannelB, rf.B}} {
		ch, af := ca.ch, ca.af
		if af == nil {
			continue
		}
		if af.Duration < 0 {
			return r, fmt.Errorf("rule %q channel %s: negative duration", name, ch)
		}
		if af.Strength != nil && (*af.Strength < 0 || *af.Strength > 100) {
			return r, fmt.Errorf("rule %q channel %s: strength %d out of range 0..100", name, ch, *af.Strength)
		}
		r.Actions[ch] = pulse.Action{Duration: af.Duration, Wave: af.Wave, Strength: af.Strength}
	}
	if len(r.Actions) == 0 {
		return r, fmt.Errorf("rule %q: no channel actions", name)
	}
	return r, nil
}
