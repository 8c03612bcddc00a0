// Package pulse turns matched voice utterances into a rate-limited stream of
// device commands.
//
// Each output channel owns a list of active triggers. While the list is
// non-empty a scheduler goroutine ticks at a fixed interval, merges the
// triggers into one effective output (highest strength wins) and emits
// strength and waveform commands through a Feeder. When the list drains the
// scheduler clears the channel and exits.
package pulse

import (
	"context"
	"strings"
)

// Channel is one stimulation output line.
type Channel byte

const (
	ChannelA Channel = 'A'
	ChannelB Channel = 'B'
)

// Channels lists every output in a fixed order.
var Channels = []Channel{ChannelA, ChannelB}

// String returns the channel letter.
func (c Channel) String() string { return string(rune(c)) }

// Number returns the device channel number (A=1, B=2).
func (c Channel) Number() int { return int(c-ChannelA) + 1 }

// ParseChannel converts "A"/"B" (any case) to a Channel.
func ParseChannel(s string) (Channel, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return ChannelA, true
	case "B":
		return ChannelB, true
	}
	return 0, false
}

// Feeder delivers text to the paired peers. It is implemented by the relay.
// Both calls are no-ops when the corresponding peer is not bound.
type Feeder interface {
	// FeedControl sends a device command to the target.
	FeedControl(ctx context.Context, data string) error
	// FeedLog shows text on the control client.
	FeedLog(ctx context.Context, data string) error
}

// Trigger is one rule's effect on one channel, bounded by Duration.
// Elapsed and Duration are in milliseconds.
type Trigger struct {
	Name     string
	Elapsed  int
	Duration int
	Wave     string
	Strength int // percent of the channel limit, 0..100
}

// Action is a rule's per-channel configuration. Zero values fall back to the
// rule duration, the default wave and full strength respectively.
type Action struct {
	Duration int
	Wave     string
	Strength *int
}

// Rule maps spoken phrases to per-channel actions.
type Rule struct {
	Name     string
	Match    []string
	Duration int
	Actions  map[Channel]Action
}

// Matches reports whether any match phrase occurs in text.
func (r Rule) Matches(text string) bool {
	for _, m := range r.Match {
		if m != "" && strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// Trigger builds the trigger record this rule produces on ch.
// The second result is false when the rule does not drive ch.
func (r Rule) Trigger(ch Channel) (Trigger, bool) {
	a, ok := r.Actions[ch]
	if !ok {
		return Trigger{}, false
	}
	t := Trigger{
		Name:     r.Name + "-" + ch.String(),
		Duration: a.Duration,
		Wave:     a.Wave,
		Strength: 100,
	}
	if t.Duration == 0 {
		t.Duration = r.Duration
	}
	if t.Wave == "" {
		t.Wave = DefaultWave
	}
	if a.Strength != nil {
		t.Strength = *a.Strength
	}
	return t, true
}
