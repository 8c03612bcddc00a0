package pulse

import (
	"context"
	"time"

	"github.com/sweeney/dglab-voice/internal/event"
)

// scheduler holds the per-run output state of one channel. It is only used by
// the goroutine that created it and is discarded when the channel goes idle.
type scheduler struct {
	c  *Controller
	ch Channel
	st *channelState

	strength int // last strength sent
	wave     string
	frames   Waveform
	cursor   int
}

// runScheduler ticks ch until its trigger list drains or the controller
// closes. It waits for the previous run, if any, to send its final commands.
func (c *Controller) runScheduler(ch Channel, prev <-chan struct{}, done chan struct{}) {
	defer c.wg.Done()
	defer close(done)

	s := &scheduler{c: c, ch: ch, st: c.channels[ch]}
	ctx := c.ctx

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			s.abandon()
			return
		}
	}

	c.logger.Debug("scheduler enter", "channel", ch.String())
	for initial := true; ; initial = false {
		if idle := s.tick(ctx, initial); idle {
			c.logger.Debug("scheduler exit", "channel", ch.String())
			return
		}
		if err := c.sleep(ctx, c.interval); err != nil {
			s.abandon()
			return
		}
	}
}

// tick advances every trigger, emits this tick's commands and reports whether
// the channel went idle.
func (s *scheduler) tick(ctx context.Context, initial bool) bool {
	step := int(s.c.interval / time.Millisecond)
	if initial {
		step = 0
	}

	s.st.mu.Lock()
	var (
		merged  Trigger
		found   bool
		expired []Trigger
	)
	kept := make([]*Trigger, 0, len(s.st.triggers))
	for _, t := range s.st.triggers {
		t.Elapsed += step
		if t.Elapsed >= t.Duration {
			expired = append(expired, *t)
			continue
		}
		kept = append(kept, t)
		if !found || t.Strength > merged.Strength {
			merged = *t
			found = true
		}
	}
	s.st.triggers = kept
	limit := s.st.limit
	if !found {
		s.st.running = false
	}
	s.st.mu.Unlock()

	for _, t := range expired {
		s.c.logger.Info("expire", "name", t.Name, "duration", t.Duration)
		s.c.events.Emit(event.Event{
			Timestamp: s.c.now(),
			Type:      event.TypeExpire,
			Channel:   s.ch.String(),
			Name:      t.Name,
			Value:     t.Duration,
		})
	}

	if !found {
		s.send(ctx, ClearCommand(s.ch))
		s.send(ctx, StrengthCommand(s.ch, 0))
		if s.strength != 0 {
			s.emitStrength(0)
		}
		return true
	}

	strength := limit * merged.Strength / 100
	if strength != s.strength {
		s.c.logger.Info("strength", "channel", s.ch.String(), "value", strength)
		if s.send(ctx, StrengthCommand(s.ch, strength)) {
			s.strength = strength
			s.emitStrength(strength)
		}
	}

	frames := 1
	if merged.Wave != s.wave {
		s.wave = merged.Wave
		s.frames = s.c.waves.Lookup(merged.Wave)
		s.cursor = 0
		frames = 2
	}
	for i := 0; i < frames; i++ {
		s.send(ctx, PulseCommand(s.ch, s.frames[s.cursor]))
		s.cursor = (s.cursor + 1) % len(s.frames)
	}
	return false
}

// send writes one command. A failure is logged and does not stop the channel.
func (s *scheduler) send(ctx context.Context, cmd string) bool {
	if err := s.c.feeder.FeedControl(ctx, cmd); err != nil {
		s.c.logger.Warn("send failed", "channel", s.ch.String(), "command", cmd, "error", err)
		return false
	}
	return true
}

func (s *scheduler) emitStrength(v int) {
	s.c.events.Emit(event.Event{
		Timestamp: s.c.now(),
		Type:      event.TypeStrength,
		Channel:   s.ch.String(),
		Value:     v,
	})
}

// abandon drops remaining triggers after cancellation.
func (s *scheduler) abandon() {
	s.st.mu.Lock()
	s.st.triggers = nil
	s.st.running = false
	s.st.mu.Unlock()
}
