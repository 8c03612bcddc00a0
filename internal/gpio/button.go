package gpio

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Button debounces raw samples into press events. A press is reported only
// on a stable released-to-pressed transition after a baseline has been
// established, so a button held at startup does not fire.
type Button struct {
	debounce time.Duration

	stable       bool
	baselined    bool
	pending      bool
	hasPending   bool
	pendingSince time.Time

	presses int
}

// NewButton creates a Button that requires samples to hold for debounce.
func NewButton(debounce time.Duration) *Button {
	return &Button{debounce: debounce}
}

// Process takes one sample and reports whether it completes a press.
func (b *Button) Process(pressed bool, now time.Time) bool {
	if !b.baselined {
		if !b.hasPending || b.pending != pressed {
			// Start observing, or restart after a change during baseline
			b.pending, b.hasPending, b.pendingSince = pressed, true, now
			return false
		}
		if now.Sub(b.pendingSince) >= b.debounce {
			b.stable = pressed
			b.baselined = true
			b.hasPending = false
		}
		return false
	}

	if pressed == b.stable {
		// Bounce back to stable state, clear any pending
		b.hasPending = false
		return false
	}
	if !b.hasPending || b.pending != pressed {
		b.pending, b.hasPending, b.pendingSince = pressed, true, now
		return false
	}
	if now.Sub(b.pendingSince) < b.debounce {
		return false
	}

	b.stable = pressed
	b.hasPending = false
	if pressed {
		b.presses++
		return true
	}
	return false
}

// IsBaselined reports whether the initial state has been established.
func (b *Button) IsBaselined() bool {
	return b.baselined
}

// Presses returns the number of presses reported.
func (b *Button) Presses() int {
	return b.presses
}

// Watch samples r on every tick and calls onPress for each debounced press.
// Read errors are logged and the sample skipped. It returns when ctx is done.
func Watch(ctx context.Context, r Reader, b *Button, tick <-chan time.Time, now func() time.Time, onPress func(), logger hclog.Logger) error {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			pressed, err := r.Read()
			if err != nil {
				logger.Warn("gpio read error", "error", err)
				continue
			}
			if b.Process(pressed, now()) {
				logger.Warn("emergency stop pressed", "presses", b.Presses())
				onPress()
			}
		}
	}
}
