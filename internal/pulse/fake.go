package pulse

import (
	"context"
	"sync"
)

// FakeFeeder records everything fed to it for test assertions.
type FakeFeeder struct {
	mu sync.Mutex

	// Control contains every device command, in order.
	Control []string

	// Log contains every text shown to the client.
	Log []string

	// ControlError, if set, is returned by FeedControl and nothing is recorded.
	ControlError error
}

// NewFakeFeeder creates a FakeFeeder for testing.
func NewFakeFeeder() *FakeFeeder {
	return &FakeFeeder{}
}

// FeedControl records a device command.
func (f *FakeFeeder) FeedControl(_ context.Context, data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ControlError != nil {
		return f.ControlError
	}
	f.Control = append(f.Control, data)
	return nil
}

// FeedLog records client log text.
func (f *FakeFeeder) FeedLog(_ context.Context, data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Log = append(f.Log, data)
	return nil
}

// Commands returns a copy of the recorded device commands.
func (f *FakeFeeder) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Control...)
}

// Logs returns a copy of the recorded client log text.
func (f *FakeFeeder) Logs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Log...)
}

// SetControlError changes the error returned by FeedControl.
func (f *FakeFeeder) SetControlError(err error) {
	f.mu.Lock()
	f.ControlError = err
	f.mu.Unlock()
}

// Reset clears recorded commands and errors.
func (f *FakeFeeder) Reset() {
	f.mu.Lock()
	f.Control = nil
	f.Log = nil
	f.ControlError = nil
	f.mu.Unlock()
}
