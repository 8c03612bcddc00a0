// Package gpio provides the emergency-stop button input with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Reader reads the button line.
type Reader interface {
	// Read returns true while the button is pressed.
	// The line is wired active-low: raw 0 = pressed.
	Read() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// DefaultLine is the BCM pin used for the button when none is configured.
const DefaultLine = 17
