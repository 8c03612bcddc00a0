package pulse

import (
	"encoding/hex"
	"fmt"
)

// DefaultWave is the wave name used when an action names none.
const DefaultWave = "default"

// FrameLen is the length of one hex-encoded waveform frame: four frequency
// bytes followed by four intensity bytes.
const FrameLen = 16

// builtinWave is used for any wave name missing from the table.
var builtinWave = Waveform{"0A0A0A0A64646464"}

// Waveform is an ordered sequence of hex frames, played circularly.
type Waveform []string

// Waves maps wave names to waveforms. It is not modified after startup.
type Waves map[string]Waveform

// Lookup returns the named waveform, or the built-in single-frame wave.
func (w Waves) Lookup(name string) Waveform {
	if f, ok := w[name]; ok && len(f) > 0 {
		return f
	}
	return builtinWave
}

// ValidateFrame checks that frame is FrameLen hex characters.
func ValidateFrame(frame string) error {
	if len(frame) != FrameLen {
		return fmt.Errorf("frame %q: want %d hex chars, got %d", frame, FrameLen, len(frame))
	}
	if _, err := hex.DecodeString(frame); err != nil {
		return fmt.Errorf("frame %q: %w", frame, err)
	}
	return nil
}

// Intensities returns the intensity bytes of every frame in play order,
// four per frame. Used for previews.
func (w Waveform) Intensities() ([]float64, error) {
	out := make([]float64, 0, len(w)*4)
	for _, frame := range w {
		b, err := hex.DecodeString(frame)
		if err != nil || len(b) != FrameLen/2 {
			return nil, fmt.Errorf("invalid frame %q", frame)
		}
		for _, v := range b[4:] {
			out = append(out, float64(v))
		}
	}
	return out, nil
}
