package pulse

import (
	"encoding/json"
	"fmt"
)

// StrengthCommand sets the absolute strength of ch.
func StrengthCommand(ch Channel, value int) string {
	return fmt.Sprintf("strength-%d+2+%d", ch.Number(), value)
}

// ClearCommand stops the waveform queued on ch.
func ClearCommand(ch Channel) string {
	return fmt.Sprintf("clear-%d", ch.Number())
}

// PulseCommand pushes a single waveform frame to ch.
func PulseCommand(ch Channel, frame string) string {
	data, _ := json.Marshal([]string{frame})
	return "pulse-" + ch.String() + ":" + string(data)
}
