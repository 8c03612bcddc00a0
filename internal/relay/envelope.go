package relay

import "encoding/json"

// MessageType is the "type" field of the wire envelope.
type MessageType string

const (
	TypeBind      MessageType = "bind"
	TypeMsg       MessageType = "msg"
	TypeHeartbeat MessageType = "heartbeat"
	TypeBreak     MessageType = "break"
)

// Status codes carried in the message field.
const (
	CodeBound  = "200"
	CodeBroken = "209"
)

// Envelope is the JSON object exchanged in both directions.
type Envelope struct {
	Type     MessageType `json:"type"`
	ClientID string      `json:"clientId"`
	TargetID string      `json:"targetId"`
	Message  any         `json:"message"`
}

// text returns the message as a string. Non-string payloads are re-encoded
// as JSON.
func (e Envelope) text() string {
	switch m := e.Message.(type) {
	case nil:
		return ""
	case string:
		return m
	default:
		b, err := json.Marshal(m)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
