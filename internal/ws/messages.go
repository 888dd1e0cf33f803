package ws

import (
	"encoding/json"
	"time"
)

// Inbound event names.
const (
	EventJoin        = "join"
	EventSendMessage = "send-message"
	EventLeave       = "leave"
	EventPing        = "ping"
	EventError       = "error"
)

// Envelope wraps every WS frame.
type Envelope struct {
	Event string          `json:"event"`          // e.g. "send-message"
	Body  json.RawMessage `json:"body,omitempty"` // arbitrary JSON object
}

// PongBody answers "ping".
type PongBody struct {
	ServerTime time.Time `json:"serverTime"`
}

// ErrorBody is returned for failures.
type ErrorBody struct {
	Error string `json:"error"`
}

func encodeFrame(event string, body any) ([]byte, error) {
	env := Envelope{Event: event}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		env.Body = raw
	}
	return json.Marshal(env)
}
