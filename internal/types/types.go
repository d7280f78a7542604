package types

import "encoding/json"

type ClientMessage struct {
	Type string `json:"type"` // "Move" | "Goal" | "Leave"
	Dy   int    `json:"dy,omitempty"`
	Role string `json:"role,omitempty"`
}

type ServerMessage struct {
	Type  string          `json:"type"` // "Event" | "Error"
	Event json.RawMessage `json:"event,omitempty"`
	Error string          `json:"error,omitempty"`
}
