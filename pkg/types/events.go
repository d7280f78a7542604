package types

import "time"

// Event types published on the session broadcast channel.
//
// player_joined:
//   participant: string
//   role: "first" | "second"
//
// player_left:
//   participant: string
//   role: "first" | "second"
//
// move:
//   participant: string
//   role: "first" | "second"
//   position: number
//
// goal:
//   role: "first" | "second" // scoring seat
//   scores: { first: number, second: number }
//
// game_started: {}
//
// game_ended:
//   reason: "player_left" | "win"
//   winner: "first" | "second" // only for "win"

type EventType string

const (
	EventPlayerJoined EventType = "player_joined"
	EventPlayerLeft   EventType = "player_left"
	EventMove         EventType = "move"
	EventGoal         EventType = "goal"
	EventGameStarted  EventType = "game_started"
	EventGameEnded    EventType = "game_ended"
)

const (
	EndReasonPlayerLeft = "player_left"
	EndReasonWin        = "win"
)

type Event struct {
	Type        EventType      `json:"type"`
	Participant string         `json:"participant,omitempty"`
	Role        string         `json:"role,omitempty"`
	Position    *int           `json:"position,omitempty"`
	Scores      map[string]int `json:"scores,omitempty"`
	Winner      string         `json:"winner,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	At          time.Time      `json:"at"`
}
