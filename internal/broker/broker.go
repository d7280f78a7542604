package broker

import (
	"context"
	"strings"
	"time"
)

// SignalKind distinguishes the control notifications the transport emits
// when a client joins or drops a channel.
type SignalKind string

const (
	SignalJoin  SignalKind = "join"
	SignalLeave SignalKind = "leave"
)

// LeaveSignal is one control notification. Delivery is unordered and
// at-least-once; consumers must tolerate duplicates.
type LeaveSignal struct {
	Channel     string     `json:"channel"`
	Participant string     `json:"participant"`
	Kind        SignalKind `json:"kind"`
	At          time.Time  `json:"at"`
}

// Publisher is the outbound half of the transport. Publishes are
// fire-and-forget; a lost event degrades spectators, not correctness.
type Publisher interface {
	PublishBroadcast(ctx context.Context, channel string, payload []byte) error
	PublishPrivate(ctx context.Context, channel string, payload []byte) error
}

// PresenceStore answers point-in-time occupancy queries. Snapshots must
// never be cached across polls.
type PresenceStore interface {
	QueryPresence(ctx context.Context, channel string) ([]string, error)
}

// LeaveEventSource delivers the control notification stream. The returned
// channel closes when ctx is cancelled.
type LeaveEventSource interface {
	SubscribeLeaveEvents(ctx context.Context, pattern string) (<-chan LeaveSignal, error)
}

const (
	broadcastPrefix = "session:"
	privatePrefix   = "private:"
)

// BroadcastChannel names the shared spectator channel for a session.
func BroadcastChannel(sessionID string) string {
	return broadcastPrefix + sessionID
}

// PrivateChannel names a participant's dedicated channel.
func PrivateChannel(participantID string) string {
	return privatePrefix + participantID
}

// IsPrivateChannel reports whether a channel belongs to the per-participant
// namespace. Leave signals outside it are spectators dropping off the
// broadcast channel and carry no session meaning.
func IsPrivateChannel(channel string) bool {
	return strings.HasPrefix(channel, privatePrefix)
}
