package ws

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/paddleduel/pong-backend/internal/broker"
	"github.com/paddleduel/pong-backend/internal/game"
	"github.com/paddleduel/pong-backend/internal/session"
	"github.com/paddleduel/pong-backend/internal/types"
)

// Transport is the slice of the broker the gateway needs: presence writes,
// control signals and a raw feed of one channel.
type Transport interface {
	Track(ctx context.Context, channel, participantID string) error
	Untrack(ctx context.Context, channel, participantID string) error
	AnnounceJoin(ctx context.Context, channel, participantID string) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Gateway is the client edge of the transport. Each connected socket is
// tracked in presence for the channels it occupies; closing the socket
// untracks it and emits the leave signal the reconciler listens for.
// Spectators occupy only the broadcast channel, so their drops never look
// like a participant leaving.
type Gateway struct {
	ctx       context.Context
	transport Transport
	registry  *session.Registry
	sessionID string
	log       *zap.Logger

	mu     sync.Mutex
	relays map[string]*Relay
}

func NewGateway(ctx context.Context, transport Transport, registry *session.Registry, sessionID string, log *zap.Logger) *Gateway {
	return &Gateway{
		ctx:       ctx,
		transport: transport,
		registry:  registry,
		sessionID: sessionID,
		log:       log,
		relays:    make(map[string]*Relay),
	}
}

// relayFor lazily subscribes the session's broadcast channel and starts a
// fan-out relay for it.
func (g *Gateway) relayFor(sessionID string) (*Relay, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.relays[sessionID]; ok {
		return r, nil
	}
	feed, err := g.transport.Subscribe(g.ctx, broker.BroadcastChannel(sessionID))
	if err != nil {
		return nil, err
	}
	r := NewRelay(g.ctx, feed)
	g.relays[sessionID] = r
	return r, nil
}

func (g *Gateway) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session")
		if sessionID == "" {
			sessionID = g.sessionID
		}
		coord, ok := g.registry.Get(sessionID)
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		relay, err := g.relayFor(sessionID)
		if err != nil {
			g.log.Warn("broadcast subscribe failed", zap.Error(err))
			http.Error(w, "transport unavailable", http.StatusServiceUnavailable)
			return
		}

		// A participant id makes this a player socket; without one the
		// client is a spectator with a throwaway id.
		participantID := r.URL.Query().Get("id")
		spectator := participantID == ""
		if spectator {
			participantID = "spec-" + randID(6)
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		channels := []string{broker.BroadcastChannel(sessionID)}
		if !spectator {
			channels = append(channels, broker.PrivateChannel(participantID))
		}
		for _, ch := range channels {
			if err := g.transport.Track(r.Context(), ch, participantID); err != nil {
				g.log.Warn("presence track failed",
					zap.String("channel", ch), zap.Error(err))
			}
		}
		if !spectator {
			if err := g.transport.AnnounceJoin(r.Context(), broker.PrivateChannel(participantID), participantID); err != nil {
				g.log.Warn("join announce failed", zap.Error(err))
			}
		}
		defer func() {
			// Untrack emits the leave signal that starts the grace clock.
			for _, ch := range channels {
				if err := g.transport.Untrack(context.Background(), ch, participantID); err != nil {
					g.log.Warn("presence untrack failed",
						zap.String("channel", ch), zap.Error(err))
				}
			}
		}()

		out := make(chan []byte, 8)
		relay.Inbox() <- Join{ClientID: participantID, Outbox: out}
		defer func() { relay.Inbox() <- Leave{ClientID: participantID} }()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for payload := range out {
				msg := types.ServerMessage{Type: "Event", Event: payload}
				data, _ := json.Marshal(msg)
				ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
				_ = conn.Write(ctx, websocket.MessageText, data)
				cancel()
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				// Treat clean close/going-away as normal:
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				// Otherwise, just exit (presence untrack in defer):
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeError(r.Context(), conn, "bad json")
				continue
			}
			if spectator {
				writeError(r.Context(), conn, "spectators cannot play")
				continue
			}
			if err := g.dispatch(r.Context(), coord, participantID, cm); err != nil {
				writeError(r.Context(), conn, err.Error())
			}
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, coord *session.Coordinator, participantID string, cm types.ClientMessage) error {
	switch cm.Type {
	case "Move":
		_, err := coord.Move(ctx, participantID, cm.Dy)
		return err
	case "Goal":
		_, err := coord.Goal(ctx, game.Role(cm.Role))
		return err
	case "Leave":
		return coord.Leave(ctx, participantID)
	default:
		return game.ErrInvalidInput
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, msg string) {
	data, _ := json.Marshal(types.ServerMessage{Type: "Error", Error: msg})
	_ = conn.Write(ctx, websocket.MessageText, data)
}

func randID(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
