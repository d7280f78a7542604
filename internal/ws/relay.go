package ws

import (
	"context"
)

type Msg interface{ isRelayMsg() }

type Join struct {
	ClientID string
	Outbox   chan []byte // where this client wants to receive events
}

func (Join) isRelayMsg() {}

type Leave struct{ ClientID string }

func (Leave) isRelayMsg() {}

type Shutdown struct{}

func (Shutdown) isRelayMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRelayMsg() {}

type View struct {
	NumClients int
}

// Relay fans one session's broadcast feed out to every connected websocket
// client. A single loop owns the client table; everything reaches it
// through the inbox.
type Relay struct {
	inbox   chan Msg
	feed    <-chan []byte
	clients map[string]chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewRelay(parent context.Context, feed <-chan []byte) *Relay {
	ctx, cancel := context.WithCancel(parent)

	r := &Relay{
		inbox:   make(chan Msg, 64),
		feed:    feed,
		clients: make(map[string]chan []byte),
		ctx:     ctx,
		cancel:  cancel,
	}

	go r.loop()
	return r
}

func (r *Relay) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case payload, ok := <-r.feed:
			if !ok {
				r.shutdown()
				return
			}
			r.broadcast(payload)

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.clients[msg.ClientID] = msg.Outbox

			case Leave:
				if ch, ok := r.clients[msg.ClientID]; ok {
					close(ch)
					delete(r.clients, msg.ClientID)
				}

			case GetState:
				msg.Reply <- View{NumClients: len(r.clients)}

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Relay) shutdown() {
	for id, ch := range r.clients {
		close(ch) // Tell client no more events
		delete(r.clients, id)
	}
	r.cancel()
}

func (r *Relay) broadcast(payload []byte) {
	for id, ch := range r.clients {
		select {
		case ch <- payload:
			// ok
		default:
			// Client is slow/full - drop them.
			close(ch)
			delete(r.clients, id)
		}
	}
}

// Expose the inbox so tests or the WS layer can send messages.
func (r *Relay) Inbox() chan<- Msg { return r.inbox }
