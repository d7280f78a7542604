package ws

import (
	"context"
	"testing"
	"time"
)

// helper: receive one payload with a timeout so tests never hang
func recvPayload(t *testing.T, ch <-chan []byte, within time.Duration) []byte {
	t.Helper()
	select {
	case payload, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return payload
	case <-time.After(within):
		t.Fatalf("timed out waiting for payload")
		return nil // unreachable
	}
}

func recvView(t *testing.T, ch <-chan View, within time.Duration) View {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

func TestRelay_FansOutFeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := make(chan []byte, 4)
	r := NewRelay(ctx, feed)

	out1 := make(chan []byte, 2)
	out2 := make(chan []byte, 2)
	r.Inbox() <- Join{ClientID: "c1", Outbox: out1}
	r.Inbox() <- Join{ClientID: "c2", Outbox: out2}

	feed <- []byte(`{"type":"game_started"}`)

	got1 := recvPayload(t, out1, 100*time.Millisecond)
	got2 := recvPayload(t, out2, 100*time.Millisecond)
	if string(got1) != `{"type":"game_started"}` || string(got2) != `{"type":"game_started"}` {
		t.Fatalf("fan-out mismatch: %s / %s", got1, got2)
	}

	r.Inbox() <- Shutdown{}
}

func TestRelay_DropSlowClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := make(chan []byte, 4)
	r := NewRelay(ctx, feed)

	slow := make(chan []byte) // no buffer, never read
	r.Inbox() <- Join{ClientID: "slow", Outbox: slow}

	feed <- []byte(`{"type":"move"}`)

	reply := make(chan View, 1)
	r.Inbox() <- GetState{Reply: reply}
	view := recvView(t, reply, 100*time.Millisecond)

	if view.NumClients != 0 {
		t.Fatalf("expected slow client to be dropped; NumClients=%d", view.NumClients)
	}
}

func TestRelay_LeaveClosesOutbox(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := make(chan []byte)
	r := NewRelay(ctx, feed)

	out := make(chan []byte, 1)
	r.Inbox() <- Join{ClientID: "c1", Outbox: out}
	r.Inbox() <- Leave{ClientID: "c1"}

	select {
	case _, ok := <-out:
		if ok {
			t.Fatalf("expected outbox closed, got payload")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("outbox not closed after leave")
	}
}

func TestRelay_ClosedFeedShutsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := make(chan []byte)
	r := NewRelay(ctx, feed)

	out := make(chan []byte, 1)
	r.Inbox() <- Join{ClientID: "c1", Outbox: out}

	close(feed)

	select {
	case _, ok := <-out:
		if ok {
			t.Fatalf("expected outbox closed, got payload")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("relay did not shut down when feed closed")
	}
}
