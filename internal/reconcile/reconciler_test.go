package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/paddleduel/pong-backend/internal/broker"
)

type fakePresence struct {
	mu       sync.Mutex
	channels map[string][]string
	failing  map[string]bool
}

func newFakePresence() *fakePresence {
	return &fakePresence{
		channels: make(map[string][]string),
		failing:  make(map[string]bool),
	}
}

func (f *fakePresence) QueryPresence(_ context.Context, channel string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[channel] {
		return nil, errors.New("presence store unavailable")
	}
	return f.channels[channel], nil
}

func (f *fakePresence) set(channel string, occupants ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[channel] = occupants
}

func (f *fakePresence) fail(channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[channel] = true
}

type fakeSource struct {
	ch chan broker.LeaveSignal
}

func (f *fakeSource) SubscribeLeaveEvents(context.Context, string) (<-chan broker.LeaveSignal, error) {
	return f.ch, nil
}

type decisionRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (d *decisionRecorder) confirm(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, id)
}

func (d *decisionRecorder) decisions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ids...)
}

// helper: wait until the recorder holds want decisions, or fail.
func waitForDecisions(t *testing.T, rec *decisionRecorder, want int, within time.Duration) []string {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if got := rec.decisions(); len(got) >= want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d decisions, have %v", want, rec.decisions())
	return nil // unreachable
}

func leaveSignal(pid string) broker.LeaveSignal {
	return broker.LeaveSignal{
		Channel:     broker.PrivateChannel(pid),
		Participant: pid,
		Kind:        broker.SignalLeave,
		At:          time.Now(),
	}
}

func newTestReconciler(presence *fakePresence, expected func() []string, rec *decisionRecorder) *Reconciler {
	cfg := Config{Grace: 30 * time.Millisecond, PollInterval: 20 * time.Millisecond}
	return New(cfg, presence, &fakeSource{ch: make(chan broker.LeaveSignal, 8)}, expected, rec.confirm, zap.NewNop())
}

func TestReconciler_GraceTimerConfirmsAbsentParticipant(t *testing.T) {
	presence := newFakePresence()
	rec := &decisionRecorder{}
	r := newTestReconciler(presence, func() []string { return nil }, rec)

	r.OnLeaveSignal(leaveSignal("A"))
	require.Equal(t, 1, r.pendingCount())

	got := waitForDecisions(t, rec, 1, time.Second)
	require.Equal(t, []string{"A"}, got)
	require.Zero(t, r.pendingCount())
}

func TestReconciler_RejoinBeforeDeadlineCancels(t *testing.T) {
	presence := newFakePresence()
	rec := &decisionRecorder{}
	r := newTestReconciler(presence, func() []string { return nil }, rec)

	r.OnLeaveSignal(leaveSignal("A"))
	r.Cancel("A")
	require.Zero(t, r.pendingCount())

	time.Sleep(100 * time.Millisecond)
	require.Empty(t, rec.decisions(), "cancelled grace timer must not fire")
}

func TestReconciler_PresentAtDeadlineSuppressesDecision(t *testing.T) {
	presence := newFakePresence()
	// The participant reconnected before the deadline; presence shows them.
	presence.set(broker.PrivateChannel("A"), "A")
	rec := &decisionRecorder{}
	r := newTestReconciler(presence, func() []string { return nil }, rec)

	r.OnLeaveSignal(leaveSignal("A"))

	time.Sleep(100 * time.Millisecond)
	require.Empty(t, rec.decisions())
	require.Zero(t, r.pendingCount())
}

func TestReconciler_FirstSignalWins(t *testing.T) {
	presence := newFakePresence()
	rec := &decisionRecorder{}
	r := newTestReconciler(presence, func() []string { return nil }, rec)

	r.OnLeaveSignal(leaveSignal("A"))
	r.OnLeaveSignal(leaveSignal("A"))
	r.OnLeaveSignal(leaveSignal("A"))
	require.Equal(t, 1, r.pendingCount())

	waitForDecisions(t, rec, 1, time.Second)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, []string{"A"}, rec.decisions(), "duplicate signals must not produce extra decisions")
}

func TestReconciler_BroadcastChannelSignalsIgnored(t *testing.T) {
	presence := newFakePresence()
	rec := &decisionRecorder{}
	r := newTestReconciler(presence, func() []string { return nil }, rec)

	// Spectator dropping off the broadcast channel.
	r.OnLeaveSignal(broker.LeaveSignal{
		Channel:     broker.BroadcastChannel("lobby"),
		Participant: "spec-x1",
		Kind:        broker.SignalLeave,
	})
	require.Zero(t, r.pendingCount())
}

func TestReconciler_JoinSignalsIgnored(t *testing.T) {
	presence := newFakePresence()
	rec := &decisionRecorder{}
	r := newTestReconciler(presence, func() []string { return nil }, rec)

	r.OnLeaveSignal(broker.LeaveSignal{
		Channel:     broker.PrivateChannel("A"),
		Participant: "A",
		Kind:        broker.SignalJoin,
	})
	require.Zero(t, r.pendingCount())
}

func TestReconciler_QueryFailureAtDeadlineDefersToPoll(t *testing.T) {
	presence := newFakePresence()
	presence.fail(broker.PrivateChannel("A"))
	rec := &decisionRecorder{}
	r := newTestReconciler(presence, func() []string { return nil }, rec)

	r.OnLeaveSignal(leaveSignal("A"))

	time.Sleep(100 * time.Millisecond)
	require.Empty(t, rec.decisions(), "a failed presence check must not confirm")
	require.Zero(t, r.pendingCount())
}

func TestReconciler_PollConfirmsMissingOccupantImmediately(t *testing.T) {
	presence := newFakePresence()
	presence.set(broker.PrivateChannel("B"), "B")
	rec := &decisionRecorder{}
	r := newTestReconciler(presence, func() []string { return []string{"A", "B"} }, rec)

	// No leave signal ever arrived for A; the sweep alone decides.
	r.ReconcileOnce(context.Background())
	require.Equal(t, []string{"A"}, rec.decisions())
}

func TestReconciler_PollSurvivesQueryFailure(t *testing.T) {
	presence := newFakePresence()
	presence.fail(broker.PrivateChannel("A"))
	rec := &decisionRecorder{}
	r := newTestReconciler(presence, func() []string { return []string{"A", "B"} }, rec)

	r.ReconcileOnce(context.Background())
	// A's query failed and was skipped; B's absence still confirmed.
	require.Equal(t, []string{"B"}, rec.decisions())
}

func TestReconciler_RunDrivesBothLoops(t *testing.T) {
	presence := newFakePresence()
	source := &fakeSource{ch: make(chan broker.LeaveSignal, 8)}
	rec := &decisionRecorder{}
	cfg := Config{Grace: 20 * time.Millisecond, PollInterval: 25 * time.Millisecond}
	r := New(cfg, presence, source, func() []string { return []string{"B"} }, rec.confirm, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Event path: leave signal for A, absent at deadline.
	source.ch <- leaveSignal("A")
	// Poll path: B is expected but presence never saw them.
	got := waitForDecisions(t, rec, 2, time.Second)
	require.Contains(t, got, "A")
	require.Contains(t, got, "B")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
	require.Zero(t, r.pendingCount(), "shutdown must stop in-flight timers")
}

func TestReconciler_CancelRacesFiring(t *testing.T) {
	// Cancel and the grace deadline race; at most one of them may consume
	// the pending entry, so each signal yields zero or one decision.
	presence := newFakePresence()

	for i := 0; i < 20; i++ {
		rec := &decisionRecorder{}
		r := New(Config{Grace: time.Millisecond, PollInterval: time.Hour},
			presence, &fakeSource{ch: make(chan broker.LeaveSignal)},
			func() []string { return nil }, rec.confirm, zap.NewNop())

		r.OnLeaveSignal(leaveSignal("A"))
		time.Sleep(time.Duration(i%3) * time.Millisecond)
		r.Cancel("A")

		time.Sleep(20 * time.Millisecond)
		require.LessOrEqual(t, len(rec.decisions()), 1)
		require.Zero(t, r.pendingCount())
	}
}
