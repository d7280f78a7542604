package reconcile

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/paddleduel/pong-backend/internal/broker"
)

type Config struct {
	// Grace is how long a leave signal is held before it becomes a
	// confirmed disconnect, absorbing page refreshes and brief drops.
	Grace time.Duration
	// PollInterval drives the presence sweep. The interval itself is the
	// grace period for the poll path; presence is ground truth.
	PollInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Grace:        2 * time.Second,
		PollInterval: 2 * time.Second,
	}
}

// Reconciler combines two independent evidence sources into one disconnect
// decision per participant: the leave-signal stream (fast, can silently
// drop) and the periodic presence sweep (slow, universally reliable).
// Either is sufficient; the decision sink must tolerate duplicates.
type Reconciler struct {
	cfg      Config
	presence broker.PresenceStore
	source   broker.LeaveEventSource
	expected func() []string
	confirm  func(participantID string)
	log      *zap.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New wires a reconciler. expected reports the participants the coordinator
// currently believes are seated; confirm receives each decision.
func New(cfg Config, presence broker.PresenceStore, source broker.LeaveEventSource,
	expected func() []string, confirm func(string), log *zap.Logger) *Reconciler {
	return &Reconciler{
		cfg:      cfg,
		presence: presence,
		source:   source,
		expected: expected,
		confirm:  confirm,
		log:      log,
		pending:  make(map[string]*time.Timer),
	}
}

// Run drives the event-consumption loop and the poll loop until ctx is
// cancelled. Neither loop terminates on a single failed iteration.
func (r *Reconciler) Run(ctx context.Context) error {
	signals, err := r.source.SubscribeLeaveEvents(ctx, broker.DefaultLeavePattern)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case sig, ok := <-signals:
				if !ok {
					return nil
				}
				r.OnLeaveSignal(sig)
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(r.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				r.ReconcileOnce(ctx)
			}
		}
	})

	err = g.Wait()
	r.stopAll()
	return err
}

// OnLeaveSignal schedules a pending disconnect for a private-channel leave.
// Broadcast-channel signals are spectators and carry no session meaning.
// An existing pending entry wins over later signals for the same
// participant; the timer is never reset.
func (r *Reconciler) OnLeaveSignal(sig broker.LeaveSignal) {
	if sig.Kind != broker.SignalLeave {
		return
	}
	if !broker.IsPrivateChannel(sig.Channel) {
		return
	}
	pid := sig.Participant
	if pid == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[pid]; ok {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(r.cfg.Grace, func() {
		r.fire(pid, timer)
	})
	r.pending[pid] = timer
	r.log.Debug("pending disconnect scheduled", zap.String("participant", pid))
}

// Cancel drops any pending disconnect for the participant. Called by the
// coordinator on rejoin; cancellation and firing are mutually exclusive.
func (r *Reconciler) Cancel(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if timer, ok := r.pending[participantID]; ok {
		timer.Stop()
		delete(r.pending, participantID)
		r.log.Debug("pending disconnect cancelled", zap.String("participant", participantID))
	}
}

// fire runs when a grace timer elapses. The map entry is compared against
// the firing timer so a Cancel racing the deadline wins at most once.
func (r *Reconciler) fire(pid string, timer *time.Timer) {
	r.mu.Lock()
	current, ok := r.pending[pid]
	if !ok || current != timer {
		r.mu.Unlock()
		return
	}
	delete(r.pending, pid)
	r.mu.Unlock()

	// Presence check happens outside the lock; a late rejoin that beat the
	// grace deadline shows up here and suppresses the decision.
	present, err := r.isPresent(context.Background(), pid)
	if err != nil {
		// Leave it to the poll loop; a missed decision is recoverable,
		// a false positive is not.
		r.log.Warn("presence check failed at grace deadline",
			zap.String("participant", pid), zap.Error(err))
		return
	}
	if present {
		return
	}
	r.confirm(pid)
}

// ReconcileOnce sweeps presence for every expected occupant. Absence is
// confirmed immediately; a failed query logs and moves on to the next
// participant.
func (r *Reconciler) ReconcileOnce(ctx context.Context) {
	for _, pid := range r.expected() {
		present, err := r.isPresent(ctx, pid)
		if err != nil {
			r.log.Warn("presence poll failed",
				zap.String("participant", pid), zap.Error(err))
			continue
		}
		if !present {
			r.confirm(pid)
		}
	}
}

func (r *Reconciler) isPresent(ctx context.Context, pid string) (bool, error) {
	occupants, err := r.presence.QueryPresence(ctx, broker.PrivateChannel(pid))
	if err != nil {
		return false, err
	}
	return slices.Contains(occupants, pid), nil
}

func (r *Reconciler) stopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for pid, timer := range r.pending {
		timer.Stop()
		delete(r.pending, pid)
	}
}

func (r *Reconciler) pendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
