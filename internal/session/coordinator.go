package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/paddleduel/pong-backend/internal/broker"
	"github.com/paddleduel/pong-backend/internal/game"
	"github.com/paddleduel/pong-backend/pkg/types"
)

// Canceler drops a pending disconnect decision for a participant.
// Implemented by the reconciler.
type Canceler interface {
	Cancel(participantID string)
}

type noopCanceler struct{}

func (noopCanceler) Cancel(string) {}

// Coordinator serializes gameplay RPC intents, reconciler decisions and
// administrative leaves into ledger mutations. It is the only writer of the
// ledger and the only caller of Reset.
type Coordinator struct {
	id       string
	ledger   *game.Ledger
	pub      broker.Publisher
	canceler Canceler
	log      *zap.Logger
	now      func() time.Time
}

func NewCoordinator(id string, ledger *game.Ledger, pub broker.Publisher, log *zap.Logger) *Coordinator {
	return &Coordinator{
		id:       id,
		ledger:   ledger,
		pub:      pub,
		canceler: noopCanceler{},
		log:      log,
		now:      time.Now,
	}
}

// BindCanceler attaches the reconciler after construction; the two sides
// reference each other so one of them has to be wired late.
func (c *Coordinator) BindCanceler(canceler Canceler) {
	c.canceler = canceler
}

func (c *Coordinator) ID() string { return c.id }

// Join seats a participant and, critically, cancels any pending disconnect
// still tracked for them — a fast rejoin can race a live grace timer.
func (c *Coordinator) Join(ctx context.Context, participantID string, role game.Role) (game.State, error) {
	state, err := c.ledger.Join(participantID, role)
	if err != nil {
		return state, err
	}
	c.canceler.Cancel(participantID)

	c.log.Info("participant joined",
		zap.String("session", c.id),
		zap.String("participant", participantID),
		zap.String("role", string(role)))

	c.broadcast(ctx, types.Event{
		Type:        types.EventPlayerJoined,
		Participant: participantID,
		Role:        string(role),
		At:          c.now(),
	})
	if state == game.StateActive {
		c.broadcast(ctx, types.Event{Type: types.EventGameStarted, At: c.now()})
	}
	return state, nil
}

// Leave vacates the participant's seat. If the session had been running,
// the remaining order is: player_left, game_ended, reset.
func (c *Coordinator) Leave(ctx context.Context, participantID string) error {
	res, err := c.ledger.Leave(participantID)
	if err != nil {
		return err
	}

	c.log.Info("participant left",
		zap.String("session", c.id),
		zap.String("participant", participantID),
		zap.String("role", string(res.Role)),
		zap.Bool("was_active", res.WasActive))

	c.broadcast(ctx, types.Event{
		Type:        types.EventPlayerLeft,
		Participant: participantID,
		Role:        string(res.Role),
		At:          c.now(),
	})
	if res.WasActive {
		c.broadcast(ctx, types.Event{
			Type:   types.EventGameEnded,
			Reason: types.EndReasonPlayerLeft,
			At:     c.now(),
		})
		c.ledger.Reset()
	}
	return nil
}

// HandleDisconnect applies a confirmed reconciler decision. A decision for
// a participant no longer seated is absorbed silently; that no-op is what
// makes duplicate decisions from the dual-strategy reconciler safe.
func (c *Coordinator) HandleDisconnect(participantID string) {
	if _, seated := c.ledger.RoleOf(participantID); !seated {
		c.log.Debug("disconnect decision for unseated participant",
			zap.String("session", c.id),
			zap.String("participant", participantID))
		return
	}
	err := c.Leave(context.Background(), participantID)
	if errors.Is(err, game.ErrNotSeated) {
		// Lost the race against another leave path. Same no-op.
		return
	}
	if err != nil {
		c.log.Warn("disconnect handling failed",
			zap.String("participant", participantID), zap.Error(err))
	}
}

// Move applies a bounded paddle displacement and publishes the new position
// on the opponent's private channel and the broadcast channel.
func (c *Coordinator) Move(ctx context.Context, participantID string, dy int) (game.MoveResult, error) {
	res, err := c.ledger.Move(participantID, dy)
	if err != nil {
		return res, err
	}

	pos := res.Position
	evt := types.Event{
		Type:        types.EventMove,
		Participant: participantID,
		Role:        string(res.Role),
		Position:    &pos,
		At:          c.now(),
	}
	if res.Opponent != "" {
		c.private(ctx, res.Opponent, evt)
	}
	c.broadcast(ctx, evt)
	return res, nil
}

// Goal records a scoring report. Reports inside the dedup window return the
// unchanged scores and publish nothing. A win ends the session.
func (c *Coordinator) Goal(ctx context.Context, scoring game.Role) (game.GoalResult, error) {
	res, err := c.ledger.RecordGoal(scoring, c.now())
	if err != nil {
		return res, err
	}
	if !res.Counted {
		return res, nil
	}

	c.broadcast(ctx, types.Event{
		Type:   types.EventGoal,
		Role:   string(scoring),
		Scores: wireScores(res.Scores),
		At:     c.now(),
	})
	if res.Won {
		c.log.Info("game won",
			zap.String("session", c.id),
			zap.String("winner", string(res.Winner)))
		c.broadcast(ctx, types.Event{
			Type:   types.EventGameEnded,
			Reason: types.EndReasonWin,
			Winner: string(res.Winner),
			At:     c.now(),
		})
		c.ledger.Reset()
	}
	return res, nil
}

func (c *Coordinator) Status() game.Snapshot {
	return c.ledger.Snapshot()
}

// Seated feeds the reconciler's poll loop with the participants this
// coordinator currently expects to be present.
func (c *Coordinator) Seated() []string {
	return c.ledger.Seated()
}

func (c *Coordinator) broadcast(ctx context.Context, evt types.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		c.log.Warn("marshal event", zap.Error(err))
		return
	}
	if err := c.pub.PublishBroadcast(ctx, broker.BroadcastChannel(c.id), payload); err != nil {
		c.log.Warn("broadcast publish failed",
			zap.String("type", string(evt.Type)), zap.Error(err))
	}
}

func (c *Coordinator) private(ctx context.Context, participantID string, evt types.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		c.log.Warn("marshal event", zap.Error(err))
		return
	}
	if err := c.pub.PublishPrivate(ctx, broker.PrivateChannel(participantID), payload); err != nil {
		c.log.Warn("private publish failed",
			zap.String("participant", participantID), zap.Error(err))
	}
}

func wireScores(scores map[game.Role]int) map[string]int {
	out := make(map[string]int, len(scores))
	for r, s := range scores {
		out[string(r)] = s
	}
	return out
}
