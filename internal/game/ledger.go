package game

import (
	"errors"
	"sync"
	"time"
)

var ErrSeatTaken = errors.New("seat already taken")
var ErrRoleInvalid = errors.New("invalid role")
var ErrDuplicateParticipant = errors.New("participant already seated")
var ErrNotSeated = errors.New("participant not seated")
var ErrNotActive = errors.New("session not active")
var ErrInvalidInput = errors.New("invalid input")

type Role string

const (
	RoleFirst  Role = "first"
	RoleSecond Role = "second"
)

// Roles lists the two seats in serving order.
var Roles = []Role{RoleFirst, RoleSecond}

type State string

const (
	StateEmpty            State = "empty"
	StateWaitingForSecond State = "waiting_for_second"
	StateActive           State = "active"
	StateEnded            State = "ended"
)

type Config struct {
	WinThreshold int
	DedupWindow  time.Duration
	MoveBound    int
}

func DefaultConfig() Config {
	return Config{
		WinThreshold: 10,
		DedupWindow:  500 * time.Millisecond,
		MoveBound:    20,
	}
}

// LeaveResult tells the caller which seat was vacated and whether the
// session had been running, so it knows whether to broadcast an end event.
type LeaveResult struct {
	Role      Role
	WasActive bool
}

type GoalResult struct {
	Scores  map[Role]int
	Won     bool
	Winner  Role
	Counted bool
}

type MoveResult struct {
	Role     Role
	Position int
	Opponent string
}

// Snapshot is a consistent read of the session, safe to hand out.
type Snapshot struct {
	State     State           `json:"state"`
	Seats     map[Role]string `json:"seats"`
	Scores    map[Role]int    `json:"scores"`
	Positions map[Role]int    `json:"positions"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Ledger is the authoritative session state machine. Every mutation runs
// under the write lock; status reads take the read lock. Callers must not
// hold either lock across network calls.
type Ledger struct {
	mu sync.RWMutex

	cfg       Config
	state     State
	seats     map[Role]string
	scores    map[Role]int
	positions map[Role]int
	lastGoal  time.Time
	updatedAt time.Time
}

func NewLedger(cfg Config) *Ledger {
	l := &Ledger{cfg: cfg}
	l.resetLocked(time.Now())
	return l
}

func validRole(r Role) bool {
	return r == RoleFirst || r == RoleSecond
}

func opponent(r Role) Role {
	if r == RoleFirst {
		return RoleSecond
	}
	return RoleFirst
}

// Join seats a participant. Empty -> WaitingForSecond, or
// WaitingForSecond -> Active once both seats are occupied.
func (l *Ledger) Join(id string, role Role) (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !validRole(role) {
		return l.state, ErrRoleInvalid
	}
	if l.seats[role] != "" {
		return l.state, ErrSeatTaken
	}
	if l.seats[opponent(role)] == id {
		return l.state, ErrDuplicateParticipant
	}

	l.seats[role] = id
	if l.seats[RoleFirst] != "" && l.seats[RoleSecond] != "" {
		l.state = StateActive
	} else {
		l.state = StateWaitingForSecond
	}
	l.updatedAt = time.Now()
	return l.state, nil
}

// Leave vacates the participant's seat. Active -> Ended (the caller is
// expected to reset afterwards), WaitingForSecond -> Empty.
func (l *Ledger) Leave(id string) (LeaveResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	role, ok := l.roleOfLocked(id)
	if !ok {
		return LeaveResult{}, ErrNotSeated
	}

	wasActive := l.state == StateActive
	l.seats[role] = ""
	if wasActive {
		l.state = StateEnded
	} else {
		l.state = StateEmpty
	}
	l.updatedAt = time.Now()
	return LeaveResult{Role: role, WasActive: wasActive}, nil
}

// RecordGoal increments the scoring seat's score unless the report lands
// inside the dedup window, in which case it is a no-op returning the
// unchanged scores. Reaching the win threshold ends the session.
func (l *Ledger) RecordGoal(scoring Role, now time.Time) (GoalResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !validRole(scoring) {
		return GoalResult{}, ErrRoleInvalid
	}
	if l.state != StateActive {
		return GoalResult{}, ErrNotActive
	}

	// Both players report the same physical goal; the second report
	// arrives within the window and must not double-count.
	if !l.lastGoal.IsZero() && now.Sub(l.lastGoal) < l.cfg.DedupWindow {
		return GoalResult{Scores: l.scoresLocked(), Counted: false}, nil
	}

	l.scores[scoring]++
	l.lastGoal = now
	l.updatedAt = time.Now()

	res := GoalResult{Scores: l.scoresLocked(), Counted: true}
	if l.scores[scoring] >= l.cfg.WinThreshold {
		res.Won = true
		res.Winner = scoring
		l.state = StateEnded
	}
	return res, nil
}

// Move applies a paddle displacement for a seated participant. The
// displacement is bounded; out-of-range input is rejected with no mutation.
func (l *Ledger) Move(id string, dy int) (MoveResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dy < -l.cfg.MoveBound || dy > l.cfg.MoveBound {
		return MoveResult{}, ErrInvalidInput
	}
	role, ok := l.roleOfLocked(id)
	if !ok {
		return MoveResult{}, ErrNotSeated
	}

	l.positions[role] += dy
	l.updatedAt = time.Now()
	return MoveResult{
		Role:     role,
		Position: l.positions[role],
		Opponent: l.seats[opponent(role)],
	}, nil
}

// Reset clears seats, scores, positions and the goal timestamp. Idempotent.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetLocked(time.Now())
}

func (l *Ledger) resetLocked(now time.Time) {
	l.state = StateEmpty
	l.seats = map[Role]string{RoleFirst: "", RoleSecond: ""}
	l.scores = map[Role]int{RoleFirst: 0, RoleSecond: 0}
	l.positions = map[Role]int{RoleFirst: 0, RoleSecond: 0}
	l.lastGoal = time.Time{}
	l.updatedAt = now
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seats := make(map[Role]string, len(l.seats))
	for r, id := range l.seats {
		seats[r] = id
	}
	positions := make(map[Role]int, len(l.positions))
	for r, p := range l.positions {
		positions[r] = p
	}
	return Snapshot{
		State:     l.state,
		Seats:     seats,
		Scores:    l.scoresLocked(),
		Positions: positions,
		UpdatedAt: l.updatedAt,
	}
}

// RoleOf reports the seat the participant currently holds, if any.
func (l *Ledger) RoleOf(id string) (Role, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.roleOfLocked(id)
}

// Seated returns the identifiers of everyone currently holding a seat.
func (l *Ledger) Seated() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var ids []string
	for _, r := range Roles {
		if id := l.seats[r]; id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (l *Ledger) roleOfLocked(id string) (Role, bool) {
	if id == "" {
		return "", false
	}
	for _, r := range Roles {
		if l.seats[r] == id {
			return r, true
		}
	}
	return "", false
}

func (l *Ledger) scoresLocked() map[Role]int {
	scores := make(map[Role]int, len(l.scores))
	for r, s := range l.scores {
		scores[r] = s
	}
	return scores
}
