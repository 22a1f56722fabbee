package stats

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/domain"
)

// ErrNoActiveMatch means EndMatch was called without a StartMatch.
var ErrNoActiveMatch = errors.New("no active match")

// Tracker accumulates one match at a time: the moves as they are played
// and the engine's evaluation after each of our searches. EndMatch turns
// the accumulation into a MatchRecord and hands it to the store.
type Tracker struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time

	mu  sync.Mutex
	cur *activeMatch
}

type activeMatch struct {
	uuid      string
	side      string
	startedAt time.Time
	movesUCI  []string
	movesSAN  []string
	evals     []int
}

func NewTracker(store Store, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, logger: logger, now: time.Now}
}

// StartMatch opens a new accumulation and returns its session UUID. An
// unfinished previous match is dropped with a warning.
func (t *Tracker) StartMatch(side string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cur != nil {
		t.logger.Warn("match_tracker_replaced",
			zap.String("session_uuid", t.cur.uuid),
			zap.Int("plies", len(t.cur.movesUCI)))
	}
	t.cur = &activeMatch{
		uuid:      uuid.NewString(),
		side:      side,
		startedAt: t.now(),
	}
	return t.cur.uuid
}

// Active reports whether a match is being tracked.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur != nil
}

// SessionUUID returns the active match's UUID, "" if none.
func (t *Tracker) SessionUUID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur == nil {
		return ""
	}
	return t.cur.uuid
}

// RecordMove appends one played move in both notations.
func (t *Tracker) RecordMove(uci, san string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur == nil {
		return
	}
	t.cur.movesUCI = append(t.cur.movesUCI, uci)
	t.cur.movesSAN = append(t.cur.movesSAN, san)
}

// RecordEvaluation appends one engine evaluation, centipawns from our
// side's point of view.
func (t *Tracker) RecordEvaluation(cp int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur == nil {
		return
	}
	t.cur.evals = append(t.cur.evals, cp)
}

// EndMatch closes the accumulation, persists the record, and returns it
// with the refreshed aggregate. A duplicate save is reported but the
// record and aggregate are still returned.
func (t *Tracker) EndMatch(ctx context.Context, result, scoreText, reasonText, pgn string) (domain.MatchRecord, domain.OverallStats, error) {
	t.mu.Lock()
	cur := t.cur
	t.cur = nil
	t.mu.Unlock()

	if cur == nil {
		return domain.MatchRecord{}, domain.OverallStats{}, ErrNoActiveMatch
	}

	ended := t.now()
	rec := domain.MatchRecord{
		SessionUUID: cur.uuid,
		Side:        cur.side,
		Result:      result,
		ScoreText:   scoreText,
		ReasonText:  reasonText,
		MovesUCI:    cur.movesUCI,
		MovesSAN:    cur.movesSAN,
		PGN:         pgn,
		PlyCount:    len(cur.movesUCI),
		StartedAt:   cur.startedAt,
		EndedAt:     ended,
		Duration:    ended.Sub(cur.startedAt),
	}
	rec.AvgEvalCP, rec.MinEvalCP, rec.MaxEvalCP = evalStats(cur.evals)

	saveErr := t.store.SaveMatch(ctx, rec)
	if saveErr != nil && !errors.Is(saveErr, ErrDuplicateMatch) {
		return rec, domain.OverallStats{}, saveErr
	}

	overall, err := t.store.Overall(ctx)
	if err != nil {
		return rec, domain.OverallStats{}, err
	}
	return rec, overall, saveErr
}

// Abort closes the accumulation as an unknown result, typically after the
// play loop gave up mid-game.
func (t *Tracker) Abort(ctx context.Context, reasonText string) (domain.MatchRecord, domain.OverallStats, error) {
	return t.EndMatch(ctx, domain.ResultUnknown, "", reasonText, "")
}

func evalStats(evals []int) (avg, min, max int) {
	if len(evals) == 0 {
		return 0, 0, 0
	}
	min, max = evals[0], evals[0]
	sum := 0
	for _, e := range evals {
		sum += e
		if e < min {
			min = e
		}
		if e > max {
			max = e
		}
	}
	return sum / len(evals), min, max
}
