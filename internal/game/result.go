package game

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/board"
	"github.com/park285/chess-autopilot/internal/domain"
	"github.com/park285/chess-autopilot/internal/resilience"
	"github.com/park285/chess-autopilot/internal/stats"
	"github.com/park285/chess-autopilot/pkg/botevent"
)

// ResultHandler finalizes a completed match: reads the score and reason
// from the board, classifies them relative to our side and fans the
// outcome out to stats and observers. Everything here is best-effort;
// a failed read still produces a "details unavailable" notification.
type ResultHandler struct {
	ctrl    board.Controller
	tracker *stats.Tracker
	res     *resilience.Set
	publish Publisher
	logger  *zap.Logger
}

func NewResultHandler(d Deps) *ResultHandler {
	d = d.withDefaults()
	return &ResultHandler{
		ctrl:    d.Board,
		tracker: d.Tracker,
		res:     d.Resilience,
		publish: d.Publish,
		logger:  d.Logger,
	}
}

// HandleGameEnd records and announces the result. Call at most once per
// match; the caller guards with State.MarkResultLogged.
func (r *ResultHandler) HandleGameEnd(ctx context.Context, st *State, matchID string) {
	score, reason, err := r.readResult(ctx)
	if err != nil {
		r.logger.Warn("result_read_failed", zap.Error(err))
		score, reason = "", "details unavailable"
	}

	result := ClassifyResult(score, st.Side())
	if result == domain.ResultUnknown && score != "" {
		r.logger.Warn("result_unclassified", zap.String("score", score))
	}

	plyCount := st.NextPly() - 1
	r.logger.Info("game_finished",
		zap.String("result", result),
		zap.String("score", score),
		zap.String("reason", reason),
		zap.Int("plies", plyCount))

	uuid := r.tracker.SessionUUID()
	rec, overall, err := r.tracker.EndMatch(ctx, result, score, reason, st.PGN())
	if err != nil && !errors.Is(err, stats.ErrDuplicateMatch) {
		r.logger.Warn("stats_record_failed", zap.Error(err))
	}
	if rec.PlyCount == 0 {
		rec.PlyCount = plyCount
	}

	r.publish(botevent.New(botevent.TypeGameEnd, "", botevent.GameFinished{
		SessionUUID: uuid,
		MatchID:     matchID,
		Result:      result,
		ScoreText:   score,
		ReasonText:  reason,
		PlyCount:    rec.PlyCount,
		PGN:         rec.PGN,
	}))
	r.publish(botevent.New(botevent.TypeStatsUpdate, "", botevent.StatisticsUpdate{
		GamesPlayed: overall.GamesPlayed,
		Wins:        overall.Wins,
		Losses:      overall.Losses,
		Draws:       overall.Draws,
		Unknown:     overall.Unknown,
		WinRate:     overall.WinRate,
	}))
}

func (r *ResultHandler) readResult(ctx context.Context) (score, reason string, err error) {
	err = r.res.Element.Do(ctx, "read_result", func(ctx context.Context) error {
		var opErr error
		score, reason, opErr = r.ctrl.ReadResult(ctx)
		return opErr
	})
	return score, reason, err
}

// ClassifyResult maps the board's score text to a result for the side
// we played. Matching is exact after trimming; unrecognized text maps
// to unknown.
func ClassifyResult(score string, side board.Side) string {
	switch strings.TrimSpace(score) {
	case "1-0":
		if side == board.SideWhite {
			return domain.ResultWin
		}
		return domain.ResultLoss
	case "0-1":
		if side == board.SideBlack {
			return domain.ResultWin
		}
		return domain.ResultLoss
	case "1/2-1/2", "½-½":
		return domain.ResultDraw
	default:
		return domain.ResultUnknown
	}
}
