package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/msgcat"
	"github.com/park285/chess-autopilot/pkg/botevent"
)

// LogSink writes every event to the structured log, with a catalog-
// rendered human line where one exists. It is the sink of last resort and
// is always registered.
type LogSink struct {
	logger *zap.Logger
	cat    *msgcat.Catalog
}

func NewLogSink(logger *zap.Logger, cat *msgcat.Catalog) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger, cat: cat}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, ev botevent.Event) error {
	msg := ev.Message
	if rendered := s.render(ev); rendered != "" {
		msg = rendered
	}
	s.logger.Info("observer_event",
		zap.String("event", string(ev.Type)),
		zap.String("id", ev.ID),
		zap.String("text", msg),
		zap.Any("payload", ev.Payload))
	return nil
}

// render maps known payloads onto catalog templates. Unknown or
// mismatched payloads fall back to the event's own message.
func (s *LogSink) render(ev botevent.Event) string {
	if s.cat == nil {
		return ""
	}
	switch p := ev.Payload.(type) {
	case botevent.GameInfo:
		return s.cat.RenderOr("game.detected",
			map[string]any{"MatchID": p.MatchID, "Side": p.Side}, "")
	case botevent.GameStart:
		return s.cat.RenderOr("game.start",
			map[string]any{"Side": p.Side, "Depth": p.Depth}, "")
	case botevent.Suggestion:
		key := "move.suggestion"
		data := map[string]any{"Move": p.MoveUCI, "Eval": p.EvalCP, "Depth": p.Depth}
		if !p.AutoPlay {
			key = "move.suggestion_manual"
			data = map[string]any{"Move": p.MoveUCI, "Key": "the move key"}
		}
		return s.cat.RenderOr(key, data, "")
	case botevent.MovePlayed:
		return s.cat.RenderOr("move.played",
			map[string]any{"Move": p.MoveUCI, "Eval": p.EvalCP}, "")
	case botevent.BoardUpdate:
		return s.cat.RenderOr("move.opponent",
			map[string]any{"Move": p.MoveSAN}, "")
	case botevent.GameFinished:
		return s.cat.RenderOr("game.finished."+p.Result,
			map[string]any{"Plies": p.PlyCount, "Score": p.ScoreText}, "")
	case botevent.StatisticsUpdate:
		return s.cat.RenderOr("stats.summary", map[string]any{
			"Wins":       p.Wins,
			"Losses":     p.Losses,
			"Draws":      p.Draws,
			"Games":      p.GamesPlayed,
			"WinRatePct": fmt.Sprintf("%.1f", p.WinRate*100),
		}, "")
	case botevent.MatchAborted:
		return s.cat.RenderOr("game.aborted",
			map[string]any{"Reason": p.Reason}, "")
	case botevent.ConfigChanged:
		return s.cat.RenderOr("config.reloaded",
			map[string]any{"Sections": p.Sections}, "")
	default:
		return ""
	}
}

func (s *LogSink) Close() error { return nil }
