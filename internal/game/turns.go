package game

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/board"
	"github.com/park285/chess-autopilot/internal/config"
	"github.com/park285/chess-autopilot/internal/engine"
	"github.com/park285/chess-autopilot/internal/humanize"
	"github.com/park285/chess-autopilot/internal/resilience"
	"github.com/park285/chess-autopilot/internal/stats"
	"github.com/park285/chess-autopilot/pkg/botevent"
)

// Engine picks our moves. Implemented by engine.Client; repeated
// searches on the same position must be safe.
type Engine interface {
	BestMove(ctx context.Context, movesUCI []string, depth int) (engine.Suggestion, error)
	NewGame(ctx context.Context) error
}

// Trigger reports whether the operator armed the manual-move key since
// the last check. Implemented by input.Trigger.
type Trigger interface {
	Consume() bool
}

// Publisher forwards an event to the observer layer. Implementations
// must not block the match loop.
type Publisher func(botevent.Event)

const (
	defaultBaseDepth = 8

	criticalClockSeconds = 10
	lowClockSeconds      = 30
	midClockSeconds      = 60
	criticalDepthCap     = 2
	lowDepthCap          = 4
	midDepthFloor        = 3

	// Below this clock reading the indicator is skipped in autoplay so
	// the pre-move pause does not burn scarce seconds.
	arrowMinClockSeconds = 30
)

// TurnHandler resolves a single ply for either side. It owns the
// suggestion lifecycle and the humanized pacing around engine queries
// and move execution.
type TurnHandler struct {
	cfg     *config.Store
	ctrl    board.Controller
	engine  Engine
	delays  *humanize.Delays
	trigger Trigger
	tracker *stats.Tracker
	res     *resilience.Set
	debug   board.DebugCapture
	publish Publisher
	logger  *zap.Logger
}

// NewTurnHandler wires a handler from Deps. Config, Board and Engine
// must be set; optional collaborators fall back to inert defaults.
func NewTurnHandler(d Deps) *TurnHandler {
	d = d.withDefaults()
	return &TurnHandler{
		cfg:     d.Config,
		ctrl:    d.Board,
		engine:  d.Engine,
		delays:  d.Delays,
		trigger: d.Trigger,
		tracker: d.Tracker,
		res:     d.Resilience,
		debug:   d.Debug,
		publish: d.Publish,
		logger:  d.Logger,
	}
}

// HandleOwnTurn resolves one of our plies. advanced reports whether the
// ply counter moved; false with a nil error means the handler is
// waiting on the trigger and should be called again.
func (h *TurnHandler) HandleOwnTurn(ctx context.Context, st *State) (advanced bool, err error) {
	ply := st.NextPly()

	// A move may already be on the board, e.g. played by hand in the
	// browser while we were thinking.
	text, err := h.readMoveAt(ctx, ply)
	if err != nil {
		return false, err
	}
	if text != "" {
		return h.adoptExternalMove(ctx, st, ply, text)
	}

	remaining, hasClock := h.readRemaining(ctx, st.Side())
	base := h.cfg.Int("engine", "depth", defaultBaseDepth)
	depth := adjustDepthForTime(base, remaining, hasClock)
	if hasClock && remaining < criticalClockSeconds {
		h.logger.Warn("clock_critical",
			zap.Float64("remaining_s", remaining), zap.Int("depth", depth))
	}

	if err := h.delays.Sleep(ctx, humanize.PhaseThinking, remaining); err != nil {
		return false, err
	}

	sug, err := h.engine.BestMove(ctx, st.MovesUCI(), depth)
	if err != nil {
		return false, fmt.Errorf("engine search at ply %d: %w", ply, err)
	}
	h.tracker.RecordEvaluation(sug.Eval.CP)

	autoPlay := h.cfg.Bool("general", "auto-play", true)
	h.publish(botevent.New(botevent.TypeSuggestion, "", botevent.Suggestion{
		SessionUUID: h.tracker.SessionUUID(),
		Ply:         ply,
		MoveUCI:     sug.BestMove,
		MoveSAN:     st.SANFor(sug.BestMove),
		EvalCP:      sug.Eval.CP,
		Mate:        sug.Eval.Mate,
		Depth:       depth,
		AutoPlay:    autoPlay,
	}))

	if autoPlay {
		return h.executeAuto(ctx, st, ply, sug.BestMove, sug.Eval.CP, remaining, hasClock)
	}
	return h.handleManual(ctx, st, ply, sug.BestMove, sug.Eval.CP)
}

// HandleOpponentTurn polls for the opponent's move at the expected ply.
// Absence is not an error, the caller paces the next poll.
func (h *TurnHandler) HandleOpponentTurn(ctx context.Context, st *State) (advanced bool, err error) {
	h.clearIndicator(ctx)
	st.ClearSuggestion()

	ply := st.NextPly()
	text, err := h.readMoveAt(ctx, ply)
	if err != nil {
		return false, err
	}
	if text == "" {
		return false, nil
	}

	applied, err := st.ApplyMove(ply, text)
	if err != nil {
		h.rejectMove(ctx, ply, text, err)
		return false, nil
	}
	h.tracker.RecordMove(applied.UCI, applied.SAN)
	h.logger.Info("opponent_move", zap.Int("ply", applied.Ply), zap.String("san", applied.SAN))
	h.publish(botevent.New(botevent.TypeBoardUpdate, "", botevent.BoardUpdate{
		SessionUUID: h.tracker.SessionUUID(),
		Ply:         applied.Ply,
		MoveSAN:     applied.SAN,
		MoveUCI:     applied.UCI,
		FEN:         applied.FEN,
	}))
	return true, nil
}

// adoptExternalMove applies one of our moves that appeared on the board
// without us executing it.
func (h *TurnHandler) adoptExternalMove(ctx context.Context, st *State, ply int, text string) (bool, error) {
	h.clearIndicator(ctx)
	st.ClearSuggestion()

	applied, err := st.ApplyMove(ply, text)
	if err != nil {
		h.rejectMove(ctx, ply, text, err)
		return false, nil
	}
	h.logger.Info("external_move_adopted",
		zap.Int("ply", applied.Ply), zap.String("san", applied.SAN))
	h.tracker.RecordMove(applied.UCI, applied.SAN)
	h.publishMovePlayed(applied, 0, -1)
	return true, nil
}

func (h *TurnHandler) executeAuto(ctx context.Context, st *State, ply int, uci string, evalCP int, remaining float64, hasClock bool) (bool, error) {
	if h.cfg.Bool("general", "arrow", true) && (!hasClock || remaining > arrowMinClockSeconds) {
		if err := h.drawIndicator(ctx, uci); err != nil {
			h.logger.Debug("indicator_draw_failed", zap.Error(err))
		} else if err := h.delays.Sleep(ctx, humanize.PhaseBase, remaining); err != nil {
			return false, err
		}
	}

	if err := h.executeMove(ctx, uci, remaining); err != nil {
		return false, err
	}
	applied, err := st.ApplyMove(ply, uci)
	if err != nil {
		return false, err
	}
	h.tracker.RecordMove(applied.UCI, applied.SAN)
	h.logger.Info("move_played",
		zap.Int("ply", applied.Ply), zap.String("san", applied.SAN), zap.Int("eval_cp", evalCP))
	h.publishMovePlayed(applied, evalCP, remaining)
	return true, nil
}

func (h *TurnHandler) handleManual(ctx context.Context, st *State, ply int, uci string, evalCP int) (bool, error) {
	st.SetSuggestion(uci)

	if h.cfg.Bool("general", "arrow", true) && !st.SuggestionShown() {
		if err := h.drawIndicator(ctx, uci); err != nil {
			h.logger.Debug("indicator_draw_failed", zap.Error(err))
		} else {
			st.MarkSuggestionShown()
		}
	}

	if !h.trigger.Consume() {
		h.logger.Info("suggestion_pending",
			zap.String("move", uci),
			zap.String("key", h.cfg.GetDefault("general", "move-key", "m")))
		return false, nil
	}

	remaining, _ := h.readRemaining(ctx, st.Side())
	if err := h.executeMove(ctx, uci, remaining); err != nil {
		return false, err
	}
	applied, err := st.ApplyMove(ply, uci)
	if err != nil {
		return false, err
	}
	h.clearIndicator(ctx)
	st.ClearSuggestion()
	h.tracker.RecordMove(applied.UCI, applied.SAN)
	h.logger.Info("move_played",
		zap.Int("ply", applied.Ply), zap.String("san", applied.SAN), zap.Int("eval_cp", evalCP))
	h.publishMovePlayed(applied, evalCP, remaining)
	return true, nil
}

func (h *TurnHandler) publishMovePlayed(applied Applied, evalCP int, remaining float64) {
	ev := botevent.MovePlayed{
		SessionUUID: h.tracker.SessionUUID(),
		Ply:         applied.Ply,
		MoveUCI:     applied.UCI,
		MoveSAN:     applied.SAN,
		EvalCP:      evalCP,
	}
	if remaining >= 0 {
		ev.RemainingS = remaining
	}
	h.publish(botevent.New(botevent.TypeMovePlayed, "", ev))
}

// rejectMove logs a validation failure and requests a diagnostic
// capture. The ply is not advanced; the next poll retries.
func (h *TurnHandler) rejectMove(ctx context.Context, ply int, text string, err error) {
	h.logger.Error("move_rejected",
		zap.Int("ply", ply), zap.String("text", text), zap.Error(err))
	if h.debug != nil {
		h.debug.Capture(ctx, fmt.Sprintf("invalid_move_ply%d", ply))
	}
}

func (h *TurnHandler) readMoveAt(ctx context.Context, ply int) (string, error) {
	var text string
	err := h.res.Element.Do(ctx, "read_move", func(ctx context.Context) error {
		var opErr error
		text, opErr = h.ctrl.ReadMoveAt(ctx, ply)
		return opErr
	})
	return text, err
}

func (h *TurnHandler) executeMove(ctx context.Context, uci string, remaining float64) error {
	return h.res.Move.Do(ctx, "execute_move", func(ctx context.Context) error {
		return h.ctrl.ExecuteMove(ctx, uci, remaining)
	})
}

func (h *TurnHandler) drawIndicator(ctx context.Context, uci string) error {
	return h.res.Element.Do(ctx, "draw_indicator", func(ctx context.Context) error {
		return h.ctrl.DrawIndicator(ctx, uci)
	})
}

func (h *TurnHandler) clearIndicator(ctx context.Context) {
	err := h.res.Element.Do(ctx, "clear_indicator", func(ctx context.Context) error {
		return h.ctrl.ClearIndicator(ctx)
	})
	if err != nil {
		h.logger.Debug("indicator_clear_failed", zap.Error(err))
	}
}

// readRemaining probes our clock. A negative reading with ok=false
// means no clock could be read; downstream treats that as no pressure.
func (h *TurnHandler) readRemaining(ctx context.Context, side board.Side) (float64, bool) {
	secs, ok, err := h.ctrl.RemainingSeconds(ctx, side)
	if err != nil || !ok {
		return -1, false
	}
	return secs, true
}

// adjustDepthForTime trims search depth as the clock runs down. Depth
// never drops below 1; without a clock reading the base depth stands.
func adjustDepthForTime(base int, remaining float64, hasClock bool) int {
	depth := base
	if hasClock {
		switch {
		case remaining < criticalClockSeconds:
			if depth > criticalDepthCap {
				depth = criticalDepthCap
			}
		case remaining < lowClockSeconds:
			if depth > lowDepthCap {
				depth = lowDepthCap
			}
		case remaining < midClockSeconds:
			depth = base - 2
			if depth < midDepthFloor {
				depth = midDepthFloor
			}
		}
	}
	if depth < 1 {
		depth = 1
	}
	return depth
}
