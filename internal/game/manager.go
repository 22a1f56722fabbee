package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/board"
	"github.com/park285/chess-autopilot/internal/config"
	"github.com/park285/chess-autopilot/internal/humanize"
	"github.com/park285/chess-autopilot/internal/resilience"
	"github.com/park285/chess-autopilot/internal/stats"
	"github.com/park285/chess-autopilot/pkg/botevent"
)

var (
	// ErrMatchAborted reports the consecutive-error ceiling was hit.
	ErrMatchAborted = errors.New("match aborted")

	// ErrRecoveryFailed reports the browser session could not be
	// brought back within the recovery budget.
	ErrRecoveryFailed = errors.New("session recovery failed")
)

const (
	defaultTargetURL = "https://lichess.org"

	gameOverClearTimeout  = 30 * time.Second
	gameOverClearInterval = time.Second
	readyPollInterval     = 3 * time.Second
	defaultErrorPause     = 2 * time.Second
	defaultAckPoll        = 400 * time.Millisecond
	defaultPollInterval   = time.Second
	defaultMaxConsecutive = 5
)

// Navigator moves the browser to a URL. Implemented by browser.Session.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// Deps wires a Manager. Config, Board and Engine are required; nil
// optional collaborators degrade to inert defaults.
type Deps struct {
	Config     *config.Store
	Board      board.Controller
	Engine     Engine
	Delays     *humanize.Delays
	Tracker    *stats.Tracker
	Resilience *resilience.Set
	Trigger    Trigger
	Auth       board.Authenticator
	Debug      board.DebugCapture
	Nav        Navigator
	Session    resilience.SessionController
	Recovery   *resilience.RecoveryManager
	Publish    Publisher
	Logger     *zap.Logger
	TargetURL  string
}

type noTrigger struct{}

func (noTrigger) Consume() bool { return false }

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Publish == nil {
		d.Publish = func(botevent.Event) {}
	}
	if d.Resilience == nil {
		d.Resilience = resilience.NewSet(d.Logger, board.IsTransient)
	}
	if d.Delays == nil && d.Config != nil {
		d.Delays = humanize.New(d.Config, d.Logger)
	}
	if d.Tracker == nil {
		d.Tracker = stats.NewTracker(stats.NewMemoryStore(), d.Logger)
	}
	if d.Trigger == nil {
		d.Trigger = noTrigger{}
	}
	if d.TargetURL == "" {
		d.TargetURL = defaultTargetURL
	}
	return d
}

// Manager drives the full lifecycle: navigate, authenticate, then play
// matches back to back until the context is cancelled or the session is
// beyond recovery.
type Manager struct {
	cfg       *config.Store
	ctrl      board.Controller
	engine    Engine
	auth      board.Authenticator
	nav       Navigator
	session   resilience.SessionController
	recovery  *resilience.RecoveryManager
	res       *resilience.Set
	tracker   *stats.Tracker
	trigger   Trigger
	turns     *TurnHandler
	results   *ResultHandler
	publish   Publisher
	logger    *zap.Logger
	state     *State
	targetURL string

	// pause after a loop error before the next attempt; shortened in
	// tests
	errorPause time.Duration
}

func NewManager(d Deps) (*Manager, error) {
	if d.Config == nil || d.Board == nil || d.Engine == nil {
		return nil, errors.New("game: Config, Board and Engine are required")
	}
	d = d.withDefaults()

	m := &Manager{
		cfg:        d.Config,
		ctrl:       d.Board,
		engine:     d.Engine,
		auth:       d.Auth,
		nav:        d.Nav,
		session:    d.Session,
		recovery:   d.Recovery,
		res:        d.Resilience,
		tracker:    d.Tracker,
		trigger:    d.Trigger,
		publish:    d.Publish,
		logger:     d.Logger,
		state:      NewState(),
		targetURL:  d.TargetURL,
		errorPause: defaultErrorPause,
	}
	m.turns = NewTurnHandler(d)
	m.results = NewResultHandler(d)
	return m, nil
}

// State exposes the live match state, read-only use intended.
func (m *Manager) State() *State { return m.state }

// Acknowledge releases the post-match wait, normally called by an
// observer once the result has been seen.
func (m *Manager) Acknowledge() {
	m.state.Acknowledge()
	m.logger.Debug("result_acknowledged")
}

// Run blocks until the context is cancelled or the session dies beyond
// recovery. Matches are played back to back, each gated on result
// acknowledgment.
func (m *Manager) Run(ctx context.Context) error {
	m.logMode()

	if err := m.navigate(ctx); err != nil {
		return err
	}
	if err := m.authenticate(ctx); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.runMatch(ctx); err != nil {
			return err
		}
	}
}

func (m *Manager) logMode() {
	if m.cfg.Bool("general", "auto-play", true) {
		m.logger.Info("autoplay_mode")
		return
	}
	m.logger.Info("suggestion_mode",
		zap.String("move_key", m.cfg.GetDefault("general", "move-key", "m")))
}

func (m *Manager) navigate(ctx context.Context) error {
	if m.nav == nil {
		return nil
	}
	op := func(ctx context.Context) error {
		return m.nav.Navigate(ctx, m.targetURL)
	}
	err := m.res.Session.Do(ctx, "navigate", op)
	if err == nil {
		return nil
	}
	m.logger.Error("navigation_failed", zap.String("url", m.targetURL), zap.Error(err))
	if !m.recoverSession(ctx) {
		return err
	}
	return m.res.Session.Do(ctx, "navigate", op)
}

// recoverSession restarts the browser session and, on success, closes
// the breakers: their failure history described the dead session.
func (m *Manager) recoverSession(ctx context.Context) bool {
	if m.recovery == nil || !m.recovery.Recover(ctx) {
		return false
	}
	m.res.ResetAll()
	return true
}

func (m *Manager) authenticate(ctx context.Context) error {
	if m.auth == nil {
		return nil
	}
	err := m.res.Session.Do(ctx, "authenticate", func(ctx context.Context) error {
		return m.auth.EnsureAuthenticated(ctx)
	})
	if err != nil {
		m.logger.Error("authentication_failed", zap.Error(err))
	}
	return err
}

// runMatch plays one match start to finish, including the post-match
// acknowledgment wait. A nil return means the next match may begin.
func (m *Manager) runMatch(ctx context.Context) error {
	m.state.Reset()

	if err := m.waitGameOverClear(ctx); err != nil {
		return err
	}
	if err := m.waitUntilReady(ctx); err != nil {
		return err
	}

	side := m.determineSide(ctx)
	m.state.SetSide(side)

	matchID, err := m.ctrl.MatchID(ctx)
	if err != nil {
		m.logger.Debug("match_id_unavailable", zap.Error(err))
		matchID = ""
	}

	initial, preset := m.applyPreset(ctx, side)

	uuid := m.tracker.StartMatch(string(side))
	depth := m.cfg.Int("engine", "depth", defaultBaseDepth)
	m.logger.Info("match_detected",
		zap.String("match_id", matchID),
		zap.String("side", string(side)),
		zap.Int("depth", depth))

	m.publish(botevent.New(botevent.TypeGameInfo, "", botevent.GameInfo{
		MatchID:        matchID,
		Side:           string(side),
		InitialSeconds: initial,
		Preset:         preset,
	}))
	m.publish(botevent.New(botevent.TypeGameStart, "", botevent.GameStart{
		SessionUUID: uuid,
		MatchID:     matchID,
		Side:        string(side),
		Depth:       depth,
	}))

	if err := m.engine.NewGame(ctx); err != nil {
		m.logger.Warn("engine_newgame_failed", zap.Error(err))
	}

	if err := m.catchUp(ctx); err != nil {
		m.logger.Warn("catch_up_incomplete", zap.Error(err))
	}
	m.logJoinPoint()

	if err := m.playLoop(ctx, matchID); err != nil {
		return err
	}
	return m.finishMatch(ctx, matchID)
}

// waitGameOverClear waits out a lingering result screen from the
// previous match so it is not mistaken for the next one ending.
func (m *Manager) waitGameOverClear(ctx context.Context) error {
	deadline := time.Now().Add(gameOverClearTimeout)
	for time.Now().Before(deadline) {
		over, err := m.ctrl.IsGameOver(ctx)
		if err != nil || !over {
			return nil
		}
		if err := sleepCtx(ctx, gameOverClearInterval); err != nil {
			return err
		}
	}
	m.logger.Debug("game_over_screen_lingering")
	return nil
}

// waitUntilReady polls until the board reports a playable match,
// attempting session recovery whenever the probe finds it unhealthy.
func (m *Manager) waitUntilReady(ctx context.Context) error {
	m.logger.Info("awaiting_match")
	for {
		err := m.res.Session.Do(ctx, "wait_ready", func(ctx context.Context) error {
			return m.ctrl.WaitUntilReady(ctx)
		})
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		m.logger.Debug("match_not_ready", zap.Error(err))
		if m.session != nil && !m.session.Healthy(ctx) {
			if !m.recoverSession(ctx) {
				return ErrRecoveryFailed
			}
		}
		if err := sleepCtx(ctx, readyPollInterval); err != nil {
			return err
		}
	}
}

// determineSide falls back to white on detection failure; a wrong guess
// corrects itself far more cheaply than an aborted match.
func (m *Manager) determineSide(ctx context.Context) board.Side {
	var side board.Side
	err := m.res.Element.Do(ctx, "determine_side", func(ctx context.Context) error {
		var opErr error
		side, opErr = m.ctrl.DetermineSide(ctx)
		return opErr
	})
	if err != nil {
		m.logger.Warn("side_detect_failed",
			zap.String("fallback", string(board.SideWhite)), zap.Error(err))
		return board.SideWhite
	}
	return side
}

// applyPreset sizes depth and delays to the detected time control when
// auto-preset is on. Returns the initial clock reading and the applied
// preset name for the game_info event.
func (m *Manager) applyPreset(ctx context.Context, side board.Side) (float64, string) {
	secs, ok, err := m.ctrl.RemainingSeconds(ctx, side)
	if err != nil || !ok {
		return 0, ""
	}
	if !m.cfg.Bool("general", "auto-preset", true) {
		return secs, ""
	}
	p := config.DetectPreset(int(secs))
	if err := p.Apply(m.cfg); err != nil {
		m.logger.Warn("preset_apply_failed", zap.String("preset", p.Name), zap.Error(err))
		return secs, ""
	}
	m.logger.Info("preset_applied",
		zap.String("preset", p.Name), zap.Float64("initial_s", secs))
	return secs, p.Name
}

// catchUp replays moves already on the board, e.g. when joining a match
// in progress or after a mid-match page reload.
func (m *Manager) catchUp(ctx context.Context) error {
	for {
		ply := m.state.NextPly()
		text, err := m.turns.readMoveAt(ctx, ply)
		if err != nil {
			return err
		}
		if text == "" {
			return nil
		}
		applied, err := m.state.ApplyMove(ply, text)
		if err != nil {
			return fmt.Errorf("catch up ply %d (%q): %w", ply, text, err)
		}
		m.tracker.RecordMove(applied.UCI, applied.SAN)
	}
}

func (m *Manager) logJoinPoint() {
	ply := m.state.NextPly()
	turn := "opponent"
	if m.state.IsOurTurn() {
		turn = "ours"
	}
	if ply == 1 {
		m.logger.Info("match_start",
			zap.String("side", string(m.state.Side())), zap.String("turn", turn))
		return
	}
	m.logger.Info("match_joined", zap.Int("ply", ply), zap.String("turn", turn))
}

// playLoop alternates turn handling until the board reports the match
// over. Consecutive errors abort at the configured ceiling; an
// unhealthy session triggers recovery, and failed recovery ends the
// run.
func (m *Manager) playLoop(ctx context.Context, matchID string) error {
	maxErrors := m.cfg.Int("browser", "max-consecutive-errors", defaultMaxConsecutive)
	if maxErrors < 1 {
		maxErrors = defaultMaxConsecutive
	}
	pollInterval := m.cfg.Seconds("general", "poll-interval", defaultPollInterval)

	consecutive := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		over, err := m.ctrl.IsGameOver(ctx)
		if err == nil && over {
			return nil
		}

		var advanced bool
		if err == nil {
			if m.state.IsOurTurn() {
				advanced, err = m.turns.HandleOwnTurn(ctx, m.state)
			} else {
				advanced, err = m.turns.HandleOpponentTurn(ctx, m.state)
			}
		}

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			consecutive++
			m.logger.Error("game_loop_error",
				zap.Int("consecutive", consecutive), zap.Int("limit", maxErrors), zap.Error(err))
			if consecutive >= maxErrors {
				m.abortMatch(ctx, matchID, "consecutive error limit reached")
				return fmt.Errorf("%w after %d consecutive errors", ErrMatchAborted, consecutive)
			}
			if m.session != nil && !m.session.Healthy(ctx) {
				if !m.recoverSession(ctx) {
					m.abortMatch(ctx, matchID, "session recovery failed")
					return ErrRecoveryFailed
				}
			}
			if err := sleepCtx(ctx, m.errorPause); err != nil {
				return err
			}
			continue
		}

		consecutive = 0
		if !advanced {
			if err := sleepCtx(ctx, pollInterval); err != nil {
				return err
			}
		}
	}
}

func (m *Manager) abortMatch(ctx context.Context, matchID, reason string) {
	m.state.SetActive(false)
	uuid := m.tracker.SessionUUID()
	if _, _, err := m.tracker.Abort(ctx, reason); err != nil &&
		!errors.Is(err, stats.ErrNoActiveMatch) && !errors.Is(err, stats.ErrDuplicateMatch) {
		m.logger.Warn("abort_record_failed", zap.Error(err))
	}
	m.publish(botevent.New(botevent.TypeAborted, "", botevent.MatchAborted{
		SessionUUID: uuid,
		MatchID:     matchID,
		Reason:      reason,
	}))
}

// finishMatch runs result handling once, then blocks until the result
// is acknowledged or a new match is detected on the board.
func (m *Manager) finishMatch(ctx context.Context, matchID string) error {
	m.state.SetActive(false)
	if m.state.MarkResultLogged() {
		m.results.HandleGameEnd(ctx, m.state, matchID)
	}
	m.state.BeginAckWait()
	return m.waitForAck(ctx, matchID)
}

// waitForAck polls until the observer acknowledges the result, the
// move key is pressed, or the board silently switches to a fresh,
// well-formed match ID.
func (m *Manager) waitForAck(ctx context.Context, lastID string) error {
	interval := m.cfg.Seconds("browser", "ack-poll", defaultAckPoll)
	if interval <= 0 {
		interval = defaultAckPoll
	}
	m.logger.Info("awaiting_ack")
	for m.state.WaitingForAck() {
		if err := sleepCtx(ctx, interval); err != nil {
			return err
		}
		if m.trigger.Consume() {
			m.logger.Info("ack_key_pressed")
			m.state.Acknowledge()
			continue
		}
		id, err := m.ctrl.MatchID(ctx)
		if err != nil || id == "" || id == lastID {
			continue
		}
		if m.ctrl.IsNewMatchID(id) {
			m.logger.Info("new_match_detected", zap.String("match_id", id))
			m.state.Acknowledge()
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
