package game

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/board"
	"github.com/park285/chess-autopilot/internal/config"
	"github.com/park285/chess-autopilot/internal/engine"
	"github.com/park285/chess-autopilot/internal/engine/uci"
	"github.com/park285/chess-autopilot/internal/stats"
	"github.com/park285/chess-autopilot/pkg/botevent"
)

// fakeBoard is a scriptable board.Controller. Fields are guarded by mu;
// the onExec hook runs outside the lock and may use the setters.
type fakeBoard struct {
	mu sync.Mutex

	side    board.Side
	sideErr error

	moves   map[int]string
	readErr error

	executed []string
	execErr  error
	onExec   func(uci string)

	remaining float64
	hasClock  bool

	over    bool
	overErr error

	score, reason string
	resultErr     error
	resultReads   int

	indicators int
	clears     int

	matchID string
	idErr   error
	newIDs  map[string]bool

	readyErr error
}

func newFakeBoard() *fakeBoard {
	return &fakeBoard{
		side:      board.SideWhite,
		moves:     map[int]string{},
		remaining: 120,
		hasClock:  true,
		score:     "1-0",
		reason:    "Checkmate",
		matchID:   "abcd1234",
		newIDs:    map[string]bool{},
	}
}

func (f *fakeBoard) WaitUntilReady(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readyErr
}

func (f *fakeBoard) DetermineSide(context.Context) (board.Side, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sideErr != nil {
		return "", f.sideErr
	}
	return f.side, nil
}

func (f *fakeBoard) ReadMoveAt(_ context.Context, ply int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return "", f.readErr
	}
	return f.moves[ply], nil
}

func (f *fakeBoard) RemainingSeconds(context.Context, board.Side) (float64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remaining, f.hasClock, nil
}

func (f *fakeBoard) ExecuteMove(_ context.Context, uci string, _ float64) error {
	f.mu.Lock()
	if f.execErr != nil {
		err := f.execErr
		f.mu.Unlock()
		return err
	}
	f.executed = append(f.executed, uci)
	hook := f.onExec
	f.mu.Unlock()
	if hook != nil {
		hook(uci)
	}
	return nil
}

func (f *fakeBoard) IsGameOver(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.over, f.overErr
}

func (f *fakeBoard) ReadResult(context.Context) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resultReads++
	if f.resultErr != nil {
		return "", "", f.resultErr
	}
	return f.score, f.reason, nil
}

func (f *fakeBoard) DrawIndicator(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indicators++
	return nil
}

func (f *fakeBoard) ClearIndicator(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeBoard) MatchID(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idErr != nil {
		return "", f.idErr
	}
	return f.matchID, nil
}

func (f *fakeBoard) IsNewMatchID(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.newIDs[id]
}

func (f *fakeBoard) setOver(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.over = v
}

func (f *fakeBoard) setMatchID(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matchID = id
}

func (f *fakeBoard) executedMoves() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

func (f *fakeBoard) indicatorCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.indicators
}

// fakeEngine pops scripted best moves; the last one repeats.
type fakeEngine struct {
	mu       sync.Mutex
	next     []string
	err      error
	calls    int
	depths   []int
	newGames int
}

func (e *fakeEngine) BestMove(_ context.Context, _ []string, depth int) (engine.Suggestion, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.depths = append(e.depths, depth)
	if e.err != nil {
		return engine.Suggestion{}, e.err
	}
	i := e.calls
	if i >= len(e.next) {
		i = len(e.next) - 1
	}
	e.calls++
	return engine.Suggestion{
		BestMove: e.next[i],
		Eval:     uci.Eval{CP: 35, Depth: depth},
	}, nil
}

func (e *fakeEngine) NewGame(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.newGames++
	return nil
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *fakeEngine) seenDepths() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.depths...)
}

type fakeTrigger struct {
	mu    sync.Mutex
	armed bool
}

func (f *fakeTrigger) Arm() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed = true
}

func (f *fakeTrigger) Consume() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.armed
	f.armed = false
	return was
}

type fakeCapture struct {
	mu     sync.Mutex
	labels []string
}

func (f *fakeCapture) Capture(_ context.Context, label string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels = append(f.labels, label)
}

func (f *fakeCapture) captured() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.labels...)
}

type fakeSessionCtl struct {
	mu         sync.Mutex
	healthy    bool
	restartErr error
	restarts   int
}

func (f *fakeSessionCtl) Healthy(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeSessionCtl) Restart(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return f.restartErr
}

// eventLog captures published events for assertions.
type eventLog struct {
	mu  sync.Mutex
	evs []botevent.Event
}

func (l *eventLog) publish(ev botevent.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evs = append(l.evs, ev)
}

func (l *eventLog) types() []botevent.Type {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]botevent.Type, len(l.evs))
	for i, ev := range l.evs {
		out[i] = ev.Type
	}
	return out
}

func (l *eventLog) countOf(t botevent.Type) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.evs {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (l *eventLog) firstOf(t botevent.Type) (botevent.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.evs {
		if ev.Type == t {
			return ev, true
		}
	}
	return botevent.Event{}, false
}

func (l *eventLog) waitFor(t *testing.T, typ botevent.Type) botevent.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if ev, ok := l.firstOf(typ); ok {
			return ev
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s event, saw %v", typ, l.types())
	return botevent.Event{}
}

// newTestConfig zeroes the humanized delays and tightens the poll
// intervals so tests run in milliseconds.
func newTestConfig(t *testing.T) *config.Store {
	t.Helper()
	cfg, err := config.New(filepath.Join(t.TempDir(), "config.yaml"), zap.NewNop())
	if err != nil {
		t.Fatalf("config.New: %v", err)
	}
	for _, k := range []string{
		"min-delay", "max-delay",
		"moving-min-delay", "moving-max-delay",
		"thinking-min-delay", "thinking-max-delay",
	} {
		cfg.Set("humanization", k, "0")
	}
	cfg.Set("general", "auto-preset", "false")
	cfg.Set("general", "poll-interval", "0.01")
	cfg.Set("browser", "ack-poll", "0.01")
	return cfg
}

func newTestDeps(t *testing.T) (Deps, *fakeBoard, *fakeEngine, *eventLog) {
	t.Helper()
	fb := newFakeBoard()
	fe := &fakeEngine{next: []string{"e2e4"}}
	log := &eventLog{}
	d := Deps{
		Config:  newTestConfig(t),
		Board:   fb,
		Engine:  fe,
		Tracker: stats.NewTracker(stats.NewMemoryStore(), zap.NewNop()),
		Publish: log.publish,
		Logger:  zap.NewNop(),
	}
	return d, fb, fe, log
}
