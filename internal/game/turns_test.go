package game

import (
	"context"
	"strings"
	"testing"

	"github.com/park285/chess-autopilot/internal/board"
	"github.com/park285/chess-autopilot/pkg/botevent"
)

func TestHandleOwnTurnAutoPlay(t *testing.T) {
	d, fb, fe, log := newTestDeps(t)
	h := NewTurnHandler(d)
	st := NewState()
	st.Reset()
	st.SetSide(board.SideWhite)
	d.Tracker.StartMatch("white")

	advanced, err := h.HandleOwnTurn(context.Background(), st)
	if err != nil {
		t.Fatalf("HandleOwnTurn: %v", err)
	}
	if !advanced {
		t.Fatal("expected the ply to advance")
	}
	if got := st.NextPly(); got != 2 {
		t.Fatalf("NextPly = %d, want 2", got)
	}
	if depths := fe.seenDepths(); len(depths) != 1 || depths[0] != 8 {
		t.Fatalf("engine depths = %v, want [8]", depths)
	}
	if moves := fb.executedMoves(); len(moves) != 1 || moves[0] != "e2e4" {
		t.Fatalf("executed = %v, want [e2e4]", moves)
	}

	ev, ok := log.firstOf(botevent.TypeMovePlayed)
	if !ok {
		t.Fatalf("no move_played event, saw %v", log.types())
	}
	played := ev.Payload.(botevent.MovePlayed)
	if played.Ply != 1 || played.MoveUCI != "e2e4" || played.MoveSAN != "e4" {
		t.Fatalf("move_played payload = %+v", played)
	}
	if played.RemainingS != 120 {
		t.Fatalf("remaining = %v, want 120", played.RemainingS)
	}

	sug, ok := log.firstOf(botevent.TypeSuggestion)
	if !ok {
		t.Fatal("no suggestion event")
	}
	if p := sug.Payload.(botevent.Suggestion); !p.AutoPlay || p.MoveUCI != "e2e4" || p.Depth != 8 {
		t.Fatalf("suggestion payload = %+v", p)
	}

	// The opponent path must stay untouched.
	if n := log.countOf(botevent.TypeBoardUpdate); n != 0 {
		t.Fatalf("board_update count = %d, want 0", n)
	}
	if fb.indicatorCount() != 1 {
		t.Fatalf("indicator draws = %d, want 1", fb.indicatorCount())
	}
}

func TestHandleOwnTurnAdoptsExistingMove(t *testing.T) {
	d, fb, fe, log := newTestDeps(t)
	h := NewTurnHandler(d)
	st := NewState()
	st.Reset()
	fb.moves[1] = "e4"

	advanced, err := h.HandleOwnTurn(context.Background(), st)
	if err != nil {
		t.Fatalf("HandleOwnTurn: %v", err)
	}
	if !advanced {
		t.Fatal("expected the ply to advance")
	}
	if fe.callCount() != 0 {
		t.Fatalf("engine calls = %d, want 0 for an adopted move", fe.callCount())
	}
	if len(fb.executedMoves()) != 0 {
		t.Fatal("adopted move must not be re-executed on the board")
	}
	if _, ok := log.firstOf(botevent.TypeMovePlayed); !ok {
		t.Fatal("adopted move should still emit move_played")
	}
}

func TestHandleOwnTurnDepthUnderPressure(t *testing.T) {
	cases := []struct {
		remaining float64
		want      int
	}{
		{5, 2},
		{20, 4},
		{45, 6},
		{90, 8},
	}
	for _, tc := range cases {
		d, fb, fe, _ := newTestDeps(t)
		fb.remaining = tc.remaining
		h := NewTurnHandler(d)
		st := NewState()
		st.Reset()

		if _, err := h.HandleOwnTurn(context.Background(), st); err != nil {
			t.Fatalf("remaining=%v: %v", tc.remaining, err)
		}
		if depths := fe.seenDepths(); depths[0] != tc.want {
			t.Fatalf("remaining=%v: depth = %d, want %d", tc.remaining, depths[0], tc.want)
		}
	}
}

func TestHandleOwnTurnNoClock(t *testing.T) {
	d, fb, fe, _ := newTestDeps(t)
	fb.hasClock = false
	h := NewTurnHandler(d)
	st := NewState()
	st.Reset()

	if _, err := h.HandleOwnTurn(context.Background(), st); err != nil {
		t.Fatalf("HandleOwnTurn: %v", err)
	}
	if depths := fe.seenDepths(); depths[0] != 8 {
		t.Fatalf("depth = %d without a clock, want base 8", depths[0])
	}
	// No clock means no pressure, the indicator still draws.
	if fb.indicatorCount() != 1 {
		t.Fatalf("indicator draws = %d, want 1", fb.indicatorCount())
	}
}

func TestHandleOpponentTurnWaitsForMove(t *testing.T) {
	d, fb, _, log := newTestDeps(t)
	fb.side = board.SideBlack
	h := NewTurnHandler(d)
	st := NewState()
	st.Reset()
	st.SetSide(board.SideBlack)

	advanced, err := h.HandleOpponentTurn(context.Background(), st)
	if err != nil {
		t.Fatalf("HandleOpponentTurn: %v", err)
	}
	if advanced {
		t.Fatal("ply must not advance without an observed move")
	}
	if st.NextPly() != 1 {
		t.Fatalf("NextPly = %d, want 1", st.NextPly())
	}
	if n := log.countOf(botevent.TypeBoardUpdate); n != 0 {
		t.Fatalf("board_update count = %d, want 0", n)
	}
}

func TestHandleOpponentTurnAppliesMove(t *testing.T) {
	d, fb, _, log := newTestDeps(t)
	h := NewTurnHandler(d)
	st := NewState()
	st.Reset()
	st.SetSide(board.SideBlack)
	fb.moves[1] = "e4"

	advanced, err := h.HandleOpponentTurn(context.Background(), st)
	if err != nil {
		t.Fatalf("HandleOpponentTurn: %v", err)
	}
	if !advanced {
		t.Fatal("expected the ply to advance")
	}
	if got := st.MovesSAN(); len(got) != 1 || got[0] != "e4" {
		t.Fatalf("MovesSAN = %v", got)
	}

	ev, ok := log.firstOf(botevent.TypeBoardUpdate)
	if !ok {
		t.Fatal("no board_update event")
	}
	upd := ev.Payload.(botevent.BoardUpdate)
	if upd.Ply != 1 || upd.MoveSAN != "e4" || upd.FEN == "" {
		t.Fatalf("board_update payload = %+v", upd)
	}
}

func TestHandleOpponentTurnRejectsIllegalMove(t *testing.T) {
	d, fb, _, _ := newTestDeps(t)
	dbg := &fakeCapture{}
	d.Debug = dbg
	h := NewTurnHandler(d)
	st := NewState()
	st.Reset()
	st.SetSide(board.SideBlack)
	fb.moves[1] = "Ke5"

	advanced, err := h.HandleOpponentTurn(context.Background(), st)
	if err != nil {
		t.Fatalf("validation failures must not surface as errors, got %v", err)
	}
	if advanced {
		t.Fatal("illegal move must not advance the ply")
	}
	if st.NextPly() != 1 {
		t.Fatalf("NextPly = %d, want 1", st.NextPly())
	}
	labels := dbg.captured()
	if len(labels) != 1 || !strings.Contains(labels[0], "invalid_move") {
		t.Fatalf("capture labels = %v", labels)
	}
}

func TestManualModeWaitsForTrigger(t *testing.T) {
	d, fb, fe, log := newTestDeps(t)
	d.Config.Set("general", "auto-play", "false")
	trig := &fakeTrigger{}
	d.Trigger = trig
	h := NewTurnHandler(d)
	st := NewState()
	st.Reset()

	ctx := context.Background()

	advanced, err := h.HandleOwnTurn(ctx, st)
	if err != nil || advanced {
		t.Fatalf("first call: advanced=%v err=%v, want pending", advanced, err)
	}
	if fb.indicatorCount() != 1 {
		t.Fatalf("indicator draws = %d, want 1", fb.indicatorCount())
	}

	// Same candidate again: suggestion re-emitted, indicator not redrawn.
	advanced, err = h.HandleOwnTurn(ctx, st)
	if err != nil || advanced {
		t.Fatalf("second call: advanced=%v err=%v, want pending", advanced, err)
	}
	if fb.indicatorCount() != 1 {
		t.Fatalf("indicator redrawn for the same candidate, draws = %d", fb.indicatorCount())
	}
	if n := log.countOf(botevent.TypeSuggestion); n != 2 {
		t.Fatalf("suggestion events = %d, want 2", n)
	}
	if len(fb.executedMoves()) != 0 {
		t.Fatal("move executed before the trigger")
	}

	trig.Arm()
	advanced, err = h.HandleOwnTurn(ctx, st)
	if err != nil {
		t.Fatalf("armed call: %v", err)
	}
	if !advanced {
		t.Fatal("armed trigger should execute the move")
	}
	if moves := fb.executedMoves(); len(moves) != 1 || moves[0] != "e2e4" {
		t.Fatalf("executed = %v, want [e2e4]", moves)
	}
	if st.NextPly() != 2 {
		t.Fatalf("NextPly = %d, want 2", st.NextPly())
	}
	if _, ok := st.Suggestion(); ok {
		t.Fatal("suggestion should clear after execution")
	}
	if fe.callCount() != 3 {
		t.Fatalf("engine calls = %d, want 3", fe.callCount())
	}
}

func TestManualModeRedrawsDistinctCandidate(t *testing.T) {
	d, fb, fe, _ := newTestDeps(t)
	d.Config.Set("general", "auto-play", "false")
	fe.next = []string{"e2e4", "d2d4"}
	d.Trigger = &fakeTrigger{}
	h := NewTurnHandler(d)
	st := NewState()
	st.Reset()

	ctx := context.Background()
	if _, err := h.HandleOwnTurn(ctx, st); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := h.HandleOwnTurn(ctx, st); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if fb.indicatorCount() != 2 {
		t.Fatalf("indicator draws = %d, want 2 for distinct candidates", fb.indicatorCount())
	}
}

func TestAdjustDepthForTime(t *testing.T) {
	// Depth must be monotonic in remaining time for a fixed base.
	base := 10
	var prev int
	for i, remaining := range []float64{5, 20, 45, 90} {
		got := adjustDepthForTime(base, remaining, true)
		want := []int{2, 4, 8, 10}[i]
		if got != want {
			t.Fatalf("adjustDepthForTime(%d, %v) = %d, want %d", base, remaining, got, want)
		}
		if got < prev {
			t.Fatalf("depth decreased as time grew: %d after %d", got, prev)
		}
		prev = got
	}

	if got := adjustDepthForTime(10, 0, false); got != 10 {
		t.Fatalf("no clock: depth = %d, want base", got)
	}
	if got := adjustDepthForTime(1, 5, true); got != 1 {
		t.Fatalf("base 1 critical: depth = %d, want 1", got)
	}
	if got := adjustDepthForTime(2, 45, true); got != 3 {
		t.Fatalf("shallow base mid clock: depth = %d, want floor 3", got)
	}
}
