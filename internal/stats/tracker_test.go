package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/domain"
)

func TestTrackerFullMatch(t *testing.T) {
	store := NewMemoryStore()
	tr := NewTracker(store, zap.NewNop())
	ctx := context.Background()

	id := tr.StartMatch("white")
	if id == "" {
		t.Fatalf("expected session uuid")
	}
	if !tr.Active() {
		t.Fatalf("expected active match")
	}

	tr.RecordMove("e2e4", "e4")
	tr.RecordEvaluation(30)
	tr.RecordMove("e7e5", "e5")
	tr.RecordMove("g1f3", "Nf3")
	tr.RecordEvaluation(45)

	rec, overall, err := tr.EndMatch(ctx, domain.ResultWin, "1-0", "checkmate", "1. e4 e5 2. Nf3")
	if err != nil {
		t.Fatalf("EndMatch: %v", err)
	}
	if rec.SessionUUID != id {
		t.Fatalf("uuid mismatch: %q vs %q", rec.SessionUUID, id)
	}
	if rec.PlyCount != 3 {
		t.Fatalf("ply count = %d, want 3", rec.PlyCount)
	}
	if rec.AvgEvalCP != 37 || rec.MinEvalCP != 30 || rec.MaxEvalCP != 45 {
		t.Fatalf("eval stats = %d/%d/%d", rec.AvgEvalCP, rec.MinEvalCP, rec.MaxEvalCP)
	}
	if overall.GamesPlayed != 1 || overall.Wins != 1 {
		t.Fatalf("overall = %+v", overall)
	}
	if tr.Active() {
		t.Fatalf("match should be closed")
	}

	saved, err := store.RecentMatches(ctx, 5)
	if err != nil {
		t.Fatalf("RecentMatches: %v", err)
	}
	if len(saved) != 1 || saved[0].Result != domain.ResultWin {
		t.Fatalf("saved = %+v", saved)
	}
}

func TestTrackerEndWithoutStart(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), zap.NewNop())
	if _, _, err := tr.EndMatch(context.Background(), domain.ResultDraw, "", "", ""); !errors.Is(err, ErrNoActiveMatch) {
		t.Fatalf("expected ErrNoActiveMatch, got %v", err)
	}
}

func TestTrackerRecordOutsideMatchIgnored(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), zap.NewNop())
	tr.RecordMove("e2e4", "e4")
	tr.RecordEvaluation(10)

	tr.StartMatch("black")
	rec, _, err := tr.EndMatch(context.Background(), domain.ResultLoss, "1-0", "", "")
	if err != nil {
		t.Fatalf("EndMatch: %v", err)
	}
	if rec.PlyCount != 0 {
		t.Fatalf("stray records leaked into match: %+v", rec)
	}
}

func TestTrackerAbort(t *testing.T) {
	store := NewMemoryStore()
	tr := NewTracker(store, zap.NewNop())
	tr.StartMatch("white")
	tr.RecordMove("e2e4", "e4")

	rec, overall, err := tr.Abort(context.Background(), "too many errors")
	if err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if rec.Result != domain.ResultUnknown || rec.ReasonText != "too many errors" {
		t.Fatalf("rec = %+v", rec)
	}
	if overall.Unknown != 1 {
		t.Fatalf("overall = %+v", overall)
	}
}

func TestTrackerStartReplacesUnfinished(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), zap.NewNop())
	first := tr.StartMatch("white")
	second := tr.StartMatch("black")
	if first == second {
		t.Fatalf("expected fresh uuid")
	}
	if tr.SessionUUID() != second {
		t.Fatalf("active uuid = %q, want %q", tr.SessionUUID(), second)
	}
}

func TestOverallTallyWinRate(t *testing.T) {
	var st domain.OverallStats
	end := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st.Tally(domain.MatchRecord{Result: domain.ResultWin, PlyCount: 40, EndedAt: end})
	st.Tally(domain.MatchRecord{Result: domain.ResultLoss, PlyCount: 60, EndedAt: end})
	st.Tally(domain.MatchRecord{Result: domain.ResultUnknown, PlyCount: 20, EndedAt: end})

	if st.GamesPlayed != 3 || st.Wins != 1 || st.Losses != 1 || st.Unknown != 1 {
		t.Fatalf("tally = %+v", st)
	}
	// Unknown results are excluded from the win rate denominator.
	if st.WinRate != 0.5 {
		t.Fatalf("win rate = %v, want 0.5", st.WinRate)
	}
	if st.AvgPlies != 40 {
		t.Fatalf("avg plies = %v, want 40", st.AvgPlies)
	}
}
