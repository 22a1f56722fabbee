package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/domain"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, zap.NewNop())
}

func sampleRecord(uuid, result string, plies int) domain.MatchRecord {
	end := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return domain.MatchRecord{
		SessionUUID: uuid,
		Side:        "white",
		Result:      result,
		ScoreText:   "1-0",
		MovesUCI:    []string{"e2e4"},
		MovesSAN:    []string{"e4"},
		PlyCount:    plies,
		StartedAt:   end.Add(-5 * time.Minute),
		EndedAt:     end,
		Duration:    5 * time.Minute,
	}
}

func TestRedisSaveAndRecent(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	if err := s.SaveMatch(ctx, sampleRecord("m1", domain.ResultWin, 40)); err != nil {
		t.Fatalf("SaveMatch m1: %v", err)
	}
	if err := s.SaveMatch(ctx, sampleRecord("m2", domain.ResultLoss, 60)); err != nil {
		t.Fatalf("SaveMatch m2: %v", err)
	}

	recent, err := s.RecentMatches(ctx, 10)
	if err != nil {
		t.Fatalf("RecentMatches: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recent))
	}
	if recent[0].SessionUUID != "m2" {
		t.Fatalf("newest first: got %q", recent[0].SessionUUID)
	}
	if recent[0].ID == recent[1].ID {
		t.Fatalf("ids should be distinct")
	}
}

func TestRedisDuplicateRejected(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	if err := s.SaveMatch(ctx, sampleRecord("m1", domain.ResultWin, 40)); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := s.SaveMatch(ctx, sampleRecord("m1", domain.ResultWin, 40)); !errors.Is(err, ErrDuplicateMatch) {
		t.Fatalf("expected ErrDuplicateMatch, got %v", err)
	}

	st, err := s.Overall(ctx)
	if err != nil {
		t.Fatalf("Overall: %v", err)
	}
	if st.GamesPlayed != 1 {
		t.Fatalf("duplicate must not double-count: %+v", st)
	}
}

func TestRedisOverall(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	_ = s.SaveMatch(ctx, sampleRecord("m1", domain.ResultWin, 40))
	_ = s.SaveMatch(ctx, sampleRecord("m2", domain.ResultWin, 50))
	_ = s.SaveMatch(ctx, sampleRecord("m3", domain.ResultDraw, 30))

	st, err := s.Overall(ctx)
	if err != nil {
		t.Fatalf("Overall: %v", err)
	}
	if st.GamesPlayed != 3 || st.Wins != 2 || st.Draws != 1 {
		t.Fatalf("overall = %+v", st)
	}
	if st.WinRate < 0.66 || st.WinRate > 0.67 {
		t.Fatalf("win rate = %v", st.WinRate)
	}
	if st.AvgPlies != 40 {
		t.Fatalf("avg plies = %v", st.AvgPlies)
	}
	if st.LastResult != domain.ResultDraw {
		t.Fatalf("last result = %q", st.LastResult)
	}
}

func TestRedisOverallEmpty(t *testing.T) {
	s := newTestRedisStore(t)
	st, err := s.Overall(context.Background())
	if err != nil {
		t.Fatalf("Overall: %v", err)
	}
	if st.GamesPlayed != 0 {
		t.Fatalf("expected zero stats, got %+v", st)
	}
}
