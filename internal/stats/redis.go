package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/domain"
)

const (
	keySeq    = "autopilot:match:seq"
	keyRecent = "autopilot:matches:recent"
	keyStats  = "autopilot:stats"

	// Full records age out; the counter hash is forever.
	matchTTL  = 30 * 24 * time.Hour
	recentCap = 200
)

// RedisStore keeps full records under per-match keys, a recency list of
// session UUIDs, and the running aggregate in a hash.
type RedisStore struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisStore(rdb *redis.Client, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{rdb: rdb, logger: logger}
}

func keyMatch(uuid string) string { return "autopilot:match:" + uuid }

func (s *RedisStore) SaveMatch(ctx context.Context, rec domain.MatchRecord) error {
	key := keyMatch(rec.SessionUUID)
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("check match key: %w", err)
	}
	if exists > 0 {
		return ErrDuplicateMatch
	}

	id, err := s.rdb.Incr(ctx, keySeq).Result()
	if err != nil {
		return fmt.Errorf("next match id: %w", err)
	}
	rec.ID = id

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal match: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, key, raw, matchTTL)
	pipe.LPush(ctx, keyRecent, rec.SessionUUID)
	pipe.LTrim(ctx, keyRecent, 0, recentCap-1)
	pipe.HIncrBy(ctx, keyStats, "games", 1)
	pipe.HIncrBy(ctx, keyStats, statsField(rec.Result), 1)
	pipe.HIncrBy(ctx, keyStats, "plies_total", int64(rec.PlyCount))
	pipe.HSet(ctx, keyStats,
		"last_result", rec.Result,
		"updated_at", rec.EndedAt.UTC().Format(time.RFC3339))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save match: %w", err)
	}
	return nil
}

func statsField(result string) string {
	switch result {
	case domain.ResultWin:
		return "wins"
	case domain.ResultLoss:
		return "losses"
	case domain.ResultDraw:
		return "draws"
	default:
		return "unknown"
	}
}

func (s *RedisStore) RecentMatches(ctx context.Context, limit int) ([]domain.MatchRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	uuids, err := s.rdb.LRange(ctx, keyRecent, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read recency list: %w", err)
	}
	if len(uuids) == 0 {
		return []domain.MatchRecord{}, nil
	}

	keys := make([]string, len(uuids))
	for i, u := range uuids {
		keys[i] = keyMatch(u)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read matches: %w", err)
	}

	out := make([]domain.MatchRecord, 0, len(vals))
	for _, v := range vals {
		// Expired records leave holes in the list; skip them.
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec domain.MatchRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.logger.Warn("stats_match_corrupt", zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) Overall(ctx context.Context) (domain.OverallStats, error) {
	vals, err := s.rdb.HGetAll(ctx, keyStats).Result()
	if err != nil {
		return domain.OverallStats{}, fmt.Errorf("read stats hash: %w", err)
	}
	if len(vals) == 0 {
		return domain.OverallStats{}, nil
	}

	hint := func(field string) int {
		n, _ := strconv.Atoi(vals[field])
		return n
	}
	st := domain.OverallStats{
		GamesPlayed: hint("games"),
		Wins:        hint("wins"),
		Losses:      hint("losses"),
		Draws:       hint("draws"),
		Unknown:     hint("unknown"),
		LastResult:  vals["last_result"],
	}
	if decided := st.Wins + st.Losses + st.Draws; decided > 0 {
		st.WinRate = float64(st.Wins) / float64(decided)
	}
	if st.GamesPlayed > 0 {
		st.AvgPlies = float64(hint("plies_total")) / float64(st.GamesPlayed)
	}
	if ts, err := time.Parse(time.RFC3339, vals["updated_at"]); err == nil {
		st.UpdatedAt = ts
	}
	return st, nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }
