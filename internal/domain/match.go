package domain

import "time"

// MatchRecord is one completed (or aborted) match as persisted by the stats
// stores. Moves are kept in both notations so exports do not need to replay
// the game.
type MatchRecord struct {
	ID          int64         `json:"id,omitempty"`
	SessionUUID string        `json:"session_uuid"`
	Side        string        `json:"side"`
	Result      string        `json:"result"`
	ScoreText   string        `json:"score_text,omitempty"`
	ReasonText  string        `json:"reason_text,omitempty"`
	MovesUCI    []string      `json:"moves_uci"`
	MovesSAN    []string      `json:"moves_san"`
	PGN         string        `json:"pgn,omitempty"`
	PlyCount    int           `json:"ply_count"`
	AvgEvalCP   int           `json:"avg_eval_cp"`
	MinEvalCP   int           `json:"min_eval_cp"`
	MaxEvalCP   int           `json:"max_eval_cp"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at"`
	Duration    time.Duration `json:"duration_ns"`
}

// OverallStats aggregates all recorded matches.
type OverallStats struct {
	GamesPlayed int       `json:"games_played"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	Draws       int       `json:"draws"`
	Unknown     int       `json:"unknown"`
	WinRate     float64   `json:"win_rate"`
	AvgPlies    float64   `json:"avg_plies"`
	LastResult  string    `json:"last_result,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Results as classified relative to our side.
const (
	ResultWin     = "win"
	ResultLoss    = "loss"
	ResultDraw    = "draw"
	ResultUnknown = "unknown"
)

// Tally folds one result into the aggregate.
func (s *OverallStats) Tally(rec MatchRecord) {
	s.GamesPlayed++
	switch rec.Result {
	case ResultWin:
		s.Wins++
	case ResultLoss:
		s.Losses++
	case ResultDraw:
		s.Draws++
	default:
		s.Unknown++
	}
	s.AvgPlies += (float64(rec.PlyCount) - s.AvgPlies) / float64(s.GamesPlayed)
	if decided := s.Wins + s.Losses + s.Draws; decided > 0 {
		s.WinRate = float64(s.Wins) / float64(decided)
	}
	s.LastResult = rec.Result
	s.UpdatedAt = rec.EndedAt
}
