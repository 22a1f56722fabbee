// Package botevent defines the events the autopilot publishes to
// observers. The envelope is stable; the payload shape depends on Type.
package botevent

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeGameInfo    Type = "game_info"
	TypeGameStart   Type = "game_start"
	TypeBoardUpdate Type = "board_update"
	TypeSuggestion  Type = "suggestion"
	TypeMovePlayed  Type = "move_played"
	TypeGameEnd     Type = "game_finished"
	TypeStatsUpdate Type = "statistics_update"
	TypeAborted     Type = "match_aborted"
	TypeConfig      Type = "config_changed"
)

// Event is the wire envelope. Payload is one of the structs below,
// matching Type.
type Event struct {
	ID      string `json:"id"`
	Type    Type   `json:"type"`
	At      int64  `json:"at_unix_ms"`
	Message string `json:"message,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// New stamps an envelope with a fresh ID and the current time.
func New(t Type, message string, payload any) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    t,
		At:      time.Now().UnixMilli(),
		Message: message,
		Payload: payload,
	}
}

// GameInfo describes the match found on screen before play starts.
type GameInfo struct {
	MatchID        string  `json:"match_id"`
	Side           string  `json:"side"`
	InitialSeconds float64 `json:"initial_seconds,omitempty"`
	Preset         string  `json:"preset,omitempty"`
}

// GameStart announces that the play loop took over a match.
type GameStart struct {
	SessionUUID string `json:"session_uuid"`
	MatchID     string `json:"match_id"`
	Side        string `json:"side"`
	Depth       int    `json:"depth"`
}

// BoardUpdate reports an opponent move applied to our internal state.
type BoardUpdate struct {
	SessionUUID string `json:"session_uuid"`
	Ply         int    `json:"ply"`
	MoveSAN     string `json:"move_san"`
	MoveUCI     string `json:"move_uci,omitempty"`
	FEN         string `json:"fen,omitempty"`
}

// Suggestion reports what the engine recommends for our turn.
type Suggestion struct {
	SessionUUID string `json:"session_uuid"`
	Ply         int    `json:"ply"`
	MoveUCI     string `json:"move_uci"`
	MoveSAN     string `json:"move_san,omitempty"`
	EvalCP      int    `json:"eval_cp"`
	Mate        int    `json:"mate,omitempty"`
	Depth       int    `json:"depth"`
	AutoPlay    bool   `json:"auto_play"`
}

// MovePlayed reports one of our moves landing on the board.
type MovePlayed struct {
	SessionUUID string  `json:"session_uuid"`
	Ply         int     `json:"ply"`
	MoveUCI     string  `json:"move_uci"`
	MoveSAN     string  `json:"move_san,omitempty"`
	EvalCP      int     `json:"eval_cp"`
	RemainingS  float64 `json:"remaining_s,omitempty"`
}

// GameFinished reports the final classification of a match.
type GameFinished struct {
	SessionUUID string `json:"session_uuid"`
	MatchID     string `json:"match_id,omitempty"`
	Result      string `json:"result"`
	ScoreText   string `json:"score_text,omitempty"`
	ReasonText  string `json:"reason_text,omitempty"`
	PlyCount    int    `json:"ply_count"`
	PGN         string `json:"pgn,omitempty"`
}

// StatisticsUpdate carries the refreshed aggregate after a match.
type StatisticsUpdate struct {
	GamesPlayed int     `json:"games_played"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	Draws       int     `json:"draws"`
	Unknown     int     `json:"unknown"`
	WinRate     float64 `json:"win_rate"`
}

// MatchAborted reports a match abandoned before a result was read.
type MatchAborted struct {
	SessionUUID string `json:"session_uuid,omitempty"`
	MatchID     string `json:"match_id,omitempty"`
	Reason      string `json:"reason"`
}

// ConfigChanged reports a hot-reloaded configuration section.
type ConfigChanged struct {
	Sections []string `json:"sections"`
	Keys     []string `json:"keys,omitempty"`
}
