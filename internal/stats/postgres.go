package stats

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/chess-autopilot/internal/domain"
)

// PostgresStore persists matches in a single table. The schema is created
// on startup; there is no migration tooling to run first.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := ensureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS match_records (
			id BIGSERIAL PRIMARY KEY,
			session_uuid TEXT NOT NULL UNIQUE,
			side TEXT NOT NULL,
			result TEXT NOT NULL,
			score_text TEXT NOT NULL DEFAULT '',
			reason_text TEXT NOT NULL DEFAULT '',
			moves_uci JSONB NOT NULL DEFAULT '[]',
			moves_san JSONB NOT NULL DEFAULT '[]',
			pgn TEXT NOT NULL DEFAULT '',
			ply_count INT NOT NULL DEFAULT 0,
			avg_eval_cp INT NOT NULL DEFAULT 0,
			min_eval_cp INT NOT NULL DEFAULT 0,
			max_eval_cp INT NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0
		)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure match_records table: %w", err)
	}
	return nil
}

func (p *PostgresStore) SaveMatch(ctx context.Context, rec domain.MatchRecord) error {
	movesUCI, err := json.Marshal(rec.MovesUCI)
	if err != nil {
		return fmt.Errorf("marshal moves_uci: %w", err)
	}
	movesSAN, err := json.Marshal(rec.MovesSAN)
	if err != nil {
		return fmt.Errorf("marshal moves_san: %w", err)
	}

	const query = `
		INSERT INTO match_records (
			session_uuid,
			side,
			result,
			score_text,
			reason_text,
			moves_uci,
			moves_san,
			pgn,
			ply_count,
			avg_eval_cp,
			min_eval_cp,
			max_eval_cp,
			started_at,
			ended_at,
			duration_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (session_uuid) DO NOTHING
		RETURNING id`

	var id sql.NullInt64
	err = p.db.QueryRowContext(
		ctx,
		query,
		rec.SessionUUID,
		rec.Side,
		rec.Result,
		rec.ScoreText,
		rec.ReasonText,
		movesUCI,
		movesSAN,
		rec.PGN,
		rec.PlyCount,
		rec.AvgEvalCP,
		rec.MinEvalCP,
		rec.MaxEvalCP,
		rec.StartedAt,
		rec.EndedAt,
		rec.Duration.Milliseconds(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !id.Valid) {
		return ErrDuplicateMatch
	}
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	return nil
}

func (p *PostgresStore) RecentMatches(ctx context.Context, limit int) ([]domain.MatchRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	const query = `
		SELECT
			id,
			session_uuid,
			side,
			result,
			score_text,
			reason_text,
			moves_uci,
			moves_san,
			pgn,
			ply_count,
			avg_eval_cp,
			min_eval_cp,
			max_eval_cp,
			started_at,
			ended_at,
			duration_ms
		FROM match_records
		ORDER BY ended_at DESC
		LIMIT $1`

	rows, err := p.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("select matches: %w", err)
	}
	defer rows.Close()

	out := make([]domain.MatchRecord, 0, limit)
	for rows.Next() {
		var (
			rec          domain.MatchRecord
			movesUCIJSON []byte
			movesSANJSON []byte
			durationMS   sql.NullInt64
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.SessionUUID,
			&rec.Side,
			&rec.Result,
			&rec.ScoreText,
			&rec.ReasonText,
			&movesUCIJSON,
			&movesSANJSON,
			&rec.PGN,
			&rec.PlyCount,
			&rec.AvgEvalCP,
			&rec.MinEvalCP,
			&rec.MaxEvalCP,
			&rec.StartedAt,
			&rec.EndedAt,
			&durationMS,
		); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		if durationMS.Valid {
			rec.Duration = time.Duration(durationMS.Int64) * time.Millisecond
		}
		if err := json.Unmarshal(movesUCIJSON, &rec.MovesUCI); err != nil {
			return nil, fmt.Errorf("unmarshal moves_uci: %w", err)
		}
		if err := json.Unmarshal(movesSANJSON, &rec.MovesSAN); err != nil {
			return nil, fmt.Errorf("unmarshal moves_san: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Overall(ctx context.Context) (domain.OverallStats, error) {
	const query = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE result = 'win'),
			COUNT(*) FILTER (WHERE result = 'loss'),
			COUNT(*) FILTER (WHERE result = 'draw'),
			COUNT(*) FILTER (WHERE result NOT IN ('win', 'loss', 'draw')),
			COALESCE(AVG(ply_count), 0),
			COALESCE(MAX(ended_at), 'epoch'::timestamptz)
		FROM match_records`

	var st domain.OverallStats
	err := p.db.QueryRowContext(ctx, query).Scan(
		&st.GamesPlayed,
		&st.Wins,
		&st.Losses,
		&st.Draws,
		&st.Unknown,
		&st.AvgPlies,
		&st.UpdatedAt,
	)
	if err != nil {
		return domain.OverallStats{}, fmt.Errorf("aggregate matches: %w", err)
	}
	if decided := st.Wins + st.Losses + st.Draws; decided > 0 {
		st.WinRate = float64(st.Wins) / float64(decided)
	}

	const lastQuery = `SELECT result FROM match_records ORDER BY ended_at DESC LIMIT 1`
	var last string
	switch err := p.db.QueryRowContext(ctx, lastQuery).Scan(&last); {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return domain.OverallStats{}, fmt.Errorf("last result: %w", err)
	default:
		st.LastResult = last
	}
	return st, nil
}

func (p *PostgresStore) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
