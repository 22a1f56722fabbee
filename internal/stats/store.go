// Package stats records match outcomes and aggregates them. Storage is
// pluggable: Postgres when a database is configured, Redis when only a
// cache is, a JSON file otherwise, and memory for tests.
package stats

import (
	"context"
	"errors"

	"github.com/park285/chess-autopilot/internal/domain"
)

// ErrDuplicateMatch means a record with the same session UUID was already
// saved; stores treat the save as a no-op and report it.
var ErrDuplicateMatch = errors.New("match already recorded")

type Store interface {
	// SaveMatch persists one finished match.
	SaveMatch(ctx context.Context, rec domain.MatchRecord) error

	// RecentMatches returns up to limit records, newest first.
	RecentMatches(ctx context.Context, limit int) ([]domain.MatchRecord, error)

	// Overall returns the running aggregate across all saved matches.
	Overall(ctx context.Context) (domain.OverallStats, error)

	Close() error
}

const defaultRecentLimit = 10
