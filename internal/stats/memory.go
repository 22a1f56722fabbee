package stats

import (
	"context"
	"sort"
	"sync"

	"github.com/park285/chess-autopilot/internal/domain"
)

// MemoryStore keeps everything in process memory. Used by tests and as
// the last-resort fallback when no persistence is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	byUUID  map[string]*domain.MatchRecord
	ordered []*domain.MatchRecord
	overall domain.OverallStats
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byUUID: make(map[string]*domain.MatchRecord)}
}

func (m *MemoryStore) SaveMatch(ctx context.Context, rec domain.MatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byUUID[rec.SessionUUID]; exists {
		return ErrDuplicateMatch
	}

	m.nextID++
	rec.ID = m.nextID
	stored := rec
	m.byUUID[rec.SessionUUID] = &stored
	m.ordered = append(m.ordered, &stored)
	m.overall.Tally(stored)
	return nil
}

func (m *MemoryStore) RecentMatches(ctx context.Context, limit int) ([]domain.MatchRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	m.mu.RLock()
	items := append([]*domain.MatchRecord(nil), m.ordered...)
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].EndedAt.Equal(items[j].EndedAt) {
			return items[i].EndedAt.After(items[j].EndedAt)
		}
		return items[i].ID > items[j].ID
	})
	if len(items) > limit {
		items = items[:limit]
	}

	out := make([]domain.MatchRecord, len(items))
	for i, it := range items {
		out[i] = *it
	}
	return out, nil
}

func (m *MemoryStore) Overall(ctx context.Context) (domain.OverallStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overall, nil
}

func (m *MemoryStore) Close() error { return nil }
