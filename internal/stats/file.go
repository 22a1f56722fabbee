package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/domain"
)

// FileStore persists matches to a single JSON document, rewritten
// atomically on every save. Fine for the volumes one bot produces.
type FileStore struct {
	path   string
	logger *zap.Logger

	mu    sync.Mutex
	state fileState
	index map[string]struct{}
}

type fileState struct {
	Matches []domain.MatchRecord `json:"matches"`
	Overall domain.OverallStats  `json:"overall"`
}

func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create stats dir: %w", err)
		}
	}

	s := &FileStore{path: path, logger: logger, index: make(map[string]struct{})}
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read stats file: %w", err)
	default:
		if err := json.Unmarshal(raw, &s.state); err != nil {
			// A corrupt file should not brick the bot: start fresh and
			// keep the broken one for inspection.
			logger.Warn("stats_file_corrupt", zap.String("path", path), zap.Error(err))
			_ = os.Rename(path, path+".corrupt")
			s.state = fileState{}
		}
		for _, rec := range s.state.Matches {
			s.index[rec.SessionUUID] = struct{}{}
		}
	}
	return s, nil
}

func (s *FileStore) SaveMatch(ctx context.Context, rec domain.MatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[rec.SessionUUID]; exists {
		return ErrDuplicateMatch
	}

	rec.ID = int64(len(s.state.Matches) + 1)
	s.state.Matches = append(s.state.Matches, rec)
	s.state.Overall.Tally(rec)
	s.index[rec.SessionUUID] = struct{}{}

	if err := s.persist(); err != nil {
		return err
	}
	return nil
}

func (s *FileStore) persist() error {
	raw, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace stats: %w", err)
	}
	return nil
}

func (s *FileStore) RecentMatches(ctx context.Context, limit int) ([]domain.MatchRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.state.Matches)
	if limit > n {
		limit = n
	}
	out := make([]domain.MatchRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.state.Matches[i])
	}
	return out, nil
}

func (s *FileStore) Overall(ctx context.Context) (domain.OverallStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Overall, nil
}

func (s *FileStore) Close() error { return nil }
