// Package engine wraps a UCI engine process behind a small analysis API.
// The client owns the process lifecycle: a session that stops answering
// is killed and respawned transparently.
package engine

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/config"
	"github.com/park285/chess-autopilot/internal/engine/uci"
)

const spawnAttempts = 2

// Suggestion is one engine recommendation for the position reached by a
// move sequence.
type Suggestion struct {
	BestMove string
	Ponder   string
	Eval     uci.Eval
}

type Client struct {
	binary string
	cfg    *config.Store
	logger *zap.Logger

	mu      sync.Mutex
	session *uci.Session
}

func NewClient(binaryPath string, cfg *config.Store, logger *zap.Logger) (*Client, error) {
	if binaryPath == "" {
		return nil, fmt.Errorf("engine binary path required")
	}
	if _, err := os.Stat(binaryPath); err != nil {
		return nil, fmt.Errorf("engine binary check: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{binary: binaryPath, cfg: cfg, logger: logger}, nil
}

// options snapshots the engine section at spawn time. Option changes take
// effect on the next respawn.
func (c *Client) options() uci.Options {
	return uci.Options{
		Threads:    c.cfg.Int("engine", "threads", 1),
		SkillLevel: c.cfg.Int("engine", "skill-level", 20),
		HashMB:     c.cfg.Int("engine", "hash", 128),
	}
}

// acquire returns a live session, spawning one if needed. A session that
// fails its readiness probe is discarded first.
func (c *Client) acquire(ctx context.Context) (*uci.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		if err := c.session.EnsureReady(ctx); err == nil {
			return c.session, nil
		}
		c.logger.Warn("engine_session_dead", zap.String("binary", c.binary))
		_ = c.session.Close()
		c.session = nil
	}

	s, err := uci.NewSession(ctx, c.binary, c.options(), c.logger)
	if err != nil {
		return nil, fmt.Errorf("spawn engine: %w", err)
	}
	c.logger.Info("engine_spawned", zap.String("binary", c.binary))
	c.session = s
	return s, nil
}

// discard drops the session if it is still the one that failed.
func (c *Client) discard(s *uci.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == s {
		_ = c.session.Close()
		c.session = nil
	}
}

// BestMove searches the position after movesUCI from the start position.
// depth <= 0 falls back to the configured depth; the configured
// move-time-ms, when set, overrides depth.
func (c *Client) BestMove(ctx context.Context, movesUCI []string, depth int) (Suggestion, error) {
	if depth <= 0 {
		depth = c.cfg.Int("engine", "depth", 8)
	}
	limits := uci.Limits{Depth: depth}
	if mt := c.cfg.Int("engine", "move-time-ms", 0); mt > 0 {
		limits.MoveTimeMillis = mt
	}
	return c.searchWithRespawn(ctx, movesUCI, limits)
}

// Analyze searches with a fixed movetime, independent of the configured
// limits. Used by the engine self-check command.
func (c *Client) Analyze(ctx context.Context, movesUCI []string, movetimeMillis int) (Suggestion, error) {
	return c.searchWithRespawn(ctx, movesUCI, uci.Limits{MoveTimeMillis: movetimeMillis})
}

func (c *Client) searchWithRespawn(ctx context.Context, movesUCI []string, limits uci.Limits) (Suggestion, error) {
	var lastErr error
	for attempt := 1; attempt <= spawnAttempts; attempt++ {
		s, err := c.acquire(ctx)
		if err != nil {
			return Suggestion{}, err
		}
		res, err := s.Search(ctx, uci.SearchRequest{Moves: movesUCI, Limits: limits})
		if err == nil {
			return Suggestion{BestMove: res.BestMove, Ponder: res.Ponder, Eval: res.Eval}, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return Suggestion{}, err
		}
		c.logger.Warn("engine_search_failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
		c.discard(s)
	}
	return Suggestion{}, fmt.Errorf("engine search: %w", lastErr)
}

// NewGame tells the engine a fresh match is starting.
func (c *Client) NewGame(ctx context.Context) error {
	s, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	if err := s.NewGame(ctx); err != nil {
		c.discard(s)
		return err
	}
	return nil
}

// Close kills the engine process if one is running.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}
