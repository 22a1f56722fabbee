// Package humanize turns instant engine replies into plausibly human
// pacing: phase-dependent base delays with jitter, occasional long
// thinks, and faster play under clock pressure.
package humanize

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/config"
)

// Phase names one pacing situation. The config carries a delay range per
// phase; ranges are re-read on every sample so edits apply immediately.
type Phase string

const (
	// PhaseBase is the pause before acting on a suggestion.
	PhaseBase Phase = "base"
	// PhaseMoving is the physical act of entering a move.
	PhaseMoving Phase = "moving"
	// PhaseThinking is a deliberate long consideration.
	PhaseThinking Phase = "thinking"
)

func (p Phase) configKey() string {
	if p == PhaseBase {
		return ""
	}
	return string(p)
}

const (
	jitterSpan    = 0.15
	pauseChance   = 0.10
	pauseScaleMin = 1.5
	pauseScaleMax = 2.5
	hesitationMax = 0.3
	floorSeconds  = 0.1

	rushThresholdSeconds  = 30.0
	rushFactor            = 0.3
	hurryThresholdSeconds = 60.0
	hurryFactor           = 0.6
)

type Delays struct {
	cfg    *config.Store
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds a time-seeded pacer. Tests use NewWithRand for determinism.
func New(cfg *config.Store, logger *zap.Logger) *Delays {
	return NewWithRand(cfg, logger, rand.New(rand.NewSource(time.Now().UnixNano())))
}

func NewWithRand(cfg *config.Store, logger *zap.Logger, rng *rand.Rand) *Delays {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Delays{cfg: cfg, logger: logger, rng: rng}
}

// Delay samples one pacing delay. remainingSeconds is our clock reading;
// pass a negative value when no clock is shown.
func (d *Delays) Delay(phase Phase, remainingSeconds float64) time.Duration {
	min, max := d.cfg.DelayRange(phase.configKey())

	d.mu.Lock()
	seconds := min + d.rng.Float64()*(max-min)
	seconds *= 1 + (d.rng.Float64()*2-1)*jitterSpan
	if d.rng.Float64() < pauseChance {
		seconds *= pauseScaleMin + d.rng.Float64()*(pauseScaleMax-pauseScaleMin)
	}
	seconds += d.rng.Float64() * hesitationMax
	d.mu.Unlock()

	switch {
	case remainingSeconds < 0:
	case remainingSeconds < rushThresholdSeconds:
		seconds *= rushFactor
	case remainingSeconds < hurryThresholdSeconds:
		seconds *= hurryFactor
	}

	if seconds < floorSeconds {
		seconds = floorSeconds
	}
	return time.Duration(seconds * float64(time.Second))
}

// Sleep blocks for one sampled delay, bailing out when ctx is done.
func (d *Delays) Sleep(ctx context.Context, phase Phase, remainingSeconds float64) error {
	delay := d.Delay(phase, remainingSeconds)
	d.logger.Debug("humanized_delay",
		zap.String("phase", string(phase)),
		zap.Duration("delay", delay),
		zap.Float64("remaining_s", remainingSeconds))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
