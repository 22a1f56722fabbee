// Package board defines the contract between the game loop and whatever
// drives the real board UI. The production implementation lives in
// internal/browser; tests substitute fakes.
package board

import (
	"context"
	"errors"
)

// Sentinel errors for classifying driver failures. IsTransient decides
// which of them the retry layer may try again.
var (
	// ErrNotReady means the board UI has not finished loading.
	ErrNotReady = errors.New("board not ready")

	// ErrElementNotFound means an expected UI element is missing, often
	// momentarily during an animation or re-render.
	ErrElementNotFound = errors.New("board element not found")

	// ErrStale means an element handle went stale mid-read.
	ErrStale = errors.New("board element stale")

	// ErrSessionLost means the underlying browser session died and only a
	// full restart can help.
	ErrSessionLost = errors.New("browser session lost")
)

// IsTransient reports whether err is worth retrying in place. Session
// loss is excluded: it needs recovery, not another attempt. Unclassified
// driver errors count as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionLost) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Side of the board we play from.
type Side string

const (
	SideWhite Side = "white"
	SideBlack Side = "black"
)

// Opponent returns the other side.
func (s Side) Opponent() Side {
	if s == SideWhite {
		return SideBlack
	}
	return SideWhite
}

// Controller is everything the game loop needs from the board UI.
type Controller interface {
	// WaitUntilReady blocks until the board is interactive or the
	// timeout expires.
	WaitUntilReady(ctx context.Context) error

	// DetermineSide reads which side we are playing.
	DetermineSide(ctx context.Context) (Side, error)

	// ReadMoveAt returns the move text at the given 1-based ply, or ""
	// when that ply has not been played yet.
	ReadMoveAt(ctx context.Context, ply int) (string, error)

	// RemainingSeconds reads the clock for a side. ok is false when no
	// clock is displayed (untimed game).
	RemainingSeconds(ctx context.Context, side Side) (seconds float64, ok bool, err error)

	// ExecuteMove plays a UCI move on the board. remaining carries the
	// clock reading used for input pacing; pass a negative value when
	// unknown.
	ExecuteMove(ctx context.Context, uci string, remaining float64) error

	// IsGameOver reports whether the UI shows a finished game.
	IsGameOver(ctx context.Context) (bool, error)

	// ReadResult reads the final score text ("1-0", "0-1", "1/2-1/2")
	// and the stated reason, if any.
	ReadResult(ctx context.Context) (score string, reason string, err error)

	// DrawIndicator highlights the suggested move on the board.
	DrawIndicator(ctx context.Context, uci string) error

	// ClearIndicator removes any highlight.
	ClearIndicator(ctx context.Context) error

	// MatchID identifies the match currently on screen, "" if none.
	MatchID(ctx context.Context) (string, error)

	// IsNewMatchID reports whether id has the shape of a playable match
	// identifier. Screening out the match just played is the caller's
	// job.
	IsNewMatchID(id string) bool
}

// Authenticator handles whatever sign-in the board site requires before
// play can start.
type Authenticator interface {
	EnsureAuthenticated(ctx context.Context) error
}

// DebugCapture snapshots the UI state for post-mortem analysis. Label
// names the situation that triggered the capture.
type DebugCapture interface {
	Capture(ctx context.Context, label string)
}
