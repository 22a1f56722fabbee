// Package game drives the match lifecycle: one State per match, a
// TurnHandler resolving individual plies, a ResultHandler classifying
// the outcome and a Manager looping matches until the process stops.
package game

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/chess-autopilot/internal/board"
)

var (
	// ErrPlyMismatch means a move arrived for a ply other than the next
	// one, usually a duplicate read of an already applied move.
	ErrPlyMismatch = errors.New("ply mismatch")

	// ErrIllegalMove means the move text does not describe a legal move
	// in the current position.
	ErrIllegalMove = errors.New("illegal move")
)

// Applied describes a move after State accepted it.
type Applied struct {
	Ply int
	UCI string
	SAN string
	FEN string
}

// State is the authoritative record of the match in progress. The board
// position is mutated only through ApplyMove, which enforces ply order
// and legality. Safe for concurrent use: the ack flag is flipped from
// the observer path while the match loop polls it.
type State struct {
	mu sync.Mutex

	game     *nchess.Game
	side     board.Side
	movesUCI []string
	movesSAN []string

	active       bool
	resultLogged bool
	waitingAck   bool

	suggestion      string
	suggestionShown bool
}

func NewState() *State {
	return &State{game: nchess.NewGame(), side: board.SideWhite}
}

// Reset prepares the same State for a fresh match. Result and ack flags
// clear together so a new match can only begin from a clean slate.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.game = nchess.NewGame()
	s.movesUCI = s.movesUCI[:0]
	s.movesSAN = s.movesSAN[:0]
	s.active = true
	s.resultLogged = false
	s.waitingAck = false
	s.suggestion = ""
	s.suggestionShown = false
}

func (s *State) Side() board.Side {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.side
}

func (s *State) SetSide(side board.Side) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.side = side
}

// NextPly is the 1-based index of the next move to be played.
func (s *State) NextPly() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.movesUCI) + 1
}

// IsOurTurn reports whether the side to move is ours.
func (s *State) IsOurTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	white := s.game.Position().Turn() == nchess.White
	return white == (s.side == board.SideWhite)
}

// ApplyMove validates text against the current position and pushes it.
// Accepts UCI first, then standard algebraic. ply must equal NextPly;
// anything else is a duplicate or out-of-order read and leaves the
// position untouched.
func (s *State) ApplyMove(ply int, text string) (Applied, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := len(s.movesUCI) + 1
	if ply != next {
		return Applied{}, fmt.Errorf("apply %q at ply %d, expected %d: %w", text, ply, next, ErrPlyMismatch)
	}

	text = strings.TrimSpace(text)
	pos := s.game.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, strings.ToLower(text))
	if err != nil {
		mv, err = nchess.AlgebraicNotation{}.Decode(pos, text)
	}
	if err != nil {
		return Applied{}, fmt.Errorf("%w: %q at ply %d", ErrIllegalMove, text, ply)
	}

	uci := nchess.UCINotation{}.Encode(pos, mv)
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	if err := s.game.Move(mv, nil); err != nil {
		return Applied{}, fmt.Errorf("%w: %q at ply %d: %v", ErrIllegalMove, text, ply, err)
	}

	s.movesUCI = append(s.movesUCI, uci)
	s.movesSAN = append(s.movesSAN, san)
	return Applied{Ply: ply, UCI: uci, SAN: san, FEN: s.game.FEN()}, nil
}

// SANFor renders a candidate UCI move in algebraic notation against the
// current position without applying it. Returns "" when the move does
// not decode.
func (s *State) SANFor(uci string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := s.game.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, strings.ToLower(strings.TrimSpace(uci)))
	if err != nil {
		return ""
	}
	return nchess.AlgebraicNotation{}.Encode(pos, mv)
}

func (s *State) MovesUCI() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.movesUCI...)
}

func (s *State) MovesSAN() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.movesSAN...)
}

func (s *State) FEN() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game.FEN()
}

// PGN renders the movetext of the match so far.
func (s *State) PGN() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.TrimSpace(s.game.String())
}

// Outcome reports the library's own termination verdict, NoOutcome
// while the match is still in progress.
func (s *State) Outcome() nchess.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game.Outcome()
}

func (s *State) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *State) SetActive(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = v
}

// MarkResultLogged flips the result flag and reports whether this call
// was the one that flipped it, so result handling runs at most once per
// match.
func (s *State) MarkResultLogged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resultLogged {
		return false
	}
	s.resultLogged = true
	return true
}

func (s *State) ResultLogged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resultLogged
}

// BeginAckWait arms the acknowledgment gate after a result was handled.
func (s *State) BeginAckWait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitingAck = true
}

func (s *State) WaitingForAck() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitingAck
}

// Acknowledge releases the post-match wait.
func (s *State) Acknowledge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitingAck = false
}

// SetSuggestion records the current engine candidate. A distinct move
// resets the shown flag so the indicator is redrawn exactly once per
// candidate.
func (s *State) SetSuggestion(uci string) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suggestion == uci {
		return false
	}
	s.suggestion = uci
	s.suggestionShown = false
	return true
}

func (s *State) Suggestion() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suggestion, s.suggestion != ""
}

func (s *State) SuggestionShown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suggestionShown
}

func (s *State) MarkSuggestionShown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suggestionShown = true
}

func (s *State) ClearSuggestion() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suggestion = ""
	s.suggestionShown = false
}
