// Package uci speaks the Universal Chess Interface to an engine process
// over stdin/stdout.
package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	handshakeTimeout  = 4 * time.Second
	newGameProbeTries = 3
	newGameProbeDelay = 150 * time.Millisecond

	// lineBuffer bounds how many unread engine lines can pile up while
	// the consumer is between reads.
	lineBuffer = 64

	// mateScore is the centipawn stand-in for a forced mate.
	mateScore = 30000
)

// Options are applied once, right after the uci handshake. A session
// must be respawned to change them.
type Options struct {
	Threads    int
	SkillLevel int
	HashMB     int
}

func (o Options) validate() error {
	if o.SkillLevel < 0 || o.SkillLevel > 20 {
		return fmt.Errorf("skill level %d out of range 0-20", o.SkillLevel)
	}
	if o.HashMB <= 0 {
		return fmt.Errorf("hash size must be > 0: %d", o.HashMB)
	}
	return nil
}

// Limits selects the search horizon. MoveTimeMillis wins when both are
// set.
type Limits struct {
	Depth          int
	MoveTimeMillis int
}

// Eval is the engine's view of the position after a search. CP is always
// populated; a forced mate maps to +/-mateScore with Mate carrying the
// signed distance.
type Eval struct {
	CP    int
	Mate  int
	Depth int
}

type SearchRequest struct {
	FEN    string
	Moves  []string
	Limits Limits
}

type SearchResult struct {
	BestMove string
	Ponder   string
	Eval     Eval
}

// Session owns one engine process. A pump goroutine moves stdout onto
// the lines channel so every wait is context-interruptible; wmu
// serializes writes and smu admits one search at a time.
type Session struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *zap.Logger

	lines    chan string
	readDone chan struct{}
	readErr  error
	quit     chan struct{}

	wmu sync.Mutex
	smu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func NewSession(ctx context.Context, binaryPath string, opt Options, logger *zap.Logger) (*Session, error) {
	if err := opt.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cmd := exec.CommandContext(ctx, binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("engine stdout: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	s := &Session{
		cmd:      cmd,
		stdin:    stdin,
		logger:   logger,
		lines:    make(chan string, lineBuffer),
		readDone: make(chan struct{}),
		quit:     make(chan struct{}),
	}
	go s.pump(stdout)

	if err := s.handshake(ctx, opt); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// pump forwards engine output until the pipe closes. Blank lines are
// dropped here so readers only ever see protocol lines.
func (s *Session) pump(r io.Reader) {
	br := bufio.NewReader(r)
	for {
		raw, err := br.ReadString('\n')
		if line := strings.TrimSpace(raw); line != "" {
			select {
			case s.lines <- line:
			case <-s.quit:
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("engine closed stdout")
			}
			s.readErr = err
			close(s.readDone)
			return
		}
	}
}

// readLine returns the next engine line, honoring ctx while the engine
// is silent. Lines buffered before the pipe died are still delivered.
func (s *Session) readLine(ctx context.Context) (string, error) {
	select {
	case line := <-s.lines:
		return line, nil
	case <-s.readDone:
		select {
		case line := <-s.lines:
			return line, nil
		default:
			return "", fmt.Errorf("engine output: %w", s.readErr)
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// writeLine sends one command line. Concurrent writers (a search and a
// lifecycle probe) are serialized.
func (s *Session) writeLine(words ...string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := io.WriteString(s.stdin, strings.Join(words, " ")+"\n")
	return err
}

func (s *Session) handshake(ctx context.Context, opt Options) error {
	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	if err := s.writeLine("uci"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := s.expect(hctx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}
	if err := s.applyOptions(opt); err != nil {
		return err
	}
	if err := s.writeLine("isready"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.expect(hctx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (s *Session) applyOptions(opt Options) error {
	threads := opt.Threads
	if threads < 1 {
		threads = 1
	}
	pairs := [][2]string{
		{"Threads", strconv.Itoa(threads)},
		{"Hash", strconv.Itoa(opt.HashMB)},
		{"Skill Level", strconv.Itoa(opt.SkillLevel)},
		{"MultiPV", "1"},
		{"Minimum Thinking Time", "10"},
		{"Move Overhead", "100"},
	}
	for _, p := range pairs {
		if err := s.writeLine("setoption", "name", p[0], "value", p[1]); err != nil {
			return fmt.Errorf("setoption %s: %w", p[0], err)
		}
	}
	return nil
}

func (s *Session) expect(ctx context.Context, token string) error {
	for {
		line, err := s.readLine(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

// EnsureReady probes the engine with isready. It doubles as the liveness
// check before a session is reused.
func (s *Session) EnsureReady(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	if err := s.writeLine("isready"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.expect(pctx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

// NewGame resets engine state between matches. Some engines drop the
// first isready after ucinewgame while clearing tables, hence the probe
// retries.
func (s *Session) NewGame(ctx context.Context) error {
	if err := s.writeLine("ucinewgame"); err != nil {
		return fmt.Errorf("send ucinewgame: %w", err)
	}
	var err error
	for attempt := 1; attempt <= newGameProbeTries; attempt++ {
		if err = s.EnsureReady(ctx); err == nil {
			return nil
		}
		if attempt < newGameProbeTries {
			s.logger.Warn("uci_newgame_retry",
				zap.Int("attempt", attempt),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(newGameProbeDelay):
			}
		}
	}
	return err
}

// Search runs one search and blocks until bestmove arrives or the
// deadline derived from the limits expires.
func (s *Session) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	s.smu.Lock()
	defer s.smu.Unlock()

	goCmd, err := goLine(req.Limits)
	if err != nil {
		return SearchResult{}, err
	}
	if err := s.writeLine(positionLine(req.FEN, req.Moves)); err != nil {
		return SearchResult{}, fmt.Errorf("send position: %w", err)
	}
	if err := s.writeLine(goCmd); err != nil {
		return SearchResult{}, fmt.Errorf("send go: %w", err)
	}

	sctx, cancel := context.WithTimeout(ctx, searchDeadline(req.Limits))
	defer cancel()

	var eval Eval
	for {
		line, err := s.readLine(sctx)
		if err != nil {
			s.logger.Warn("uci_search_aborted",
				zap.String("go", goCmd),
				zap.Int("moves", len(req.Moves)),
				zap.Error(err))
			return SearchResult{}, fmt.Errorf("read engine: %w", err)
		}
		switch {
		case strings.HasPrefix(line, "info "):
			if e, ok := evalFromInfo(line); ok {
				eval = e
			}
		case strings.HasPrefix(line, "bestmove"):
			return resultFromBestmove(line, eval)
		}
	}
}

// Close kills the engine process. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
		if s.stdin != nil {
			s.stdin.Close()
		}
		if s.cmd != nil && s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		if s.cmd != nil {
			s.closeErr = s.cmd.Wait()
		}
	})
	return s.closeErr
}

// positionLine renders the position command. An empty FEN means the
// standard start position.
func positionLine(fen string, moves []string) string {
	parts := []string{"position"}
	if f := strings.TrimSpace(fen); f == "" || f == "startpos" {
		parts = append(parts, "startpos")
	} else {
		parts = append(parts, "fen", f)
	}
	if len(moves) > 0 {
		parts = append(parts, "moves")
		parts = append(parts, moves...)
	}
	return strings.Join(parts, " ")
}

// goLine renders the go command. Movetime wins over depth when both are
// configured.
func goLine(l Limits) (string, error) {
	switch {
	case l.MoveTimeMillis > 0:
		return "go movetime " + strconv.Itoa(l.MoveTimeMillis), nil
	case l.Depth > 0:
		return "go depth " + strconv.Itoa(l.Depth), nil
	default:
		return "", errors.New("no search limits specified")
	}
}

// searchDeadline bounds how long Search waits for bestmove. Depth
// searches have no inherent duration, so the bound scales with depth
// inside a 6..20s window.
func searchDeadline(l Limits) time.Duration {
	if l.MoveTimeMillis > 0 {
		return 3*time.Duration(l.MoveTimeMillis)*time.Millisecond + 2*time.Second
	}
	d := time.Duration(l.Depth) * 300 * time.Millisecond
	if d < 6*time.Second {
		d = 6 * time.Second
	}
	if d > 20*time.Second {
		d = 20 * time.Second
	}
	return d
}

// evalFromInfo extracts depth and score from one info line. Lines
// without a pv are progress chatter and are skipped.
func evalFromInfo(line string) (Eval, bool) {
	fields := strings.Fields(line)
	var (
		e      Eval
		scored bool
		hasPV  bool
	)
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "depth":
			if v, ok := intAt(fields, i+1); ok {
				e.Depth = v
			}
			i++
		case "score":
			if i+2 >= len(fields) {
				break
			}
			v, ok := intAt(fields, i+2)
			if !ok {
				break
			}
			switch fields[i+1] {
			case "cp":
				e.CP = v
				scored = true
			case "mate":
				e.Mate = v
				e.CP = mateScore
				if v < 0 {
					e.CP = -mateScore
				}
				scored = true
			}
			i += 2
		case "pv":
			hasPV = i+1 < len(fields)
			i = len(fields)
		}
	}
	return e, scored && hasPV
}

func intAt(fields []string, i int) (int, bool) {
	if i >= len(fields) {
		return 0, false
	}
	v, err := strconv.Atoi(fields[i])
	if err != nil {
		return 0, false
	}
	return v, true
}

func resultFromBestmove(line string, eval Eval) (SearchResult, error) {
	fields := strings.Fields(line)
	res := SearchResult{Eval: eval}
	if len(fields) > 1 {
		res.BestMove = fields[1]
	}
	if len(fields) > 3 && fields[2] == "ponder" {
		res.Ponder = fields[3]
	}
	if res.BestMove == "" || res.BestMove == "(none)" {
		return SearchResult{}, errors.New("engine returned no move")
	}
	return res, nil
}
