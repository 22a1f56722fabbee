package uci

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestPositionLine(t *testing.T) {
	cases := []struct {
		fen   string
		moves []string
		want  string
	}{
		{"", nil, "position startpos"},
		{"startpos", []string{"e2e4"}, "position startpos moves e2e4"},
		{"", []string{"e2e4", "e7e5"}, "position startpos moves e2e4 e7e5"},
		{"8/8/8/8/8/8/8/K6k w - - 0 1", nil, "position fen 8/8/8/8/8/8/8/K6k w - - 0 1"},
	}
	for _, c := range cases {
		if got := positionLine(c.fen, c.moves); got != c.want {
			t.Fatalf("positionLine(%q, %v) = %q, want %q", c.fen, c.moves, got, c.want)
		}
	}
}

func TestGoLine(t *testing.T) {
	got, err := goLine(Limits{Depth: 12})
	if err != nil {
		t.Fatalf("depth limits: %v", err)
	}
	if got != "go depth 12" {
		t.Fatalf("got %q", got)
	}

	// movetime takes precedence over depth.
	got, err = goLine(Limits{Depth: 12, MoveTimeMillis: 800})
	if err != nil {
		t.Fatalf("movetime limits: %v", err)
	}
	if got != "go movetime 800" {
		t.Fatalf("got %q", got)
	}

	if _, err := goLine(Limits{}); err == nil {
		t.Fatalf("expected error for empty limits")
	}
}

func TestSearchDeadline(t *testing.T) {
	if got := searchDeadline(Limits{Depth: 10}); got != 6*time.Second {
		t.Fatalf("depth 10: got %v", got)
	}
	if got := searchDeadline(Limits{Depth: 30}); got != 9*time.Second {
		t.Fatalf("depth 30: got %v", got)
	}
	if got := searchDeadline(Limits{Depth: 100}); got != 20*time.Second {
		t.Fatalf("depth 100 should cap: got %v", got)
	}
	if got := searchDeadline(Limits{}); got != 6*time.Second {
		t.Fatalf("no limits: got %v", got)
	}
}

func TestEvalFromInfo(t *testing.T) {
	e, ok := evalFromInfo("info depth 14 seldepth 20 multipv 1 score cp 35 nodes 120000 nps 800000 pv e2e4 e7e5")
	if !ok {
		t.Fatalf("expected parse")
	}
	if e.Depth != 14 || e.CP != 35 || e.Mate != 0 {
		t.Fatalf("got %+v", e)
	}

	e, ok = evalFromInfo("info depth 21 score mate -3 pv h7h8")
	if !ok {
		t.Fatalf("expected parse")
	}
	if e.Mate != -3 || e.CP != -mateScore {
		t.Fatalf("got %+v", e)
	}

	if _, ok := evalFromInfo("info depth 5 currmove e2e4 currmovenumber 1"); ok {
		t.Fatalf("progress chatter without pv must be skipped")
	}
	if _, ok := evalFromInfo("info string NNUE evaluation enabled"); ok {
		t.Fatalf("string info must be skipped")
	}
}

func TestResultFromBestmove(t *testing.T) {
	res, err := resultFromBestmove("bestmove e2e4 ponder e7e5", Eval{CP: 20})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.BestMove != "e2e4" || res.Ponder != "e7e5" || res.Eval.CP != 20 {
		t.Fatalf("got %+v", res)
	}

	res, err = resultFromBestmove("bestmove g1f3", Eval{})
	if err != nil {
		t.Fatalf("parse without ponder: %v", err)
	}
	if res.BestMove != "g1f3" || res.Ponder != "" {
		t.Fatalf("got %+v", res)
	}

	if _, err := resultFromBestmove("bestmove (none)", Eval{}); err == nil {
		t.Fatalf("(none) must be an error")
	}
}

func TestOptionsValidate(t *testing.T) {
	if err := (Options{SkillLevel: 20, HashMB: 128}).validate(); err != nil {
		t.Fatalf("valid options rejected: %v", err)
	}
	if err := (Options{SkillLevel: 21, HashMB: 128}).validate(); err == nil {
		t.Fatalf("skill 21 should be rejected")
	}
	if err := (Options{SkillLevel: 10, HashMB: 0}).validate(); err == nil {
		t.Fatalf("zero hash should be rejected")
	}
}

func newPumpSession(input string) *Session {
	s := &Session{
		lines:    make(chan string, lineBuffer),
		readDone: make(chan struct{}),
		quit:     make(chan struct{}),
	}
	go s.pump(strings.NewReader(input))
	return s
}

func TestReadLineDeliversBufferedAfterEOF(t *testing.T) {
	s := newPumpSession("info string hello\n\nbestmove e2e4\n")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, err := s.readLine(ctx)
	if err != nil {
		t.Fatalf("first line: %v", err)
	}
	if first != "info string hello" {
		t.Fatalf("got %q", first)
	}

	// The blank line is dropped by the pump.
	second, err := s.readLine(ctx)
	if err != nil {
		t.Fatalf("second line: %v", err)
	}
	if second != "bestmove e2e4" {
		t.Fatalf("got %q", second)
	}

	if _, err := s.readLine(ctx); err == nil {
		t.Fatalf("expected error after stream end")
	}
}

func TestReadLineHonorsContext(t *testing.T) {
	s := &Session{
		lines:    make(chan string),
		readDone: make(chan struct{}),
		quit:     make(chan struct{}),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.readLine(ctx); err == nil {
		t.Fatalf("expected deadline error with no engine output")
	}
}
