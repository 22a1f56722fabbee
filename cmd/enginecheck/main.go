package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/config"
	"github.com/park285/chess-autopilot/internal/engine"
	"github.com/park285/chess-autopilot/internal/engine/uci"
)

// Operator diagnostic: spawns the configured UCI engine, runs the
// handshake and two short searches, and prints the findings.
func main() {
	binary := os.Getenv("ENGINE_PATH")
	if binary == "" {
		log.Fatal("ENGINE_PATH is required")
	}
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "autopilot.yaml"
	}

	cfg, err := config.New(configPath, zap.NewNop())
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	client, err := engine.NewClient(binary, cfg, zap.NewNop())
	if err != nil {
		log.Fatalf("engine error: %v", err)
	}
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := client.NewGame(ctx); err != nil {
		log.Fatalf("handshake error: %v", err)
	}
	log.Printf("handshake ok: %s (%s)", binary, elapsed(start))

	const movetime = 1000

	start = time.Now()
	sug, err := client.Analyze(ctx, nil, movetime)
	if err != nil {
		log.Fatalf("startpos search error: %v", err)
	}
	log.Printf("startpos ok: bestmove=%s ponder=%s eval=%s depth=%d (%s)",
		sug.BestMove, orDash(sug.Ponder), evalText(sug.Eval), sug.Eval.Depth, elapsed(start))

	start = time.Now()
	sug, err = client.Analyze(ctx, []string{"e2e4", "e7e5"}, movetime)
	if err != nil {
		log.Fatalf("line search error: %v", err)
	}
	log.Printf("after 1.e4 e5 ok: bestmove=%s eval=%s (%s)",
		sug.BestMove, evalText(sug.Eval), elapsed(start))
}

func evalText(e uci.Eval) string {
	if e.Mate != 0 {
		return fmt.Sprintf("mate %d", e.Mate)
	}
	return fmt.Sprintf("cp %d", e.CP)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func elapsed(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}
