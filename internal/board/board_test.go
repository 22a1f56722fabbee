package board

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not ready", ErrNotReady, true},
		{"element missing", ErrElementNotFound, true},
		{"stale", ErrStale, true},
		{"wrapped stale", fmt.Errorf("read clock: %w", ErrStale), true},
		{"session lost", ErrSessionLost, false},
		{"wrapped session lost", fmt.Errorf("click: %w", ErrSessionLost), false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"unknown", errors.New("weird"), true},
	}
	for _, c := range cases {
		if got := IsTransient(c.err); got != c.want {
			t.Fatalf("%s: IsTransient=%v, want %v", c.name, got, c.want)
		}
	}
}

func TestSideOpponent(t *testing.T) {
	if SideWhite.Opponent() != SideBlack {
		t.Fatalf("white's opponent should be black")
	}
	if SideBlack.Opponent() != SideWhite {
		t.Fatalf("black's opponent should be white")
	}
}
