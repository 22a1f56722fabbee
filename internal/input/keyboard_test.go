package input

import (
	"testing"

	"go.uber.org/zap"
)

func TestConsumeClearsFlag(t *testing.T) {
	tr := NewTrigger("m", zap.NewNop())
	if tr.Consume() {
		t.Fatalf("new trigger should be disarmed")
	}
	tr.Arm()
	if !tr.Consume() {
		t.Fatalf("expected armed")
	}
	if tr.Consume() {
		t.Fatalf("consume must clear the flag")
	}
}

func TestHandleByteMatchesConfiguredKey(t *testing.T) {
	tr := NewTrigger("m", zap.NewNop())
	tr.handleByte('x')
	if tr.Consume() {
		t.Fatalf("wrong key must not arm")
	}
	tr.handleByte('m')
	if !tr.Consume() {
		t.Fatalf("configured key must arm")
	}
	// Case-insensitive match.
	tr.handleByte('M')
	if !tr.Consume() {
		t.Fatalf("uppercase key must arm")
	}
}

func TestSetKeyHotSwap(t *testing.T) {
	tr := NewTrigger("m", zap.NewNop())
	tr.SetKey("p")
	tr.handleByte('m')
	if tr.Consume() {
		t.Fatalf("old key still armed trigger")
	}
	tr.handleByte('p')
	if !tr.Consume() {
		t.Fatalf("new key must arm")
	}
}

func TestBadKeyFallsBack(t *testing.T) {
	tr := NewTrigger("", zap.NewNop())
	tr.handleByte('m')
	if !tr.Consume() {
		t.Fatalf("empty key should fall back to m")
	}
}

func TestCloseWithoutStart(t *testing.T) {
	tr := NewTrigger("m", zap.NewNop())
	tr.Close()
	if tr.Enabled() {
		t.Fatalf("never-started trigger cannot be enabled")
	}
}
