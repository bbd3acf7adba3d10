package rx

import (
	"testing"

	"github.com/nodegrove/mdns/internal/clock"
)

func TestProbeAnswerDelay_IsZero(t *testing.T) {
	if ProbeAnswerDelay() != 0 {
		t.Fatal("expected probe answer delay to be zero")
	}
}

func TestUniqueAnswerDelay_WithinBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := UniqueAnswerDelay()
		if d < 20_000_000 || d >= 120_000_000 { // nanoseconds
			t.Fatalf("delay %v out of [20,120)ms bounds", d)
		}
	}
}

func TestSharedAnswerDelay_WithinBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := SharedAnswerDelay()
		if d < 20_000_000 || d >= 500_000_000 {
			t.Fatalf("delay %v out of [20,500)ms bounds", d)
		}
	}
}

func TestAnswerTime_AddsDelay(t *testing.T) {
	got := AnswerTime(1000, 50*1_000_000) // 50ms in ns
	if got != clock.Millis(1050) {
		t.Fatalf("AnswerTime = %d, want 1050", got)
	}
}
