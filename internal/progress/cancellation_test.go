package progress

import (
	"testing"
	"time"
)

func TestCancellationToken_FirstSignalDrains(t *testing.T) {
	var drained, cancelled bool
	token := NewCancellationToken(3*time.Second, func() { drained = true }, func() { cancelled = true })

	token.Signal()

	if !drained {
		t.Error("expected the first signal to invoke onDrain")
	}
	if cancelled {
		t.Error("expected the first signal not to cancel")
	}
	if !token.Draining() {
		t.Error("expected Draining() to report true after the first signal")
	}
}

func TestCancellationToken_SecondSignalWithinWindowCancels(t *testing.T) {
	drainCount := 0
	cancelCount := 0
	token := NewCancellationToken(3*time.Second, func() { drainCount++ }, func() { cancelCount++ })

	token.Signal()
	token.Signal()

	if drainCount != 1 {
		t.Errorf("expected exactly one drain, got %d", drainCount)
	}
	if cancelCount != 1 {
		t.Errorf("expected exactly one cancel, got %d", cancelCount)
	}
}

func TestCancellationToken_SecondSignalAfterWindowDrainsAgain(t *testing.T) {
	fakeNow := time.Unix(1000, 0)
	drainCount := 0
	cancelCount := 0
	token := NewCancellationToken(3*time.Second, func() { drainCount++ }, func() { cancelCount++ })
	token.now = func() time.Time { return fakeNow }

	token.Signal()
	fakeNow = fakeNow.Add(10 * time.Second)
	token.Signal()

	if drainCount != 2 {
		t.Errorf("expected two drains (window expired between signals), got %d", drainCount)
	}
	if cancelCount != 0 {
		t.Errorf("expected no cancel, got %d", cancelCount)
	}
}
