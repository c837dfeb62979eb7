package lifecycle

import (
	"context"
	"testing"
	"time"
)

func TestNewGateStartsOpen(t *testing.T) {
	g := NewGate()
	if err := g.Wait(t.Context()); err != nil {
		t.Fatalf("Wait on fresh gate: %v", err)
	}
}

func TestPauseBlocksWait(t *testing.T) {
	g := NewGate()
	g.Pause()

	done := make(chan error, 1)
	go func() { done <- g.Wait(t.Context()) }()

	select {
	case <-done:
		t.Fatalf("Wait returned while paused")
	case <-time.After(50 * time.Millisecond):
	}

	g.Resume()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait after resume: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Wait did not return after Resume")
	}
}

func TestResumeReleasesAlreadyWaitingCaller(t *testing.T) {
	g := NewGate()
	g.Pause()

	released := make(chan struct{})
	go func() {
		g.Wait(t.Context())
		close(released)
	}()

	time.Sleep(20 * time.Millisecond)
	g.Resume()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatalf("waiter never released after Resume")
	}
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	g := NewGate()
	g.Pause()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if err := g.Wait(ctx); err == nil {
		t.Fatalf("expected error from cancelled context")
	}
}
