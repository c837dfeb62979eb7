package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestUnlimitedDoesNotBlock(t *testing.T) {
	l := New(0)
	start := time.Now()
	if err := l.Wait(context.Background(), 10_000_000); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatalf("unlimited limiter should not block")
	}
}

func TestLimitedBlocksRoughlyRate(t *testing.T) {
	l := New(1000) // 1000 bytes/sec, burst 1000
	ctx := context.Background()

	// First call drains the burst instantly.
	if err := l.Wait(ctx, 1000); err != nil {
		t.Fatalf("Wait (burst): %v", err)
	}

	start := time.Now()
	if err := l.Wait(ctx, 500); err != nil {
		t.Fatalf("Wait (throttled): %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 300*time.Millisecond {
		t.Fatalf("expected throttling delay near 500ms, got %v", elapsed)
	}
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	l := New(1) // effectively 1 byte/sec, will need to wait a long time
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx, 1); err != nil {
		t.Fatalf("first byte should be free from burst: %v", err)
	}
	if err := l.Wait(ctx, 1_000_000); err == nil {
		t.Fatalf("expected context deadline error")
	}
}

func TestWaitChunksRequestsLargerThanBurst(t *testing.T) {
	// burst == bytesPerSecond == 100, but a single Wait asks for 350 bytes,
	// more than three times the burst. Before burst-chunking this returned
	// rate.ErrBurstExceeded instead of blocking.
	l := New(100)
	ctx := context.Background()

	start := time.Now()
	if err := l.Wait(ctx, 350); err != nil {
		t.Fatalf("Wait(n > burst): %v", err)
	}
	elapsed := time.Since(start)
	// First 100 bytes drain the initial burst instantly; the remaining 250
	// bytes need ~2.5s at 100 bytes/sec.
	if elapsed < 2*time.Second {
		t.Fatalf("expected request above burst to throttle for ~2.5s, got %v", elapsed)
	}
}

func TestSetRateDisable(t *testing.T) {
	l := New(100)
	if !l.Enabled() {
		t.Fatalf("expected limiter enabled")
	}
	l.SetRate(0)
	if l.Enabled() {
		t.Fatalf("expected limiter disabled after SetRate(0)")
	}
}
