// Package lifecycle provides the pause/resume primitive shared between the
// Scheduler and the download engine. Unlike a single channel captured once
// per goroutine, Gate re-reads its current blocking channel on every Wait
// call, so a Pause() issued after a segment worker has already started
// still takes effect at that worker's next chunk boundary.
package lifecycle

import (
	"context"
	"sync/atomic"
)

// Gate is a resettable barrier: open lets callers through immediately,
// closed (paused) blocks them until Resume.
type Gate struct {
	ch atomic.Pointer[chan struct{}]
}

// NewGate returns a Gate starting in the open (running) state.
func NewGate() *Gate {
	g := &Gate{}
	open := make(chan struct{})
	close(open)
	g.ch.Store(&open)
	return g
}

// Wait blocks until the gate is open or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	ch := g.ch.Load()
	select {
	case <-*ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pause closes the gate, blocking future Wait calls until Resume.
func (g *Gate) Pause() {
	blocked := make(chan struct{})
	for {
		cur := g.ch.Load()
		select {
		case <-*cur:
			if g.ch.CompareAndSwap(cur, &blocked) {
				return
			}
		default:
			return // already paused
		}
	}
}

// Resume opens the gate, releasing anything blocked in Wait.
func (g *Gate) Resume() {
	open := make(chan struct{})
	close(open)
	old := g.ch.Swap(&open)
	select {
	case <-*old:
	default:
		close(*old)
	}
}
