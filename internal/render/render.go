// Package render turns scheduler progress events into a pool of per-file
// progress bars, one line per concurrent download. Grounded on the
// teacher's utils/progress.go ProgressTracker, generalized from a single
// bar tracking one file to a pb.Pool tracking a whole batch.
package render

import (
	"fmt"
	"sync"

	"github.com/cheggaaa/pb/v3"

	"gridfetch/internal/progress"
	"gridfetch/internal/scheduler"
)

const barTemplate = `{{string . "prefix"}}{{counters . }} {{bar . }} {{percent . }} {{speed . }} {{rtime . "ETA %s"}}`

// Pool renders one bar per item, driven by the Scheduler's progress.Func
// callback. It draws no aggregate line; end-of-run totals are printed by
// Summary.
type Pool struct {
	quiet bool

	mu   sync.Mutex
	bars map[string]*pb.ProgressBar
	pool *pb.Pool
}

// NewPool starts the underlying pb.Pool unless quiet is set, in which case
// every method becomes a no-op.
func NewPool(quiet bool) *Pool {
	p := &Pool{quiet: quiet, bars: make(map[string]*pb.ProgressBar)}
	if !quiet {
		p.pool = pb.NewPool()
		p.pool.Start()
	}
	return p
}

// Handler returns the progress.Func to pass to scheduler.New.
func (p *Pool) Handler() progress.Func {
	return p.onEvent
}

func (p *Pool) onEvent(ev progress.Event) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	bar, ok := p.bars[ev.Destination]
	if !ok {
		bar = pb.ProgressBarTemplate(barTemplate).New64(ev.Total)
		bar.Set(pb.Bytes, true)
		bar.Set(pb.SIBytesPrefix, true)
		bar.Set("prefix", fmt.Sprintf("%s: ", shortName(ev.Destination)))
		p.pool.Add(bar)
		p.bars[ev.Destination] = bar
	}

	switch ev.Stage {
	case progress.StageDownloading:
		bar.Add64(ev.Bytes)
	case progress.StageDone, progress.StageSkipped:
		bar.SetCurrent(bar.Total())
		bar.Finish()
	case progress.StageFailed:
		bar.Set("prefix", fmt.Sprintf("%s (failed): ", shortName(ev.Destination)))
		bar.Finish()
	}
}

// Close stops the pool and flushes remaining output.
func (p *Pool) Close() {
	if p.quiet || p.pool == nil {
		return
	}
	p.pool.Stop()
}

// Summary prints the scheduler's terminal report.
func Summary(quiet bool, s scheduler.Summary) {
	if quiet {
		return
	}
	fmt.Printf("\ncompleted: %d  skipped: %d  failed: %d  cancelled: %d\n",
		s.Completed, s.Skipped, s.Failed, s.Cancelled)
	for _, err := range s.Errors {
		fmt.Printf("  error: %v\n", err)
	}
}

func shortName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
