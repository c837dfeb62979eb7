// Package scheduler bounds how many files download concurrently, owns the
// process-wide pause/cancel lifecycle, and aggregates per-item progress
// into the snapshot call external callers (CLI, daemon) poll.
//
// Grounded on bodaay's internal/server/jobs.go JobManager for the
// lifecycle/cancel-func/snapshot shape, and the teacher's channel-based
// semaphore for bounding concurrency.
package scheduler

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"gridfetch/internal/config"
	"gridfetch/internal/lifecycle"
	"gridfetch/internal/model"
	"gridfetch/internal/progress"
	"gridfetch/internal/ratelimit"
	"gridfetch/internal/statestore"
	"gridfetch/internal/transport"
	"gridfetch/internal/xerrors"
	"gridfetch/internal/xlog"

	"gridfetch/downloader"
)

// ItemProgress is one item's state as of the last Snapshot call.
type ItemProgress struct {
	ID          string
	Destination string
	Stage       progress.Stage
	Written     int64
	Total       int64
	Err         error
}

// Summary is the scheduler's terminal report once every item has settled.
type Summary struct {
	Completed int
	Skipped   int
	Failed    int
	Cancelled int
	Errors    []error
}

// Scheduler runs a batch of DownloadItems with bounded concurrency and
// exposes Cancel/Pause/Resume/Snapshot for external drivers.
type Scheduler struct {
	fd      *downloader.FileDownloader
	limiter *ratelimit.Limiter
	log     *xlog.Logger
	cfg     *config.Config
	onEvent progress.Func
	counter progress.Counter

	mu     sync.Mutex
	items  map[string]*ItemProgress
	gate   *lifecycle.Gate
	cancel context.CancelFunc
}

// New builds a Scheduler. onEvent may be nil.
func New(tr *transport.Transport, limiter *ratelimit.Limiter, store *statestore.Store, log *xlog.Logger, cfg *config.Config, onEvent progress.Func) *Scheduler {
	return &Scheduler{
		fd:      downloader.NewFileDownloader(tr, limiter, store, log, cfg),
		limiter: limiter,
		log:     log,
		cfg:     cfg,
		onEvent: onEvent,
		items:   make(map[string]*ItemProgress),
		gate:    lifecycle.NewGate(),
	}
}

// Run downloads every item, bounded to cfg.Concurrency concurrent
// FileDownloaders, and returns once all have settled or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, items []model.DownloadItem) Summary {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	summary := Summary{}

	for _, item := range items {
		id := uuid.NewString()
		s.mu.Lock()
		s.items[id] = &ItemProgress{ID: id, Destination: item.Destination, Stage: progress.StageQueued}
		s.mu.Unlock()

		wg.Add(1)
		sem <- struct{}{}
		go func(id string, item model.DownloadItem) {
			defer wg.Done()
			defer func() { <-sem }()

			s.emit(id, progress.Event{Destination: item.Destination, Stage: progress.StageDownloading})

			outcome := s.fd.Run(ctx, item, s.gate, func(delta int64) {
				s.counter.Add(delta)
				s.mu.Lock()
				if ip, ok := s.items[id]; ok {
					ip.Written += delta
					ip.Stage = progress.StageDownloading
				}
				s.mu.Unlock()
				s.emit(id, progress.Event{Destination: item.Destination, Bytes: delta, Stage: progress.StageDownloading})
			})

			mu.Lock()
			defer mu.Unlock()
			s.mu.Lock()
			ip := s.items[id]
			s.mu.Unlock()

			switch {
			case outcome.Err != nil:
				if xerrors.KindOf(outcome.Err) == xerrors.Cancelled {
					summary.Cancelled++
					ip.Stage = progress.StageFailed
				} else {
					summary.Failed++
					ip.Stage = progress.StageFailed
				}
				ip.Err = outcome.Err
				summary.Errors = append(summary.Errors, outcome.Err)
				s.emit(id, progress.Event{Destination: item.Destination, Stage: progress.StageFailed, Err: outcome.Err})
			case outcome.Skipped:
				summary.Skipped++
				ip.Stage = progress.StageSkipped
				s.emit(id, progress.Event{Destination: item.Destination, Stage: progress.StageSkipped})
			default:
				summary.Completed++
				ip.Stage = progress.StageDone
				s.emit(id, progress.Event{Destination: item.Destination, Stage: progress.StageDone})
			}
		}(id, item)
	}

	wg.Wait()
	return summary
}

func (s *Scheduler) emit(_ string, ev progress.Event) {
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

// Pause blocks every worker at its next chunk boundary until Resume is
// called, including workers that started before Pause was called: Gate
// re-reads its current blocking channel on every Wait rather than handing
// out a snapshot.
func (s *Scheduler) Pause() {
	s.gate.Pause()
}

// Resume releases any workers blocked on Pause.
func (s *Scheduler) Resume() {
	s.gate.Resume()
}

// Cancel stops an in-flight Run as soon as its workers next check their
// context, leaving sidecars in place for a later resume. A no-op before
// Run has been called.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Snapshot returns a copy of every item's current progress.
func (s *Scheduler) Snapshot() []ItemProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ItemProgress, 0, len(s.items))
	for _, ip := range s.items {
		out = append(out, *ip)
	}
	return out
}

// AggregateProgress returns (bytes written, bytes expected) across the
// whole batch. Run never registers file sizes with the counter, so the
// bytes-expected value stays 0.
func (s *Scheduler) AggregateProgress() (int64, int64) {
	return s.counter.Snapshot()
}
