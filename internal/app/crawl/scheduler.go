package crawl

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/norcore/collector-core/internal/domain/crawl"
	"github.com/norcore/collector-core/internal/infra/logging"
)

// minSleepQuantum is the minimum wait-for-peers sleep a worker takes
// when it finds nothing dequeued but a peer might still enqueue more
// work.
const minSleepQuantum = time.Millisecond

// SchedulerConfig bundles a Scheduler's collaborators and tunables.
type SchedulerConfig struct {
	Workers      int
	MaxDocuments int // 0 or negative means unlimited.
	Store        crawl.CrawlStore
	Driver       *Driver
	Progress     *crawl.ProgressReporter
	Logger       *logging.Logger

	// SleepQuantum overrides minSleepQuantum when positive; zero or
	// negative keeps minSleepQuantum.
	SleepQuantum time.Duration
}

// Scheduler is the worker pool that drives references from
// CrawlStore.NextQueued through the Driver to a terminal state.
type Scheduler struct {
	workers      int
	maxDocuments int
	store        crawl.CrawlStore
	driver       *Driver
	progress     *crawl.ProgressReporter
	logger       *logging.Logger
	sleepQuantum time.Duration

	stopped atomic.Bool
}

// NewScheduler constructs a Scheduler from cfg.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	quantum := cfg.SleepQuantum
	if quantum <= 0 {
		quantum = minSleepQuantum
	}
	return &Scheduler{
		workers:      cfg.Workers,
		maxDocuments: cfg.MaxDocuments,
		store:        cfg.Store,
		driver:       cfg.Driver,
		progress:     cfg.Progress,
		logger:       cfg.Logger,
		sleepQuantum: quantum,
	}
}

// Stop requests every worker to finish its in-flight reference and
// exit without dequeuing further work. Safe to call more than once and
// from any goroutine, including from within a worker itself.
func (s *Scheduler) Stop() { s.stopped.Store(true) }

// Stopped reports whether Stop has been called.
func (s *Scheduler) Stopped() bool { return s.stopped.Load() }

// Run spawns Workers goroutines, each looping on processOne until no
// more work remains or Stop is called, and blocks until every worker
// has exited. deleteMode routes every dequeued reference straight to
// deletion, used by the orphan-DELETE sweep. The first worker error
// triggers Stop for its peers and is returned once all have exited.
func (s *Scheduler) Run(ctx context.Context, deleteMode bool) error {
	n := s.workers
	if n < 1 {
		n = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		workerID := i
		g.Go(func() error {
			err := s.runWorker(gctx, workerID, deleteMode)
			if err != nil {
				s.Stop()
			}
			return err
		})
	}

	return g.Wait()
}

// runWorker loops processOne until it reports no more work, the
// context is cancelled, or Stop has been called.
func (s *Scheduler) runWorker(ctx context.Context, workerID int, deleteMode bool) error {
	for {
		if ctx.Err() != nil || s.Stopped() {
			return nil
		}

		hasMore, err := s.processOne(ctx, deleteMode)
		if err != nil {
			if s.logger != nil {
				s.logger.Error(ctx, "worker stopping crawl after fatal error",
					"worker", workerID, "error", err)
			}
			return err
		}
		if !hasMore {
			return nil
		}
	}
}

// processOne implements the five-step dequeue-or-idle decision every
// worker makes on each iteration. It returns hasMore=false only when
// this worker has confirmed there is nothing left it could usefully do.
func (s *Scheduler) processOne(ctx context.Context, deleteMode bool) (hasMore bool, err error) {
	if !deleteMode && s.maxDocuments > 0 {
		processed, err := s.store.ProcessedCount(ctx)
		if err != nil {
			return false, err
		}
		if processed >= s.maxDocuments {
			return false, nil
		}
	}

	ref, err := s.store.NextQueued(ctx)
	if err != nil {
		return false, err
	}

	if ref != nil {
		if procErr := s.driver.ProcessReference(ctx, ref, deleteMode); procErr != nil {
			return false, procErr
		}
		s.sampleProgress(ctx)
		return true, nil
	}

	active, err := s.store.ActiveCount(ctx)
	if err != nil {
		return false, err
	}
	queueEmpty, err := s.store.IsQueueEmpty(ctx)
	if err != nil {
		return false, err
	}

	if active > 0 || !queueEmpty {
		select {
		case <-ctx.Done():
			return false, nil
		case <-time.After(s.sleepQuantum):
		}
		return true, nil
	}

	return false, nil
}

func (s *Scheduler) sampleProgress(ctx context.Context) {
	if s.progress == nil {
		return
	}
	processed, err := s.store.ProcessedCount(ctx)
	if err != nil {
		return
	}
	queued, err := s.store.QueuedCount(ctx)
	if err != nil {
		return
	}
	s.progress.Sample(crawl.Progress{Processed: processed, Queued: queued})
}
