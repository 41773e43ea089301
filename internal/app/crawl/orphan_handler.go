package crawl

import (
	"context"

	"github.com/norcore/collector-core/internal/domain/crawl"
	"github.com/norcore/collector-core/internal/infra/logging"
)

// OrphanHandlerConfig bundles the OrphanHandler's collaborators.
type OrphanHandlerConfig struct {
	Strategy     crawl.OrphanStrategy
	Store        crawl.CrawlStore
	Capabilities crawl.Capabilities
	Scheduler    *Scheduler
	MaxDocuments int
	Logger       *logging.Logger
}

// OrphanHandler runs the second-phase treatment of cache entries never
// re-encountered during the main pass, once the primary reference pass
// has drained and the crawl was not stopped.
type OrphanHandler struct {
	strategy     crawl.OrphanStrategy
	store        crawl.CrawlStore
	capabilities crawl.Capabilities
	scheduler    *Scheduler
	maxDocuments int
	logger       *logging.Logger
}

// NewOrphanHandler constructs an OrphanHandler from cfg.
func NewOrphanHandler(cfg OrphanHandlerConfig) *OrphanHandler {
	capabilities := cfg.Capabilities
	if capabilities == nil {
		capabilities = crawl.NoopCapabilities{}
	}
	return &OrphanHandler{
		strategy:     cfg.Strategy,
		store:        cfg.Store,
		capabilities: capabilities,
		scheduler:    cfg.Scheduler,
		maxDocuments: cfg.MaxDocuments,
		logger:       cfg.Logger,
	}
}

// Handle sweeps the cached partition according to the configured
// OrphanStrategy.
func (h *OrphanHandler) Handle(ctx context.Context) error {
	switch h.strategy {
	case crawl.OrphanIgnore:
		return h.handleIgnore(ctx)
	case crawl.OrphanProcess:
		return h.handleProcess(ctx)
	case crawl.OrphanDelete:
		return h.handleDelete(ctx)
	default:
		return h.handleIgnore(ctx)
	}
}

func (h *OrphanHandler) handleIgnore(ctx context.Context) error {
	count, err := cachedCount(ctx, h.store)
	if err != nil {
		return err
	}
	if h.logger != nil {
		h.logger.Info(ctx, "ignoring orphaned cache entries", "count", count)
	}
	return nil
}

func (h *OrphanHandler) handleProcess(ctx context.Context) error {
	if h.maxDocuments > 0 {
		processed, err := h.store.ProcessedCount(ctx)
		if err != nil {
			return err
		}
		if processed >= h.maxDocuments {
			if h.logger != nil {
				h.logger.Info(ctx, "max documents reached, skipping orphan processing")
			}
			return nil
		}
	}

	if err := h.enqueueCached(ctx, func(ref *crawl.Reference) error {
		return h.capabilities.ExecuteQueuePipeline(ctx, ref, h.store)
	}); err != nil {
		return err
	}
	return h.scheduler.Run(ctx, false)
}

func (h *OrphanHandler) handleDelete(ctx context.Context) error {
	if err := h.enqueueCached(ctx, func(ref *crawl.Reference) error {
		return h.store.Queue(ctx, ref)
	}); err != nil {
		return err
	}
	return h.scheduler.Run(ctx, true)
}

// enqueueCached iterates every cached reference, applying enqueue to
// each. The iterator is closed before the scheduler runs so it never
// holds the store's internal lock across a full pass.
func (h *OrphanHandler) enqueueCached(ctx context.Context, enqueue func(*crawl.Reference) error) error {
	it, err := h.store.CachedIterable(ctx)
	if err != nil {
		return err
	}
	defer it.Close()

	for it.Next() {
		if err := enqueue(it.Reference()); err != nil {
			return err
		}
	}
	return it.Err()
}

func cachedCount(ctx context.Context, store crawl.CrawlStore) (int, error) {
	it, err := store.CachedIterable(ctx)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	n := 0
	for it.Next() {
		n++
	}
	return n, it.Err()
}
