package crawl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/norcore/collector-core/internal/domain/crawl"
	"github.com/norcore/collector-core/internal/infra/logging"
)

// defaultProgressInterval is how often the lifecycle's ProgressReporter
// is allowed to log a percent-complete line.
const defaultProgressInterval = 5 * time.Second

// LifecycleConfig bundles everything a LifecycleController needs to
// drive one crawler through init/run/stop/clean.
type LifecycleConfig struct {
	CrawlerID    string
	WorkDir      string
	Workers      int
	MaxDocuments int
	OrphanStrategy crawl.OrphanStrategy

	// Resume tells the store whether this run should attempt to pick up
	// prior in-flight work rather than start clean. The CLI's "start"
	// subcommand sets this based on whether a prior store already
	// exists on disk for this crawler ID.
	Resume bool

	// RunID correlates every event this run fires, including those
	// published directly by the Driver. Callers generate it once per
	// invocation and pass the same value to the Driver's Config.
	RunID string

	Store        crawl.CrawlStore
	Driver       *Driver
	Bus          crawl.EventBus
	Committer    crawl.Committer
	Capabilities crawl.Capabilities
	Logger       *logging.Logger
}

// LifecycleController owns the top-level init/run/stop/clean
// operations for a single crawler, wiring the Scheduler, Driver,
// OrphanHandler and EventBus together and firing the crawl-lifetime
// events around each phase. It has no export or import operation;
// cmd/collector's storeexport and storeimport work on the store
// directly.
type LifecycleController struct {
	cfg       LifecycleConfig
	scheduler *Scheduler
	progress  *crawl.ProgressReporter
}

// NewLifecycleController constructs a LifecycleController from cfg.
func NewLifecycleController(cfg LifecycleConfig) *LifecycleController {
	progress := crawl.NewProgressReporter(defaultProgressInterval, func(percent, processed, total int) {
		if cfg.Logger != nil {
			cfg.Logger.Info(context.Background(), "progress",
				"percent", percent, "processed", processed, "total", total)
		}
	})
	scheduler := NewScheduler(SchedulerConfig{
		Workers:      cfg.Workers,
		MaxDocuments: cfg.MaxDocuments,
		Store:        cfg.Store,
		Driver:       cfg.Driver,
		Progress:     progress,
		Logger:       cfg.Logger,
	})
	return &LifecycleController{cfg: cfg, scheduler: scheduler, progress: progress}
}

// Run executes one full crawl: init (store open + resume detection),
// the main worker pass over seeds, the orphan sweep, and a single
// committer.Commit call, firing the fixed CRAWLER_* event vocabulary
// around each phase. It returns a non-nil error only for a fatal,
// crawl-aborting condition: a store I/O failure, a fatal error from a
// worker or the orphan pass, or a failed committer Commit.
func (c *LifecycleController) Run(ctx context.Context, seeds []*crawl.Reference) error {
	c.publish(crawl.Event{Type: crawl.EventCrawlerInitBegin})
	resuming, err := c.cfg.Store.Open(ctx, c.cfg.Resume)
	if err != nil {
		return crawl.NewStoreIOError("open", err)
	}
	c.publish(crawl.Event{Type: crawl.EventCrawlerInitEnd})
	if c.cfg.Logger != nil {
		c.cfg.Logger.Info(ctx, "crawler initialized", "crawler_id", c.cfg.CrawlerID, "resuming", resuming)
	}

	if !resuming {
		for _, seed := range seeds {
			if err := c.cfg.Store.Queue(ctx, seed); err != nil {
				return crawl.NewStoreIOError("queue seed", err)
			}
		}
	}

	c.publish(crawl.Event{Type: crawl.EventCrawlerRunBegin})
	runErr := c.scheduler.Run(ctx, false)
	c.publish(crawl.Event{Type: crawl.EventCrawlerRunEnd})

	if runErr == nil && !c.scheduler.Stopped() {
		orphanHandler := NewOrphanHandler(OrphanHandlerConfig{
			Strategy:     c.cfg.OrphanStrategy,
			Store:        c.cfg.Store,
			Capabilities: c.cfg.Capabilities,
			Scheduler:    c.scheduler,
			MaxDocuments: c.cfg.MaxDocuments,
			Logger:       c.cfg.Logger,
		})
		if err := orphanHandler.Handle(ctx); err != nil && runErr == nil {
			runErr = err
		}
	}

	if c.cfg.Committer != nil {
		if err := c.cfg.Committer.Commit(ctx); err != nil {
			if c.cfg.Logger != nil {
				c.cfg.Logger.Error(ctx, "committer commit failed", "error", err)
			}
			if runErr == nil {
				runErr = err
			}
		}
	}

	c.cleanupDownloadDir(ctx)

	return runErr
}

// cleanupDownloadDir best-effort prunes empty directories left under
// this crawler's downloads directory after a pass. A fetcher that
// creates a directory per reference but ends up not writing anything
// into it (e.g. every variation was rejected) otherwise leaves an
// ever-growing stack of empty directories behind.
func (c *LifecycleController) cleanupDownloadDir(ctx context.Context) {
	root := filepath.Join(c.cfg.WorkDir, SafeCrawlerDir(c.cfg.CrawlerID), "downloads")
	if err := deleteEmptyDirs(root); err != nil && c.cfg.Logger != nil {
		c.cfg.Logger.Warn(ctx, "download directory cleanup failed", "error", err)
	}
}

// deleteEmptyDirs recursively removes empty directories under root,
// root itself included. A missing root is not an error.
func deleteEmptyDirs(root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	empty := true
	for _, entry := range entries {
		if !entry.IsDir() {
			empty = false
			continue
		}
		child := filepath.Join(root, entry.Name())
		if err := deleteEmptyDirs(child); err != nil {
			return err
		}
		if _, err := os.Stat(child); err == nil {
			// The recursive call left it in place, so it still has content.
			empty = false
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	if empty {
		return os.Remove(root)
	}
	return nil
}

// Stop requests the running crawl to stop after in-flight references
// complete, firing CRAWLER_STOP_BEGIN/_END around the request.
func (c *LifecycleController) Stop(ctx context.Context) {
	c.publish(crawl.Event{Type: crawl.EventCrawlerStopBegin})
	c.scheduler.Stop()
	c.publish(crawl.Event{Type: crawl.EventCrawlerStopEnd})
}

// Clean destructively wipes this crawler's persisted state (store and
// downloads directory), firing CRAWLER_CLEAN_BEGIN/_END around the
// removal. The crawler must not be running.
func (c *LifecycleController) Clean(ctx context.Context) error {
	c.publish(crawl.Event{Type: crawl.EventCrawlerCleanBegin})
	defer c.publish(crawl.Event{Type: crawl.EventCrawlerCleanEnd})

	if err := c.cfg.Store.Close(); err != nil && c.cfg.Logger != nil {
		c.cfg.Logger.Warn(ctx, "error closing store before clean", "error", err)
	}
	dir := filepath.Join(c.cfg.WorkDir, SafeCrawlerDir(c.cfg.CrawlerID))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clean crawler %q work directory: %w", c.cfg.CrawlerID, err)
	}
	return nil
}

func (c *LifecycleController) publish(ev crawl.Event) {
	if c.cfg.Bus != nil {
		ev.RunID = c.cfg.RunID
		c.cfg.Bus.Publish(ev)
	}
}

// SafeCrawlerDir sanitizes a crawler ID for use as a single path
// segment, replacing path separators so a maliciously or accidentally
// slash-containing ID cannot escape the work directory.
func SafeCrawlerDir(crawlerID string) string {
	safe := make([]rune, 0, len(crawlerID))
	for _, r := range crawlerID {
		switch r {
		case '/', '\\', 0:
			safe = append(safe, '_')
		default:
			safe = append(safe, r)
		}
	}
	if len(safe) == 0 {
		return "_"
	}
	return string(safe)
}
