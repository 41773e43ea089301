// Package crawl contains the application-layer orchestration built on
// top of the crawl domain: the Driver's per-reference state machine,
// the worker-pool Scheduler, orphan handling and the lifecycle
// controller. It wires the domain ports together and drives them from
// goroutines.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/norcore/collector-core/internal/domain/crawl"
	"github.com/norcore/collector-core/internal/infra/logging"
)

// Driver executes the lifecycle every dequeued reference goes through:
// wrap document, run the importer pipeline, route the response
// (including nested embedded references), run the committer pipeline,
// and finalize. It holds no per-call mutable state, so a single Driver
// is shared by every worker goroutine in a Scheduler.
type Driver struct {
	store        crawl.CrawlStore
	importer     crawl.ImporterPipeline
	committerP   crawl.CommitterPipeline
	committer    crawl.Committer
	spoilPolicy  crawl.SpoilPolicy
	capabilities crawl.Capabilities
	bus          crawl.EventBus
	logger       *logging.Logger
	runID        string

	// isFatal reports whether an error's type is in the configured
	// stopOnExceptions list.
	isFatal func(error) bool
}

// Config bundles a Driver's collaborators. Fields left nil get a safe
// default (NoopCapabilities, DefaultSpoilFallback via
// crawl.NewGenericSpoilPolicy).
type Config struct {
	Store             crawl.CrawlStore
	Importer          crawl.ImporterPipeline
	CommitterPipeline crawl.CommitterPipeline
	Committer         crawl.Committer
	SpoilPolicy       crawl.SpoilPolicy
	Capabilities      crawl.Capabilities
	Bus               crawl.EventBus
	Logger            *logging.Logger
	IsFatal           func(error) bool

	// RunID correlates every event this Driver publishes with the
	// crawl run it belongs to. Set once at construction; a Driver is
	// scoped to a single run in practice even though nothing here
	// prevents reuse across runs with a new RunID.
	RunID string
}

// NewDriver constructs a Driver from cfg.
func NewDriver(cfg Config) *Driver {
	d := &Driver{
		store:        cfg.Store,
		importer:     cfg.Importer,
		committerP:   cfg.CommitterPipeline,
		committer:    cfg.Committer,
		spoilPolicy:  cfg.SpoilPolicy,
		capabilities: cfg.Capabilities,
		bus:          cfg.Bus,
		logger:       cfg.Logger,
		runID:        cfg.RunID,
		isFatal:      cfg.IsFatal,
	}
	if d.spoilPolicy == nil {
		d.spoilPolicy = crawl.NewGenericSpoilPolicy()
	}
	if d.capabilities == nil {
		d.capabilities = crawl.NoopCapabilities{}
	}
	if d.isFatal == nil {
		d.isFatal = func(error) bool { return false }
	}
	if d.importer == nil {
		// Fetch/import implementations are a collector's responsibility,
		// not the engine's; an unconfigured importer declines every
		// reference rather than panicking on a nil call.
		d.importer = crawl.ImporterPipelineFunc(func(*crawl.PipelineContext) (*crawl.ImporterResponse, error) {
			return nil, nil
		})
	}
	return d
}

// fatalErr wraps an error to signal that it matched the configured
// fatal-exception list and must propagate to the Scheduler, after the
// reference that triggered it has been finalized, to trigger
// crawl-wide stop.
type fatalErr struct{ err error }

func (f *fatalErr) Error() string { return f.err.Error() }
func (f *fatalErr) Unwrap() error { return f.err }

// IsFatal reports whether err (or something it wraps) was marked fatal
// by a Driver, meaning the Scheduler that received it must stop the
// crawl rather than continue dequeuing work.
func IsFatal(err error) bool {
	var f *fatalErr
	return errors.As(err, &f)
}

// ProcessReference drives ref through the full state machine. It
// returns a non-nil error only when that error must stop the whole
// crawl (a fatal exception type, or a store I/O failure querying the
// cache or marking the reference processed); every ordinary
// per-reference failure is absorbed here,
// mapped onto ref's state, and finalized without propagating.
func (d *Driver) ProcessReference(ctx context.Context, ref *crawl.Reference, deleteMode bool) error {
	if d.logger != nil {
		start := time.Now()
		defer func() {
			d.logger.Debug(ctx, "processed reference", "reference", ref.Reference(), "duration", time.Since(start))
		}()
	}

	cached, err := d.store.GetCached(ctx, ref.Reference())
	if err != nil {
		return fmt.Errorf("resolve cached reference for %q: %w", ref.Reference(), err)
	}

	pctx := &crawl.PipelineContext{
		Context:    ctx,
		Reference:  ref,
		Cached:     cached,
		IsNewCrawl: cached == nil,
		Delete:     deleteMode,
	}
	pctx.Document = d.capabilities.WrapDocument(pctx, nil)

	if deleteMode {
		d.deleteReference(pctx)
		return d.finalize(pctx)
	}

	resp, err := d.importer.Run(pctx)
	if err != nil {
		return d.handlePipelineError(pctx, err)
	}

	return d.processImportResponse(pctx, resp)
}

// handlePipelineError maps an error raised anywhere inside the pipeline
// onto ERROR state and finalizes the reference. If the error's type is
// configured as fatal, it is re-thrown (wrapped) after finalize so the
// caller stops the crawl.
func (d *Driver) handlePipelineError(pctx *crawl.PipelineContext, cause error) error {
	ref := pctx.Reference
	ref.SetState(crawl.StateError)
	d.publish(crawl.Event{
		Type:      crawl.EventRejectedError,
		Reference: ref,
		Subject:   crawl.SubjectFromError(cause),
	})
	if d.logger != nil {
		d.logger.Error(pctx.Context, "could not process reference",
			"reference", ref.Reference(), "error", cause)
	}

	finalizeErr := d.finalize(pctx)
	if d.isFatal(cause) {
		return &fatalErr{err: crawl.NewFatalPipelineError(ref.Reference(), cause)}
	}
	return finalizeErr
}

// processImportResponse routes a successful/failed ImporterResponse
// through commit-or-reject, finalizes the reference, then recurses into
// any nested (embedded) responses.
func (d *Driver) processImportResponse(pctx *crawl.PipelineContext, resp *crawl.ImporterResponse) error {
	ref := pctx.Reference

	if resp == nil {
		// When the importer pipeline declines to produce a response for
		// an already-new-or-modified reference, the reference is
		// rejected but no REJECTED_IMPORT event fires; a previous stage
		// should already have fired something if this is truly
		// unexpected. Whether this case deserves its own rejection event
		// is an open design point; none is fired.
		if ref.State().IsNewOrModified() {
			ref.SetState(crawl.StateRejected)
		}
		return d.finalize(pctx)
	}

	pctx.Document = resp.Document

	if !resp.Success {
		ref.SetState(crawl.StateRejected)
		d.publish(crawl.Event{Type: crawl.EventRejectedImport, Reference: ref, Subject: crawl.SubjectFromResponse(resp)})
		if d.logger != nil {
			d.logger.Debug(pctx.Context, "import unsuccessful",
				"reference", ref.Reference(), "status", resp.StatusDescription)
		}
		finalizeErr := d.finalize(pctx)
		return d.processChildren(pctx, resp, finalizeErr)
	}

	d.publish(crawl.Event{Type: crawl.EventDocumentImported, Reference: ref, Subject: crawl.SubjectFromResponse(resp)})
	pctx.Document = d.capabilities.WrapDocument(pctx, resp.Document)

	var commitErr error
	if d.committerP != nil {
		commitErr = d.committerP.Commit(pctx)
	}
	if commitErr != nil {
		propagate := d.handlePipelineError(pctx, commitErr)
		return d.processChildren(pctx, resp, propagate)
	}
	d.publish(crawl.Event{Type: crawl.EventDocumentCommittedAdd, Reference: ref})

	finalizeErr := d.finalize(pctx)
	return d.processChildren(pctx, resp, finalizeErr)
}

// processChildren recurses processImportResponse over resp's nested
// responses, each wrapped in its own embedded Reference with parent
// linkage, processed within the current worker rather than requeued.
// firstErr, if non-nil, is preserved and returned even if every child
// succeeds, so a fatal error from an earlier stage is never silently
// dropped.
func (d *Driver) processChildren(pctx *crawl.PipelineContext, resp *crawl.ImporterResponse, firstErr error) error {
	for _, child := range resp.NestedResponses {
		if child == nil {
			continue
		}
		embeddedRef := crawl.NewEmbeddedReference(childReference(child), pctx.Reference)
		embeddedRef = d.capabilities.CreateEmbeddedReference(pctx, embeddedRef)

		childCtx := &crawl.PipelineContext{
			Context:    pctx.Context,
			Reference:  embeddedRef,
			Cached:     pctx.Cached,
			IsNewCrawl: pctx.IsNewCrawl,
			Delete:     pctx.Delete,
			Orphan:     pctx.Orphan,
		}
		if err := d.processImportResponse(childCtx, child); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func childReference(resp *crawl.ImporterResponse) string {
	if resp.Document != nil {
		return resp.Document.Reference()
	}
	return ""
}

// finalize is the idempotent terminal step every reference passes through exactly once.
func (d *Driver) finalize(pctx *crawl.PipelineContext) error {
	ref := pctx.Reference

	if ref.State() == "" {
		if d.logger != nil {
			d.logger.Warn(pctx.Context, "reference status unknown, assuming bad status",
				"reference", ref.Reference())
		}
		ref.SetState(crawl.StateBadStatus)
	}

	d.capabilities.BeforeFinalize(pctx)

	if !ref.State().IsNewOrModified() && pctx.Cached != nil {
		copyOverNulls(ref, pctx.Cached)
	}

	if !ref.State().IsGoodState() && ref.State() != crawl.StateDeleted {
		d.applySpoilPolicy(pctx)
	}

	if err := d.store.Processed(pctx.Context, ref); err != nil {
		return fmt.Errorf("mark reference %q processed: %w", ref.Reference(), err)
	}
	if err := d.capabilities.MarkReferenceVariationsAsProcessed(pctx.Context, ref, d.store); err != nil {
		if d.logger != nil {
			d.logger.Error(pctx.Context, "could not mark reference variations as processed",
				"reference", ref.Reference(), "error", err)
		}
	}

	if pctx.Document != nil {
		if err := pctx.Document.Dispose(); err != nil && d.logger != nil {
			d.logger.Error(pctx.Context, "could not dispose of document resources",
				"reference", ref.Reference(), "error", err)
		}
	}
	return nil
}

// applySpoilPolicy runs the configured SpoilPolicy against a bad-state reference.
func (d *Driver) applySpoilPolicy(pctx *crawl.PipelineContext) {
	ref := pctx.Reference
	action := d.spoilPolicy.Resolve(ref.Reference(), ref.State())

	switch action {
	case crawl.SpoilIgnore:
		if d.logger != nil {
			d.logger.Debug(pctx.Context, "ignoring spoiled reference", "reference", ref.Reference())
		}
	case crawl.SpoilDelete:
		if pctx.Cached != nil && pctx.Cached.State() != crawl.StateDeleted {
			d.deleteReference(pctx)
		}
	case crawl.SpoilGraceOnce:
		switch {
		case pctx.Cached == nil:
			// A missing cached entry is deleted immediately rather than
			// left as a no-op.
			d.deleteReference(pctx)
		case pctx.Cached.State() == crawl.StateDeleted:
			// already gone; nothing to do.
		case pctx.Cached.State().IsGoodState():
			if d.logger != nil {
				d.logger.Debug(pctx.Context, "grace period applied to spoiled reference",
					"reference", ref.Reference())
			}
		default:
			d.deleteReference(pctx)
		}
	}
}

// deleteReference issues the commit-side delete and marks ref DELETED.
func (d *Driver) deleteReference(pctx *crawl.PipelineContext) {
	ref := pctx.Reference
	ref.SetState(crawl.StateDeleted)
	if d.committer != nil {
		if err := d.committer.Remove(pctx.Context, ref.Reference()); err != nil && d.logger != nil {
			d.logger.Error(pctx.Context, "could not remove reference from committer",
				"reference", ref.Reference(), "error", err)
		}
	}
	d.publish(crawl.Event{Type: crawl.EventDocumentCommittedRemove, Reference: ref})
}

func (d *Driver) publish(ev crawl.Event) {
	if d.bus != nil {
		ev.RunID = d.runID
		d.bus.Publish(ev)
	}
}

// copyOverNulls fills in ref's contentType, crawlDate and checksums
// from cached wherever ref's own value is unset.
func copyOverNulls(ref, cached *crawl.Reference) {
	if ref.ContentType() == "" {
		ref.SetContentType(cached.ContentType())
	}
	if ref.CrawlDate() == 0 {
		ref.SetCrawlDate(cached.CrawlDate())
	}
	if ref.MetaChecksum() == "" {
		ref.SetMetaChecksum(cached.MetaChecksum())
	}
	if ref.ContentChecksum() == "" {
		ref.SetContentChecksum(cached.ContentChecksum())
	}
}
