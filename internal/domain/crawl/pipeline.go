package crawl

import "context"

// Document is the minimal wrapped-document contract the engine passes
// through the pipeline. Concrete collectors supply richer types behind
// this interface (e.g. an HTTP response body, a filesystem handle);
// the engine only needs to be able to dispose of it.
type Document interface {
	// Reference returns the identity the document was fetched for.
	Reference() string
	// Dispose releases any underlying resources (buffers, temp files,
	// open handles). Must be safe to call more than once.
	Dispose() error
}

// ImporterResponse is the outcome of running the importer pipeline on
// a wrapped document.
type ImporterResponse struct {
	Document          Document
	Success           bool
	StatusDescription string
	NestedResponses   []*ImporterResponse
}

// PipelineContext carries everything a single reference's traversal of
// fetch->import->commit needs, passed explicitly rather than stashed on
// an ambient per-goroutine singleton.
type PipelineContext struct {
	Context context.Context

	Reference *Reference
	Cached    *Reference
	Document  Document

	// IsNewCrawl records whether Cached was nil when this reference
	// began processing.
	IsNewCrawl bool

	// Delete is true while a delete-mode (orphan expulsion) pass is
	// routing every dequeued reference straight to DeleteReference.
	Delete bool
	// Orphan marks a reference reprocessed by an OrphanProcess sweep.
	// The driver copies it into embedded children's contexts, but
	// neither the Scheduler nor the OrphanHandler sets it, so it is
	// false on every context the engine builds for a dequeued reference.
	Orphan bool
}

// ImporterPipeline runs fetch + import + link-extraction for a single
// reference and returns the resulting response, or (nil, nil) if the
// pipeline declined to produce one (e.g. filtered before fetch).
type ImporterPipeline interface {
	Run(ctx *PipelineContext) (*ImporterResponse, error)
}

// ImporterPipelineFunc adapts a function to an ImporterPipeline.
type ImporterPipelineFunc func(ctx *PipelineContext) (*ImporterResponse, error)

// Run implements ImporterPipeline.
func (f ImporterPipelineFunc) Run(ctx *PipelineContext) (*ImporterResponse, error) {
	return f(ctx)
}

// CommitterPipeline performs the add-side commit for a successfully
// imported document.
type CommitterPipeline interface {
	Commit(ctx *PipelineContext) error
}

// CommitterPipelineFunc adapts a function to a CommitterPipeline.
type CommitterPipelineFunc func(ctx *PipelineContext) error

// Commit implements CommitterPipeline.
func (f CommitterPipelineFunc) Commit(ctx *PipelineContext) error { return f(ctx) }

// Committer is the shared, thread-safe commit sink. Add/Remove may be
// invoked concurrently by many workers; Commit is called exactly once,
// after every worker has terminated.
type Committer interface {
	Add(ctx context.Context, reference string, doc Document) error
	Remove(ctx context.Context, reference string) error
	Commit(ctx context.Context) error
}

// DocumentChecksummer computes a checksum for a document, optionally
// scoped to a named field (e.g. a specific metadata property). Concrete
// checksum algorithms are out of scope for the engine core.
type DocumentChecksummer interface {
	Checksum(ctx context.Context, doc Document, field string) (string, error)
}

// Capabilities is the small set of collector-specific extension points
// the engine invokes, held as a single interface value rather than a
// deep subclass hook hierarchy.
type Capabilities interface {
	// WrapDocument gives the collector a chance to enrich or replace
	// the wrapped document before the importer pipeline runs.
	WrapDocument(ctx *PipelineContext, doc Document) Document

	// CreateEmbeddedReference builds the child Reference for a nested
	// importer response, with parent linkage already applied by the
	// driver via NewEmbeddedReference; collectors may further annotate it.
	CreateEmbeddedReference(ctx *PipelineContext, embedded *Reference) *Reference

	// MarkReferenceVariationsAsProcessed lets a collector mark
	// reference-equivalent aliases (e.g. URL redirect chains, canonical
	// forms) as processed alongside the primary reference.
	MarkReferenceVariationsAsProcessed(ctx context.Context, ref *Reference, store CrawlStore) error

	// BeforeFinalize is the optional extension point invoked by
	// finalize after an unset state has been defaulted to BAD_STATUS,
	// and before cached fields are copied over and the spoil policy runs.
	BeforeFinalize(ctx *PipelineContext)

	// ExecuteQueuePipeline lets a collector re-apply filters/dedupe
	// before an orphan candidate is queued for reprocessing.
	ExecuteQueuePipeline(ctx context.Context, ref *Reference, store CrawlStore) error
}

// NoopCapabilities is a Capabilities implementation that performs no
// collector-specific behavior, suitable as a default or for tests.
type NoopCapabilities struct{}

func (NoopCapabilities) WrapDocument(_ *PipelineContext, doc Document) Document { return doc }

func (NoopCapabilities) CreateEmbeddedReference(_ *PipelineContext, embedded *Reference) *Reference {
	return embedded
}

func (NoopCapabilities) MarkReferenceVariationsAsProcessed(context.Context, *Reference, CrawlStore) error {
	return nil
}

func (NoopCapabilities) BeforeFinalize(*PipelineContext) {}

func (NoopCapabilities) ExecuteQueuePipeline(ctx context.Context, ref *Reference, store CrawlStore) error {
	return store.Queue(ctx, ref)
}
