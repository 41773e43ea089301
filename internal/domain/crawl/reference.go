// Package crawl contains the domain model of the crawl engine core: the
// Reference aggregate, the CrawlStore port, the pipeline collaborator
// interfaces, and the pure policy types (SpoilPolicy, OrphanStrategy)
// that the application layer drives.
package crawl

// State is the lifecycle state of a Reference. It forms a small,
// closed vocabulary rather than an open string so that isGoodState and
// isNewOrModified can be total functions.
type State string

const (
	// StateNew indicates the reference has never been crawled before.
	StateNew State = "NEW"
	// StateModified indicates the reference was crawled before and has changed.
	StateModified State = "MODIFIED"
	// StateUnmodified indicates the reference matches a previously cached checksum.
	StateUnmodified State = "UNMODIFIED"
	// StateRejected indicates the reference was turned away by the importer
	// pipeline (a filter, a bad import) without being an outright error.
	StateRejected State = "REJECTED"
	// StateDeleted indicates the reference was removed via the committer.
	StateDeleted State = "DELETED"
	// StateError indicates an exception surfaced while processing the reference.
	StateError State = "ERROR"
	// StateBadStatus indicates a fetch or transport-level failure status.
	StateBadStatus State = "BAD_STATUS"
	// StateNotFound indicates the resource no longer exists at its identity.
	StateNotFound State = "NOT_FOUND"
)

// IsNewOrModified reports whether the state represents a reference the
// importer pipeline actually produced fresh content for.
func (s State) IsNewOrModified() bool { return s == StateNew || s == StateModified }

// IsGoodState reports whether the state is one of the "good" outcomes
// this run: NEW, MODIFIED or UNMODIFIED. REJECTED and DELETED are
// neither good nor bad-for-spoiling purposes; ERROR/BAD_STATUS/NOT_FOUND
// are bad.
func (s State) IsGoodState() bool {
	return s == StateNew || s == StateModified || s == StateUnmodified
}

// IsBadState reports whether the state should be routed through the
// SpoilPolicy during finalize.
func (s State) IsBadState() bool {
	return s == StateError || s == StateBadStatus || s == StateNotFound
}

// Reference is the unit of crawl work: a stable identity plus whatever
// state has accumulated about it during the current run. It is mutated
// only by the worker holding it while it is in the store's active
// partition, and becomes immutable once finalized into a processed
// partition.
type Reference struct {
	reference             string
	parentRootReference   string
	isRootParentReference bool

	state State

	metaChecksum    string
	contentChecksum string

	contentType string
	crawlDate   int64 // unix seconds; zero means unset

	// metadata carries small collector-agnostic key/value annotations.
	// The is-new-crawl flag is not kept here; it is
	// PipelineContext.IsNewCrawl.
	metadata map[string]string
}

// NewReference creates a root reference with no parent.
func NewReference(reference string) *Reference {
	return &Reference{
		reference:             reference,
		isRootParentReference: true,
		metadata:              make(map[string]string),
	}
}

// NewEmbeddedReference creates a reference discovered during import,
// linked back to the root of the parent that produced it. Roots have
// isRootParentReference = true; every embedded child inherits the
// root's identity as its parentRootReference and is itself never a root.
func NewEmbeddedReference(reference string, parent *Reference) *Reference {
	root := parent.reference
	if parent.parentRootReference != "" {
		root = parent.parentRootReference
	}
	return &Reference{
		reference:           reference,
		parentRootReference: root,
		metadata:            make(map[string]string),
	}
}

// ReconstructReference rebuilds a Reference from persisted field values
// without enforcing creation-time invariants (e.g. it accepts an
// already-set state). CrawlStore implementations use it to rebuild
// entries from durable storage, and the CLI's storeimport uses it to
// rebuild entries from an export file.
func ReconstructReference(
	reference string,
	parentRootReference string,
	isRootParentReference bool,
	state State,
	metaChecksum string,
	contentChecksum string,
	contentType string,
	crawlDate int64,
	metadata map[string]string,
) *Reference {
	if metadata == nil {
		metadata = make(map[string]string)
	}
	return &Reference{
		reference:             reference,
		parentRootReference:   parentRootReference,
		isRootParentReference: isRootParentReference,
		state:                 state,
		metaChecksum:          metaChecksum,
		contentChecksum:       contentChecksum,
		contentType:           contentType,
		crawlDate:             crawlDate,
		metadata:              metadata,
	}
}

// Clone returns a defensive, independent copy of the reference. Used by
// CrawlStore.queue to avoid aliasing caller-owned references.
func (r *Reference) Clone() *Reference {
	if r == nil {
		return nil
	}
	metadata := make(map[string]string, len(r.metadata))
	for k, v := range r.metadata {
		metadata[k] = v
	}
	clone := *r
	clone.metadata = metadata
	return &clone
}

// Reference returns the stable identity key.
func (r *Reference) Reference() string { return r.reference }

// ParentRootReference returns the top-level reference this one was
// discovered from, or "" for roots.
func (r *Reference) ParentRootReference() string { return r.parentRootReference }

// IsRootParentReference reports whether this reference is itself a root.
func (r *Reference) IsRootParentReference() bool { return r.isRootParentReference }

// State returns the current lifecycle state.
func (r *Reference) State() State { return r.state }

// SetState sets the current lifecycle state.
func (r *Reference) SetState(s State) { r.state = s }

// MetaChecksum returns the last resolved metadata checksum, if any.
func (r *Reference) MetaChecksum() string { return r.metaChecksum }

// SetMetaChecksum records a newly computed metadata checksum.
func (r *Reference) SetMetaChecksum(sum string) { r.metaChecksum = sum }

// ContentChecksum returns the last resolved content checksum, if any.
func (r *Reference) ContentChecksum() string { return r.contentChecksum }

// SetContentChecksum records a newly computed content checksum.
func (r *Reference) SetContentChecksum(sum string) { r.contentChecksum = sum }

// ContentType returns the content type set by the pipeline, if any.
func (r *Reference) ContentType() string { return r.contentType }

// SetContentType sets the content type.
func (r *Reference) SetContentType(ct string) { r.contentType = ct }

// CrawlDate returns the unix timestamp the pipeline recorded, or zero
// if unset.
func (r *Reference) CrawlDate() int64 { return r.crawlDate }

// SetCrawlDate sets the crawl timestamp.
func (r *Reference) SetCrawlDate(t int64) { r.crawlDate = t }

// Metadata exposes the reference's small side-channel key/value store.
// Callers must not retain the returned map across a Clone.
func (r *Reference) Metadata() map[string]string { return r.metadata }

// SetMetadata sets a single metadata key.
func (r *Reference) SetMetadata(key, value string) {
	if r.metadata == nil {
		r.metadata = make(map[string]string)
	}
	r.metadata[key] = value
}

// copyOverNulls copies contentType, crawlDate and both checksums from
// cached into r wherever r's own value is unset; a nil cached is a
// no-op. The driver's finalize step in internal/app/crawl applies the
// same field-by-field rule through its own copyOverNulls helper, for
// references whose state is not new-or-modified.
func (r *Reference) copyOverNulls(cached *Reference) {
	if cached == nil {
		return
	}
	if r.contentType == "" {
		r.contentType = cached.contentType
	}
	if r.crawlDate == 0 {
		r.crawlDate = cached.crawlDate
	}
	if r.metaChecksum == "" {
		r.metaChecksum = cached.metaChecksum
	}
	if r.contentChecksum == "" {
		r.contentChecksum = cached.contentChecksum
	}
}
