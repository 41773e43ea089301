package crawl

import "context"

// CrawlStore is the persistent, partitioned reference-state contract
// every store implementation honors. Implementations must make queue,
// nextQueued and processed atomic with respect to every other
// partition move, and must survive a crash such that Open(resume=true)
// afterward yields a valid configuration.
type CrawlStore interface {
	// Queue inserts a defensive copy of ref into the queued partition.
	// It is idempotent on ref.Reference(): a second Queue call for the
	// same key overwrites non-key fields of the existing queued entry
	// rather than creating a duplicate.
	Queue(ctx context.Context, ref *Reference) error

	// NextQueued atomically removes and returns the head of the queued
	// partition, inserting it into active. It returns (nil, nil) when
	// the queue is empty. Ordering across concurrent callers is
	// unspecified but must be starvation-free.
	NextQueued(ctx context.Context) (*Reference, error)

	// GetCached returns the cached entry for reference, or (nil, nil)
	// if none exists.
	GetCached(ctx context.Context, reference string) (*Reference, error)

	// Processed atomically removes reference from active and from
	// cached, then inserts ref into processedValid if ref.State() is a
	// good state, else into processedInvalid.
	Processed(ctx context.Context, ref *Reference) error

	// QueuedCount, ActiveCount and ProcessedCount return the current
	// size of the respective partitions (processed = valid + invalid).
	QueuedCount(ctx context.Context) (int, error)
	ActiveCount(ctx context.Context) (int, error)
	ProcessedCount(ctx context.Context) (int, error)

	// IsQueueEmpty and IsCacheEmpty are convenience predicates.
	IsQueueEmpty(ctx context.Context) (bool, error)
	IsCacheEmpty(ctx context.Context) (bool, error)

	// CachedIterable exposes read-only iteration over the cached
	// partition, used by orphan handling.
	CachedIterable(ctx context.Context) (CachedIterator, error)

	// SeedCached inserts a defensive copy of ref directly into the
	// cached partition, bypassing queue/active/processed entirely. It
	// exists for restoring a previously exported cache baseline (see
	// the CLI's storeimport subcommand); ordinary crawl operation never
	// calls it. Idempotent on ref.Reference(), same as Queue.
	SeedCached(ctx context.Context, ref *Reference) error

	// Open performs the start-of-run reconciliation and reports whether
	// the run is resuming prior in-flight work.
	//
	// Resume path: every active entry moves back to queued; queued,
	// cached, processedValid and processedInvalid are left intact.
	//
	// Fresh path: cached, active, queued and processedInvalid are
	// cleared; processedValid is drained into cached, keeping only
	// entries whose state is good.
	Open(ctx context.Context, resume bool) (resuming bool, err error)

	// Close flushes and releases the store's resources.
	Close() error
}

// CachedIterator is a read-only cursor over the cached partition.
// Implementations need not be safe to use from more than one goroutine
// at a time.
type CachedIterator interface {
	// Next advances the cursor and reports whether a value is available.
	Next() bool
	// Reference returns the current cached reference. Only valid after
	// a call to Next returned true.
	Reference() *Reference
	// Err returns any error encountered during iteration.
	Err() error
	// Close releases resources held by the iterator.
	Close() error
}
