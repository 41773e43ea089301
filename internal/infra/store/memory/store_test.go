package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/norcore/collector-core/internal/domain/crawl"
)

func TestQueueThenNextQueued_ReturnsEqualReferenceAndMovesToActive(t *testing.T) {
	ctx := context.Background()
	s := New()

	ref := crawl.NewReference("a")
	require.NoError(t, s.Queue(ctx, ref))

	got, err := s.NextQueued(ctx)
	require.NoError(t, err)
	require.Equal(t, "a", got.Reference())

	active, _ := s.ActiveCount(ctx)
	require.Equal(t, 1, active)
	queued, _ := s.QueuedCount(ctx)
	require.Equal(t, 0, queued)
}

func TestQueue_IdempotentOnSameKey(t *testing.T) {
	ctx := context.Background()
	s := New()

	first := crawl.NewReference("a")
	first.SetContentType("text/plain")
	require.NoError(t, s.Queue(ctx, first))

	second := crawl.NewReference("a")
	second.SetContentType("text/html")
	require.NoError(t, s.Queue(ctx, second))

	count, _ := s.QueuedCount(ctx)
	require.Equal(t, 1, count, "queueing the same key twice must not duplicate the entry")

	got, err := s.NextQueued(ctx)
	require.NoError(t, err)
	require.Equal(t, "text/html", got.ContentType(), "last write wins for non-key fields")
}

func TestNextQueued_FIFOOrder(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, ref := range []string{"a", "b", "c"} {
		require.NoError(t, s.Queue(ctx, crawl.NewReference(ref)))
	}

	for _, want := range []string{"a", "b", "c"} {
		got, err := s.NextQueued(ctx)
		require.NoError(t, err)
		require.Equal(t, want, got.Reference())
	}
}

func TestProcessed_RoutesByGoodState(t *testing.T) {
	ctx := context.Background()
	s := New()

	good := crawl.NewReference("good")
	good.SetState(crawl.StateNew)
	require.NoError(t, s.Queue(ctx, good))
	_, err := s.NextQueued(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Processed(ctx, good))

	bad := crawl.NewReference("bad")
	bad.SetState(crawl.StateError)
	require.NoError(t, s.Queue(ctx, bad))
	_, err = s.NextQueued(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Processed(ctx, bad))

	processed, _ := s.ProcessedCount(ctx)
	require.Equal(t, 2, processed)
	active, _ := s.ActiveCount(ctx)
	require.Equal(t, 0, active)
}

func TestOpen_Resume_MovesActiveBackToQueued(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, ref := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.Queue(ctx, crawl.NewReference(ref)))
	}
	// Simulate a crash mid-run: a and b dequeued into active, never finalized.
	_, _ = s.NextQueued(ctx)
	_, _ = s.NextQueued(ctx)

	resuming, err := s.Open(ctx, true)
	require.NoError(t, err)
	require.True(t, resuming)

	active, _ := s.ActiveCount(ctx)
	require.Equal(t, 0, active, "invariant: after resume, active is empty")
	queued, _ := s.QueuedCount(ctx)
	require.Equal(t, 4, queued)
}

func TestOpen_Fresh_PromotesGoodProcessedValidToCached(t *testing.T) {
	ctx := context.Background()
	s := New()

	good := crawl.NewReference("good")
	good.SetState(crawl.StateNew)
	require.NoError(t, s.Queue(ctx, good))
	_, _ = s.NextQueued(ctx)
	require.NoError(t, s.Processed(ctx, good))

	bad := crawl.NewReference("bad")
	bad.SetState(crawl.StateError)
	require.NoError(t, s.Queue(ctx, bad))
	_, _ = s.NextQueued(ctx)
	require.NoError(t, s.Processed(ctx, bad))

	resuming, err := s.Open(ctx, false)
	require.NoError(t, err)
	require.False(t, resuming)

	cachedGood, err := s.GetCached(ctx, "good")
	require.NoError(t, err)
	require.NotNil(t, cachedGood)

	cachedBad, err := s.GetCached(ctx, "bad")
	require.NoError(t, err)
	require.Nil(t, cachedBad, "only good-state processedValid entries seed the new cache")

	processed, _ := s.ProcessedCount(ctx)
	require.Equal(t, 0, processed, "fresh open clears processedValid/Invalid")
}

func TestCachedIterable_SnapshotsCurrentEntries(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, ref := range []string{"x", "y"} {
		r := crawl.NewReference(ref)
		r.SetState(crawl.StateNew)
		require.NoError(t, s.Queue(ctx, r))
		_, _ = s.NextQueued(ctx)
		require.NoError(t, s.Processed(ctx, r))
	}
	_, err := s.Open(ctx, false)
	require.NoError(t, err)

	it, err := s.CachedIterable(ctx)
	require.NoError(t, err)
	defer it.Close()

	seen := map[string]bool{}
	for it.Next() {
		seen[it.Reference().Reference()] = true
	}
	require.NoError(t, it.Err())
	require.Equal(t, map[string]bool{"x": true, "y": true}, seen)
}

func TestNextQueued_EmptyQueueReturnsNilNoError(t *testing.T) {
	ctx := context.Background()
	s := New()
	ref, err := s.NextQueued(ctx)
	require.NoError(t, err)
	require.Nil(t, ref)
}
