package filestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/norcore/collector-core/internal/domain/crawl"
)

func TestQueueThenNextQueued_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Queue(ctx, crawl.NewReference("a")))
	require.NoError(t, s.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	count, err := reopened.QueuedCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestOpen_ResumeAfterCrash_MovesActiveBackToQueued(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	for _, ref := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.Queue(ctx, crawl.NewReference(ref)))
	}
	// Simulate a crash: a and b are dequeued into active but the
	// process dies before finalize/Processed runs, and Close is never
	// called (no clean shutdown).
	_, err = s.NextQueued(ctx)
	require.NoError(t, err)
	_, err = s.NextQueued(ctx)
	require.NoError(t, err)

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	resuming, err := reopened.Open(ctx, true)
	require.NoError(t, err)
	require.True(t, resuming)

	active, _ := reopened.ActiveCount(ctx)
	require.Equal(t, 0, active)
	queued, _ := reopened.QueuedCount(ctx)
	require.Equal(t, 4, queued)
}

func TestOpen_FreshAfterCleanShutdown_SeedsCacheFromProcessedValid(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)

	good := crawl.NewReference("good")
	good.SetState(crawl.StateNew)
	require.NoError(t, s.Queue(ctx, good))
	_, err = s.NextQueued(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Processed(ctx, good))

	_, err = s.Open(ctx, false)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	cached, err := reopened.GetCached(ctx, "good")
	require.NoError(t, err)
	require.NotNil(t, cached)
}

func TestCompact_KeepsJournalConsistentAcrossManyMutations(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.Open(ctx, false)
		require.NoError(t, err)
	}
	require.NoError(t, s.Queue(ctx, crawl.NewReference("a")))
	require.NoError(t, s.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	count, err := reopened.QueuedCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
