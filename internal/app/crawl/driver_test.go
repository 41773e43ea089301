package crawl

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/norcore/collector-core/internal/domain/crawl"
	"github.com/norcore/collector-core/internal/infra/store/memory"
)

type fakeDocument struct {
	ref      string
	disposed bool
}

func (d *fakeDocument) Reference() string { return d.ref }
func (d *fakeDocument) Dispose() error    { d.disposed = true; return nil }

type recordingCommitter struct {
	added   []string
	removed []string
	failAdd bool
}

func (c *recordingCommitter) Add(_ context.Context, reference string, _ crawl.Document) error {
	if c.failAdd {
		return errors.New("add failed")
	}
	c.added = append(c.added, reference)
	return nil
}
func (c *recordingCommitter) Remove(_ context.Context, reference string) error {
	c.removed = append(c.removed, reference)
	return nil
}
func (c *recordingCommitter) Commit(context.Context) error { return nil }

type recordingBus struct {
	events []crawl.Event
}

func (b *recordingBus) Subscribe(crawl.EventListener) {}
func (b *recordingBus) Publish(ev crawl.Event)         { b.events = append(b.events, ev) }

func newTestDriver(t *testing.T, store crawl.CrawlStore, importer crawl.ImporterPipeline, committer *recordingCommitter, bus *recordingBus) *Driver {
	t.Helper()
	return NewDriver(Config{
		Store:    store,
		Importer: importer,
		CommitterPipeline: crawl.CommitterPipelineFunc(func(ctx *crawl.PipelineContext) error {
			return committer.Add(ctx.Context, ctx.Reference.Reference(), ctx.Document)
		}),
		Committer: committer,
		Bus:       bus,
	})
}

func TestProcessReference_SuccessfulImport_CommitsAndFinalizesGoodState(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	committer := &recordingCommitter{}
	bus := &recordingBus{}

	importer := crawl.ImporterPipelineFunc(func(pctx *crawl.PipelineContext) (*crawl.ImporterResponse, error) {
		pctx.Reference.SetState(crawl.StateNew)
		return &crawl.ImporterResponse{
			Document: &fakeDocument{ref: pctx.Reference.Reference()},
			Success:  true,
		}, nil
	})

	d := newTestDriver(t, store, importer, committer, bus)
	ref := crawl.NewReference("a")
	require.NoError(t, store.Queue(ctx, ref))
	dequeued, err := store.NextQueued(ctx)
	require.NoError(t, err)

	require.NoError(t, d.ProcessReference(ctx, dequeued, false))

	require.Equal(t, []string{"a"}, committer.added)
	processed, _ := store.ProcessedCount(ctx)
	require.Equal(t, 1, processed)

	var types []crawl.EventType
	for _, ev := range bus.events {
		types = append(types, ev.Type)
	}
	require.Contains(t, types, crawl.EventDocumentImported)
	require.Contains(t, types, crawl.EventDocumentCommittedAdd)
}

func TestProcessReference_UnsuccessfulImport_Rejects(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	committer := &recordingCommitter{}
	bus := &recordingBus{}

	importer := crawl.ImporterPipelineFunc(func(pctx *crawl.PipelineContext) (*crawl.ImporterResponse, error) {
		return &crawl.ImporterResponse{Success: false, StatusDescription: "404"}, nil
	})

	d := newTestDriver(t, store, importer, committer, bus)
	ref := crawl.NewReference("a")
	require.NoError(t, store.Queue(ctx, ref))
	dequeued, _ := store.NextQueued(ctx)

	require.NoError(t, d.ProcessReference(ctx, dequeued, false))
	require.Equal(t, crawl.StateRejected, dequeued.State())
	require.Empty(t, committer.added)
}

func TestProcessReference_CommitFailure_MarksErrorAndIsNotFatalByDefault(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	committer := &recordingCommitter{failAdd: true}
	bus := &recordingBus{}

	importer := crawl.ImporterPipelineFunc(func(pctx *crawl.PipelineContext) (*crawl.ImporterResponse, error) {
		pctx.Reference.SetState(crawl.StateNew)
		return &crawl.ImporterResponse{Document: &fakeDocument{ref: pctx.Reference.Reference()}, Success: true}, nil
	})

	d := newTestDriver(t, store, importer, committer, bus)
	ref := crawl.NewReference("a")
	require.NoError(t, store.Queue(ctx, ref))
	dequeued, _ := store.NextQueued(ctx)

	err := d.ProcessReference(ctx, dequeued, false)
	require.NoError(t, err, "a non-fatal pipeline error must not propagate to the scheduler")
	require.Equal(t, crawl.StateError, dequeued.State())
}

func TestProcessReference_FatalException_PropagatesAfterFinalize(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	committer := &recordingCommitter{}
	bus := &recordingBus{}

	boom := errors.New("boom")
	importer := crawl.ImporterPipelineFunc(func(pctx *crawl.PipelineContext) (*crawl.ImporterResponse, error) {
		return nil, boom
	})

	d := NewDriver(Config{
		Store:     store,
		Importer:  importer,
		Committer: committer,
		Bus:       bus,
		IsFatal:   func(err error) bool { return errors.Is(err, boom) },
	})
	ref := crawl.NewReference("a")
	require.NoError(t, store.Queue(ctx, ref))
	dequeued, _ := store.NextQueued(ctx)

	err := d.ProcessReference(ctx, dequeued, false)
	require.Error(t, err)
	require.True(t, IsFatal(err))

	processed, _ := store.ProcessedCount(ctx)
	require.Equal(t, 1, processed, "the reference must still be finalized before the fatal error propagates")
}

func TestProcessReference_DeleteMode_RemovesAndFinalizes(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	committer := &recordingCommitter{}
	bus := &recordingBus{}

	d := newTestDriver(t, store, nil, committer, bus)
	ref := crawl.NewReference("a")
	require.NoError(t, store.Queue(ctx, ref))
	dequeued, _ := store.NextQueued(ctx)

	require.NoError(t, d.ProcessReference(ctx, dequeued, true))
	require.Equal(t, crawl.StateDeleted, dequeued.State())
	require.Equal(t, []string{"a"}, committer.removed)
}

func TestProcessImportResponse_NestedResponses_ProcessedRecursively(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	committer := &recordingCommitter{}
	bus := &recordingBus{}

	importer := crawl.ImporterPipelineFunc(func(pctx *crawl.PipelineContext) (*crawl.ImporterResponse, error) {
		pctx.Reference.SetState(crawl.StateNew)
		return &crawl.ImporterResponse{
			Document: &fakeDocument{ref: pctx.Reference.Reference()},
			Success:  true,
			NestedResponses: []*crawl.ImporterResponse{
				{Document: &fakeDocument{ref: "child"}, Success: true},
			},
		}, nil
	})

	d := newTestDriver(t, store, importer, committer, bus)
	ref := crawl.NewReference("parent")
	require.NoError(t, store.Queue(ctx, ref))
	dequeued, _ := store.NextQueued(ctx)

	require.NoError(t, d.ProcessReference(ctx, dequeued, false))
	require.ElementsMatch(t, []string{"parent", "child"}, committer.added)
}

func TestFinalize_SpoilDeleteRemovesCachedGoodEntry(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	committer := &recordingCommitter{}
	bus := &recordingBus{}

	cachedGood := crawl.NewReference("a")
	cachedGood.SetState(crawl.StateNew)
	require.NoError(t, store.Queue(ctx, cachedGood))
	_, _ = store.NextQueued(ctx)
	require.NoError(t, store.Processed(ctx, cachedGood))
	_, err := store.Open(ctx, false)
	require.NoError(t, err)

	importer := crawl.ImporterPipelineFunc(func(pctx *crawl.PipelineContext) (*crawl.ImporterResponse, error) {
		pctx.Reference.SetState(crawl.StateNotFound)
		return nil, nil
	})
	d := newTestDriver(t, store, importer, committer, bus)

	ref := crawl.NewReference("a")
	require.NoError(t, store.Queue(ctx, ref))
	dequeued, _ := store.NextQueued(ctx)
	require.NoError(t, d.ProcessReference(ctx, dequeued, false))

	require.Equal(t, crawl.StateDeleted, dequeued.State())
	require.Equal(t, []string{"a"}, committer.removed)
}
