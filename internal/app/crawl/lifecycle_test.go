package crawl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/norcore/collector-core/internal/domain/crawl"
	"github.com/norcore/collector-core/internal/infra/store/memory"
)

func TestLifecycleController_Run_FreshCrawlProcessesSeedsAndCommits(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	committer := &recordingCommitter{}
	bus := &recordingBus{}

	importer := crawl.ImporterPipelineFunc(func(pctx *crawl.PipelineContext) (*crawl.ImporterResponse, error) {
		pctx.Reference.SetState(crawl.StateNew)
		return &crawl.ImporterResponse{Document: &fakeDocument{ref: pctx.Reference.Reference()}, Success: true}, nil
	})
	d := NewDriver(Config{
		Store:    store,
		Importer: importer,
		CommitterPipeline: crawl.CommitterPipelineFunc(func(pctx *crawl.PipelineContext) error {
			return committer.Add(pctx.Context, pctx.Reference.Reference(), pctx.Document)
		}),
		Committer: committer,
		Bus:       bus,
	})

	lc := NewLifecycleController(LifecycleConfig{
		CrawlerID: "test-crawler",
		Workers:   2,
		Store:     store,
		Driver:    d,
		Bus:       bus,
		Committer: committer,
	})
	lc.scheduler.sleepQuantum = time.Millisecond

	seeds := []*crawl.Reference{crawl.NewReference("a"), crawl.NewReference("b")}
	require.NoError(t, lc.Run(ctx, seeds))

	require.ElementsMatch(t, []string{"a", "b"}, committer.added)

	var types []crawl.EventType
	for _, ev := range bus.events {
		types = append(types, ev.Type)
	}
	require.Contains(t, types, crawl.EventCrawlerInitBegin)
	require.Contains(t, types, crawl.EventCrawlerRunEnd)
}

func TestLifecycleController_Stop_SetsSchedulerStopped(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	bus := &recordingBus{}
	d := NewDriver(Config{Store: store})

	lc := NewLifecycleController(LifecycleConfig{CrawlerID: "c", Workers: 1, Store: store, Driver: d, Bus: bus})
	lc.Stop(ctx)

	require.True(t, lc.scheduler.Stopped())

	var types []crawl.EventType
	for _, ev := range bus.events {
		types = append(types, ev.Type)
	}
	require.Equal(t, []crawl.EventType{crawl.EventCrawlerStopBegin, crawl.EventCrawlerStopEnd}, types)
}

func TestSafeCrawlerDir_SanitizesPathSeparators(t *testing.T) {
	require.Equal(t, "a_b", SafeCrawlerDir("a/b"))
	require.Equal(t, "_", SafeCrawlerDir(""))
}
