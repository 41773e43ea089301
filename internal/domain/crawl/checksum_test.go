package crawl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingBus struct{ events []Event }

func (b *recordingBus) Subscribe(EventListener) {}
func (b *recordingBus) Publish(e Event)          { b.events = append(b.events, e) }

func TestResolveChecksum_NewReferenceAlwaysContinues(t *testing.T) {
	ref := NewReference("a")
	ctx := &PipelineContext{Context: context.Background(), Reference: ref}
	bus := &recordingBus{}

	cont := ResolveChecksum(ctx, false, "abc", bus)

	require.True(t, cont)
	require.Equal(t, "abc", ref.ContentChecksum())
	require.Empty(t, bus.events)
}

func TestResolveChecksum_UnmodifiedShortCircuits(t *testing.T) {
	cached := NewReference("a")
	cached.SetContentChecksum("X")
	ref := NewReference("a")
	ctx := &PipelineContext{Context: context.Background(), Reference: ref, Cached: cached}
	bus := &recordingBus{}

	cont := ResolveChecksum(ctx, false, "X", bus)

	require.False(t, cont)
	require.Equal(t, StateUnmodified, ref.State())
	require.Len(t, bus.events, 1)
	require.Equal(t, EventRejectedUnmodified, bus.events[0].Type)
}

func TestResolveChecksum_ModifiedContinues(t *testing.T) {
	cached := NewReference("a")
	cached.SetContentChecksum("X")
	ref := NewReference("a")
	ctx := &PipelineContext{Context: context.Background(), Reference: ref, Cached: cached}
	bus := &recordingBus{}

	cont := ResolveChecksum(ctx, false, "Y", bus)

	require.True(t, cont)
	require.Equal(t, "Y", ref.ContentChecksum())
	require.Empty(t, bus.events)
}

func TestResolveChecksum_BlankNewChecksumNeverShortCircuits(t *testing.T) {
	cached := NewReference("a")
	cached.SetContentChecksum("")
	ref := NewReference("a")
	ctx := &PipelineContext{Context: context.Background(), Reference: ref, Cached: cached}

	cont := ResolveChecksum(ctx, false, "", &recordingBus{})

	require.True(t, cont)
}

func TestResolveChecksum_MetaChecksum(t *testing.T) {
	cached := NewReference("a")
	cached.SetMetaChecksum("M")
	ref := NewReference("a")
	ctx := &PipelineContext{Context: context.Background(), Reference: ref, Cached: cached}

	cont := ResolveChecksum(ctx, true, "M", &recordingBus{})

	require.False(t, cont)
	require.Equal(t, "M", ref.MetaChecksum())
}
