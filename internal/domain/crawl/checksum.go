package crawl

// ResolveChecksum implements the checksum short-circuit subroutine used
// by importer pipeline stages. It records newChecksum on ctx.Reference
// and compares it against the equivalent field on ctx.Cached (already
// resolved once per reference by the driver, so this never re-queries
// the store on every call).
//
// The boolean return is true to continue the pipeline, or false when
// the reference's state has already been set to UNMODIFIED and the
// pipeline stage calling this should short-circuit the remaining
// stages for this reference.
func ResolveChecksum(ctx *PipelineContext, isMeta bool, newChecksum string, bus EventBus) bool {
	ref := ctx.Reference

	if isMeta {
		ref.SetMetaChecksum(newChecksum)
	} else {
		ref.SetContentChecksum(newChecksum)
	}

	if ctx.Cached == nil {
		return true
	}

	var oldChecksum string
	if isMeta {
		oldChecksum = ctx.Cached.MetaChecksum()
	} else {
		oldChecksum = ctx.Cached.ContentChecksum()
	}

	if newChecksum != "" && newChecksum == oldChecksum {
		ref.SetState(StateUnmodified)
		if bus != nil {
			bus.Publish(Event{Type: EventRejectedUnmodified, Reference: ref})
		}
		return false
	}
	return true
}
