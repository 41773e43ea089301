package crawl

import "fmt"

// ErrorKind identifies the category of a CrawlError, a kind-tagged
// domain error so callers can dispatch with errors.Is instead of
// string matching.
type ErrorKind int

const (
	// ErrKindInvalidTransition indicates an illegal store partition move
	// was attempted.
	ErrKindInvalidTransition ErrorKind = iota
	// ErrKindStoreIO indicates the persistent store failed to read or write.
	ErrKindStoreIO
	// ErrKindConfiguration indicates a missing or invalid crawler configuration.
	ErrKindConfiguration
	// ErrKindFatalPipeline indicates an exception type configured as fatal
	// surfaced from the fetch/import/commit pipeline.
	ErrKindFatalPipeline
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindInvalidTransition:
		return "invalid_transition"
	case ErrKindStoreIO:
		return "store_io"
	case ErrKindConfiguration:
		return "configuration"
	case ErrKindFatalPipeline:
		return "fatal_pipeline"
	default:
		return "unknown"
	}
}

// CrawlError is a domain error carrying a machine-checkable kind
// alongside a human-readable message, so callers can branch on Is
// rather than parsing strings.
type CrawlError struct {
	msg  string
	kind ErrorKind
}

// Error implements the error interface.
func (e *CrawlError) Error() string { return e.msg }

// Is enables errors.Is comparisons by kind, ignoring message text.
func (e *CrawlError) Is(target error) bool {
	t, ok := target.(*CrawlError)
	if !ok {
		return false
	}
	return e.kind == t.kind
}

// Kind returns the error's category.
func (e *CrawlError) Kind() ErrorKind { return e.kind }

// NewInvalidTransitionError reports an illegal store partition move.
func NewInvalidTransitionError(reference, from, to string) error {
	return &CrawlError{
		msg:  fmt.Sprintf("cannot move reference %q from %s to %s", reference, from, to),
		kind: ErrKindInvalidTransition,
	}
}

// NewStoreIOError wraps a persistent-store failure.
func NewStoreIOError(op string, cause error) error {
	return &CrawlError{
		msg:  fmt.Sprintf("store i/o failed during %s: %v", op, cause),
		kind: ErrKindStoreIO,
	}
}

// NewConfigurationError reports a fatal pre-run configuration problem.
func NewConfigurationError(msg string) error {
	return &CrawlError{msg: msg, kind: ErrKindConfiguration}
}

// NewFatalPipelineError wraps a pipeline exception whose type matched
// the configured stop-on-exceptions list.
func NewFatalPipelineError(reference string, cause error) error {
	return &CrawlError{
		msg:  fmt.Sprintf("fatal error processing reference %q: %v", reference, cause),
		kind: ErrKindFatalPipeline,
	}
}
