package crawl

import (
	"math"
	"sync"
	"time"
)

// Progress is an eventually-consistent processed/(processed+queued)
// ratio, truncated to four decimal places. It never touches the store
// or the clock itself; ProgressReporter owns sampling.
type Progress struct {
	Processed int
	Queued    int
}

// Ratio returns processed / (processed + queued), truncated (not
// rounded) to four decimal places. A zero total reports zero progress
// rather than dividing by zero.
func (p Progress) Ratio() float64 {
	total := p.Processed + p.Queued
	if total == 0 {
		return 0
	}
	raw := float64(p.Processed) / float64(total)
	const scale = 10000.0
	return math.Trunc(raw*scale) / scale
}

// Percent returns Ratio expressed as a whole percentage (0-100).
func (p Progress) Percent() int { return int(p.Ratio() * 100) }

// ProgressReporter samples Progress.Ratio and logs a percent-complete
// line at most once per its configured interval (five seconds by
// default). A single instance is shared across every worker goroutine
// in a Scheduler (wired that way by LifecycleController), so Sample
// guards lastLog with a mutex rather than assuming a single caller.
type ProgressReporter struct {
	interval time.Duration

	mu      sync.Mutex
	lastLog time.Time
	now     func() time.Time
	log     func(percent int, processed, total int)
}

// NewProgressReporter returns a reporter that logs via emit at most
// once per interval, reading the clock with time.Now.
func NewProgressReporter(interval time.Duration, emit func(percent int, processed, total int)) *ProgressReporter {
	return &ProgressReporter{
		interval: interval,
		now:      time.Now,
		log:      emit,
	}
}

// Sample records a fresh Progress snapshot and, if the interval has
// elapsed since the last emission, invokes the reporter's log function.
// Safe for concurrent use by multiple worker goroutines.
func (r *ProgressReporter) Sample(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.lastLog.IsZero() || now.Sub(r.lastLog) >= r.interval {
		r.lastLog = now
		if r.log != nil {
			r.log(p.Percent(), p.Processed, p.Processed+p.Queued)
		}
	}
}
