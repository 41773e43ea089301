// Package memory provides an in-memory CrawlStore implementation. It is
// the default store for tests and single-process runs that do not need
// crash resumability: deep-copy in, deep-copy out, single mutex
// guarding every map.
package memory

import (
	"container/list"
	"context"
	"sync"

	"github.com/norcore/collector-core/internal/domain/crawl"
)

// Store is a map-and-mutex backed crawl.CrawlStore. Queue order is
// FIFO via a doubly-linked list of keys alongside the queued map, so
// NextQueued is starvation-free.
type Store struct {
	mu sync.Mutex

	queued          map[string]*crawl.Reference
	queueOrder      *list.List
	queueElemByKey  map[string]*list.Element
	active          map[string]*crawl.Reference
	processedValid  map[string]*crawl.Reference
	processedInvalid map[string]*crawl.Reference
	cached          map[string]*crawl.Reference
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		queued:           make(map[string]*crawl.Reference),
		queueOrder:       list.New(),
		queueElemByKey:   make(map[string]*list.Element),
		active:           make(map[string]*crawl.Reference),
		processedValid:   make(map[string]*crawl.Reference),
		processedInvalid: make(map[string]*crawl.Reference),
		cached:           make(map[string]*crawl.Reference),
	}
}

var _ crawl.CrawlStore = (*Store)(nil)

// Queue implements crawl.CrawlStore.
func (s *Store) Queue(_ context.Context, ref *crawl.Reference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ref.Reference()
	if _, exists := s.queued[key]; !exists {
		elem := s.queueOrder.PushBack(key)
		s.queueElemByKey[key] = elem
	}
	s.queued[key] = ref.Clone()
	return nil
}

// NextQueued implements crawl.CrawlStore.
func (s *Store) NextQueued(_ context.Context) (*crawl.Reference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	front := s.queueOrder.Front()
	if front == nil {
		return nil, nil
	}
	key := front.Value.(string)
	s.queueOrder.Remove(front)
	delete(s.queueElemByKey, key)

	ref := s.queued[key]
	delete(s.queued, key)
	s.active[key] = ref
	return ref.Clone(), nil
}

// GetCached implements crawl.CrawlStore.
func (s *Store) GetCached(_ context.Context, reference string) (*crawl.Reference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.cached[reference]
	if !ok {
		return nil, nil
	}
	return ref.Clone(), nil
}

// SeedCached implements crawl.CrawlStore.
func (s *Store) SeedCached(_ context.Context, ref *crawl.Reference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cached[ref.Reference()] = ref.Clone()
	return nil
}

// Processed implements crawl.CrawlStore.
func (s *Store) Processed(_ context.Context, ref *crawl.Reference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ref.Reference()
	delete(s.active, key)
	delete(s.cached, key)

	stored := ref.Clone()
	if ref.State().IsGoodState() {
		s.processedValid[key] = stored
	} else {
		s.processedInvalid[key] = stored
	}
	return nil
}

// QueuedCount implements crawl.CrawlStore.
func (s *Store) QueuedCount(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queued), nil
}

// ActiveCount implements crawl.CrawlStore.
func (s *Store) ActiveCount(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active), nil
}

// ProcessedCount implements crawl.CrawlStore.
func (s *Store) ProcessedCount(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processedValid) + len(s.processedInvalid), nil
}

// IsQueueEmpty implements crawl.CrawlStore.
func (s *Store) IsQueueEmpty(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queued) == 0, nil
}

// IsCacheEmpty implements crawl.CrawlStore.
func (s *Store) IsCacheEmpty(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cached) == 0, nil
}

// CachedIterable implements crawl.CrawlStore. It snapshots the cached
// partition under the lock so the returned iterator is stable even if
// the store mutates cached concurrently: entries removed by Processed
// after this snapshot was taken simply remain visible for the
// remainder of this pass, giving orphan handling a point-in-time view.
func (s *Store) CachedIterable(context.Context) (crawl.CachedIterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make([]*crawl.Reference, 0, len(s.cached))
	for _, ref := range s.cached {
		snapshot = append(snapshot, ref.Clone())
	}
	return &sliceIterator{refs: snapshot, idx: -1}, nil
}

// Open implements crawl.CrawlStore's start-of-run reconciliation.
func (s *Store) Open(_ context.Context, resume bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if resume {
		for key, ref := range s.active {
			if _, exists := s.queued[key]; !exists {
				elem := s.queueOrder.PushBack(key)
				s.queueElemByKey[key] = elem
			}
			s.queued[key] = ref
		}
		s.active = make(map[string]*crawl.Reference)
		return true, nil
	}

	// Fresh path: clear cached, active, queued, processedInvalid; drain
	// processedValid into cached, keeping only good states.
	s.cached = make(map[string]*crawl.Reference)
	s.active = make(map[string]*crawl.Reference)
	s.queued = make(map[string]*crawl.Reference)
	s.queueOrder = list.New()
	s.queueElemByKey = make(map[string]*list.Element)
	s.processedInvalid = make(map[string]*crawl.Reference)

	for key, ref := range s.processedValid {
		if ref.State().IsGoodState() {
			s.cached[key] = ref
		}
	}
	s.processedValid = make(map[string]*crawl.Reference)
	return false, nil
}

// Close implements crawl.CrawlStore. The in-memory store holds no
// external resources, so Close is a no-op.
func (s *Store) Close() error { return nil }

type sliceIterator struct {
	refs []*crawl.Reference
	idx  int
}

func (it *sliceIterator) Next() bool {
	it.idx++
	return it.idx < len(it.refs)
}

func (it *sliceIterator) Reference() *crawl.Reference {
	if it.idx < 0 || it.idx >= len(it.refs) {
		return nil
	}
	return it.refs[it.idx]
}

func (it *sliceIterator) Err() error   { return nil }
func (it *sliceIterator) Close() error { return nil }
