// Package filestore is a persistent CrawlStore backed by an append-only
// gob journal per crawler work directory, fsynced on every mutating
// call, replayed and then compacted on Open (see DESIGN.md for why this
// sits on the standard library rather than a third-party embedded KV
// engine). A crash at any instant leaves a journal whose replay
// reconstructs a valid pre-crash state, from which Open(resume=true)
// can perform the queued/active/cached reconciliation every CrawlStore
// implementation must honor.
package filestore

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/norcore/collector-core/internal/domain/crawl"
)

// partition identifies which of the five disjoint maps a journal
// record's reference belongs to.
type partition int

const (
	partitionQueued partition = iota
	partitionActive
	partitionProcessedValid
	partitionProcessedInvalid
	partitionCached
)

// record is the gob-encoded unit appended to the journal. A record
// with Deleted=true removes reference from every partition when
// replayed; no method of Store writes such a record, and compaction
// instead rewrites the journal as a snapshot of the live partitions.
type record struct {
	Partition partition
	Deleted   bool

	Reference             string
	ParentRootReference   string
	IsRootParentReference bool
	State                 crawl.State
	MetaChecksum          string
	ContentChecksum       string
	ContentType           string
	CrawlDate             int64
	Metadata              map[string]string
}

func toRecord(p partition, ref *crawl.Reference) record {
	ref = ref.Clone()
	return record{
		Partition:             p,
		Reference:             ref.Reference(),
		ParentRootReference:   ref.ParentRootReference(),
		IsRootParentReference: ref.IsRootParentReference(),
		State:                 ref.State(),
		MetaChecksum:          ref.MetaChecksum(),
		ContentChecksum:       ref.ContentChecksum(),
		ContentType:           ref.ContentType(),
		CrawlDate:             ref.CrawlDate(),
		Metadata:              ref.Metadata(),
	}
}

func (r record) toReference() *crawl.Reference {
	return crawl.ReconstructReference(
		r.Reference, r.ParentRootReference, r.IsRootParentReference,
		r.State, r.MetaChecksum, r.ContentChecksum, r.ContentType,
		r.CrawlDate, r.Metadata,
	)
}

// Store is a journal-backed, on-disk crawl.CrawlStore. It is safe for
// concurrent use.
type Store struct {
	mu sync.Mutex

	dir  string
	file *os.File
	enc  *gob.Encoder

	queued           map[string]*crawl.Reference
	queueOrder       []string
	active           map[string]*crawl.Reference
	processedValid   map[string]*crawl.Reference
	processedInvalid map[string]*crawl.Reference
	cached           map[string]*crawl.Reference
}

var _ crawl.CrawlStore = (*Store)(nil)

const journalName = "journal.gob"

// Open creates or reopens a journal-backed store rooted at dir
// (typically <workDir>/<safeCrawlerId>/store), replays any existing
// journal, and returns it ready for crawl.CrawlStore.Open to perform
// the start-of-run reconciliation.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, crawl.NewStoreIOError("mkdir", err)
	}

	s := &Store{
		dir:              dir,
		queued:           make(map[string]*crawl.Reference),
		active:           make(map[string]*crawl.Reference),
		processedValid:   make(map[string]*crawl.Reference),
		processedInvalid: make(map[string]*crawl.Reference),
		cached:           make(map[string]*crawl.Reference),
	}

	if err := s.replay(); err != nil {
		return nil, err
	}
	if err := s.openJournalForAppend(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) journalPath() string { return filepath.Join(s.dir, journalName) }

func (s *Store) replay() error {
	path := s.journalPath()
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return crawl.NewStoreIOError("open journal", err)
	}
	defer f.Close()

	dec := gob.NewDecoder(bufio.NewReader(f))
	for {
		var rec record
		if err := dec.Decode(&rec); err != nil {
			break // EOF, or a truncated final record from a mid-write crash: stop replay here.
		}
		s.applyRecord(rec)
	}
	return nil
}

// applyRecord mutates the in-memory partitions to reflect a journal
// entry. It is used both during replay and by every mutating public
// method, which first appends the record to the journal and then
// applies it in memory.
func (s *Store) applyRecord(rec record) {
	key := rec.Reference
	if rec.Deleted {
		delete(s.queued, key)
		delete(s.active, key)
		delete(s.processedValid, key)
		delete(s.processedInvalid, key)
		delete(s.cached, key)
		s.removeFromQueueOrder(key)
		return
	}

	ref := rec.toReference()
	switch rec.Partition {
	case partitionQueued:
		if _, exists := s.queued[key]; !exists {
			s.queueOrder = append(s.queueOrder, key)
		}
		s.queued[key] = ref
	case partitionActive:
		s.removeFromQueueOrder(key)
		delete(s.queued, key)
		s.active[key] = ref
	case partitionProcessedValid:
		delete(s.active, key)
		delete(s.cached, key)
		s.processedValid[key] = ref
	case partitionProcessedInvalid:
		delete(s.active, key)
		delete(s.cached, key)
		s.processedInvalid[key] = ref
	case partitionCached:
		s.cached[key] = ref
	}
}

func (s *Store) removeFromQueueOrder(key string) {
	for i, k := range s.queueOrder {
		if k == key {
			s.queueOrder = append(s.queueOrder[:i], s.queueOrder[i+1:]...)
			return
		}
	}
}

func (s *Store) openJournalForAppend() error {
	f, err := os.OpenFile(s.journalPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return crawl.NewStoreIOError("open journal for append", err)
	}
	s.file = f
	s.enc = gob.NewEncoder(f)
	return nil
}

// append writes rec to the journal and fsyncs before returning, so a
// crash immediately after a mutating call still has that mutation
// durable.
func (s *Store) append(rec record) error {
	if err := s.enc.Encode(rec); err != nil {
		return crawl.NewStoreIOError("append journal record", err)
	}
	if err := s.file.Sync(); err != nil {
		return crawl.NewStoreIOError("sync journal", err)
	}
	return nil
}

// Queue implements crawl.CrawlStore.
func (s *Store) Queue(_ context.Context, ref *crawl.Reference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := toRecord(partitionQueued, ref)
	if err := s.append(rec); err != nil {
		return err
	}
	s.applyRecord(rec)
	return nil
}

// NextQueued implements crawl.CrawlStore.
func (s *Store) NextQueued(_ context.Context) (*crawl.Reference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queueOrder) == 0 {
		return nil, nil
	}
	key := s.queueOrder[0]
	ref := s.queued[key]

	rec := toRecord(partitionActive, ref)
	if err := s.append(rec); err != nil {
		return nil, err
	}
	s.applyRecord(rec)
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

	rec := toRecord(partitionCached, ref)
	if err := s.append(rec); err != nil {
		return err
	}
	s.applyRecord(rec)
	return nil
}

// Processed implements crawl.CrawlStore.
func (s *Store) Processed(_ context.Context, ref *crawl.Reference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := partitionProcessedInvalid
	if ref.State().IsGoodState() {
		p = partitionProcessedValid
	}
	rec := toRecord(p, ref)
	if err := s.append(rec); err != nil {
		return err
	}
	s.applyRecord(rec)
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

// CachedIterable implements crawl.CrawlStore.
func (s *Store) CachedIterable(context.Context) (crawl.CachedIterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make([]*crawl.Reference, 0, len(s.cached))
	for _, ref := range s.cached {
		snapshot = append(snapshot, ref.Clone())
	}
	return &sliceIterator{refs: snapshot, idx: -1}, nil
}

// Open performs the start-of-run reconciliation described in spec
// §4.1, then compacts the journal so the persisted state on disk
// exactly matches the reconciled in-memory partitions.
func (s *Store) Open(_ context.Context, resume bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if resume {
		for key, ref := range s.active {
			if _, exists := s.queued[key]; !exists {
				s.queueOrder = append(s.queueOrder, key)
			}
			s.queued[key] = ref
		}
		s.active = make(map[string]*crawl.Reference)
	} else {
		newCached := make(map[string]*crawl.Reference)
		for key, ref := range s.processedValid {
			if ref.State().IsGoodState() {
				newCached[key] = ref
			}
		}
		s.cached = newCached
		s.active = make(map[string]*crawl.Reference)
		s.queued = make(map[string]*crawl.Reference)
		s.queueOrder = nil
		s.processedValid = make(map[string]*crawl.Reference)
		s.processedInvalid = make(map[string]*crawl.Reference)
	}

	if err := s.compactLocked(); err != nil {
		return false, err
	}
	return resume, nil
}

// compactLocked rewrites the journal to a single snapshot of the
// current in-memory partitions, keeping the on-disk journal bounded
// instead of growing forever across a long crawler lifetime. Callers
// must hold s.mu.
func (s *Store) compactLocked() error {
	tmpPath := s.journalPath() + ".compact"
	f, err := os.Create(tmpPath)
	if err != nil {
		return crawl.NewStoreIOError("create compaction file", err)
	}

	w := bufio.NewWriter(f)
	enc := gob.NewEncoder(w)
	writeAll := func(p partition, m map[string]*crawl.Reference) error {
		for _, ref := range m {
			if err := enc.Encode(toRecord(p, ref)); err != nil {
				return err
			}
		}
		return nil
	}
	err = firstErr(
		writeAll(partitionQueued, s.queued),
		writeAll(partitionActive, s.active),
		writeAll(partitionProcessedValid, s.processedValid),
		writeAll(partitionProcessedInvalid, s.processedInvalid),
		writeAll(partitionCached, s.cached),
	)
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = f.Sync()
	}
	closeErr := f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return crawl.NewStoreIOError("write compaction file", err)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return crawl.NewStoreIOError("close compaction file", closeErr)
	}

	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return crawl.NewStoreIOError("close journal", err)
		}
	}
	if err := os.Rename(tmpPath, s.journalPath()); err != nil {
		return crawl.NewStoreIOError("rename compaction file", err)
	}
	return s.openJournalForAppend()
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Close implements crawl.CrawlStore.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return crawl.NewStoreIOError("sync on close", err)
	}
	if err := s.file.Close(); err != nil {
		return crawl.NewStoreIOError("close journal", err)
	}
	s.file = nil
	return nil
}

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

// pathFor returns the canonical on-disk layout for a crawler's store:
// <workDir>/<safeCrawlerId>/store.
func pathFor(workDir, safeCrawlerID string) string {
	return filepath.Join(workDir, safeCrawlerID, "store")
}

// OpenForCrawler is a convenience constructor applying the persisted
// per-crawler work directory layout.
func OpenForCrawler(workDir, safeCrawlerID string) (*Store, error) {
	dir := pathFor(workDir, safeCrawlerID)
	s, err := Open(dir)
	if err != nil {
		return nil, fmt.Errorf("opening store for crawler %q: %w", safeCrawlerID, err)
	}
	return s, nil
}
