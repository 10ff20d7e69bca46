package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore in-memory DocumentStore, used by unit and BDD tests.
// Same semantics as the mongo store: ordered queries, merge writes,
// invalidation-driven watchers.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]Doc
	seq    int
	subSeq int
	// notify channels keyed by doc path / collection path
	docSubs  map[string]map[int]chan struct{}
	collSubs map[string]map[int]chan struct{}
	now      func() time.Time
}

// NewMemoryStore create an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     map[string]Doc{},
		docSubs:  map[string]map[int]chan struct{}{},
		collSubs: map[string]map[int]chan struct{}{},
		now:      time.Now,
	}
}

// WithClock override the store clock, for tests
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// GetDoc read one document, ErrDocNotFound when absent
func (s *MemoryStore) GetDoc(ctx context.Context, path string) (Snapshot, error) {
	_, id, err := SplitPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.RLock()
	doc, ok := s.docs[path]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{Path: path, ID: id}, ErrDocNotFound
	}
	return Snapshot{Path: path, ID: id, Exists: true, Doc: doc.Clone()}, nil
}

// SetDoc write a document, merge=true deep-merges into the existing value
func (s *MemoryStore) SetDoc(ctx context.Context, path string, doc Doc, merge bool) error {
	if err := s.setDocAt(path, doc, merge, s.storeNow()); err != nil {
		return err
	}
	s.notify(path)
	return nil
}

// UpdateDoc partial update of an existing document, dotted keys allowed
func (s *MemoryStore) UpdateDoc(ctx context.Context, path string, partial Doc) error {
	if err := s.updateDocAt(path, partial, s.storeNow()); err != nil {
		return err
	}
	s.notify(path)
	return nil
}

// DeleteDoc remove a document
func (s *MemoryStore) DeleteDoc(ctx context.Context, path string) error {
	s.mu.Lock()
	delete(s.docs, path)
	s.mu.Unlock()
	s.notify(path)
	return nil
}

// AddDoc append a new document with a store-assigned id.
// Ids are sequence-prefixed so insertion order breaks ordering ties.
func (s *MemoryStore) AddDoc(ctx context.Context, collection string, doc Doc) (string, error) {
	s.mu.Lock()
	s.seq++
	id := fmt.Sprintf("d%08d", s.seq)
	s.mu.Unlock()

	path := collection + "/" + id
	if err := s.setDocAt(path, doc, false, s.storeNow()); err != nil {
		return "", err
	}
	s.notify(path)
	return id, nil
}

// RunQuery one-shot ordered query
func (s *MemoryStore) RunQuery(ctx context.Context, q Query) ([]Snapshot, error) {
	if _, _, err := CollectionInfo(q.Collection); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var snaps []Snapshot
	for path, doc := range s.docs {
		collection, id, err := SplitPath(path)
		if err != nil || collection != q.Collection {
			continue
		}
		if !matches(doc, q.Conds) {
			continue
		}
		snaps = append(snaps, Snapshot{Path: path, ID: id, Exists: true, Doc: doc.Clone()})
	}
	s.mu.RUnlock()

	if q.OrderBy != "" {
		sort.Slice(snaps, func(i, j int) bool {
			c := compareValues(snaps[i].Doc.lookup(q.OrderBy), snaps[j].Doc.lookup(q.OrderBy))
			if c == 0 {
				return snaps[i].ID < snaps[j].ID
			}
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	} else {
		sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	}

	if q.Limit > 0 && len(snaps) > q.Limit {
		snaps = snaps[:q.Limit]
	}
	return snaps, nil
}

// WatchDoc current value immediately, then on every change
func (s *MemoryStore) WatchDoc(ctx context.Context, path string) (<-chan DocEvent, error) {
	if _, _, err := SplitPath(path); err != nil {
		return nil, err
	}
	notify, unsub := s.subscribe(s.docSubs, path)

	ch := make(chan DocEvent, 32)
	go func() {
		defer close(ch)
		defer unsub()

		emit := func() bool {
			snap, err := s.GetDoc(ctx, path)
			if err == ErrDocNotFound {
				err = nil
			}
			select {
			case ch <- DocEvent{Snapshot: snap, Err: err}:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-notify:
				if !emit() {
					return
				}
			}
		}
	}()
	return ch, nil
}

// WatchQuery current result set immediately, then on every collection change
func (s *MemoryStore) WatchQuery(ctx context.Context, q Query) (<-chan QueryEvent, error) {
	if _, _, err := CollectionInfo(q.Collection); err != nil {
		return nil, err
	}
	notify, unsub := s.subscribe(s.collSubs, q.Collection)

	ch := make(chan QueryEvent, 32)
	go func() {
		defer close(ch)
		defer unsub()

		emit := func() bool {
			docs, err := s.RunQuery(ctx, q)
			select {
			case ch <- QueryEvent{Docs: docs, Err: err}:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-notify:
				if !emit() {
					return
				}
			}
		}
	}()
	return ch, nil
}

// Batch accumulate writes, committed strictly in order
func (s *MemoryStore) Batch() WriteBatch {
	return &memoryBatch{store: s}
}

func (s *MemoryStore) storeNow() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *MemoryStore) setDocAt(path string, doc Doc, merge bool, now time.Time) error {
	if _, _, err := SplitPath(path); err != nil {
		return err
	}
	resolved, _ := asDocValue(resolveValue(doc, now))

	s.mu.Lock()
	defer s.mu.Unlock()
	if merge {
		cur, ok := s.docs[path]
		if !ok {
			cur = Doc{}
		}
		cur.deepMerge(resolved.Clone())
		s.docs[path] = cur
		return nil
	}
	s.docs[path] = resolved.Clone()
	return nil
}

func (s *MemoryStore) updateDocAt(path string, partial Doc, now time.Time) error {
	sets, incs := splitUpdate(partial, now)

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.docs[path]
	if !ok {
		return ErrDocNotFound
	}
	for k, v := range sets {
		cur.setPath(k, v)
	}
	for k, n := range incs {
		cur.setPath(k, cur.AsInt(k)+n)
	}
	return nil
}

func (s *MemoryStore) subscribe(subs map[string]map[int]chan struct{}, key string) (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subSeq++
	id := s.subSeq
	if subs[key] == nil {
		subs[key] = map[int]chan struct{}{}
	}
	ch := make(chan struct{}, 1)
	subs[key][id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(subs[key], id)
	}
}

func (s *MemoryStore) notify(path string) {
	collection, _, err := SplitPath(path)
	if err != nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.docSubs[path] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	for _, ch := range s.collSubs[collection] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

type memoryBatch struct {
	store *MemoryStore
	ops   []batchOp
}

func (b *memoryBatch) Set(path string, doc Doc, merge bool) {
	b.ops = append(b.ops, batchOp{kind: "set", path: path, doc: doc, merge: merge})
}

func (b *memoryBatch) Update(path string, partial Doc) {
	b.ops = append(b.ops, batchOp{kind: "update", path: path, partial: partial})
}

func (b *memoryBatch) Delete(path string) {
	b.ops = append(b.ops, batchOp{kind: "delete", path: path})
}

func (b *memoryBatch) Commit(ctx context.Context) error {
	now := b.store.storeNow()
	for _, op := range b.ops {
		var err error
		switch op.kind {
		case "set":
			err = b.store.setDocAt(op.path, op.doc, op.merge, now)
		case "update":
			err = b.store.updateDocAt(op.path, op.partial, now)
		case "delete":
			b.store.mu.Lock()
			delete(b.store.docs, op.path)
			b.store.mu.Unlock()
		}
		if err != nil {
			return err
		}
		b.store.notify(op.path)
	}
	return nil
}

func matches(doc Doc, conds []Cond) bool {
	for _, c := range conds {
		switch c.Op {
		case OpArrayContains:
			found := false
			for _, v := range doc.AsStrSlice(c.Field) {
				if v == c.Value {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			if !valueEqual(doc.lookup(c.Field), c.Value) {
				return false
			}
		}
	}
	return true
}

func valueEqual(a, b interface{}) bool {
	if sa, ok := toStrSlice(a); ok {
		sb, ok := toStrSlice(b)
		if !ok || len(sa) != len(sb) {
			return false
		}
		for i := range sa {
			if sa[i] != sb[i] {
				return false
			}
		}
		return true
	}
	return a == b
}

func toStrSlice(v interface{}) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// compareValues nil sorts first, mixed kinds compared by their string form
func compareValues(a, b interface{}) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	at, aok := a.(time.Time)
	bt, bok := b.(time.Time)
	if aok && bok {
		switch {
		case at.Before(bt):
			return -1
		case at.After(bt):
			return 1
		default:
			return 0
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs)
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// MemoryBlobStore in-memory BlobStore, used by tests
type MemoryBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemoryBlobStore create an empty in-memory blob store
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: map[string][]byte{}}
}

// Upload read everything and report full progress
func (b *MemoryBlobStore) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string, onProgress Progress) (string, error) {
	var buf bytes.Buffer
	src := io.Reader(r)
	if onProgress != nil && size > 0 {
		src = &progressReader{r: r, total: size, onProgress: onProgress}
	}
	if _, err := buf.ReadFrom(src); err != nil {
		return "", err
	}
	b.mu.Lock()
	b.blobs[path] = buf.Bytes()
	b.mu.Unlock()
	if onProgress != nil {
		onProgress(1)
	}
	return "memory://" + path, nil
}

// Delete remove the object, absent object is not an error
func (b *MemoryBlobStore) Delete(ctx context.Context, path string) error {
	b.mu.Lock()
	delete(b.blobs, path)
	b.mu.Unlock()
	return nil
}

// Exists check the object is present
func (b *MemoryBlobStore) Exists(ctx context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blobs[path]
	return ok, nil
}
