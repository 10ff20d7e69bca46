package backend

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// Doc raw document content, nested maps allowed
type Doc map[string]interface{}

// Snapshot one observed state of a document
type Snapshot struct {
	Path   string
	ID     string
	Exists bool
	Doc    Doc
}

// DocEvent pushed by WatchDoc, current value first then every change
type DocEvent struct {
	Snapshot Snapshot
	Err      error
}

// QueryEvent pushed by WatchQuery, full ordered result set every time
type QueryEvent struct {
	Docs []Snapshot
	Err  error
}

// Op query condition operator
type Op string

const (
	// OpEq equality test
	OpEq Op = "=="
	// OpArrayContains membership array contains value
	OpArrayContains Op = "array-contains"
)

// Cond one conjunction member of a query predicate
type Cond struct {
	Field string
	Op    Op
	Value interface{}
}

// Query predicate over one collection
type Query struct {
	// Collection path, root ("conversations") or nested ("conversations/{cid}/messages")
	Collection string
	Conds      []Cond
	OrderBy    string
	Desc       bool
	Limit      int
}

// WriteBatch accumulates write operations, Commit applies them strictly in order
// and stops at the first failure
type WriteBatch interface {
	Set(path string, doc Doc, merge bool)
	Update(path string, partial Doc)
	Delete(path string)
	Commit(ctx context.Context) error
}

// DocumentStore 文件存儲的最小能力集，其他組件只依賴這個接口
type DocumentStore interface {
	GetDoc(ctx context.Context, path string) (Snapshot, error)
	SetDoc(ctx context.Context, path string, doc Doc, merge bool) error
	UpdateDoc(ctx context.Context, path string, partial Doc) error
	DeleteDoc(ctx context.Context, path string) error
	AddDoc(ctx context.Context, collection string, doc Doc) (string, error)
	RunQuery(ctx context.Context, q Query) ([]Snapshot, error)
	// WatchDoc pushes the current value immediately, then every change,
	// until ctx is cancelled
	WatchDoc(ctx context.Context, path string) (<-chan DocEvent, error)
	// WatchQuery pushes the current ordered result set immediately, then a
	// fresh result set on every change in the collection
	WatchQuery(ctx context.Context, q Query) (<-chan QueryEvent, error)
	Batch() WriteBatch
}

// Progress receives a monotonically non-decreasing fraction in [0,1]
type Progress func(fraction float64)

// BlobStore binary object storage with upload progress
type BlobStore interface {
	// Upload stores the object and returns its displayable url
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string, onProgress Progress) (string, error)
	// Delete removes the object, an absent object is not an error
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
}

// ErrDocNotFound document absent at the given path
var ErrDocNotFound = errors.New("document not found")

type serverTimestamp struct{}

type increment struct{ n int64 }

// ServerTimestamp sentinel, substituted with the store's clock at commit time.
// Callers never resolve it themselves.
func ServerTimestamp() interface{} { return serverTimestamp{} }

// Increment sentinel for an atomic numeric field increment
func Increment(n int64) interface{} { return increment{n: n} }

// SplitPath split a document path into its collection path and document id
func SplitPath(path string) (collection, id string, err error) {
	segs := strings.Split(path, "/")
	if len(segs) < 2 || len(segs)%2 != 0 {
		return "", "", errors.New("invalid document path: " + path)
	}
	for _, s := range segs {
		if s == "" {
			return "", "", errors.New("invalid document path: " + path)
		}
	}
	return strings.Join(segs[:len(segs)-1], "/"), segs[len(segs)-1], nil
}

// CollectionInfo split a collection path into its mongo collection name and
// parent document path ("" for root collections)
func CollectionInfo(collection string) (name, parent string, err error) {
	segs := strings.Split(collection, "/")
	if len(segs)%2 != 1 {
		return "", "", errors.New("invalid collection path: " + collection)
	}
	for _, s := range segs {
		if s == "" {
			return "", "", errors.New("invalid collection path: " + collection)
		}
	}
	return segs[len(segs)-1], strings.Join(segs[:len(segs)-1], "/"), nil
}

// resolveValue swap the ServerTimestamp sentinel, now is the store's clock
func resolveValue(v interface{}, now time.Time) interface{} {
	switch t := v.(type) {
	case serverTimestamp:
		return now
	case Doc:
		out := Doc{}
		for k, inner := range t {
			out[k] = resolveValue(inner, now)
		}
		return out
	case map[string]interface{}:
		out := Doc{}
		for k, inner := range t {
			out[k] = resolveValue(inner, now)
		}
		return out
	default:
		return v
	}
}

// splitUpdate separate a partial update into plain sets and increments,
// sentinels resolved
func splitUpdate(partial Doc, now time.Time) (sets Doc, incs map[string]int64) {
	sets = Doc{}
	incs = map[string]int64{}
	for k, v := range partial {
		if inc, ok := v.(increment); ok {
			incs[k] = inc.n
			continue
		}
		sets[k] = resolveValue(v, now)
	}
	return sets, incs
}
