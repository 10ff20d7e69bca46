package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sirachat/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongo 文件佈局: 每個 collection path 的最後一段是 mongo collection，
// _id 存完整 document path，_parent 存上層 document path（root 為 ""）。
// 每次寫入後發布 redis 失效通知，watcher 收到後重讀。

const (
	fieldID     = "_id"
	fieldParent = "_parent"

	docChannelPrefix  = "sirachat:doc:"
	collChannelPrefix = "sirachat:coll:"
)

// MongoStore DocumentStore over mongo + redis invalidation feed
type MongoStore struct {
	db  *mongo.Database
	rdb *redis.Client
	now func() time.Time
}

// NewMongoStore create the document store
func NewMongoStore(db *mongo.Database, rdb *redis.Client) *MongoStore {
	return &MongoStore{
		db:  db,
		rdb: rdb,
		now: time.Now,
	}
}

// GetDoc read one document, ErrDocNotFound when absent
func (s *MongoStore) GetDoc(ctx context.Context, path string) (Snapshot, error) {
	collection, id, err := SplitPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	name, _, err := CollectionInfo(collection)
	if err != nil {
		return Snapshot{}, err
	}

	var raw bson.M
	err = s.db.Collection(name).FindOne(ctx, bson.M{fieldID: path}).Decode(&raw)
	if err == mongo.ErrNoDocuments {
		return Snapshot{Path: path, ID: id}, ErrDocNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotFromRaw(path, id, raw), nil
}

// SetDoc write a document, merge=true updates only the given fields
// (nested maps merged field by field)
func (s *MongoStore) SetDoc(ctx context.Context, path string, doc Doc, merge bool) error {
	if err := s.setDocAt(ctx, path, doc, merge, s.storeNow()); err != nil {
		return err
	}
	s.publish(ctx, path)
	return nil
}

// UpdateDoc partial update of an existing document, dotted keys allowed
func (s *MongoStore) UpdateDoc(ctx context.Context, path string, partial Doc) error {
	if err := s.updateDocAt(ctx, path, partial, s.storeNow()); err != nil {
		return err
	}
	s.publish(ctx, path)
	return nil
}

// DeleteDoc remove a document
func (s *MongoStore) DeleteDoc(ctx context.Context, path string) error {
	if err := s.deleteDocAt(ctx, path); err != nil {
		return err
	}
	s.publish(ctx, path)
	return nil
}

// AddDoc append a new document with a store-assigned id
func (s *MongoStore) AddDoc(ctx context.Context, collection string, doc Doc) (string, error) {
	id := newDocID(s.now())
	path := collection + "/" + id
	if err := s.setDocAt(ctx, path, doc, false, s.storeNow()); err != nil {
		return "", err
	}
	s.publish(ctx, path)
	return id, nil
}

// RunQuery one-shot ordered query
func (s *MongoStore) RunQuery(ctx context.Context, q Query) ([]Snapshot, error) {
	name, parent, err := CollectionInfo(q.Collection)
	if err != nil {
		return nil, err
	}

	filter := bson.M{fieldParent: parent}
	for _, c := range q.Conds {
		switch c.Op {
		case OpArrayContains:
			// mongo 對陣列欄位的等值比對即為 contains
			filter[c.Field] = c.Value
		default:
			filter[c.Field] = bson.M{"$eq": c.Value}
		}
	}

	opts := options.Find()
	if q.OrderBy != "" {
		dir := 1
		if q.Desc {
			dir = -1
		}
		// ties broken by insertion id
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: dir}, {Key: fieldID, Value: 1}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cur, err := s.db.Collection(name).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var raws []bson.M
	if err := cur.All(ctx, &raws); err != nil {
		return nil, err
	}

	snaps := make([]Snapshot, 0, len(raws))
	for _, raw := range raws {
		path, _ := raw[fieldID].(string)
		_, id, err := SplitPath(path)
		if err != nil {
			continue
		}
		snaps = append(snaps, snapshotFromRaw(path, id, raw))
	}
	return snaps, nil
}

// Batch accumulate writes, committed strictly in order
func (s *MongoStore) Batch() WriteBatch {
	return &mongoBatch{store: s}
}

func (s *MongoStore) storeNow() time.Time {
	// mongo 時間精度為毫秒，先截斷保證回讀相等
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *MongoStore) setDocAt(ctx context.Context, path string, doc Doc, merge bool, now time.Time) error {
	collection, _, err := SplitPath(path)
	if err != nil {
		return err
	}
	name, parent, err := CollectionInfo(collection)
	if err != nil {
		return err
	}

	resolved, _ := asDocValue(resolveValue(doc, now))
	coll := s.db.Collection(name)
	upsert := true

	if merge {
		sets := bson.M{fieldParent: parent}
		flattenInto(sets, "", resolved)
		_, err = coll.UpdateOne(ctx,
			bson.M{fieldID: path},
			bson.M{"$set": sets},
			&options.UpdateOptions{Upsert: &upsert})
		return err
	}

	replacement := bson.M{fieldParent: parent}
	for k, v := range resolved {
		replacement[k] = v
	}
	_, err = coll.ReplaceOne(ctx,
		bson.M{fieldID: path},
		replacement,
		&options.ReplaceOptions{Upsert: &upsert})
	return err
}

func (s *MongoStore) updateDocAt(ctx context.Context, path string, partial Doc, now time.Time) error {
	collection, _, err := SplitPath(path)
	if err != nil {
		return err
	}
	name, _, err := CollectionInfo(collection)
	if err != nil {
		return err
	}

	sets, incs := splitUpdate(partial, now)
	update := bson.M{}
	if len(sets) > 0 {
		update["$set"] = bson.M(sets)
	}
	if len(incs) > 0 {
		incDoc := bson.M{}
		for k, n := range incs {
			incDoc[k] = n
		}
		update["$inc"] = incDoc
	}
	if len(update) == 0 {
		return nil
	}

	res, err := s.db.Collection(name).UpdateOne(ctx, bson.M{fieldID: path}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrDocNotFound
	}
	return nil
}

func (s *MongoStore) deleteDocAt(ctx context.Context, path string) error {
	collection, _, err := SplitPath(path)
	if err != nil {
		return err
	}
	name, _, err := CollectionInfo(collection)
	if err != nil {
		return err
	}
	_, err = s.db.Collection(name).DeleteOne(ctx, bson.M{fieldID: path})
	return err
}

// newDocID store-assigned id. 查詢平手時以 _id 排序，奈秒前綴讓同一
// 毫秒時戳的文件維持插入順序
func newDocID(now time.Time) string {
	return fmt.Sprintf("%019d_%s", now.UnixNano(), uuid.NewString())
}

// publish 寫入後發布文件與 collection 兩個失效通知
func (s *MongoStore) publish(ctx context.Context, path string) {
	collection, _, err := SplitPath(path)
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, docChannelPrefix+path, path).Err(); err != nil {
		logger.Log.Warn("publish doc invalidation failed: " + err.Error())
	}
	if err := s.rdb.Publish(ctx, collChannelPrefix+collection, path).Err(); err != nil {
		logger.Log.Warn("publish coll invalidation failed: " + err.Error())
	}
}

type batchOp struct {
	kind    string // set / update / delete
	path    string
	doc     Doc
	merge   bool
	partial Doc
}

type mongoBatch struct {
	store *MongoStore
	ops   []batchOp
}

func (b *mongoBatch) Set(path string, doc Doc, merge bool) {
	b.ops = append(b.ops, batchOp{kind: "set", path: path, doc: doc, merge: merge})
}

func (b *mongoBatch) Update(path string, partial Doc) {
	b.ops = append(b.ops, batchOp{kind: "update", path: path, partial: partial})
}

func (b *mongoBatch) Delete(path string) {
	b.ops = append(b.ops, batchOp{kind: "delete", path: path})
}

// Commit 依序執行，遇錯即停。一個 batch 共用同一個 store 時戳。
func (b *mongoBatch) Commit(ctx context.Context) error {
	now := b.store.storeNow()
	for _, op := range b.ops {
		var err error
		switch op.kind {
		case "set":
			err = b.store.setDocAt(ctx, op.path, op.doc, op.merge, now)
		case "update":
			err = b.store.updateDocAt(ctx, op.path, op.partial, now)
		case "delete":
			err = b.store.deleteDocAt(ctx, op.path)
		}
		if err != nil {
			return err
		}
		b.store.publish(ctx, op.path)
	}
	return nil
}

func snapshotFromRaw(path, id string, raw bson.M) Snapshot {
	doc := Doc{}
	for k, v := range raw {
		if k == fieldID || k == fieldParent {
			continue
		}
		doc[k] = v
	}
	return Snapshot{Path: path, ID: id, Exists: true, Doc: doc}
}

// flattenInto turn nested maps into dotted $set keys
func flattenInto(out bson.M, prefix string, doc Doc) {
	for k, v := range doc {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := asDocValue(v); ok {
			flattenInto(out, key, sub)
			continue
		}
		out[key] = v
	}
}

// ErrWatchClosed watcher channel closed by transport
var ErrWatchClosed = errors.New("watch closed")
