package backend

import (
	"context"
	"errors"
)

// WatchDoc current value immediately, then a fresh read on every invalidation
func (s *MongoStore) WatchDoc(ctx context.Context, path string) (<-chan DocEvent, error) {
	if _, _, err := SplitPath(path); err != nil {
		return nil, err
	}

	ch := make(chan DocEvent, 32)
	sub := s.rdb.Subscribe(ctx, docChannelPrefix+path)

	go func() {
		defer close(ch)
		defer sub.Close()

		emit := func() bool {
			snap, err := s.GetDoc(ctx, path)
			if errors.Is(err, ErrDocNotFound) {
				// not-found 以快照的形式推送，Exists=false
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

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				if !emit() {
					return
				}
			}
		}
	}()

	return ch, nil
}

// WatchQuery current result set immediately, then re-runs the query on every
// change anywhere in the collection
func (s *MongoStore) WatchQuery(ctx context.Context, q Query) (<-chan QueryEvent, error) {
	if _, _, err := CollectionInfo(q.Collection); err != nil {
		return nil, err
	}

	ch := make(chan QueryEvent, 32)
	sub := s.rdb.Subscribe(ctx, collChannelPrefix+q.Collection)

	go func() {
		defer close(ch)
		defer sub.Close()

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

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				if !emit() {
					return
				}
			}
		}
	}()

	return ch, nil
}
