package app

import (
	"context"
	"sync"
	"time"

	"sirachat/internal/backend"
	memberdomain "sirachat/internal/member/domain"
	"sirachat/internal/member/repository"
	"sirachat/pkg/database"

	"github.com/stretchr/testify/mock"
)

// MockUserRepo Mock UserRepository
type MockUserRepo struct {
	mock.Mock
}

// Create moke create user
func (m *MockUserRepo) Create(ctx context.Context, profile *memberdomain.UserProfile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

// Find moke find user by uid
func (m *MockUserRepo) Find(ctx context.Context, uid string) (*memberdomain.UserProfile, error) {
	args := m.Called(ctx, uid)
	if args.Get(0) != nil {
		return args.Get(0).(*memberdomain.UserProfile), args.Error(1)
	}
	return nil, args.Error(1)
}

// Watch moke watch user doc
func (m *MockUserRepo) Watch(ctx context.Context, uid string) (<-chan repository.ProfileEvent, error) {
	args := m.Called(ctx, uid)
	if args.Get(0) != nil {
		return args.Get(0).(<-chan repository.ProfileEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

// UpdateFields moke partial update
func (m *MockUserRepo) UpdateFields(ctx context.Context, uid string, partial backend.Doc) error {
	args := m.Called(ctx, uid, partial)
	return args.Error(0)
}

// SetPresence moke presence update
func (m *MockUserRepo) SetPresence(ctx context.Context, uid string, status memberdomain.PresenceStatus) error {
	args := m.Called(ctx, uid, status)
	return args.Error(0)
}

// ListOthers moke directory listing
func (m *MockUserRepo) ListOthers(ctx context.Context, uid string) ([]memberdomain.UserProfile, error) {
	args := m.Called(ctx, uid)
	if args.Get(0) != nil {
		return args.Get(0).([]memberdomain.UserProfile), args.Error(1)
	}
	return nil, args.Error(1)
}

// Delete moke delete user doc
func (m *MockUserRepo) Delete(ctx context.Context, uid string) error {
	args := m.Called(ctx, uid)
	return args.Error(0)
}

// fakeSessionStore in-memory RedisRepository for SessionRecord, stateful so
// session tests can assert on what was stored
type fakeSessionStore struct {
	mu      sync.Mutex
	records map[string]memberdomain.SessionRecord
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{records: map[string]memberdomain.SessionRecord{}}
}

var _ database.RedisRepository[memberdomain.SessionRecord] = (*fakeSessionStore)(nil)

func (f *fakeSessionStore) Set(ctx context.Context, key string, value memberdomain.SessionRecord, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[key] = value
	return nil
}

func (f *fakeSessionStore) Get(ctx context.Context, key string) (memberdomain.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[key]
	if !ok {
		return memberdomain.SessionRecord{}, database.ErrRedisNil
	}
	return record, nil
}

func (f *fakeSessionStore) Del(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, key)
	return nil
}

func (f *fakeSessionStore) GetTTL(ctx context.Context, key string) (int, error) {
	return 0, nil
}

func (f *fakeSessionStore) ExtendTTL(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

func (f *fakeSessionStore) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[key]
	return ok
}
