package repository

import (
	"context"
	"errors"

	"sirachat/internal/backend"
	memberdomain "sirachat/internal/member/domain"
	"sirachat/pkg/apperr"
)

// UsersCollection root collection of profile docs
const UsersCollection = "users"

// ProfileEvent one emission of a profile watch
type ProfileEvent struct {
	Profile memberdomain.UserProfile
	Exists  bool
	Err     error
}

// UserRepository persistence of user profiles
type UserRepository interface {
	Create(ctx context.Context, profile *memberdomain.UserProfile) error
	Find(ctx context.Context, uid string) (*memberdomain.UserProfile, error)
	Watch(ctx context.Context, uid string) (<-chan ProfileEvent, error)
	UpdateFields(ctx context.Context, uid string, partial backend.Doc) error
	SetPresence(ctx context.Context, uid string, status memberdomain.PresenceStatus) error
	ListOthers(ctx context.Context, uid string) ([]memberdomain.UserProfile, error)
	Delete(ctx context.Context, uid string) error
}

type userRepository struct {
	store backend.DocumentStore
}

// NewUserRepository create the repository over a document store
func NewUserRepository(store backend.DocumentStore) UserRepository {
	return &userRepository{store: store}
}

func (r *userRepository) Create(ctx context.Context, profile *memberdomain.UserProfile) error {
	return r.store.SetDoc(ctx, profile.DocPath(), profile.ToDoc(), false)
}

func (r *userRepository) Find(ctx context.Context, uid string) (*memberdomain.UserProfile, error) {
	snap, err := r.store.GetDoc(ctx, UsersCollection+"/"+uid)
	if errors.Is(err, backend.ErrDocNotFound) {
		return nil, apperr.Wrap(apperr.ErrNotFound, "user "+uid)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrBackendUnavailable, err.Error())
	}
	p := memberdomain.ProfileFromSnapshot(snap)
	return &p, nil
}

func (r *userRepository) Watch(ctx context.Context, uid string) (<-chan ProfileEvent, error) {
	raw, err := r.store.WatchDoc(ctx, UsersCollection+"/"+uid)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrBackendUnavailable, err.Error())
	}

	ch := make(chan ProfileEvent, 8)
	go func() {
		defer close(ch)
		for ev := range raw {
			out := ProfileEvent{Exists: ev.Snapshot.Exists, Err: ev.Err}
			if ev.Err == nil && ev.Snapshot.Exists {
				out.Profile = memberdomain.ProfileFromSnapshot(ev.Snapshot)
			}
			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (r *userRepository) UpdateFields(ctx context.Context, uid string, partial backend.Doc) error {
	err := r.store.UpdateDoc(ctx, UsersCollection+"/"+uid, partial)
	if errors.Is(err, backend.ErrDocNotFound) {
		return apperr.Wrap(apperr.ErrNotFound, "user "+uid)
	}
	return err
}

func (r *userRepository) SetPresence(ctx context.Context, uid string, status memberdomain.PresenceStatus) error {
	return r.UpdateFields(ctx, uid, backend.Doc{
		"status":    string(status),
		"last_seen": backend.ServerTimestamp(),
	})
}

func (r *userRepository) ListOthers(ctx context.Context, uid string) ([]memberdomain.UserProfile, error) {
	snaps, err := r.store.RunQuery(ctx, backend.Query{
		Collection: UsersCollection,
		OrderBy:    "username",
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrBackendUnavailable, err.Error())
	}

	users := make([]memberdomain.UserProfile, 0, len(snaps))
	for _, snap := range snaps {
		if snap.ID == uid {
			continue
		}
		users = append(users, memberdomain.ProfileFromSnapshot(snap))
	}
	return users, nil
}

func (r *userRepository) Delete(ctx context.Context, uid string) error {
	return r.store.DeleteDoc(ctx, UsersCollection+"/"+uid)
}
