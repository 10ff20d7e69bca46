package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"sirachat/internal/backend"
	memberdomain "sirachat/internal/member/domain"
	"sirachat/internal/member/repository"
	"sirachat/pkg/apperr"
	"sirachat/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitSessionEvent(t *testing.T, ch <-chan SessionEvent, kind SessionEventKind) SessionEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for session event %s", kind)
		}
	}
}

func newTestSession(t *testing.T, store *backend.MemoryStore, blobs *backend.MemoryBlobStore, sessions *fakeSessionStore, uid string) *SessionContext {
	t.Helper()
	userRepo := repository.NewUserRepository(store)
	return NewSessionContext(uid, userRepo, sessions, store, blobs, time.Hour)
}

func seedUser(t *testing.T, ctx context.Context, store *backend.MemoryStore, sessions *fakeSessionStore, uid, name string) {
	t.Helper()
	profile := memberdomain.UserProfile{UID: uid, Username: name, Status: memberdomain.StatusOnline}
	require.NoError(t, store.SetDoc(ctx, profile.DocPath(), profile.ToDoc(), false))
	require.NoError(t, sessions.Set(ctx, memberdomain.SessionKey(uid), memberdomain.SessionRecord{
		UID:        uid,
		Profile:    profile,
		SignedInAt: time.Now(),
	}, time.Hour))
}

func TestSessionContext_Start(t *testing.T) {
	logger.SetNewNop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := backend.NewMemoryStore()
	blobs := backend.NewMemoryBlobStore()
	sessions := newFakeSessionStore()

	t.Run("沒有 session 紀錄回報 ErrNotAuthenticated", func(t *testing.T) {
		s := newTestSession(t, store, blobs, sessions, "ghost")
		assert.ErrorIs(t, s.Start(ctx), apperr.ErrNotAuthenticated)
	})

	t.Run("有紀錄就還原 profile 並標記上線", func(t *testing.T) {
		seedUser(t, ctx, store, sessions, "amir", "Amir")

		s := newTestSession(t, store, blobs, sessions, "amir")
		require.NoError(t, s.Start(ctx))
		defer s.Close(ctx)

		assert.Equal(t, "Amir", s.Profile().Username)

		snap, err := store.GetDoc(ctx, "users/amir")
		require.NoError(t, err)
		assert.Equal(t, "online", snap.Doc.AsString("status"))
	})
}

func TestSessionContext_ProfileWatch(t *testing.T) {
	logger.SetNewNop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := backend.NewMemoryStore()
	blobs := backend.NewMemoryBlobStore()
	sessions := newFakeSessionStore()
	seedUser(t, ctx, store, sessions, "amir", "Amir")

	s := newTestSession(t, store, blobs, sessions, "amir")
	require.NoError(t, s.Start(ctx))
	defer s.Close(ctx)

	t.Run("profile 更新會推事件並覆寫 session 紀錄", func(t *testing.T) {
		require.NoError(t, store.UpdateDoc(ctx, "users/amir", backend.Doc{"avatar_url": "http://x/a.png"}))

		// watcher 啟動時會先推一次現況，等到帶新頭像的那一筆
		deadline := time.After(3 * time.Second)
		for {
			var ev SessionEvent
			select {
			case ev = <-s.Events():
			case <-deadline:
				t.Fatal("timed out waiting for avatar update")
			}
			if ev.Kind == EventProfileUpdated && ev.Profile.AvatarURL == "http://x/a.png" {
				break
			}
		}

		require.Eventually(t, func() bool {
			record, err := sessions.Get(ctx, memberdomain.SessionKey("amir"))
			return err == nil && record.Profile.AvatarURL == "http://x/a.png"
		}, 2*time.Second, 20*time.Millisecond)
	})

	t.Run("profile 文件消失視為 session 被收回", func(t *testing.T) {
		require.NoError(t, store.DeleteDoc(ctx, "users/amir"))

		waitSessionEvent(t, s.Events(), EventSessionRevoked)
		assert.False(t, sessions.has(memberdomain.SessionKey("amir")))
	})
}

func TestSessionContext_Logout(t *testing.T) {
	logger.SetNewNop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := backend.NewMemoryStore()
	blobs := backend.NewMemoryBlobStore()
	sessions := newFakeSessionStore()
	seedUser(t, ctx, store, sessions, "amir", "Amir")

	s := newTestSession(t, store, blobs, sessions, "amir")
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Logout(ctx))

	assert.False(t, sessions.has(memberdomain.SessionKey("amir")))

	snap, err := store.GetDoc(ctx, "users/amir")
	require.NoError(t, err)
	assert.Equal(t, "offline", snap.Doc.AsString("status"))

	waitSessionEvent(t, s.Events(), EventSessionEnded)
	s.Close(ctx)
}

func TestSessionContext_DeleteAccount(t *testing.T) {
	logger.SetNewNop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := backend.NewMemoryStore()
	blobs := backend.NewMemoryBlobStore()
	sessions := newFakeSessionStore()
	seedUser(t, ctx, store, sessions, "amir", "Amir")

	// 帳號名下的對話、訊息與頭像
	require.NoError(t, store.SetDoc(ctx, "conversations/amir__budi", backend.Doc{
		"members": []string{"amir", "budi"},
	}, false))
	_, err := store.AddDoc(ctx, "conversations/amir__budi/messages", backend.Doc{
		"text": "hi", "sender_id": "amir",
	})
	require.NoError(t, err)
	_, err = blobs.Upload(ctx, memberdomain.AvatarObjectPath("amir"), strings.NewReader("img"), 3, "image/png", nil)
	require.NoError(t, err)

	s := newTestSession(t, store, blobs, sessions, "amir")
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.DeleteAccount(ctx))

	t.Run("對話與訊息清空", func(t *testing.T) {
		_, err := store.GetDoc(ctx, "conversations/amir__budi")
		assert.ErrorIs(t, err, backend.ErrDocNotFound)

		msgs, err := store.RunQuery(ctx, backend.Query{Collection: "conversations/amir__budi/messages"})
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("頭像與 profile 文件移除", func(t *testing.T) {
		ok, _ := blobs.Exists(ctx, memberdomain.AvatarObjectPath("amir"))
		assert.False(t, ok)

		_, err := store.GetDoc(ctx, "users/amir")
		assert.ErrorIs(t, err, backend.ErrDocNotFound)
	})

	t.Run("session 紀錄移除並推出結束事件", func(t *testing.T) {
		assert.False(t, sessions.has(memberdomain.SessionKey("amir")))
		waitSessionEvent(t, s.Events(), EventSessionEnded)
	})
	s.Close(ctx)
}
