package app

import (
	"context"
	"testing"
	"time"

	memberdomain "sirachat/internal/member/domain"
	"sirachat/pkg/apperr"
	"sirachat/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, ctx context.Context) (ConversationIndex, *chatFixture) {
	t.Helper()
	f := newChatFixture(t, ctx)
	index := NewConversationIndex("amir",
		func() memberdomain.UserProfile { return f.amir },
		f.convRepo, f.userRepo)
	return index, f
}

func waitIndexEvent(t *testing.T, ch <-chan IndexEvent, ok func(IndexEvent) bool) IndexEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Err == nil && (ok == nil || ok(ev)) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for index event")
		}
	}
}

func TestConversationIndex_Start(t *testing.T) {
	logger.SetNewNop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	index, f := newTestIndex(t, ctx)

	ch, err := index.Start(ctx)
	require.NoError(t, err)

	t.Run("初始清單帶出既有對話與對方名稱", func(t *testing.T) {
		ev := waitIndexEvent(t, ch, func(ev IndexEvent) bool { return len(ev.Rows) == 1 })
		assert.Equal(t, "budi", ev.Rows[0].PeerID)
		assert.Equal(t, "Budi", ev.Rows[0].PeerName)
		assert.Equal(t, int64(0), ev.Badge)
	})

	t.Run("新訊息更新預覽與未讀徽章", func(t *testing.T) {
		s := f.open(t, ctx, f.budi)
		require.NoError(t, s.Send(ctx, SendInput{Text: "halo Amir"}))

		ev := waitIndexEvent(t, ch, func(ev IndexEvent) bool { return ev.Badge == 1 })
		assert.Equal(t, "halo Amir", ev.Rows[0].LastMessage)
		assert.Equal(t, int64(1), ev.Rows[0].Unread)
	})
}

func TestConversationIndex_StartChat(t *testing.T) {
	logger.SetNewNop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	index, f := newTestIndex(t, ctx)

	t.Run("兩邊得到同一個 chat id", func(t *testing.T) {
		citra := memberdomain.UserProfile{UID: "citra", Username: "Citra"}
		require.NoError(t, f.userRepo.Create(ctx, &citra))

		chatID, err := index.StartChat(ctx, "citra")
		require.NoError(t, err)
		assert.Equal(t, "amir__citra", chatID)

		// 再開一次不會產生新的對話
		again, err := index.StartChat(ctx, "citra")
		require.NoError(t, err)
		assert.Equal(t, chatID, again)
	})

	t.Run("不存在的對象回報 not found", func(t *testing.T) {
		_, err := index.StartChat(ctx, "ghost")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func TestConversationIndex_ListUsers(t *testing.T) {
	logger.SetNewNop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	index, f := newTestIndex(t, ctx)

	citra := memberdomain.UserProfile{UID: "citra", Username: "Citra"}
	require.NoError(t, f.userRepo.Create(ctx, &citra))

	users, err := index.ListUsers(ctx)
	require.NoError(t, err)

	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	// 自己不在名單裡
	assert.ElementsMatch(t, []string{"Budi", "Citra"}, names)
}
