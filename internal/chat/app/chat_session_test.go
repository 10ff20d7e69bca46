package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"sirachat/internal/backend"
	chatdomain "sirachat/internal/chat/domain"
	chatrepo "sirachat/internal/chat/repository"
	memberdomain "sirachat/internal/member/domain"
	memberrepo "sirachat/internal/member/repository"
	"sirachat/pkg/apperr"
	"sirachat/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatFixture struct {
	store      *backend.MemoryStore
	convRepo   chatrepo.ConversationRepository
	msgRepo    chatrepo.MessageRepository
	typingRepo chatrepo.TypingRepository
	userRepo   memberrepo.UserRepository
	amir       memberdomain.UserProfile
	budi       memberdomain.UserProfile
	chatID     string
}

func newChatFixture(t *testing.T, ctx context.Context) *chatFixture {
	t.Helper()
	logger.SetNewNop()

	store := backend.NewMemoryStore()
	f := &chatFixture{
		store:      store,
		convRepo:   chatrepo.NewConversationRepository(store),
		msgRepo:    chatrepo.NewMessageRepository(store),
		typingRepo: chatrepo.NewTypingRepository(store),
		userRepo:   memberrepo.NewUserRepository(store),
		amir:       memberdomain.UserProfile{UID: "amir", Username: "Amir"},
		budi:       memberdomain.UserProfile{UID: "budi", Username: "Budi"},
	}
	for _, p := range []memberdomain.UserProfile{f.amir, f.budi} {
		profile := p
		require.NoError(t, f.userRepo.Create(ctx, &profile))
	}

	chatID, err := f.convRepo.Ensure(ctx,
		&chatdomain.MemberSeed{UID: "amir", Profile: chatdomain.MemberProfile{Username: "Amir"}},
		&chatdomain.MemberSeed{UID: "budi", Profile: chatdomain.MemberProfile{Username: "Budi"}})
	require.NoError(t, err)
	f.chatID = chatID
	return f
}

func (f *chatFixture) open(t *testing.T, ctx context.Context, self memberdomain.UserProfile) *ChatSession {
	t.Helper()
	s, err := OpenChatSession(ctx, f.chatID, self, f.convRepo, f.msgRepo, f.typingRepo, f.userRepo, fastChatConfig())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func waitChatEvent(t *testing.T, s *ChatSession, kind ChatEventKind, ok func(ChatEvent) bool) ChatEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind == kind && (ok == nil || ok(ev)) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for chat event %s", kind)
		}
	}
}

func TestChatSession_Send(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newChatFixture(t, ctx)
	s := f.open(t, ctx, f.amir)

	t.Run("送出後訊息出現在串流", func(t *testing.T) {
		require.NoError(t, s.Send(ctx, SendInput{Text: "halo Budi"}))

		ev := waitChatEvent(t, s, ChatEventMessages, func(ev ChatEvent) bool {
			return len(ev.Bubbles) == 1
		})
		assert.Equal(t, "halo Budi", ev.Bubbles[0].Body)
		assert.Equal(t, chatdomain.AlignRight, ev.Bubbles[0].Alignment)
	})

	t.Run("對話預覽與對方未讀數更新", func(t *testing.T) {
		conv, err := f.convRepo.Find(ctx, f.chatID)
		require.NoError(t, err)
		assert.Equal(t, "halo Budi", conv.LastMessage)
		assert.False(t, conv.LastMessageTimestamp.IsZero())
		assert.Equal(t, int64(1), conv.UnreadFor("budi"))
		assert.Equal(t, int64(0), conv.UnreadFor("amir"))
	})

	t.Run("空訊息被拒絕", func(t *testing.T) {
		assert.ErrorIs(t, s.Send(ctx, SendInput{Text: "   "}), apperr.ErrValidation)
	})

	t.Run("超過長度上限被拒絕", func(t *testing.T) {
		long := strings.Repeat("x", 2001)
		assert.ErrorIs(t, s.Send(ctx, SendInput{Text: long}), apperr.ErrValidation)
	})

	t.Run("editing 模式擋下送出", func(t *testing.T) {
		msgs, err := f.msgRepo.List(ctx, f.chatID)
		require.NoError(t, err)
		require.NoError(t, s.BeginEdit(msgs[0].ID))
		assert.ErrorIs(t, s.Send(ctx, SendInput{Text: "nope"}), apperr.ErrValidation)
		s.Composer().Cancel()
	})
}

func TestChatSession_Reply(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newChatFixture(t, ctx)
	s := f.open(t, ctx, f.amir)

	require.NoError(t, s.Send(ctx, SendInput{Text: "original"}))
	waitChatEvent(t, s, ChatEventMessages, func(ev ChatEvent) bool { return len(ev.Bubbles) == 1 })
	msgs, err := f.msgRepo.List(ctx, f.chatID)
	require.NoError(t, err)
	originalID := msgs[0].ID

	require.NoError(t, s.BeginReply(originalID))
	require.NoError(t, s.Send(ctx, SendInput{Text: "balasan"}))

	t.Run("引用凍結且只附在一則訊息上", func(t *testing.T) {
		ev := waitChatEvent(t, s, ChatEventMessages, func(ev ChatEvent) bool { return len(ev.Bubbles) == 2 })
		reply := ev.Bubbles[1]
		require.NotNil(t, reply.Quote)
		assert.Equal(t, originalID, reply.Quote.MessageID)
		assert.Equal(t, "original", reply.Quote.Text)

		// 回覆送出後 composer 清空
		assert.Equal(t, chatdomain.ModeIdle, s.Composer().Mode())
	})

	t.Run("原文編輯後引用不變", func(t *testing.T) {
		require.NoError(t, s.Edit(ctx, originalID, "edited"))

		msgs, err := f.msgRepo.List(ctx, f.chatID)
		require.NoError(t, err)
		require.NotNil(t, msgs[1].ReplyTo)
		assert.Equal(t, "original", msgs[1].ReplyTo.Text)
	})
}

func TestChatSession_EditDelete(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newChatFixture(t, ctx)
	amirSession := f.open(t, ctx, f.amir)
	budiSession := f.open(t, ctx, f.budi)

	require.NoError(t, amirSession.Send(ctx, SendInput{Text: "from amir"}))
	msgs, err := f.msgRepo.List(ctx, f.chatID)
	require.NoError(t, err)
	mid := msgs[0].ID

	t.Run("別人的訊息不能編輯或刪除", func(t *testing.T) {
		assert.ErrorIs(t, budiSession.Edit(ctx, mid, "hijack"), apperr.ErrPermissionDenied)
		assert.ErrorIs(t, budiSession.Delete(ctx, mid), apperr.ErrPermissionDenied)
	})

	t.Run("編輯保留時間戳並標記 edited", func(t *testing.T) {
		before, err := f.msgRepo.Find(ctx, f.chatID, mid)
		require.NoError(t, err)

		require.NoError(t, amirSession.Edit(ctx, mid, "revised"))

		after, err := f.msgRepo.Find(ctx, f.chatID, mid)
		require.NoError(t, err)
		assert.Equal(t, "revised", after.Text)
		assert.True(t, after.Edited)
		assert.Equal(t, before.Timestamp, after.Timestamp)
	})

	t.Run("刪除改為墓碑並清掉附件與引用", func(t *testing.T) {
		require.NoError(t, amirSession.Delete(ctx, mid))

		after, err := f.msgRepo.Find(ctx, f.chatID, mid)
		require.NoError(t, err)
		assert.True(t, after.Deleted)
		assert.Equal(t, chatdomain.Tombstone, after.Text)
		assert.Nil(t, after.Attachment)
		assert.Nil(t, after.ReplyTo)
	})

	t.Run("墓碑不能再編輯", func(t *testing.T) {
		assert.ErrorIs(t, amirSession.Edit(ctx, mid, "again"), apperr.ErrPermissionDenied)
	})
}

func TestChatSession_TypingFilter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newChatFixture(t, ctx)
	s := f.open(t, ctx, f.amir)

	// 自己的 typing 不顯示
	require.NoError(t, f.typingRepo.Publish(ctx, f.chatID, "amir", "Amir", true))
	ev := waitChatEvent(t, s, ChatEventTyping, nil)
	assert.Empty(t, ev.Typing)

	// 對方的 typing 顯示名稱
	require.NoError(t, f.typingRepo.Publish(ctx, f.chatID, "budi", "Budi", true))
	ev = waitChatEvent(t, s, ChatEventTyping, func(ev ChatEvent) bool { return len(ev.Typing) == 1 })
	assert.Equal(t, []string{"Budi"}, ev.Typing)

	// 旗標停在 true 也要在過期後自動清掉
	ev = waitChatEvent(t, s, ChatEventTyping, func(ev ChatEvent) bool { return len(ev.Typing) == 0 })
	assert.Empty(t, ev.Typing)
}

func TestChatSession_UnreadReset(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newChatFixture(t, ctx)

	amirSession := f.open(t, ctx, f.amir)
	require.NoError(t, amirSession.Send(ctx, SendInput{Text: "ping"}))
	amirSession.Close()

	conv, err := f.convRepo.Find(ctx, f.chatID)
	require.NoError(t, err)
	require.Equal(t, int64(1), conv.UnreadFor("budi"))

	// Budi 打開聊天視窗，未讀歸零
	budiSession := f.open(t, ctx, f.budi)
	_ = budiSession
	require.Eventually(t, func() bool {
		conv, err := f.convRepo.Find(ctx, f.chatID)
		return err == nil && conv.UnreadFor("budi") == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestChatSession_ConversationGone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newChatFixture(t, ctx)
	amirSession := f.open(t, ctx, f.amir)
	budiSession := f.open(t, ctx, f.budi)

	require.NoError(t, amirSession.Send(ctx, SendInput{Text: "going away"}))
	require.NoError(t, amirSession.DeleteConversation(ctx, f.store))

	t.Run("對方收到 chat gone 事件", func(t *testing.T) {
		waitChatEvent(t, budiSession, ChatEventGone, nil)
	})

	t.Run("訊息與對話文件清空", func(t *testing.T) {
		msgs, err := f.msgRepo.List(ctx, f.chatID)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		_, err = f.convRepo.Find(ctx, f.chatID)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func TestChatSession_Sticker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newChatFixture(t, ctx)
	s := f.open(t, ctx, f.amir)

	t.Run("目錄外的貼圖被拒絕", func(t *testing.T) {
		assert.ErrorIs(t, s.SendSticker(ctx, "not-a-sticker"), apperr.ErrValidation)
	})

	t.Run("貼圖以 glyph 本文送出", func(t *testing.T) {
		require.NoError(t, s.SendSticker(ctx, "🔥"))

		ev := waitChatEvent(t, s, ChatEventMessages, func(ev ChatEvent) bool { return len(ev.Bubbles) == 1 })
		assert.Equal(t, chatdomain.VariantSticker, ev.Bubbles[0].Variant)
		assert.Equal(t, "🔥", ev.Bubbles[0].Body)
	})

	t.Run("貼圖在清單顯示固定標籤", func(t *testing.T) {
		conv, err := f.convRepo.Find(ctx, f.chatID)
		require.NoError(t, err)
		assert.Equal(t, "Sticker", conv.LastMessage)
	})
}
