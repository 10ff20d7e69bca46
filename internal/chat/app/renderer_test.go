package app

import (
	"testing"
	"time"

	chatdomain "sirachat/internal/chat/domain"

	"github.com/stretchr/testify/assert"
)

func TestRenderMessage(t *testing.T) {
	ts := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	t.Run("自己的訊息靠右且不顯示寄件人", func(t *testing.T) {
		m := chatdomain.Message{ID: "m1", SenderID: "amir", SenderName: "Amir", Text: "halo", Timestamp: ts}
		b := RenderMessage(&m, "amir")

		assert.Equal(t, chatdomain.AlignRight, b.Alignment)
		assert.Empty(t, b.SenderLabel)
		assert.Equal(t, chatdomain.VariantText, b.Variant)
		assert.Contains(t, b.Actions, chatdomain.ActionEdit)
		assert.Contains(t, b.Actions, chatdomain.ActionDelete)
	})

	t.Run("對方的訊息靠左且帶寄件人，沒有編輯刪除", func(t *testing.T) {
		m := chatdomain.Message{ID: "m2", SenderID: "budi", SenderName: "Budi", Text: "yo", Timestamp: ts}
		b := RenderMessage(&m, "amir")

		assert.Equal(t, chatdomain.AlignLeft, b.Alignment)
		assert.Equal(t, "Budi", b.SenderLabel)
		assert.Contains(t, b.Actions, chatdomain.ActionReply)
		assert.NotContains(t, b.Actions, chatdomain.ActionEdit)
		assert.NotContains(t, b.Actions, chatdomain.ActionDelete)
	})

	t.Run("墓碑沒有任何動作也不帶引用", func(t *testing.T) {
		m := chatdomain.Message{
			ID: "m3", SenderID: "amir", Text: chatdomain.Tombstone, Deleted: true,
			ReplyTo: &chatdomain.ReplyRef{MessageID: "m1"}, Timestamp: ts,
		}
		b := RenderMessage(&m, "amir")

		assert.Equal(t, chatdomain.VariantTombstone, b.Variant)
		assert.Equal(t, chatdomain.Tombstone, b.Body)
		assert.Empty(t, b.Actions)
		assert.Nil(t, b.Quote)
	})

	t.Run("附件決定變體", func(t *testing.T) {
		img := chatdomain.Message{ID: "m4", SenderID: "amir", Timestamp: ts,
			Attachment: &chatdomain.Attachment{Kind: chatdomain.KindImage, URL: "http://x/a.png"}}
		file := chatdomain.Message{ID: "m5", SenderID: "amir", Timestamp: ts,
			Attachment: &chatdomain.Attachment{Kind: chatdomain.KindFile, URL: "http://x/a.pdf", FileName: "a.pdf"}}
		sticker := chatdomain.Message{ID: "m6", SenderID: "amir", Text: "🔥", Timestamp: ts,
			Attachment: &chatdomain.Attachment{Kind: chatdomain.KindSticker}}

		assert.Equal(t, chatdomain.VariantImage, RenderMessage(&img, "amir").Variant)
		fb := RenderMessage(&file, "amir")
		assert.Equal(t, chatdomain.VariantFile, fb.Variant)
		assert.Equal(t, "a.pdf", fb.FileName)
		sb := RenderMessage(&sticker, "amir")
		assert.Equal(t, chatdomain.VariantSticker, sb.Variant)
		assert.Equal(t, "🔥", sb.Body)
		assert.NotContains(t, sb.Actions, chatdomain.ActionCopy)
	})

	t.Run("引用是凍結快照原樣帶出", func(t *testing.T) {
		quote := &chatdomain.ReplyRef{MessageID: "m1", Sender: "Budi", Text: "original"}
		m := chatdomain.Message{ID: "m7", SenderID: "amir", Text: "balas", ReplyTo: quote, Timestamp: ts}
		b := RenderMessage(&m, "amir")

		assert.Equal(t, quote, b.Quote)
	})

	t.Run("相同輸入產生相同輸出", func(t *testing.T) {
		m := chatdomain.Message{ID: "m8", SenderID: "amir", Text: "halo", Edited: true, Timestamp: ts}
		assert.Equal(t, RenderMessage(&m, "amir"), RenderMessage(&m, "amir"))
	})
}
