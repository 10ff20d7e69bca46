package app

import (
	chatdomain "sirachat/internal/chat/domain"
)

// RenderMessage derive the view of one message for one viewer. Pure
// derivation, the same message and viewer always produce the same bubble.
func RenderMessage(m *chatdomain.Message, viewerUID string) chatdomain.Bubble {
	b := chatdomain.Bubble{
		MessageID: m.ID,
		Alignment: chatdomain.AlignLeft,
		Variant:   chatdomain.VariantText,
		Body:      m.Text,
		Edited:    m.Edited,
		Quote:     m.ReplyTo,
	}
	if m.SenderID == viewerUID {
		b.Alignment = chatdomain.AlignRight
	} else {
		b.SenderLabel = m.SenderName
	}
	if !m.Timestamp.IsZero() {
		b.TimestampLabel = m.Timestamp.Local().Format("15:04")
	}

	switch {
	case m.Deleted:
		b.Variant = chatdomain.VariantTombstone
		b.Body = chatdomain.Tombstone
		b.Quote = nil
		return b
	case m.Attachment != nil && m.Attachment.Kind == chatdomain.KindSticker:
		b.Variant = chatdomain.VariantSticker
	case m.Attachment != nil && m.Attachment.Kind == chatdomain.KindImage:
		b.Variant = chatdomain.VariantImage
		b.AttachmentURL = m.Attachment.URL
	case m.Attachment != nil:
		b.Variant = chatdomain.VariantFile
		b.AttachmentURL = m.Attachment.URL
		b.FileName = m.Attachment.FileName
	}

	if m.CanReply() {
		b.Actions = append(b.Actions, chatdomain.ActionReply)
	}
	if m.CanCopy() {
		b.Actions = append(b.Actions, chatdomain.ActionCopy)
	}
	if m.CanEdit(viewerUID) {
		b.Actions = append(b.Actions, chatdomain.ActionEdit)
	}
	if m.CanDelete(viewerUID) {
		b.Actions = append(b.Actions, chatdomain.ActionDelete)
	}
	return b
}

// RenderMessages derive bubbles for a whole thread
func RenderMessages(msgs []chatdomain.Message, viewerUID string) []chatdomain.Bubble {
	bubbles := make([]chatdomain.Bubble, 0, len(msgs))
	for i := range msgs {
		bubbles = append(bubbles, RenderMessage(&msgs[i], viewerUID))
	}
	return bubbles
}
