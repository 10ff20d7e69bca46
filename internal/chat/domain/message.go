package domain

import (
	"time"

	"sirachat/internal/backend"
)

// AttachmentKind definition attachment type
type AttachmentKind string

const (
	// KindImage image attachment
	KindImage AttachmentKind = "image"
	// KindFile document attachment
	KindFile AttachmentKind = "file"
	// KindSticker sticker glyph, body text carries the glyph
	KindSticker AttachmentKind = "sticker"
)

// Tombstone body left in place of a deleted message
const Tombstone = "Pesan ini telah dihapus"

// MaxPreviewLen conversation list preview cut-off
const MaxPreviewLen = 30

// Attachment definition message attachment
type Attachment struct {
	URL      string         `bson:"url" json:"url"`
	Kind     AttachmentKind `bson:"kind" json:"kind"`
	FileName string         `bson:"file_name,omitempty" json:"file_name,omitempty"`
}

// ReplyRef frozen snapshot of the replied-to message. Never refreshed when
// the target is later edited or deleted.
type ReplyRef struct {
	MessageID string         `bson:"message_id" json:"message_id"`
	Sender    string         `bson:"sender" json:"sender"`
	Text      string         `bson:"text" json:"text"`
	Kind      AttachmentKind `bson:"kind,omitempty" json:"kind,omitempty"`
}

// Message 表示一則聊天訊息
type Message struct {
	ID         string      `json:"id"`
	ChatID     string      `json:"chat_id"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	Text       string      `json:"text"`
	Timestamp  time.Time   `json:"timestamp"`
	Attachment *Attachment `json:"attachment,omitempty"`
	ReplyTo    *ReplyRef   `json:"reply_to,omitempty"`
	Edited     bool        `json:"edited"`
	Deleted    bool        `json:"deleted"`
}

// CanEdit edit is for own text-only live messages
func (m *Message) CanEdit(viewerUID string) bool {
	return m.SenderID == viewerUID && m.Attachment == nil && !m.Deleted
}

// CanDelete delete is for own live messages
func (m *Message) CanDelete(viewerUID string) bool {
	return m.SenderID == viewerUID && !m.Deleted
}

// CanReply any live message can be replied to
func (m *Message) CanReply() bool {
	return !m.Deleted
}

// CanCopy copy needs text, stickers and tombstones excluded
func (m *Message) CanCopy() bool {
	if m.Deleted || m.Text == "" {
		return false
	}
	return m.Attachment == nil || m.Attachment.Kind != KindSticker
}

// ReplySnapshot freeze this message into a reply reference
func (m *Message) ReplySnapshot() *ReplyRef {
	ref := &ReplyRef{
		MessageID: m.ID,
		Sender:    m.SenderName,
		Text:      m.Text,
	}
	if m.Attachment != nil {
		ref.Kind = m.Attachment.Kind
	}
	return ref
}

// Preview conversation list preview: first 30 chars of text plus ellipsis,
// or the fixed label of the attachment kind. Stickers always show the
// label, the glyph body never leaks into the list.
func Preview(text string, att *Attachment) string {
	if att != nil && att.Kind == KindSticker {
		return "Sticker"
	}
	if text != "" {
		runes := []rune(text)
		if len(runes) > MaxPreviewLen {
			return string(runes[:MaxPreviewLen]) + "…"
		}
		return text
	}
	if att == nil {
		return ""
	}
	switch att.Kind {
	case KindImage:
		return "Image"
	case KindSticker:
		return "Sticker"
	default:
		return "Document"
	}
}

// ToDoc message fields as stored
func (m *Message) ToDoc() backend.Doc {
	doc := backend.Doc{
		"text":        m.Text,
		"sender_id":   m.SenderID,
		"sender_name": m.SenderName,
		"timestamp":   backend.ServerTimestamp(),
		"edited":      m.Edited,
		"deleted":     m.Deleted,
	}
	if m.Attachment != nil {
		doc["attachment"] = backend.Doc{
			"url":       m.Attachment.URL,
			"kind":      string(m.Attachment.Kind),
			"file_name": m.Attachment.FileName,
		}
	}
	if m.ReplyTo != nil {
		doc["reply_to"] = backend.Doc{
			"message_id": m.ReplyTo.MessageID,
			"sender":     m.ReplyTo.Sender,
			"text":       m.ReplyTo.Text,
			"kind":       string(m.ReplyTo.Kind),
		}
	}
	return doc
}

// MessageFromSnapshot decode a stored message
func MessageFromSnapshot(chatID string, snap backend.Snapshot) Message {
	doc := snap.Doc
	m := Message{
		ID:         snap.ID,
		ChatID:     chatID,
		SenderID:   doc.AsString("sender_id"),
		SenderName: doc.AsString("sender_name"),
		Text:       doc.AsString("text"),
		Timestamp:  doc.AsTime("timestamp"),
		Edited:     doc.AsBool("edited"),
		Deleted:    doc.AsBool("deleted"),
	}
	if att := doc.AsDoc("attachment"); att != nil {
		m.Attachment = &Attachment{
			URL:      att.AsString("url"),
			Kind:     AttachmentKind(att.AsString("kind")),
			FileName: att.AsString("file_name"),
		}
	}
	if ref := doc.AsDoc("reply_to"); ref != nil {
		m.ReplyTo = &ReplyRef{
			MessageID: ref.AsString("message_id"),
			Sender:    ref.AsString("sender"),
			Text:      ref.AsString("text"),
			Kind:      AttachmentKind(ref.AsString("kind")),
		}
	}
	return m
}
