package domain

// BubbleAlignment which side of the thread the bubble sits on
type BubbleAlignment string

const (
	// AlignRight own messages
	AlignRight BubbleAlignment = "right"
	// AlignLeft peer messages
	AlignLeft BubbleAlignment = "left"
)

// BodyVariant how the bubble body renders
type BodyVariant string

const (
	// VariantText plain text body
	VariantText BodyVariant = "text"
	// VariantTombstone deleted placeholder, italic and without actions
	VariantTombstone BodyVariant = "tombstone"
	// VariantSticker large glyph, no bubble background
	VariantSticker BodyVariant = "sticker"
	// VariantImage image attachment with optional caption
	VariantImage BodyVariant = "image"
	// VariantFile file chip with name plus optional caption
	VariantFile BodyVariant = "file"
)

// BubbleAction context menu entry on a bubble
type BubbleAction string

const (
	// ActionReply quote the message in the composer
	ActionReply BubbleAction = "reply"
	// ActionCopy copy the text body
	ActionCopy BubbleAction = "copy"
	// ActionEdit rewrite an own text message
	ActionEdit BubbleAction = "edit"
	// ActionDelete tombstone an own message
	ActionDelete BubbleAction = "delete"
)

// Bubble 渲染後的訊息視圖
type Bubble struct {
	MessageID      string          `json:"message_id"`
	Alignment      BubbleAlignment `json:"alignment"`
	SenderLabel    string          `json:"sender_label,omitempty"`
	Variant        BodyVariant     `json:"variant"`
	Body           string          `json:"body"`
	AttachmentURL  string          `json:"attachment_url,omitempty"`
	FileName       string          `json:"file_name,omitempty"`
	Quote          *ReplyRef       `json:"quote,omitempty"`
	TimestampLabel string          `json:"timestamp_label"`
	Edited         bool            `json:"edited"`
	Actions        []BubbleAction  `json:"actions,omitempty"`
}
