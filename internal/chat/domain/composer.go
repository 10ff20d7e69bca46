package domain

// ComposerMode definition composer input mode, exactly one at a time
type ComposerMode int

const (
	// ModeIdle plain input
	ModeIdle ComposerMode = iota
	// ModeEditing rewriting an own text message
	ModeEditing
	// ModeReplying next send carries a frozen quote
	ModeReplying
	// ModeUploading an attachment upload is in flight
	ModeUploading
)

// String mode name for logs and wire payloads
func (m ComposerMode) String() string {
	switch m {
	case ModeEditing:
		return "editing"
	case ModeReplying:
		return "replying"
	case ModeUploading:
		return "uploading"
	default:
		return "idle"
	}
}

// ComposerState snapshot of the composer pushed to the client
type ComposerState struct {
	Mode           string    `json:"mode"`
	Text           string    `json:"text,omitempty"`
	EditingID      string    `json:"editing_id,omitempty"`
	ReplyTo        *ReplyRef `json:"reply_to,omitempty"`
	UploadFileName string    `json:"upload_file_name,omitempty"`
	UploadProgress float64   `json:"upload_progress,omitempty"`
}
