package domain

// Action websocket request action
type Action string

const (
	// ListChats websocket action list_chats
	ListChats Action = "list_chats"
	// ListUsers websocket action list_users
	ListUsers Action = "list_users"
	// StartChat websocket action start_chat
	StartChat Action = "start_chat"

	// OpenChat websocket action open_chat
	OpenChat Action = "open_chat"
	// CloseChat websocket action close_chat
	CloseChat Action = "close_chat"
	// DeleteChat websocket action delete_chat
	DeleteChat Action = "delete_chat"

	// SendMessage websocket action send_message
	SendMessage Action = "send_message"
	// EditMessage websocket action edit_message
	EditMessage Action = "edit_message"
	// DeleteMessage websocket action delete_message
	DeleteMessage Action = "delete_message"

	// BeginEdit websocket action begin_edit
	BeginEdit Action = "begin_edit"
	// BeginReply websocket action begin_reply
	BeginReply Action = "begin_reply"
	// CancelCompose websocket action cancel_compose
	CancelCompose Action = "cancel_compose"

	// Typing websocket action typing
	Typing Action = "typing"

	// GetStickers websocket action get_stickers
	GetStickers Action = "get_stickers"

	// UpdateProfile websocket action update_profile
	UpdateProfile Action = "update_profile"
	// Logout websocket action logout
	Logout Action = "logout"
	// DeleteAccount websocket action delete_account
	DeleteAccount Action = "delete_account"
)

// server push actions
const (
	// PushChats conversation list update
	PushChats Action = "chats"
	// PushUsers directory listing
	PushUsers Action = "users"
	// PushMessages rendered message list of the open chat
	PushMessages Action = "messages"
	// PushTyping typing indicator of the open chat
	PushTyping Action = "typing_status"
	// PushPeer peer header of the open chat
	PushPeer Action = "peer"
	// PushChatGone open chat vanished
	PushChatGone Action = "chat_gone"
	// PushComposer composer state changed
	PushComposer Action = "composer"
	// PushUploadProgress attachment upload progress
	PushUploadProgress Action = "upload_progress"
	// PushProfile own profile changed
	PushProfile Action = "profile"
	// PushSessionEnded session ended or revoked
	PushSessionEnded Action = "session_ended"
)

// WSRequest websocket Request
type WSRequest struct {
	Action    string `json:"action"`
	ChatID    string `json:"chat_id"`
	PartnerID string `json:"partner_id"`
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
	Sticker   string `json:"sticker"`
	Username  string `json:"username"`
}

// WSResponse websocket Response
type WSResponse struct {
	Action  string                 `json:"action"`
	Success bool                   `json:"success"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Code    string                 `json:"code,omitempty"`
}
