package domain

import (
	"sort"
	"strings"
	"time"

	"sirachat/internal/backend"
)

// MemberProfile denormalized profile snapshot stored on the conversation
type MemberProfile struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Conversation 兩人對話，id 由成員 uid 決定
type Conversation struct {
	ID                   string                   `json:"id"`
	Members              []string                 `json:"members"`
	MemberProfiles       map[string]MemberProfile `json:"member_profiles"`
	LastMessage          string                   `json:"last_message"`
	LastMessageTimestamp time.Time                `json:"last_message_timestamp"`
	UnreadCounts         map[string]int64         `json:"unread_counts"`
	CreatedAt            time.Time                `json:"created_at"`
}

// ConversationID deterministic id, both members derive the same one
func ConversationID(a, b string) string {
	members := []string{a, b}
	sort.Strings(members)
	return strings.Join(members, "__")
}

// PeerOf the other member, self for a self-chat
func (c *Conversation) PeerOf(uid string) string {
	for _, m := range c.Members {
		if m != uid {
			return m
		}
	}
	return uid
}

// UnreadFor unread count of one member
func (c *Conversation) UnreadFor(uid string) int64 {
	if c.UnreadCounts == nil {
		return 0
	}
	return c.UnreadCounts[uid]
}

// MemberSeed uid plus the profile snapshot to denormalize when a new
// conversation doc is created
type MemberSeed struct {
	UID     string
	Profile MemberProfile
}

// ConversationView one row of the conversation list
type ConversationView struct {
	Conversation
	PeerID     string `json:"peer_id"`
	PeerName   string `json:"peer_name"`
	PeerAvatar string `json:"peer_avatar,omitempty"`
	Unread     int64  `json:"unread"`
}

// ToDoc conversation fields as stored
func (c *Conversation) ToDoc() backend.Doc {
	profiles := backend.Doc{}
	for uid, p := range c.MemberProfiles {
		profiles[uid] = backend.Doc{
			"username":   p.Username,
			"avatar_url": p.AvatarURL,
		}
	}
	unread := backend.Doc{}
	for uid, n := range c.UnreadCounts {
		unread[uid] = n
	}
	return backend.Doc{
		"members":                c.Members,
		"member_profiles":        profiles,
		"last_message":           c.LastMessage,
		"last_message_timestamp": nil,
		"unread_counts":          unread,
		"created_at":             backend.ServerTimestamp(),
	}
}

// ConversationFromSnapshot decode a stored conversation
func ConversationFromSnapshot(snap backend.Snapshot) Conversation {
	doc := snap.Doc
	c := Conversation{
		ID:                   snap.ID,
		Members:              doc.AsStrSlice("members"),
		MemberProfiles:       map[string]MemberProfile{},
		LastMessage:          doc.AsString("last_message"),
		LastMessageTimestamp: doc.AsTime("last_message_timestamp"),
		UnreadCounts:         map[string]int64{},
		CreatedAt:            doc.AsTime("created_at"),
	}
	if profiles := doc.AsDoc("member_profiles"); profiles != nil {
		for uid := range profiles {
			if p := profiles.AsDoc(uid); p != nil {
				c.MemberProfiles[uid] = MemberProfile{
					Username:  p.AsString("username"),
					AvatarURL: p.AsString("avatar_url"),
				}
			}
		}
	}
	if unread := doc.AsDoc("unread_counts"); unread != nil {
		for uid := range unread {
			c.UnreadCounts[uid] = unread.AsInt(uid)
		}
	}
	return c
}

// SortConversations most recent activity first, conversations without any
// message sink below and order by creation time
func SortConversations(list []Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		ti, tj := list[i].LastMessageTimestamp, list[j].LastMessageTimestamp
		if ti.IsZero() != tj.IsZero() {
			return !ti.IsZero()
		}
		if ti.IsZero() {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return ti.After(tj)
	})
}
