package chat

import "strings"

// Kind distinguishes room conversations from direct ones.
type Kind string

const (
	KindRoom   Kind = "room"
	KindDirect Kind = "direct"
)

// Target is an open conversation: a room id or the peer's user id.
type Target struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// IsZero reports whether no conversation is selected.
func (t Target) IsZero() bool { return t.ID == "" }

// Key returns the conversation key of t as seen by selfID.
func (t Target) Key(selfID string) ConversationKey {
	switch {
	case t.IsZero():
		return ""
	case t.Kind == KindRoom:
		return RoomKey(t.ID)
	default:
		return DirectKey(selfID, t.ID)
	}
}

// ConversationKey identifies a conversation for routing and unread tracking.
type ConversationKey string

// RoomKey is the key of a room conversation.
func RoomKey(roomID string) ConversationKey {
	return ConversationKey("room:" + roomID)
}

// DirectKey is the key of the direct conversation between a and b. It does
// not depend on argument order.
func DirectKey(a, b string) ConversationKey {
	if b < a {
		a, b = b, a
	}
	return ConversationKey("dm:" + a + ":" + b)
}

// IsRoom reports whether k names a room conversation.
func (k ConversationKey) IsRoom() bool { return strings.HasPrefix(string(k), "room:") }
