package chat

import (
	"bytes"
	"encoding/json"
	"time"
)

// MessageType is the kind of body a message carries.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image" // body is a serialized Attachment
	TypeFile  MessageType = "file"  // body is a serialized Attachment
)

// Reaction is one user's emoji on a message. A user holds at most one.
type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

// ReplyPreview is the part of a quoted message kept on the reply, as it was
// at send time.
type ReplyPreview struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Body      string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is one chat message as the server reports it.
type Message struct {
	ID         string        `json:"id"`
	SenderID   string        `json:"senderId"`
	ReceiverID string        `json:"receiverId"` // room id or peer user id
	Body       string        `json:"content"`
	Type       MessageType   `json:"type"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
	Read       bool          `json:"isRead"`
	Reactions  []Reaction    `json:"reactions"`
	ReplyToID  string        `json:"replyToId,omitempty"`
	ReplyTo    *ReplyPreview `json:"replyTo"`
}

// UnmarshalJSON accepts replyTo either as the full referenced message or as
// anything else (a bare id, null), which yields no preview.
func (m *Message) UnmarshalJSON(b []byte) error {
	type plain Message
	var aux struct {
		plain
		ReplyTo json.RawMessage `json:"replyTo"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*m = Message(aux.plain)
	m.ReplyTo = nil

	raw := bytes.TrimSpace(aux.ReplyTo)
	if len(raw) > 0 && raw[0] == '{' {
		var p ReplyPreview
		if err := json.Unmarshal(raw, &p); err == nil && p.ID != "" {
			m.ReplyTo = &p
		}
	}
	return nil
}

// Attachment is the serialized body of image and file messages.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size,omitempty"`
	Mime string `json:"mime,omitempty"`
}

// ParseAttachment decodes an image/file body. ok is false for text bodies.
func ParseAttachment(body string) (Attachment, bool) {
	var a Attachment
	if err := json.Unmarshal([]byte(body), &a); err != nil || a.URL == "" {
		return Attachment{}, false
	}
	return a, true
}

// Room is a multi-member conversation.
type Room struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// HasMember reports whether userID belongs to the room.
func (r Room) HasMember(userID string) bool {
	for _, m := range r.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// normalize returns a detached copy of in with a non-nil reaction list
// (one entry per user) and a copied reply preview.
func normalize(in Message) *Message {
	out := in
	out.Reactions = normalizeReactions(in.Reactions)
	if in.ReplyTo != nil {
		p := *in.ReplyTo
		out.ReplyTo = &p
	}
	return &out
}

// normalizeReactions copies rs, letting a later reaction from the same user
// replace the earlier one in place.
func normalizeReactions(rs []Reaction) []Reaction {
	out := make([]Reaction, 0, len(rs))
	pos := make(map[string]int, len(rs))
	for _, r := range rs {
		if i, ok := pos[r.UserID]; ok {
			out[i] = r
			continue
		}
		pos[r.UserID] = len(out)
		out = append(out, r)
	}
	return out
}

// Equivalent reports whether a and b render identically: same identity,
// content, status, timestamps, reply preview and an identical reaction list
// (order-sensitive).
func Equivalent(a, b *Message) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.ID != b.ID || a.Body != b.Body || a.Type != b.Type || a.Read != b.Read ||
		a.SenderID != b.SenderID ||
		!a.CreatedAt.Equal(b.CreatedAt) || !a.UpdatedAt.Equal(b.UpdatedAt) {
		return false
	}
	if !equalPreview(a.ReplyTo, b.ReplyTo) {
		return false
	}
	if len(a.Reactions) != len(b.Reactions) {
		return false
	}
	for i := range a.Reactions {
		if a.Reactions[i] != b.Reactions[i] {
			return false
		}
	}
	return true
}

func equalPreview(a, b *ReplyPreview) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID && a.Body == b.Body && a.SenderID == b.SenderID && a.CreatedAt.Equal(b.CreatedAt)
}
