package notify

import (
	"time"

	"github.com/petervdpas/goopchat/internal/chat"
)

// Notification is a system notification request.
type Notification struct {
	Key      chat.ConversationKey `json:"key"`
	Title    string               `json:"title"`
	Body     string               `json:"body"`
	SenderID string               `json:"sender_id"`
	At       time.Time            `json:"at"`
}

// Alerter is the presentation-side sink for audible and system alerts.
type Alerter interface {
	PlayTone()
	// RequestPermission asks the user once for system notification rights.
	RequestPermission() bool
	Notify(n Notification) error
}

// Focus reports whether the client window currently has focus.
type Focus interface {
	Focused() bool
}

// FocusFunc adapts a function to Focus.
type FocusFunc func() bool

func (f FocusFunc) Focused() bool { return f() }

// Namer resolves user ids to display names for notification titles.
type Namer interface {
	DisplayName(userID string) (string, bool)
}
