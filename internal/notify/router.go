// Package notify routes pushed messages to their conversation, keeps the
// per-conversation unread counters and raises alerts.
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopchat/internal/chat"
	"github.com/petervdpas/goopchat/internal/dedup"
	"github.com/petervdpas/goopchat/internal/util"
)

var log = logging.Logger("notify")

const (
	previewRunes = 120
	historySize  = 50
)

// Outcome says what HandleMessage did with a message.
type Outcome int

const (
	Duplicate  Outcome = iota // id already processed
	Own                       // sent by the current user
	Unroutable                // target is neither us nor a known room
	Active                    // appended to the open conversation
	Counted                   // unread counter incremented
)

func (o Outcome) String() string {
	switch o {
	case Duplicate:
		return "duplicate"
	case Own:
		return "own"
	case Unroutable:
		return "unroutable"
	case Active:
		return "active"
	case Counted:
		return "counted"
	}
	return "unknown"
}

// Settings toggles the alert channels; hot-reloadable.
type Settings struct {
	Sound  bool
	System bool
}

// Appender is the part of the reconciler the router feeds.
type Appender interface {
	AppendLive(msg chat.Message) bool
}

// Options wires a Router.
type Options struct {
	SelfID  string
	Seen    *dedup.Cache
	Unread  *Unread
	Stream  Appender
	Alerter Alerter
	Focus   Focus
	Names   Namer
}

type permission int

const (
	permUnknown permission = iota
	permGranted
	permDenied
)

// Router classifies inbound messages by conversation.
type Router struct {
	selfID  string
	seen    *dedup.Cache
	unread  *Unread
	stream  Appender
	alerter Alerter
	focus   Focus
	names   Namer

	settings atomic.Value // Settings
	history  *util.RingBuffer[Notification]

	mu         sync.Mutex
	active     chat.Target
	rooms      map[string]chat.Room
	order      []string
	permission permission
	onDeselect func(chat.Target)

	listenerMu sync.RWMutex
	listeners  map[chan State]struct{}
}

// State is what the presentation layer renders from the router.
type State struct {
	Active chat.Target                  `json:"active"`
	Rooms  []chat.Room                  `json:"rooms"`
	Unread map[chat.ConversationKey]int `json:"unread"`
}

// NewRouter creates a router. Focus, Alerter and Names may be nil.
func NewRouter(o Options) *Router {
	r := &Router{
		selfID:    o.SelfID,
		seen:      o.Seen,
		unread:    o.Unread,
		stream:    o.Stream,
		alerter:   o.Alerter,
		focus:     o.Focus,
		names:     o.Names,
		history:   util.NewRingBuffer[Notification](historySize),
		rooms:     make(map[string]chat.Room),
		listeners: make(map[chan State]struct{}),
	}
	if r.unread == nil {
		r.unread = NewUnread()
	}
	r.settings.Store(Settings{Sound: true, System: true})
	return r
}

// SetSettings swaps the alert settings.
func (r *Router) SetSettings(s Settings) { r.settings.Store(s) }

// OnDeselect registers fn to run when the active room is dropped.
func (r *Router) OnDeselect(fn func(chat.Target)) {
	r.mu.Lock()
	r.onDeselect = fn
	r.mu.Unlock()
}

// HandleMessage processes one pushed message.
func (r *Router) HandleMessage(msg chat.Message) Outcome {
	if msg.ID == "" {
		return Unroutable
	}
	if r.seen != nil && r.seen.Seen(msg.ID) {
		return Duplicate
	}
	if msg.SenderID == r.selfID {
		return Own
	}

	r.mu.Lock()
	key := r.keyForLocked(msg)
	if key == "" {
		r.mu.Unlock()
		log.Debugf("NOTIFY: no conversation for message %s → %s", msg.ID, msg.ReceiverID)
		return Unroutable
	}
	if key == r.active.Key(r.selfID) {
		r.mu.Unlock()
		if r.stream != nil {
			r.stream.AppendLive(msg)
		}
		if r.focus == nil || !r.focus.Focused() {
			r.alert(msg, key)
		}
		return Active
	}
	n := r.unread.Incr(key)
	r.mu.Unlock()

	log.Debugf("NOTIFY: %s unread=%d", key, n)
	r.alert(msg, key)
	r.notify()
	return Counted
}

// keyForLocked derives the conversation of msg, or "" when it has none.
func (r *Router) keyForLocked(msg chat.Message) chat.ConversationKey {
	if msg.ReceiverID == r.selfID {
		return chat.DirectKey(msg.SenderID, r.selfID)
	}
	if _, ok := r.rooms[msg.ReceiverID]; ok {
		return chat.RoomKey(msg.ReceiverID)
	}
	if r.active.Kind == chat.KindRoom && r.active.ID == msg.ReceiverID {
		return chat.RoomKey(msg.ReceiverID)
	}
	return ""
}

// SetActive marks t as the open conversation and drops its unread entry.
func (r *Router) SetActive(t chat.Target) {
	r.mu.Lock()
	r.active = t
	if !t.IsZero() {
		r.unread.Clear(t.Key(r.selfID))
	}
	r.mu.Unlock()
	r.notify()
}

// Active returns the open conversation.
func (r *Router) Active() chat.Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// HandleCleared drops unread entries for target read both as a room id and
// as a direct peer id.
func (r *Router) HandleCleared(target string) {
	if r.unread.Clear(chat.RoomKey(target), chat.DirectKey(r.selfID, target)) {
		r.notify()
	}
}

// SetRooms replaces the visible room list.
func (r *Router) SetRooms(rooms []chat.Room) {
	r.mu.Lock()
	r.rooms = make(map[string]chat.Room, len(rooms))
	r.order = r.order[:0]
	for _, room := range rooms {
		if _, dup := r.rooms[room.ID]; !dup {
			r.order = append(r.order, room.ID)
		}
		r.rooms[room.ID] = room
	}
	r.mu.Unlock()
	r.notify()
}

// HandleRoomUpdate applies a membership change. A room the current user
// no longer belongs to is dropped; otherwise it is upserted. Reports
// whether the room was dropped.
func (r *Router) HandleRoomUpdate(room chat.Room) bool {
	if !room.HasMember(r.selfID) {
		r.HandleRoomRemoved(room.ID)
		return true
	}
	r.mu.Lock()
	if _, ok := r.rooms[room.ID]; !ok {
		r.order = append(r.order, room.ID)
	}
	r.rooms[room.ID] = room
	r.mu.Unlock()
	r.notify()
	return false
}

// HandleRoomRemoved drops a room, deselecting it when it was active.
func (r *Router) HandleRoomRemoved(roomID string) {
	r.mu.Lock()
	delete(r.rooms, roomID)
	for i, id := range r.order {
		if id == roomID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	var deselect func(chat.Target)
	var was chat.Target
	if r.active.Kind == chat.KindRoom && r.active.ID == roomID {
		was = r.active
		r.active = chat.Target{}
		deselect = r.onDeselect
	}
	r.unread.Clear(chat.RoomKey(roomID))
	r.mu.Unlock()

	if deselect != nil {
		log.Infof("NOTIFY: active room %s removed, deselecting", roomID)
		deselect(was)
	}
	r.notify()
}

// Room returns a known room.
func (r *Router) Room(id string) (chat.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	return room, ok
}

// Rooms returns the visible rooms in arrival order.
func (r *Router) Rooms() []chat.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]chat.Room, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.rooms[id])
	}
	return out
}

// Unread exposes the counter map.
func (r *Router) Unread() *Unread { return r.unread }

// History returns the most recent notifications, oldest first.
func (r *Router) History() []Notification { return r.history.Snapshot() }

// State returns a snapshot for rendering.
func (r *Router) State() State {
	return State{Active: r.Active(), Rooms: r.Rooms(), Unread: r.unread.Snapshot()}
}

// Reset forgets everything tied to the logged-in session.
func (r *Router) Reset() {
	if r.seen != nil {
		r.seen.Reset()
	}
	r.unread.Reset()
	r.history.Reset()
	r.mu.Lock()
	r.active = chat.Target{}
	r.rooms = make(map[string]chat.Room)
	r.order = nil
	r.permission = permUnknown
	r.mu.Unlock()
	r.notify()
}

// Subscribe returns a channel receiving the router state after each change.
func (r *Router) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 16)
	r.listenerMu.Lock()
	r.listeners[ch] = struct{}{}
	r.listenerMu.Unlock()

	cancel := func() {
		r.listenerMu.Lock()
		if _, ok := r.listeners[ch]; ok {
			delete(r.listeners, ch)
			close(ch)
		}
		r.listenerMu.Unlock()
	}
	return ch, cancel
}

func (r *Router) notify() {
	st := r.State()
	r.listenerMu.RLock()
	defer r.listenerMu.RUnlock()
	for ch := range r.listeners {
		select {
		case ch <- st:
		default:
		}
	}
}

// alert plays the tone and raises a system notification, asking for
// permission the first time only.
func (r *Router) alert(msg chat.Message, key chat.ConversationKey) {
	if r.alerter == nil {
		return
	}
	s := r.settings.Load().(Settings)
	if s.Sound {
		r.alerter.PlayTone()
	}
	if !s.System {
		return
	}

	r.mu.Lock()
	if r.permission == permUnknown {
		r.permission = permDenied
		r.mu.Unlock()
		granted := r.alerter.RequestPermission()
		r.mu.Lock()
		if granted {
			r.permission = permGranted
		}
	}
	granted := r.permission == permGranted
	title := r.titleLocked(msg, key)
	r.mu.Unlock()

	if !granted {
		return
	}
	n := Notification{
		Key:      key,
		Title:    title,
		Body:     chat.PreviewText(&msg, previewRunes),
		SenderID: msg.SenderID,
		At:       time.Now(),
	}
	r.history.Push(n)
	if err := r.alerter.Notify(n); err != nil {
		log.Warnf("NOTIFY: system notification failed: %v", err)
	}
}

func (r *Router) titleLocked(msg chat.Message, key chat.ConversationKey) string {
	sender := msg.SenderID
	if r.names != nil {
		if name, ok := r.names.DisplayName(msg.SenderID); ok {
			sender = name
		}
	}
	if key.IsRoom() {
		if room, ok := r.rooms[msg.ReceiverID]; ok && room.Name != "" {
			return sender + " in " + room.Name
		}
	}
	return sender
}
