// Package chat holds the message model and the reconciler that merges polled
// history snapshots with pushed deltas into one ordered list.
package chat

import (
	"errors"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("chat")

// ErrNoConversation is returned when an operation needs an open conversation.
var ErrNoConversation = errors.New("chat: no conversation open")

// ErrUnknownMessage is returned when a message id is not in the list.
var ErrUnknownMessage = errors.New("chat: unknown message")

// Manager owns the message list of the open conversation. Returned
// *Message values are never mutated after publication: a change swaps in a
// new object, an unchanged message keeps its pointer across merges.
type Manager struct {
	mu       sync.RWMutex
	target   Target
	messages []*Message
	reply    *Message // message quoted by the composer, if any
	pending  map[string]struct{} // pushed ids no snapshot has confirmed yet

	listenerMu sync.RWMutex
	listeners  map[chan []*Message]struct{}
}

// New creates an empty manager with no open conversation.
func New() *Manager {
	return &Manager{
		pending:   make(map[string]struct{}),
		listeners: make(map[chan []*Message]struct{}),
	}
}

// Open switches to target, dropping the previous list and composer state.
func (m *Manager) Open(t Target) {
	m.mu.Lock()
	m.target = t
	m.messages = nil
	m.reply = nil
	clear(m.pending)
	m.mu.Unlock()
	m.notify()
}

// Target returns the open conversation.
func (m *Manager) Target() Target {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.target
}

// Messages returns the current list, oldest first.
func (m *Manager) Messages() []*Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// Get returns the message with id, if present.
func (m *Manager) Get(id string) (*Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.indexLocked(id)
	if i < 0 {
		return nil, false
	}
	return m.messages[i], true
}

// Merge reconciles a fetched history snapshot for t into the list.
// Messages equivalent to the ones already held keep their old pointer;
// everything else is replaced by the normalized incoming version. Pushed
// messages no snapshot has confirmed yet, and held messages newer than the
// snapshot's newest entry, are kept at the end, so a push that overtook the
// poll is not lost even when the snapshot is empty. Snapshots for a conversation
// that is no longer open are discarded. Reports whether the list changed.
func (m *Manager) Merge(t Target, incoming []Message) bool {
	m.mu.Lock()
	if t != m.target {
		m.mu.Unlock()
		log.Debugf("CHAT: dropping stale snapshot for %s %s", t.Kind, t.ID)
		return false
	}

	prev := make(map[string]*Message, len(m.messages))
	for _, msg := range m.messages {
		prev[msg.ID] = msg
	}

	out := make([]*Message, 0, len(incoming))
	seen := make(map[string]bool, len(incoming))
	for i := range incoming {
		in := normalize(incoming[i])
		if in.ID == "" || seen[in.ID] {
			continue
		}
		seen[in.ID] = true
		delete(m.pending, in.ID)
		if old, ok := prev[in.ID]; ok && Equivalent(old, in) {
			out = append(out, old)
			continue
		}
		out = append(out, in)
	}

	var newest time.Time
	for _, msg := range out {
		if msg.CreatedAt.After(newest) {
			newest = msg.CreatedAt
		}
	}
	for _, old := range m.messages {
		if seen[old.ID] {
			continue
		}
		_, live := m.pending[old.ID]
		if live || (len(out) > 0 && old.CreatedAt.After(newest)) {
			out = append(out, old)
		}
	}

	changed := !samePointers(m.messages, out)
	if changed {
		m.messages = out
		m.refreshReplyLocked()
	}
	m.mu.Unlock()

	if changed {
		m.notify()
	}
	return changed
}

// AppendLive appends a pushed message unless one with the same id is
// already listed. Reports whether it was appended.
func (m *Manager) AppendLive(msg Message) bool {
	m.mu.Lock()
	if msg.ID == "" || m.indexLocked(msg.ID) >= 0 {
		m.mu.Unlock()
		return false
	}
	m.messages = append(m.snapshotLocked(), normalize(msg))
	m.pending[msg.ID] = struct{}{}
	m.mu.Unlock()
	m.notify()
	return true
}

// ApplyReactions replaces the reaction list of message id.
func (m *Manager) ApplyReactions(id string, reactions []Reaction) bool {
	m.mu.Lock()
	i := m.indexLocked(id)
	if i < 0 {
		m.mu.Unlock()
		return false
	}
	updated := *m.messages[i]
	updated.Reactions = normalizeReactions(reactions)
	list := m.snapshotLocked()
	list[i] = &updated
	m.messages = list
	if m.reply != nil && m.reply.ID == id {
		m.reply = &updated
	}
	m.mu.Unlock()
	m.notify()
	return true
}

// ApplyDeletion removes message id and nulls every reply preview that
// pointed at it.
func (m *Manager) ApplyDeletion(id string) bool {
	m.mu.Lock()
	if m.indexLocked(id) < 0 {
		m.mu.Unlock()
		return false
	}
	out := make([]*Message, 0, len(m.messages)-1)
	for _, msg := range m.messages {
		switch {
		case msg.ID == id:
			continue
		case msg.ReplyTo != nil && msg.ReplyTo.ID == id:
			orphan := *msg
			orphan.ReplyTo = nil
			out = append(out, &orphan)
		default:
			out = append(out, msg)
		}
	}
	m.messages = out
	delete(m.pending, id)
	if m.reply != nil && m.reply.ID == id {
		m.reply = nil
	}
	m.mu.Unlock()
	m.notify()
	return true
}

// ApplyClear empties the list and the reply composer when target (a room id
// or user id) names the open conversation. Reports whether it did.
func (m *Manager) ApplyClear(target string) bool {
	m.mu.Lock()
	if m.target.IsZero() || m.target.ID != target {
		m.mu.Unlock()
		return false
	}
	m.messages = nil
	m.reply = nil
	clear(m.pending)
	m.mu.Unlock()
	m.notify()
	return true
}

// SetReply selects the message the composer is replying to.
func (m *Manager) SetReply(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.target.IsZero() {
		return ErrNoConversation
	}
	i := m.indexLocked(id)
	if i < 0 {
		return ErrUnknownMessage
	}
	m.reply = m.messages[i]
	return nil
}

// ClearReply dismisses the reply composer.
func (m *Manager) ClearReply() {
	m.mu.Lock()
	m.reply = nil
	m.mu.Unlock()
}

// Reply returns the message the composer is replying to, or nil.
func (m *Manager) Reply() *Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reply
}

// Subscribe returns a channel receiving the list after every change.
func (m *Manager) Subscribe() (<-chan []*Message, func()) {
	ch := make(chan []*Message, 16)
	m.listenerMu.Lock()
	m.listeners[ch] = struct{}{}
	m.listenerMu.Unlock()

	cancel := func() {
		m.listenerMu.Lock()
		if _, ok := m.listeners[ch]; ok {
			delete(m.listeners, ch)
			close(ch)
		}
		m.listenerMu.Unlock()
	}
	return ch, cancel
}

func (m *Manager) notify() {
	list := m.Messages()
	m.listenerMu.RLock()
	defer m.listenerMu.RUnlock()
	for ch := range m.listeners {
		select {
		case ch <- list:
		default:
		}
	}
}

func (m *Manager) snapshotLocked() []*Message {
	out := make([]*Message, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *Manager) indexLocked(id string) int {
	for i, msg := range m.messages {
		if msg.ID == id {
			return i
		}
	}
	return -1
}

// refreshReplyLocked re-points the composer at the current object for its
// message, or drops it when the message is gone.
func (m *Manager) refreshReplyLocked() {
	if m.reply == nil {
		return
	}
	if i := m.indexLocked(m.reply.ID); i >= 0 {
		m.reply = m.messages[i]
		return
	}
	m.reply = nil
}

func samePointers(a, b []*Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
