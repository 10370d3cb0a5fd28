package notify

import (
	"sync"

	"github.com/petervdpas/goopchat/internal/chat"
)

// Unread maps conversation keys to a positive unread count. A conversation
// with nothing unread has no entry at all.
type Unread struct {
	mu     sync.RWMutex
	counts map[chat.ConversationKey]int
}

// NewUnread creates an empty map.
func NewUnread() *Unread {
	return &Unread{counts: make(map[chat.ConversationKey]int)}
}

// Incr adds one to key and returns the new count.
func (u *Unread) Incr(key chat.ConversationKey) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.counts[key]++
	return u.counts[key]
}

// Clear removes the entry for each key. Reports whether anything was removed.
func (u *Unread) Clear(keys ...chat.ConversationKey) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	removed := false
	for _, k := range keys {
		if _, ok := u.counts[k]; ok {
			delete(u.counts, k)
			removed = true
		}
	}
	return removed
}

// Get returns the count for key (0 when absent).
func (u *Unread) Get(key chat.ConversationKey) int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.counts[key]
}

// Has reports whether key has an entry.
func (u *Unread) Has(key chat.ConversationKey) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	_, ok := u.counts[key]
	return ok
}

// Snapshot returns a copy of the map.
func (u *Unread) Snapshot() map[chat.ConversationKey]int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make(map[chat.ConversationKey]int, len(u.counts))
	for k, v := range u.counts {
		out[k] = v
	}
	return out
}

// Total returns the sum of all counts.
func (u *Unread) Total() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	n := 0
	for _, v := range u.counts {
		n += v
	}
	return n
}

// Reset drops every entry.
func (u *Unread) Reset() {
	u.mu.Lock()
	u.counts = make(map[chat.ConversationKey]int)
	u.mu.Unlock()
}
