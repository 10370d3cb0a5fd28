package realtime

import "sync"

// Roster maps user ids to display names. It feeds both notification titles
// and the incoming-call banner.
type Roster struct {
	mu    sync.RWMutex
	names map[string]string
}

func NewRoster(names map[string]string) *Roster {
	r := &Roster{names: make(map[string]string, len(names))}
	for id, n := range names {
		r.names[id] = n
	}
	return r
}

// DisplayName returns the known name of userID.
func (r *Roster) DisplayName(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.names[userID]
	return n, ok && n != ""
}

// Set records or replaces one name.
func (r *Roster) Set(userID, name string) {
	r.mu.Lock()
	r.names[userID] = name
	r.mu.Unlock()
}
