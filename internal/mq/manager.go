package mq

import (
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("mq")

// listenerBuf is the per-subscriber queue depth. A subscriber that falls this
// far behind starts losing events, which is logged.
const listenerBuf = 256

// hub fans inbound events out to subscribers. Shared by Bus and Socket.
type hub struct {
	mu        sync.RWMutex
	listeners map[chan Event]struct{}
	closed    bool
}

func newHub() *hub {
	return &hub{listeners: make(map[chan Event]struct{})}
}

// Subscribe returns a channel that receives inbound events and a cancel function.
func (h *hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, listenerBuf)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.listeners[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.listeners[ch]; ok {
			delete(h.listeners, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *hub) deliver(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.listeners {
		select {
		case ch <- evt:
		default:
			log.Warnf("MQ: listener full, dropping %s", evt.Name)
		}
	}
}

// close closes every subscriber channel. Idempotent.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.listeners {
		close(ch)
	}
	h.listeners = nil
}
