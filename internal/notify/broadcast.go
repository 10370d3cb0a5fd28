package notify

import (
	"sync"
	"sync/atomic"
	"time"
)

// Alert is one alert as pushed to the presentation layer.
type Alert struct {
	Kind         string        `json:"kind"` // tone, permission or notification
	Notification *Notification `json:"notification,omitempty"`
	At           time.Time     `json:"at"`
}

// Broadcaster is an Alerter and Focus backed by whatever front end
// subscribes to it. Alerts are fanned out without blocking; a slow
// subscriber misses them.
type Broadcaster struct {
	focused atomic.Bool
	grant   atomic.Bool

	mu        sync.RWMutex
	listeners map[chan Alert]struct{}
}

// NewBroadcaster creates a broadcaster. grant is the answer given to the
// one-time permission request.
func NewBroadcaster(grant bool) *Broadcaster {
	b := &Broadcaster{listeners: make(map[chan Alert]struct{})}
	b.grant.Store(grant)
	b.focused.Store(true)
	return b
}

func (b *Broadcaster) PlayTone() {
	b.publish(Alert{Kind: "tone", At: time.Now()})
}

func (b *Broadcaster) RequestPermission() bool {
	b.publish(Alert{Kind: "permission", At: time.Now()})
	return b.grant.Load()
}

func (b *Broadcaster) Notify(n Notification) error {
	b.publish(Alert{Kind: "notification", Notification: &n, At: n.At})
	return nil
}

func (b *Broadcaster) Focused() bool     { return b.focused.Load() }
func (b *Broadcaster) SetFocused(f bool) { b.focused.Store(f) }

// Subscribe returns a channel receiving every alert from now on.
func (b *Broadcaster) Subscribe() (<-chan Alert, func()) {
	ch := make(chan Alert, 32)
	b.mu.Lock()
	b.listeners[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.listeners[ch]; ok {
			delete(b.listeners, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Broadcaster) publish(a Alert) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.listeners {
		select {
		case ch <- a:
		default:
		}
	}
}
