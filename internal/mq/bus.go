package mq

import (
	"sync"
)

// Bus is an in-memory Channel. Publish records the outbound event and hands it
// to the linked remote Bus (see Pair); Inject delivers an inbound event to
// local subscribers. Used for tests and for running two sessions in-process.
type Bus struct {
	*hub

	mu     sync.Mutex
	sent   []Event
	remote *Bus
	fail   error
}

// NewBus creates an unlinked bus.
func NewBus() *Bus {
	return &Bus{hub: newHub()}
}

// Pair returns two buses where each Publish is injected into the other.
func Pair() (*Bus, *Bus) {
	a, b := NewBus(), NewBus()
	a.remote, b.remote = b, a
	return a, b
}

// Publish implements Channel.
func (b *Bus) Publish(name string, payload any) error {
	evt, err := NewEvent(name, payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.fail != nil {
		err := b.fail
		b.mu.Unlock()
		return err
	}
	b.sent = append(b.sent, evt)
	remote := b.remote
	b.mu.Unlock()

	if remote != nil {
		remote.deliver(evt)
	}
	return nil
}

// Inject delivers an inbound event to subscribers as if it came off the wire.
func (b *Bus) Inject(name string, payload any) error {
	evt, err := NewEvent(name, payload)
	if err != nil {
		return err
	}
	b.deliver(evt)
	return nil
}

// InjectEvent delivers a prebuilt event, keeping its id (redelivery tests).
func (b *Bus) InjectEvent(evt Event) { b.deliver(evt) }

// Sent returns a copy of every published event, oldest first.
func (b *Bus) Sent() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.sent))
	copy(out, b.sent)
	return out
}

// SentNamed returns the published events with the given name.
func (b *Bus) SentNamed(name string) []Event {
	var out []Event
	for _, e := range b.Sent() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// FailPublish makes every later Publish return err (nil restores).
func (b *Bus) FailPublish(err error) {
	b.mu.Lock()
	b.fail = err
	b.mu.Unlock()
}

// Close closes all subscriber channels.
func (b *Bus) Close() { b.hub.close() }
