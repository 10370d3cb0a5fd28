package mq

import (
	"errors"
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestBusInjectPreservesOrder(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe()
	defer cancel()

	for _, id := range []string{"a", "b", "c"} {
		if err := b.Inject(EventMessageDeleted, MessageDeletedPayload{MessageID: id}); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		var p MessageDeletedPayload
		if err := recv(t, ch).Decode(&p); err != nil {
			t.Fatal(err)
		}
		if p.MessageID != want {
			t.Fatalf("got %q, want %q", p.MessageID, want)
		}
	}
	if len(b.Sent()) != 0 {
		t.Fatal("Inject must not record outbound events")
	}
}

func TestPairDeliversToRemoteOnly(t *testing.T) {
	a, b := Pair()
	aCh, aCancel := a.Subscribe()
	defer aCancel()
	bCh, bCancel := b.Subscribe()
	defer bCancel()

	if err := a.Publish(EventCallEnd, CallEndPayload{CallID: "c1", Reason: EndReasonBusy}); err != nil {
		t.Fatal(err)
	}

	evt := recv(t, bCh)
	if evt.Name != EventCallEnd || evt.ID == "" {
		t.Fatalf("unexpected event %+v", evt)
	}
	select {
	case e := <-aCh:
		t.Fatalf("publisher received its own event %+v", e)
	default:
	}
	if got := len(a.SentNamed(EventCallEnd)); got != 1 {
		t.Fatalf("SentNamed = %d, want 1", got)
	}
}

func TestBusFailPublish(t *testing.T) {
	b := NewBus()
	boom := errors.New("offline")
	b.FailPublish(boom)
	if err := b.Publish(EventConversationJoin, ConversationPayload{ConversationID: "r1"}); !errors.Is(err, boom) {
		t.Fatalf("Publish err = %v, want %v", err, boom)
	}
	b.FailPublish(nil)
	if err := b.Publish(EventConversationJoin, ConversationPayload{ConversationID: "r1"}); err != nil {
		t.Fatal(err)
	}
}

func TestCloseClosesSubscribers(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe()
	b.Close()
	if _, ok := <-ch; ok {
		t.Fatal("subscriber channel still open")
	}
	cancel() // must not panic after Close

	late, _ := b.Subscribe()
	if _, ok := <-late; ok {
		t.Fatal("subscribe after Close returned an open channel")
	}
}

func TestRoomRemovedPayloadID(t *testing.T) {
	evt, err := NewEvent(EventRoomRemoved, map[string]any{"room": map[string]any{"id": "r9"}})
	if err != nil {
		t.Fatal(err)
	}
	var p RoomRemovedPayload
	if err := evt.Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.ID() != "r9" {
		t.Fatalf("ID() = %q", p.ID())
	}
}
