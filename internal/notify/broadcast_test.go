package notify

import (
	"testing"
	"time"
)

func TestBroadcasterFansOut(t *testing.T) {
	b := NewBroadcaster(true)
	ch, cancel := b.Subscribe()
	defer cancel()

	b.PlayTone()
	if !b.RequestPermission() {
		t.Fatal("expected grant")
	}
	if err := b.Notify(Notification{Title: "Bob", Body: "hi", At: time.Now()}); err != nil {
		t.Fatal(err)
	}

	want := []string{"tone", "permission", "notification"}
	for _, kind := range want {
		select {
		case a := <-ch:
			if a.Kind != kind {
				t.Fatalf("got %q, want %q", a.Kind, kind)
			}
			if kind == "notification" && (a.Notification == nil || a.Notification.Title != "Bob") {
				t.Fatalf("notification = %+v", a.Notification)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing %s alert", kind)
		}
	}
}

func TestBroadcasterFocus(t *testing.T) {
	b := NewBroadcaster(false)
	if !b.Focused() {
		t.Fatal("starts focused")
	}
	b.SetFocused(false)
	if b.Focused() {
		t.Fatal("focus not updated")
	}
	if b.RequestPermission() {
		t.Fatal("expected denial")
	}
}
