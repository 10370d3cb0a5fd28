package notify

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/petervdpas/goopchat/internal/chat"
	"github.com/petervdpas/goopchat/internal/dedup"
)

type fakeAlerter struct {
	mu       sync.Mutex
	tones    int
	asks     int
	grant    bool
	notified []Notification
}

func (a *fakeAlerter) PlayTone() {
	a.mu.Lock()
	a.tones++
	a.mu.Unlock()
}

func (a *fakeAlerter) RequestPermission() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.asks++
	return a.grant
}

func (a *fakeAlerter) Notify(n Notification) error {
	a.mu.Lock()
	a.notified = append(a.notified, n)
	a.mu.Unlock()
	return nil
}

type focus struct{ v bool }

func (f *focus) Focused() bool { return f.v }

type names map[string]string

func (n names) DisplayName(id string) (string, bool) {
	s, ok := n[id]
	return s, ok
}

type harness struct {
	r      *Router
	stream *chat.Manager
	alert  *fakeAlerter
	focus  *focus
	seen   *dedup.Cache
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	seen, err := dedup.New(dedup.DefaultCapacity)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		stream: chat.New(),
		alert:  &fakeAlerter{grant: true},
		focus:  &focus{},
		seen:   seen,
	}
	h.r = NewRouter(Options{
		SelfID:  "me",
		Seen:    seen,
		Stream:  h.stream,
		Alerter: h.alert,
		Focus:   h.focus,
		Names:   names{"bob": "Bob"},
	})
	h.r.SetRooms([]chat.Room{{ID: "r1", Name: "General", Members: []string{"me", "bob"}}})
	return h
}

func (h *harness) open(t chat.Target) {
	h.stream.Open(t)
	h.r.SetActive(t)
}

func dm(id, from string) chat.Message {
	return chat.Message{ID: id, SenderID: from, ReceiverID: "me", Body: "hey", Type: chat.TypeText, CreatedAt: time.Now()}
}

func roomMsg(id, from, room string) chat.Message {
	return chat.Message{ID: id, SenderID: from, ReceiverID: room, Body: "hey all", Type: chat.TypeText, CreatedAt: time.Now()}
}

func TestDuplicatePushAppendsOnce(t *testing.T) {
	h := newHarness(t)
	h.open(chat.Target{Kind: chat.KindRoom, ID: "r1"})

	m := roomMsg("M1", "bob", "r1")
	if got := h.r.HandleMessage(m); got != Active {
		t.Fatalf("first delivery = %v, want active", got)
	}
	for i := 0; i < 3; i++ {
		if got := h.r.HandleMessage(m); got != Duplicate {
			t.Fatalf("redelivery = %v, want duplicate", got)
		}
	}
	if n := len(h.stream.Messages()); n != 1 {
		t.Fatalf("list has %d entries, want 1", n)
	}
}

func TestInactiveConversationCountsAndActivationClears(t *testing.T) {
	h := newHarness(t)
	h.open(chat.Target{Kind: chat.KindRoom, ID: "r1"})
	key := chat.DirectKey("me", "bob")

	for i := 1; i <= 3; i++ {
		if got := h.r.HandleMessage(dm("d"+strconv.Itoa(i), "bob")); got != Counted {
			t.Fatalf("got %v, want counted", got)
		}
		if n := h.r.Unread().Get(key); n != i {
			t.Fatalf("unread = %d, want %d", n, i)
		}
	}
	if h.alert.tones != 3 {
		t.Fatalf("tones = %d, want 3 (always for inactive)", h.alert.tones)
	}

	h.open(chat.Target{Kind: chat.KindDirect, ID: "bob"})
	if h.r.Unread().Has(key) {
		t.Fatal("activating the conversation kept its unread entry")
	}
}

func TestActiveConversationAlertsOnlyWhenUnfocused(t *testing.T) {
	h := newHarness(t)
	h.open(chat.Target{Kind: chat.KindDirect, ID: "bob"})

	h.focus.v = true
	h.r.HandleMessage(dm("a1", "bob"))
	if h.alert.tones != 0 || len(h.alert.notified) != 0 {
		t.Fatal("alerted for the focused active conversation")
	}
	if h.r.Unread().Has(chat.DirectKey("me", "bob")) {
		t.Fatal("active conversation got an unread entry")
	}

	h.focus.v = false
	h.r.HandleMessage(dm("a2", "bob"))
	if h.alert.tones != 1 || len(h.alert.notified) != 1 {
		t.Fatalf("tones=%d notified=%d, want 1/1", h.alert.tones, len(h.alert.notified))
	}
	if h.alert.notified[0].Title != "Bob" {
		t.Fatalf("title = %q", h.alert.notified[0].Title)
	}
}

func TestPermissionRequestedOnce(t *testing.T) {
	h := newHarness(t)
	h.alert.grant = false
	h.r.HandleMessage(dm("p1", "bob"))
	h.r.HandleMessage(dm("p2", "bob"))
	if h.alert.asks != 1 {
		t.Fatalf("asked %d times, want 1", h.alert.asks)
	}
	if len(h.alert.notified) != 0 {
		t.Fatal("notified without permission")
	}
	if h.alert.tones != 2 {
		t.Fatalf("tones = %d, want 2", h.alert.tones)
	}
}

func TestOwnAndUnroutableDiscarded(t *testing.T) {
	h := newHarness(t)
	if got := h.r.HandleMessage(dm("o1", "me")); got != Own {
		t.Fatalf("own message = %v", got)
	}
	if got := h.r.HandleMessage(roomMsg("u1", "bob", "unknown-room")); got != Unroutable {
		t.Fatalf("unknown target = %v", got)
	}
	if len(h.r.Unread().Snapshot()) != 0 || h.alert.tones != 0 {
		t.Fatal("discarded messages left a trace")
	}
}

func TestRoomMessageTitle(t *testing.T) {
	h := newHarness(t)
	h.r.HandleMessage(roomMsg("r1m", "bob", "r1"))
	if n := h.r.Unread().Get(chat.RoomKey("r1")); n != 1 {
		t.Fatalf("room unread = %d", n)
	}
	if len(h.alert.notified) != 1 || h.alert.notified[0].Title != "Bob in General" {
		t.Fatalf("notified = %+v", h.alert.notified)
	}
}

func TestClearedRemovesBothInterpretations(t *testing.T) {
	h := newHarness(t)
	h.r.HandleMessage(roomMsg("x1", "bob", "r1"))
	h.r.HandleMessage(dm("x2", "bob"))
	h.r.HandleCleared("r1")
	if h.r.Unread().Has(chat.RoomKey("r1")) {
		t.Fatal("room entry kept")
	}
	h.r.HandleCleared("bob")
	if h.r.Unread().Has(chat.DirectKey("me", "bob")) {
		t.Fatal("direct entry kept")
	}
}

func TestRoomMembershipLossDeselects(t *testing.T) {
	h := newHarness(t)
	h.r.SetRooms([]chat.Room{
		{ID: "r1", Members: []string{"me"}},
		{ID: "r2", Members: []string{"me"}},
	})
	h.open(chat.Target{Kind: chat.KindRoom, ID: "r2"})
	h.r.HandleMessage(roomMsg("z1", "bob", "r1"))

	var deselected chat.Target
	h.r.OnDeselect(func(t chat.Target) { deselected = t })

	if dropped := h.r.HandleRoomUpdate(chat.Room{ID: "r1", Name: "renamed", Members: []string{"me", "bob"}}); dropped {
		t.Fatal("member update dropped the room")
	}
	if room, _ := h.r.Room("r1"); room.Name != "renamed" {
		t.Fatal("room not upserted")
	}

	if !h.r.HandleRoomUpdate(chat.Room{ID: "r1", Members: []string{"bob"}}) {
		t.Fatal("losing membership did not drop the room")
	}
	if _, ok := h.r.Room("r1"); ok || h.r.Unread().Has(chat.RoomKey("r1")) {
		t.Fatal("dropped room kept state")
	}
	if !deselected.IsZero() {
		t.Fatal("inactive room removal deselected")
	}

	h.r.HandleRoomRemoved("r2")
	if deselected.ID != "r2" || !h.r.Active().IsZero() {
		t.Fatalf("active room removal: deselected=%+v active=%+v", deselected, h.r.Active())
	}
	if len(h.r.Rooms()) != 0 {
		t.Fatalf("rooms = %+v", h.r.Rooms())
	}
}

func TestResetForgetsSession(t *testing.T) {
	h := newHarness(t)
	h.r.HandleMessage(dm("s1", "bob"))
	h.r.Reset()
	if h.seen.Len() != 0 || h.r.Unread().Total() != 0 {
		t.Fatal("Reset kept caches")
	}
	if got := h.r.HandleMessage(dm("s1", "bob")); got != Counted {
		t.Fatalf("after reset = %v, want counted", got)
	}
}

func TestSettingsMuteTone(t *testing.T) {
	h := newHarness(t)
	h.r.SetSettings(Settings{Sound: false, System: false})
	h.r.HandleMessage(dm("q1", "bob"))
	if h.alert.tones != 0 || h.alert.asks != 0 {
		t.Fatal("muted settings still alerted")
	}
}
