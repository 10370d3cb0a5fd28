package viewer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/goopchat/internal/call"
	"github.com/petervdpas/goopchat/internal/chat"
	"github.com/petervdpas/goopchat/internal/metrics"
	"github.com/petervdpas/goopchat/internal/mq"
	"github.com/petervdpas/goopchat/internal/notify"
	"github.com/petervdpas/goopchat/internal/realtime"
	"github.com/petervdpas/goopchat/internal/viewer/logs"
)

type fakeAPI struct {
	mu      sync.Mutex
	history []chat.Message
	sent    []chat.SendRequest
	deleted []string
}

func (f *fakeAPI) FetchMessages(context.Context, chat.Target) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Message(nil), f.history...), nil
}

func (f *fakeAPI) SendMessage(_ context.Context, req chat.SendRequest) error {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	f.mu.Unlock()
	return nil
}

func (f *fakeAPI) UpdateReaction(_ context.Context, _, userID, emoji string) ([]chat.Reaction, error) {
	return []chat.Reaction{{UserID: userID, Emoji: emoji}}, nil
}

func (f *fakeAPI) DeleteMessage(_ context.Context, id, _ string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeAPI) ClearConversation(context.Context, string, chat.Target) error { return nil }

type harness struct {
	srv    *httptest.Server
	client *realtime.Client
	bus    *mq.Bus
	api    *fakeAPI
	alerts *notify.Broadcaster
	media  *MediaRelay
	logs   *logs.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		bus:    mq.NewBus(),
		api:    &fakeAPI{},
		alerts: notify.NewBroadcaster(true),
		media:  NewMediaRelay(),
		logs:   logs.New(100),
	}
	m := metrics.New()
	c, err := realtime.New(realtime.Options{
		SelfID:       "me",
		SelfName:     "Me",
		Channel:      h.bus,
		API:          h.api,
		Alerter:      h.alerts,
		Focus:        h.alerts,
		Roster:       realtime.NewRoster(map[string]string{"bob": "Bob"}),
		Metrics:      m,
		PollInterval: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	h.client = c
	h.srv = httptest.NewServer(Handler(Viewer{
		Client:  c,
		Alerts:  h.alerts,
		Logs:    h.logs,
		Media:   h.media,
		Metrics: m,
	}))
	t.Cleanup(func() {
		h.srv.Close()
		c.Close()
	})
	return h
}

func (h *harness) post(t *testing.T, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := http.Post(h.srv.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (h *harness) state(t *testing.T) map[string]any {
	t.Helper()
	resp, err := http.Get(h.srv.URL + "/api/state")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("state status %d", resp.StatusCode)
	}
	out := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func pushed(t *testing.T, m chat.Message) mq.Event {
	t.Helper()
	evt, err := mq.NewEvent(mq.EventMessageNew, mq.MessageNewPayload{Message: m})
	if err != nil {
		t.Fatal(err)
	}
	return evt
}

func TestOpenAndSend(t *testing.T) {
	h := newHarness(t)

	code, _ := h.post(t, "/api/conversation/open", chat.Target{Kind: chat.KindDirect, ID: "bob"})
	if code != http.StatusOK {
		t.Fatalf("open: %d", code)
	}
	st := h.state(t)
	conv := st["conversation"].(map[string]any)
	active := conv["active"].(map[string]any)
	if active["id"] != "bob" || active["kind"] != "direct" {
		t.Fatalf("active = %v", active)
	}
	if st["self_id"] != "me" {
		t.Fatalf("self_id = %v", st["self_id"])
	}

	code, _ = h.post(t, "/api/messages/send", map[string]string{"content": "hello"})
	if code != http.StatusOK {
		t.Fatalf("send: %d", code)
	}
	h.api.mu.Lock()
	sent := append([]chat.SendRequest(nil), h.api.sent...)
	h.api.mu.Unlock()
	if len(sent) != 1 || sent[0].ReceiverID != "bob" || sent[0].Type != chat.TypeText {
		t.Fatalf("sent = %+v", sent)
	}

	if joins := h.bus.SentNamed(mq.EventConversationJoin); len(joins) != 1 {
		t.Fatalf("joins = %d", len(joins))
	}
}

func TestCommandErrors(t *testing.T) {
	h := newHarness(t)

	if code, body := h.post(t, "/api/messages/send", map[string]string{"content": "x"}); code != http.StatusConflict || body["error"] == nil {
		t.Fatalf("send without conversation: %d %v", code, body)
	}
	if code, _ := h.post(t, "/api/messages/send", map[string]string{"content": "  "}); code != http.StatusBadRequest {
		t.Fatalf("empty content: %d", code)
	}
	if code, _ := h.post(t, "/api/conversation/open", map[string]string{"kind": "group", "id": "x"}); code != http.StatusBadRequest {
		t.Fatalf("bad kind: %d", code)
	}
	if code, _ := h.post(t, "/api/reply", map[string]string{"message_id": "nope"}); code != http.StatusConflict {
		t.Fatalf("reply to unknown: %d", code)
	}

	resp, err := http.Post(h.srv.URL+"/api/messages/react", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("broken json: %d", resp.StatusCode)
	}

	resp, err = http.Get(h.srv.URL + "/api/messages/send")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET on POST route: %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Cache-Control"); !strings.Contains(got, "no-store") {
		t.Fatalf("Cache-Control = %q", got)
	}
}

func TestReplyAndDelete(t *testing.T) {
	h := newHarness(t)
	h.post(t, "/api/conversation/open", chat.Target{Kind: chat.KindDirect, ID: "bob"})
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m1 := chat.Message{ID: "m1", SenderID: "bob", ReceiverID: "me", Body: "hi", Type: chat.TypeText, CreatedAt: at, UpdatedAt: at}
	h.api.mu.Lock()
	h.api.history = []chat.Message{m1}
	h.api.mu.Unlock()
	h.client.Dispatch(pushed(t, m1))

	code, body := h.post(t, "/api/reply", map[string]string{"message_id": "m1"})
	if code != http.StatusOK || body["id"] != "m1" {
		t.Fatalf("reply: %d %v", code, body)
	}
	h.post(t, "/api/messages/send", map[string]string{"content": "answer"})
	h.api.mu.Lock()
	replyTo := h.api.sent[0].ReplyToID
	h.api.mu.Unlock()
	if replyTo != "m1" {
		t.Fatalf("reply id = %q", replyTo)
	}
	if h.client.Stream().Reply() != nil {
		t.Fatal("reply target kept after send")
	}

	if _, ok := h.client.Stream().Get("m1"); !ok {
		t.Fatal("m1 lost after send refetch")
	}
	if code, _ := h.post(t, "/api/messages/delete", map[string]string{"message_id": "m1"}); code != http.StatusOK {
		t.Fatalf("delete: %d", code)
	}
	if _, ok := h.client.Stream().Get("m1"); ok {
		t.Fatal("deleted message still listed")
	}
}

func TestCallRoutes(t *testing.T) {
	h := newHarness(t)

	if code, _ := h.post(t, "/api/call/start", map[string]string{"type": "audio"}); code != http.StatusConflict {
		t.Fatalf("start without peer: %d", code)
	}
	if code, _ := h.post(t, "/api/call/accept", nil); code != http.StatusConflict {
		t.Fatalf("accept while idle: %d", code)
	}

	h.post(t, "/api/conversation/open", chat.Target{Kind: chat.KindDirect, ID: "bob"})
	code, _ := h.post(t, "/api/call/start", map[string]string{"type": "video"})
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("start without media: %d", code)
	}
	if s := h.client.Call().Session(); s.Status != call.StatusIdle || s.Error == "" {
		t.Fatalf("session after failed start = %+v", s)
	}
	code, body := h.post(t, "/api/call/dismiss", nil)
	if code != http.StatusOK || body["error"] != nil {
		t.Fatalf("dismiss: %d %v", code, body)
	}

	evt, err := mq.NewEvent(mq.EventCallOffer, mq.CallOfferPayload{
		FromUserID: "bob",
		CallType:   "audio",
		CallID:     "c1",
		Offer:      mq.SessionDescription{Type: "offer", SDP: "v=0"},
	})
	if err != nil {
		t.Fatal(err)
	}
	h.client.Dispatch(evt)
	if s := h.client.Call().Session(); s.Status != call.StatusIncoming || s.PeerName != "Bob" {
		t.Fatalf("session after offer = %+v", s)
	}

	code, body = h.post(t, "/api/call/decline", nil)
	if code != http.StatusOK || body["status"] != string(call.StatusIdle) {
		t.Fatalf("decline: %d %v", code, body)
	}
	ends := h.bus.SentNamed(mq.EventCallEnd)
	if len(ends) != 1 {
		t.Fatalf("ends = %d", len(ends))
	}
	var end mq.CallEndPayload
	if err := ends[0].Decode(&end); err != nil {
		t.Fatal(err)
	}
	if end.Reason != mq.EndReasonDeclined || end.CallID != "c1" {
		t.Fatalf("end = %+v", end)
	}

	code, body = h.post(t, "/api/call/toggle-audio", nil)
	if code != http.StatusOK || body["muted"] != false {
		t.Fatalf("toggle without tracks: %d %v", code, body)
	}
}

func TestEventStream(t *testing.T) {
	h := newHarness(t)
	h.post(t, "/api/conversation/open", chat.Target{Kind: chat.KindRoom, ID: "R"})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.srv.URL+"/api/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type %q", ct)
	}

	events := make(chan [2]string, 32)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		var name string
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				events <- [2]string{name, strings.TrimPrefix(line, "data: ")}
			}
		}
	}()

	next := func() [2]string {
		select {
		case e, ok := <-events:
			if !ok {
				t.Fatal("stream closed")
			}
			return e
		case <-ctx.Done():
			t.Fatal("timed out reading events")
		}
		return [2]string{}
	}

	if e := next(); e[0] != "state" {
		t.Fatalf("first event %q", e[0])
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.client.Dispatch(pushed(t, chat.Message{ID: "m1", SenderID: "alice", ReceiverID: "R", Body: "hi", Type: chat.TypeText, CreatedAt: at, UpdatedAt: at}))
	h.client.Dispatch(pushed(t, chat.Message{ID: "d1", SenderID: "bob", ReceiverID: "me", Body: "psst", Type: chat.TypeText, CreatedAt: at, UpdatedAt: at}))

	var sawMessage, sawUnread, sawAlert bool
	for !(sawMessage && sawUnread && sawAlert) {
		e := next()
		switch e[0] {
		case "messages":
			sawMessage = sawMessage || strings.Contains(e[1], `"m1"`)
		case "unread":
			sawUnread = sawUnread || strings.Contains(e[1], `"dm:`)
		case "alert":
			sawAlert = true
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.client.Dispatch(pushed(t, chat.Message{ID: "m1", SenderID: "bob", ReceiverID: "me", Type: chat.TypeText}))

	resp, err := http.Get(h.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(buf.String(), "goopchat_") {
		t.Fatalf("metrics: %d %.200s", resp.StatusCode, buf.String())
	}
}

func TestMediaRelay(t *testing.T) {
	h := newHarness(t)
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/api/call/media"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		pkt := &rtp.Packet{Header: rtp.Header{Version: 2, PayloadType: 111, SequenceNumber: 7}, Payload: []byte{1, 2, 3}}
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				h.media.WriteRTP("c1", webrtc.RTPCodecTypeAudio, pkt)
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if typ != websocket.BinaryMessage || frame[0] != frameAudio {
		t.Fatalf("frame type %d kind %d", typ, frame[0])
	}
	var got rtp.Packet
	if err := got.Unmarshal(frame[1:]); err != nil {
		t.Fatal(err)
	}
	if got.SequenceNumber != 7 || !bytes.Equal(got.Payload, []byte{1, 2, 3}) {
		t.Fatalf("packet = %+v", got)
	}
	if h.media.Packets()["audio"] == 0 {
		t.Fatal("packet count not kept")
	}
}

func TestLogRoutesFilter(t *testing.T) {
	h := newHarness(t)
	_, _ = h.logs.Write([]byte("2026-10-19T12:00:00.000Z\tDEBUG\tcall\tcall/machine.go:1\tCALL [c1]: detail\n"))
	_, _ = h.logs.Write([]byte("2026-10-19T12:00:01.000Z\tWARN\trealtime\trealtime/manager.go:1\tREALTIME: fetch failed\n"))

	resp, err := http.Get(h.srv.URL + "/api/logs?level=info")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got []logs.Entry
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].System != "realtime" {
		t.Fatalf("filtered logs = %+v", got)
	}

	post, err := http.Post(h.srv.URL+"/api/logs", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST /api/logs: %d", post.StatusCode)
	}
}
