package routes

import (
	"net/http"

	"github.com/petervdpas/goopchat/internal/call"
	"github.com/petervdpas/goopchat/internal/chat"
	"github.com/petervdpas/goopchat/internal/notify"
)

type stateView struct {
	SelfID        string                `json:"self_id"`
	Focused       bool                  `json:"focused"`
	Conversation  notify.State          `json:"conversation"`
	Messages      []*chat.Message       `json:"messages"`
	Reply         *chat.Message         `json:"reply"`
	Call          call.Session          `json:"call"`
	Notifications []notify.Notification `json:"notifications"`
}

func snapshot(d Deps) stateView {
	c := d.Client
	v := stateView{
		SelfID:        c.SelfID(),
		Focused:       true,
		Conversation:  c.Router().State(),
		Messages:      c.Stream().Messages(),
		Reply:         c.Stream().Reply(),
		Call:          c.Call().Session(),
		Notifications: c.Router().History(),
	}
	if d.Alerts != nil {
		v.Focused = d.Alerts.Focused()
	}
	return v
}

func registerStateRoutes(mux *http.ServeMux, d Deps) {
	// GET /api/state: everything the page renders, in one document.
	handleGet(mux, "/api/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, snapshot(d))
	})

	// GET /api/events: SSE with one event per changed slice of state.
	//
	//	state     full snapshot, sent once on connect
	//	messages  the open conversation's list
	//	unread    active conversation, rooms and unread counts
	//	call      the call session
	//	alert     a tone, permission prompt or system notification
	handleGet(mux, "/api/events", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		sseHeaders(w)

		msgs, cancelMsgs := d.Client.Stream().Subscribe()
		defer cancelMsgs()
		convs, cancelConvs := d.Client.Router().Subscribe()
		defer cancelConvs()
		calls, cancelCalls := d.Client.Call().Subscribe()
		defer cancelCalls()
		var alerts <-chan notify.Alert
		if d.Alerts != nil {
			var cancel func()
			alerts, cancel = d.Alerts.Subscribe()
			defer cancel()
		}

		if writeEvent(w, "state", snapshot(d)) != nil {
			return
		}
		flusher.Flush()

		for {
			var err error
			select {
			case <-r.Context().Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				err = writeEvent(w, "messages", m)
			case s, ok := <-convs:
				if !ok {
					return
				}
				err = writeEvent(w, "unread", s)
			case s, ok := <-calls:
				if !ok {
					return
				}
				err = writeEvent(w, "call", s)
			case a, ok := <-alerts:
				if !ok {
					return
				}
				err = writeEvent(w, "alert", a)
			}
			if err != nil {
				return
			}
			flusher.Flush()
		}
	})
}
