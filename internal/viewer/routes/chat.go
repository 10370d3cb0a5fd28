package routes

import (
	"errors"
	"net/http"
	"strings"

	"github.com/petervdpas/goopchat/internal/chat"
)

func registerChatRoutes(mux *http.ServeMux, d Deps) {
	c := d.Client

	// POST /api/conversation/open {kind, id}; an empty id closes the view.
	handlePost(mux, "/api/conversation/open", func(w http.ResponseWriter, r *http.Request, req chat.Target) {
		req.ID = strings.TrimSpace(req.ID)
		if req.ID != "" && req.Kind != chat.KindRoom && req.Kind != chat.KindDirect {
			writeError(w, http.StatusBadRequest, errors.New("kind must be room or direct"))
			return
		}
		c.Open(req)
		writeJSON(w, c.Active())
	})

	// POST /api/focus {focused}
	handlePost(mux, "/api/focus", func(w http.ResponseWriter, r *http.Request, req struct {
		Focused bool `json:"focused"`
	}) {
		if d.Alerts != nil {
			d.Alerts.SetFocused(req.Focused)
		}
		writeOK(w)
	})

	handlePost(mux, "/api/messages/send", func(w http.ResponseWriter, r *http.Request, req struct {
		Content string           `json:"content"`
		Type    chat.MessageType `json:"type"`
	}) {
		if strings.TrimSpace(req.Content) == "" {
			writeError(w, http.StatusBadRequest, errors.New("missing content"))
			return
		}
		if err := c.Send(r.Context(), req.Content, req.Type); err != nil {
			commandError(w, err)
			return
		}
		writeOK(w)
	})

	handlePost(mux, "/api/messages/react", func(w http.ResponseWriter, r *http.Request, req struct {
		MessageID string `json:"message_id"`
		Emoji     string `json:"emoji"`
	}) {
		if req.MessageID == "" || req.Emoji == "" {
			writeError(w, http.StatusBadRequest, errors.New("missing message_id or emoji"))
			return
		}
		if err := c.React(r.Context(), req.MessageID, req.Emoji); err != nil {
			commandError(w, err)
			return
		}
		writeOK(w)
	})

	handlePost(mux, "/api/messages/delete", func(w http.ResponseWriter, r *http.Request, req struct {
		MessageID string `json:"message_id"`
	}) {
		if req.MessageID == "" {
			writeError(w, http.StatusBadRequest, errors.New("missing message_id"))
			return
		}
		if err := c.Delete(r.Context(), req.MessageID); err != nil {
			commandError(w, err)
			return
		}
		writeOK(w)
	})

	handlePost(mux, "/api/messages/clear", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		if err := c.Clear(r.Context()); err != nil {
			commandError(w, err)
			return
		}
		writeOK(w)
	})

	// POST /api/reply {message_id}; an empty id drops the reply target.
	handlePost(mux, "/api/reply", func(w http.ResponseWriter, r *http.Request, req struct {
		MessageID string `json:"message_id"`
	}) {
		if req.MessageID == "" {
			c.Stream().ClearReply()
			writeOK(w)
			return
		}
		if err := c.Stream().SetReply(req.MessageID); err != nil {
			commandError(w, err)
			return
		}
		writeJSON(w, c.Stream().Reply())
	})
}
