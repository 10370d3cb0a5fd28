package routes

import (
	"net/http"

	"github.com/petervdpas/goopchat/internal/call"
)

func registerCallRoutes(mux *http.ServeMux, d Deps) {
	c := d.Client

	// POST /api/call/start {type}; calls the peer of the open direct conversation.
	handlePost(mux, "/api/call/start", func(w http.ResponseWriter, r *http.Request, req struct {
		Type call.CallType `json:"type"`
	}) {
		t := call.Audio
		if req.Type == call.Video {
			t = call.Video
		}
		if err := c.StartCall(r.Context(), t); err != nil {
			commandError(w, err)
			return
		}
		writeJSON(w, c.Call().Session())
	})

	handlePost(mux, "/api/call/accept", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		if err := c.Call().Accept(r.Context()); err != nil {
			commandError(w, err)
			return
		}
		writeJSON(w, c.Call().Session())
	})

	handlePost(mux, "/api/call/decline", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		if err := c.Call().Decline(); err != nil {
			commandError(w, err)
			return
		}
		writeJSON(w, c.Call().Session())
	})

	handlePost(mux, "/api/call/end", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		c.Call().End()
		writeJSON(w, c.Call().Session())
	})

	handlePost(mux, "/api/call/toggle-audio", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		writeJSON(w, map[string]bool{"muted": c.Call().ToggleMute()})
	})

	handlePost(mux, "/api/call/toggle-video", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		writeJSON(w, map[string]bool{"camera_off": c.Call().ToggleCamera()})
	})

	handlePost(mux, "/api/call/dismiss", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		c.Call().DismissError()
		writeJSON(w, c.Call().Session())
	})
}
