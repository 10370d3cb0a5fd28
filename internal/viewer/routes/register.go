package routes

import (
	"net/http"

	"github.com/petervdpas/goopchat/internal/notify"
	"github.com/petervdpas/goopchat/internal/realtime"
	"github.com/petervdpas/goopchat/internal/viewer/logs"
)

type Deps struct {
	Client *realtime.Client
	Alerts *notify.Broadcaster // optional
	Logs   *logs.Buffer        // optional
}

// Register wires every API route onto mux.
func Register(mux *http.ServeMux, d Deps) {
	registerStateRoutes(mux, d)
	registerChatRoutes(mux, d)
	registerCallRoutes(mux, d)
	if d.Logs != nil {
		registerLogRoutes(mux, d.Logs)
	}
}

// GET /api/logs and /api/logs/stream, both filtered by ?level= and ?system=.
func registerLogRoutes(mux *http.ServeMux, buf *logs.Buffer) {
	handleGet(mux, "/api/logs", func(w http.ResponseWriter, r *http.Request) {
		f := logFilter(r)
		out := []logs.Entry{}
		for _, e := range buf.Snapshot() {
			if f.Match(e) {
				out = append(out, e)
			}
		}
		writeJSON(w, out)
	})

	handleGet(mux, "/api/logs/stream", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		sseHeaders(w)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		f := logFilter(r)
		tail, cancel := buf.Subscribe()
		defer cancel()
		for {
			select {
			case <-r.Context().Done():
				return
			case e, ok := <-tail:
				if !ok {
					return
				}
				if !f.Match(e) {
					continue
				}
				if writeEvent(w, "log", e) != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}

func logFilter(r *http.Request) logs.Filter {
	q := r.URL.Query()
	return logs.Filter{Level: q.Get("level"), System: q.Get("system")}
}
