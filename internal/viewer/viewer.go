// Package viewer serves the local HTTP front end of a chat session: JSON
// commands, a server-sent event stream of state, remote media over a
// websocket and the process metrics.
package viewer

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopchat/internal/metrics"
	"github.com/petervdpas/goopchat/internal/notify"
	"github.com/petervdpas/goopchat/internal/realtime"
	"github.com/petervdpas/goopchat/internal/viewer/logs"
	"github.com/petervdpas/goopchat/internal/viewer/routes"
)

var log = logging.Logger("viewer")

const shutdownTimeout = 5 * time.Second

type Viewer struct {
	Client  *realtime.Client
	Alerts  *notify.Broadcaster
	Logs    *logs.Buffer
	Media   *MediaRelay
	Metrics *metrics.Metrics
}

// Handler builds the viewer's route tree.
func Handler(v Viewer) http.Handler {
	mux := http.NewServeMux()

	routes.Register(mux, routes.Deps{
		Client: v.Client,
		Alerts: v.Alerts,
		Logs:   v.Logs,
	})

	if v.Media != nil {
		mux.Handle("/api/call/media", v.Media)
	}
	if v.Metrics != nil {
		mux.Handle("/metrics", v.Metrics.Handler())
	}
	return noCache(mux)
}

// Serve runs the viewer on ln until ctx ends.
func Serve(ctx context.Context, ln net.Listener, v Viewer) error {
	srv := &http.Server{
		Handler:           Handler(v),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warnf("VIEWER: shutdown: %v", err)
		}
	}()

	log.Infof("VIEWER: listening on http://%s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
