package app

import (
	"strings"

	"github.com/petervdpas/goopchat/internal/config"
)

// NormalizeLocalViewer keeps the viewer on loopback and returns the listen
// address and browser URL. The URL is empty when the port is picked by the
// kernel.
func NormalizeLocalViewer(cfgAddr string) (listenAddr string, url string) {
	a := strings.TrimSpace(cfgAddr)
	if a == "" {
		a = "127.0.0.1:0"
	}
	if strings.HasPrefix(a, ":") {
		a = "127.0.0.1" + a
	}
	if strings.HasPrefix(a, "0.0.0.0:") {
		a = "127.0.0.1:" + strings.TrimPrefix(a, "0.0.0.0:")
	}
	if strings.HasSuffix(a, ":0") {
		return a, ""
	}
	return a, "http://" + a
}

func logBanner(dir, cfgPath string, cfg config.Config) {
	log.Info("────────────────────────────────────────")
	log.Infof("Session dir: %s", dir)
	log.Infof("Config:      %s", cfgPath)
	log.Infof("User:        %s", cfg.Session.UserID)
	log.Infof("API:         %s", cfg.Server.APIURL)
	log.Infof("Socket:      %s", cfg.Server.SocketURL)
	log.Info("────────────────────────────────────────")
}
