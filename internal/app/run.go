// Package app wires one chat session: the event socket, the REST client,
// call media, the session core and the local viewer.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopchat/internal/call"
	"github.com/petervdpas/goopchat/internal/chat"
	"github.com/petervdpas/goopchat/internal/config"
	"github.com/petervdpas/goopchat/internal/metrics"
	"github.com/petervdpas/goopchat/internal/mq"
	"github.com/petervdpas/goopchat/internal/notify"
	"github.com/petervdpas/goopchat/internal/realtime"
	"github.com/petervdpas/goopchat/internal/viewer"
	"github.com/petervdpas/goopchat/internal/viewer/logs"
)

var log = logging.Logger("app")

type Options struct {
	Dir     string
	CfgPath string
	Cfg     config.Config

	// Ready, when set, receives the viewer URL once it is listening.
	Ready func(url string)
}

// Run blocks until ctx ends or the event channel drops.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg
	if err := applyLogLevel(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logBuf := logs.New(logs.DefaultSize)
	go logBuf.Capture(ctx)

	logBanner(opt.Dir, opt.CfgPath, cfg)

	dialCtx, dialCancel := context.WithTimeout(ctx, cfg.ConnectTimeout())
	sock, err := mq.Dial(dialCtx, cfg.Server.SocketURL, cfg.Session.Token)
	dialCancel()
	if err != nil {
		return err
	}
	defer sock.Close()
	log.Infof("APP: connected to %s", cfg.Server.SocketURL)

	engine, err := call.NewEngine(engineConfig(cfg))
	if err != nil {
		return err
	}

	m := metrics.New()
	alerts := notify.NewBroadcaster(cfg.Notify.System)
	relay := viewer.NewMediaRelay()
	roster := realtime.NewRoster(cfg.Session.Contacts)

	client, err := realtime.New(realtime.Options{
		SelfID:        cfg.Session.UserID,
		SelfName:      cfg.Session.DisplayName,
		Channel:       sock,
		API:           chat.NewClient(cfg.Server.APIURL, cfg.Session.Token, cfg.Session.UserID),
		Peers:         engine,
		Media:         engine,
		Sink:          relay,
		Alerter:       alerts,
		Focus:         alerts,
		Roster:        roster,
		Metrics:       m,
		PollInterval:  cfg.PollInterval(),
		DedupCapacity: cfg.Poll.DedupCapacity,
		CallErrorTTL:  cfg.CallErrorTTL(),
	})
	if err != nil {
		return err
	}
	client.Router().SetSettings(notify.Settings{Sound: cfg.Notify.Sound, System: cfg.Notify.System})

	go func() {
		err := config.Watch(ctx, opt.CfgPath, func(next config.Config) {
			client.Router().SetSettings(notify.Settings{Sound: next.Notify.Sound, System: next.Notify.System})
			for id, name := range next.Session.Contacts {
				roster.Set(id, name)
			}
			if err := applyLogLevel(next); err != nil {
				log.Warnf("APP: %v", err)
			}
			log.Infof("APP: config reloaded")
		})
		if err != nil {
			log.Warnf("APP: config watch: %v", err)
		}
	}()

	addr, url := NormalizeLocalViewer(cfg.Viewer.HTTPAddr)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("viewer listen %s: %w", addr, err)
	}
	if url == "" {
		url = "http://" + ln.Addr().String()
	}
	viewerDone := make(chan error, 1)
	go func() {
		viewerDone <- viewer.Serve(ctx, ln, viewer.Viewer{
			Client:  client,
			Alerts:  alerts,
			Logs:    logBuf,
			Media:   relay,
			Metrics: m,
		})
	}()
	log.Infof("APP: viewer at %s", url)
	if opt.Ready != nil {
		opt.Ready(url)
	}

	runErr := client.Run(ctx)
	cancel()
	if err := <-viewerDone; err != nil {
		log.Warnf("APP: viewer: %v", err)
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func engineConfig(cfg config.Config) call.EngineConfig {
	ec := call.DefaultEngineConfig()
	ec.ICEServers = cfg.Call.ICEServers
	if cfg.Call.DisconnectedTimeoutSec > 0 {
		ec.DisconnectedTimeout = time.Duration(cfg.Call.DisconnectedTimeoutSec) * time.Second
	}
	if cfg.Call.FailedTimeoutSec > 0 {
		ec.FailedTimeout = time.Duration(cfg.Call.FailedTimeoutSec) * time.Second
	}
	if cfg.Call.VideoBitRate > 0 {
		ec.VideoBitRate = cfg.Call.VideoBitRate
	}
	return ec
}

func applyLogLevel(cfg config.Config) error {
	level := cfg.Log.Level
	if cfg.Viewer.Debug {
		level = "debug"
	}
	if level == "" {
		return nil
	}
	if err := logging.SetLogLevel("*", level); err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	return nil
}
