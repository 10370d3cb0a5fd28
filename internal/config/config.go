package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	logging "github.com/ipfs/go-log/v2"
	"github.com/joho/godotenv"

	"github.com/petervdpas/goopchat/internal/util"
)

var log = logging.Logger("config")

// Environment overrides, read from the process and from <client-dir>/.env.
const (
	EnvToken     = "GOOPCHAT_TOKEN"
	EnvAPIURL    = "GOOPCHAT_API_URL"
	EnvSocketURL = "GOOPCHAT_SOCKET_URL"
	EnvLogLevel  = "GOOPCHAT_LOG_LEVEL"
)

type Config struct {
	Session Session `json:"session"`
	Server  Server  `json:"server"`
	Poll    Poll    `json:"poll"`
	Call    Call    `json:"call"`
	Notify  Notify  `json:"notify"`
	Viewer  Viewer  `json:"viewer"`
	Log     Log     `json:"log"`
}

type Session struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	// Token is normally supplied through GOOPCHAT_TOKEN rather than stored.
	Token    string            `json:"token,omitempty"`
	Contacts map[string]string `json:"contacts,omitempty"`
}

type Server struct {
	APIURL            string `json:"api_url"`
	SocketURL         string `json:"socket_url"`
	ConnectTimeoutSec int    `json:"connect_timeout_sec"`
}

type Poll struct {
	IntervalMs    int `json:"interval_ms"`
	DedupCapacity int `json:"dedup_capacity"`
}

type Call struct {
	ICEServers             []string `json:"ice_servers"`
	ErrorClearSec          int      `json:"error_clear_sec"`
	DisconnectedTimeoutSec int      `json:"disconnected_timeout_sec"`
	FailedTimeoutSec       int      `json:"failed_timeout_sec"`
	VideoBitRate           int      `json:"video_bitrate"`
}

// Notify holds the alert toggles. These are hot-reloaded by Watch.
type Notify struct {
	Sound  bool `json:"sound"`
	System bool `json:"system"`
}

type Viewer struct {
	HTTPAddr string `json:"http_addr"`
	Debug    bool   `json:"debug"`
}

type Log struct {
	Level string `json:"level"`
}

func Default() Config {
	return Config{
		Server: Server{
			APIURL:            "http://127.0.0.1:3000",
			SocketURL:         "ws://127.0.0.1:3000/ws",
			ConnectTimeoutSec: int(util.DefaultConnectTimeout / time.Second),
		},
		Poll: Poll{
			IntervalMs:    2500,
			DedupCapacity: 500,
		},
		Call: Call{
			ICEServers:             []string{"stun:stun.l.google.com:19302"},
			ErrorClearSec:          4,
			DisconnectedTimeoutSec: 30,
			FailedTimeoutSec:       120,
			VideoBitRate:           1_500_000,
		},
		Notify: Notify{
			Sound:  true,
			System: true,
		},
		Viewer: Viewer{
			HTTPAddr: "127.0.0.1:0",
		},
		Log: Log{
			Level: "info",
		},
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Session.UserID) == "" {
		return errors.New("session.user_id is required")
	}
	if err := validateURL(c.Server.APIURL, "http", "https"); err != nil {
		return fmt.Errorf("server.api_url: %w", err)
	}
	if err := validateURL(c.Server.SocketURL, "ws", "wss"); err != nil {
		return fmt.Errorf("server.socket_url: %w", err)
	}
	if c.Server.ConnectTimeoutSec <= 0 {
		return errors.New("server.connect_timeout_sec must be > 0")
	}

	if c.Poll.IntervalMs < 100 {
		return errors.New("poll.interval_ms must be >= 100")
	}
	if c.Poll.DedupCapacity <= 0 {
		return errors.New("poll.dedup_capacity must be > 0")
	}

	if c.Call.ErrorClearSec <= 0 {
		return errors.New("call.error_clear_sec must be > 0")
	}
	if c.Call.DisconnectedTimeoutSec <= 0 || c.Call.FailedTimeoutSec < c.Call.DisconnectedTimeoutSec {
		return errors.New("call.failed_timeout_sec must be >= call.disconnected_timeout_sec > 0")
	}
	for _, s := range c.Call.ICEServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "turn:") && !strings.HasPrefix(s, "turns:") {
			return fmt.Errorf("call.ice_servers: unsupported url %q", s)
		}
	}

	if strings.TrimSpace(c.Viewer.HTTPAddr) == "" {
		return errors.New("viewer.http_addr is required")
	}
	if _, err := logging.LevelFromString(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("must be a %s URL", strings.Join(schemes, "/"))
}

// PollInterval is the history refresh period.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalMs) * time.Millisecond
}

// CallErrorTTL is how long a call error banner stays up.
func (c Config) CallErrorTTL() time.Duration {
	return time.Duration(c.Call.ErrorClearSec) * time.Second
}

func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Server.ConnectTimeoutSec) * time.Second
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.ApplyEnv(filepath.Dir(path)); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides the session token, server URLs and log level from the
// process environment, falling back to <dir>/.env. A missing .env is fine.
func (c *Config) ApplyEnv(dir string) error {
	file, err := godotenv.Read(filepath.Join(dir, ".env"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read .env: %w", err)
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}

	if v, ok := lookup(EnvToken); ok {
		c.Session.Token = v
	}
	if v, ok := lookup(EnvAPIURL); ok {
		c.Server.APIURL = util.NormalizeURL(v)
	}
	if v, ok := lookup(EnvSocketURL); ok {
		c.Server.SocketURL = util.NormalizeURL(v)
	}
	if v, ok := lookup(EnvLogLevel); ok {
		c.Log.Level = v
	}
	return nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

// Save writes cfg without the token, which belongs in the environment.
func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.Session.Token = ""
	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file
// for userID. Returns (cfg, createdNew, err).
func Ensure(path, userID string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	cfg.Session.UserID = userID
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	if err := cfg.ApplyEnv(filepath.Dir(path)); err != nil {
		return Config{}, false, err
	}
	return cfg, true, nil
}

// Watch reloads path whenever it changes and passes every valid result to
// fn. Invalid edits are logged and skipped. The directory is watched so
// editors that replace the file are followed. Blocks until ctx ends.
func Watch(ctx context.Context, path string, fn func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			cfg, err := Load(abs)
			if err != nil {
				log.Warnf("CONFIG: reload %s failed: %v", abs, err)
				continue
			}
			log.Infof("CONFIG: reloaded %s", abs)
			fn(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("CONFIG: watcher error: %v", err)
		}
	}
}
