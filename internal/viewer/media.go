package viewer

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Frame kinds, the first byte of every binary media message.
const (
	frameAudio byte = 1
	frameVideo byte = 2
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 65536,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// MediaRelay forwards the remote peer's RTP to browser sockets. Each binary
// message is one frame kind byte followed by the marshalled packet.
type MediaRelay struct {
	mu      sync.RWMutex
	subs    map[chan []byte]struct{}
	packets map[string]uint64
}

func NewMediaRelay() *MediaRelay {
	return &MediaRelay{
		subs:    make(map[chan []byte]struct{}),
		packets: make(map[string]uint64),
	}
}

// WriteRTP implements call.RemoteSink. Slow sockets drop packets.
func (m *MediaRelay) WriteRTP(callID string, kind webrtc.RTPCodecType, pkt *rtp.Packet) {
	raw, err := pkt.Marshal()
	if err != nil {
		return
	}
	frame := make([]byte, 0, len(raw)+1)
	if kind == webrtc.RTPCodecTypeVideo {
		frame = append(frame, frameVideo)
	} else {
		frame = append(frame, frameAudio)
	}
	frame = append(frame, raw...)

	m.mu.Lock()
	m.packets[kind.String()]++
	for ch := range m.subs {
		select {
		case ch <- frame:
		default:
		}
	}
	m.mu.Unlock()
}

// Packets returns how many packets of each kind were relayed.
func (m *MediaRelay) Packets() map[string]uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]uint64, len(m.packets))
	for k, v := range m.packets {
		out[k] = v
	}
	return out
}

func (m *MediaRelay) subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 256)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		if _, ok := m.subs[ch]; ok {
			delete(m.subs, ch)
			close(ch)
		}
		m.mu.Unlock()
	}
}

// ServeHTTP upgrades GET /api/call/media to a socket carrying media frames.
func (m *MediaRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("VIEWER: media upgrade: %v", err)
		return
	}
	defer conn.Close()

	frames, cancel := m.subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, f); err != nil {
				return
			}
		}
	}
}
