package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the server.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the server.
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait).
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size.
	maxMessageSize = 1 << 20

	// Outbound frames queued before Publish starts failing.
	sendBuf = 256
)

// Socket is the websocket-backed Channel: one persistent connection per
// logged-in session.
type Socket struct {
	*hub

	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the session socket at url, authenticating with token.
func Dial(ctx context.Context, url, token string) (*Socket, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("mq: dial %s: %w", url, err)
	}

	s := &Socket{
		hub:  newHub(),
		conn: conn,
		send: make(chan []byte, sendBuf),
		done: make(chan struct{}),
	}
	go s.readPump()
	go s.writePump()
	log.Infof("MQ: connected to %s", url)
	return s, nil
}

// Publish implements Channel.
func (s *Socket) Publish(name string, payload any) error {
	evt, err := NewEvent(name, payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("mq: encode frame: %w", err)
	}

	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	select {
	case s.send <- b:
		return nil
	case <-s.done:
		return ErrClosed
	default:
		return fmt.Errorf("mq: send queue full, dropping %s", name)
	}
}

// Done is closed when the connection is gone, for whatever reason.
func (s *Socket) Done() <-chan struct{} { return s.done }

// Close shuts the connection down. Idempotent.
func (s *Socket) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	s.shutdown()
	return nil
}

func (s *Socket) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
		s.hub.close()
	})
}

// readPump decodes inbound frames and fans them out in arrival order.
func (s *Socket) readPump() {
	defer s.shutdown()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("MQ: read error: %v", err)
			}
			return
		}
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			log.Warnf("MQ: dropping malformed frame: %v", err)
			continue
		}
		if evt.Name == "" {
			continue
		}
		s.deliver(evt)
	}
}

// writePump serializes outbound frames and keeps the connection alive.
func (s *Socket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.shutdown()
	}()

	for {
		select {
		case <-s.done:
			return
		case b := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Warnf("MQ: write error: %v", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
