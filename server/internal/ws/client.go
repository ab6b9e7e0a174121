package ws

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingEvery    = pongWait * 9 / 10 // must stay below pongWait
	outboxSize   = 16
	maxInbound   = 512
)

// subscriber is one WebSocket connection. out is closed by the hub when the
// subscriber is dropped, which ends writeLoop.
type subscriber struct {
	conn   *websocket.Conn
	out    chan []byte
	tenant string
}

func newSubscriber(conn *websocket.Conn, tenant string) *subscriber {
	return &subscriber{conn: conn, out: make(chan []byte, outboxSize), tenant: tenant}
}

// offer queues msg without blocking and reports whether there was room.
func (s *subscriber) offer(msg []byte) bool {
	select {
	case s.out <- msg:
		return true
	default:
		return false
	}
}

func (s *subscriber) write(kind int, payload []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
	return s.conn.WriteMessage(kind, payload)
}

// writeLoop sends queued dashboards and keepalive pings until the outbox is
// closed or a write fails.
func (s *subscriber) writeLoop() {
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()
	defer s.conn.Close()

	for {
		select {
		case msg, open := <-s.out:
			if !open {
				s.write(websocket.CloseMessage, nil) //nolint:errcheck
				return
			}
			if s.write(websocket.TextMessage, msg) != nil {
				return
			}
		case <-ping.C:
			if s.write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

// readLoop discards inbound frames so control frames get processed, and
// returns once the peer goes away or stops answering pings.
func (s *subscriber) readLoop() {
	defer s.conn.Close()
	s.conn.SetReadLimit(maxInbound)
	extend := func(string) error { return s.conn.SetReadDeadline(time.Now().Add(pongWait)) }
	extend("") //nolint:errcheck
	s.conn.SetPongHandler(extend)
	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			return
		}
	}
}
