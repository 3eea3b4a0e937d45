package stream

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/loom/pkg/models"
)

const wsWriteWait = 10 * time.Second

// WSSink writes JSON-encoded events to a websocket connection. A failed
// write marks the sink closed so the execution loop is never stalled by a
// departed consumer.
type WSSink struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// NewWSSink wraps an upgraded websocket connection. The sink owns the write
// side; callers keep responsibility for the read loop and connection close
// handshake initiated by the peer.
func NewWSSink(conn *websocket.Conn) *WSSink {
	return &WSSink{conn: conn}
}

// Send marshals the event and writes it as a text message. Write errors
// close the sink; later Sends are no-ops.
func (s *WSSink) Send(e models.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.closed = true
	}
}

// Close sends a close frame and closes the connection. Idempotent.
func (s *WSSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	deadline := time.Now().Add(wsWriteWait)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline) //nolint:errcheck
	_ = s.conn.Close()
}
