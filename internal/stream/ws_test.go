package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/loom/pkg/models"
)

// wsPair upgrades a test server connection, hands the server side to fn, and
// returns the client side.
func wsPair(t *testing.T, fn func(*websocket.Conn)) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade() error = %v", err)
			return
		}
		fn(conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestWSSink_SendDeliversJSON(t *testing.T) {
	serverConn := make(chan *websocket.Conn, 1)
	client := wsPair(t, func(conn *websocket.Conn) {
		serverConn <- conn
	})

	sink := NewWSSink(<-serverConn)
	sink.Send(models.NewContentEvent("run-1", "hello"))

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}

	var e models.Event
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if e.Type != models.EventContent {
		t.Errorf("Type = %q, want %q", e.Type, models.EventContent)
	}
	if e.RunID != "run-1" {
		t.Errorf("RunID = %q, want run-1", e.RunID)
	}
	if e.Content == nil || e.Content.Text != "hello" {
		t.Errorf("Content = %+v, want text hello", e.Content)
	}
}

func TestWSSink_CloseSendsCloseFrame(t *testing.T) {
	serverConn := make(chan *websocket.Conn, 1)
	client := wsPair(t, func(conn *websocket.Conn) {
		serverConn <- conn
	})

	sink := NewWSSink(<-serverConn)
	sink.Close()

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	if err == nil {
		t.Fatal("expected close, got message")
	}
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("close error = %v, want normal closure", err)
	}
}

func TestWSSink_SendAfterCloseIsNoOp(t *testing.T) {
	serverConn := make(chan *websocket.Conn, 1)
	_ = wsPair(t, func(conn *websocket.Conn) {
		serverConn <- conn
	})

	sink := NewWSSink(<-serverConn)
	sink.Close()
	sink.Send(models.NewContentEvent("run-1", "late"))
	sink.Close()
}

func TestWSSink_WriteFailureClosesSink(t *testing.T) {
	serverConn := make(chan *websocket.Conn, 1)
	client := wsPair(t, func(conn *websocket.Conn) {
		serverConn <- conn
	})

	conn := <-serverConn
	sink := NewWSSink(conn)

	// Drop the transport out from under the sink.
	_ = client.Close()
	_ = conn.Close()

	sink.Send(models.NewContentEvent("run-1", "a"))
	if !sink.closed {
		t.Error("sink still open after write failure")
	}
	sink.Send(models.NewContentEvent("run-1", "b"))
}
