package stream

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, hub *Hub, channel string) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		hub.Register(conn, channel)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// drain the initial "connected" envelope
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read connected envelope: %v", err)
	}
	return conn
}

type decoded struct {
	Type        string `json:"type"`
	BroadcastID int64  `json:"_broadcast_id"`
	Data        string `json:"data"`
}

func readDecoded(t *testing.T, conn *websocket.Conn) decoded {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var d decoded
	if err := json.Unmarshal(msg, &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return d
}

// TestBroadcastOrderingAcrossSubscribers reproduces the broadcast
// ordering scenario: two subscribers on the same channel see every
// message in the same order, and a dropped subscriber doesn't affect
// the survivor.
func TestBroadcastOrderingAcrossSubscribers(t *testing.T) {
	t.Parallel()
	hub := NewHub(discardLogger())
	s1 := newTestServer(t, hub, ChannelWhales)
	s2 := newTestServer(t, hub, ChannelWhales)

	// Give Register's goroutines a moment to land in the subscriber set.
	time.Sleep(50 * time.Millisecond)

	hub.Broadcast(ChannelWhales, "A")
	hub.Broadcast(ChannelWhales, "B")

	a1 := readDecoded(t, s1)
	b1 := readDecoded(t, s1)
	a2 := readDecoded(t, s2)
	b2 := readDecoded(t, s2)

	if a1.Data != "A" || b1.Data != "B" {
		t.Fatalf("s1 got %q then %q, want A then B", a1.Data, b1.Data)
	}
	if a2.Data != "A" || b2.Data != "B" {
		t.Fatalf("s2 got %q then %q, want A then B", a2.Data, b2.Data)
	}
	if a1.BroadcastID >= b1.BroadcastID {
		t.Fatalf("broadcast ids not increasing: %d then %d", a1.BroadcastID, b1.BroadcastID)
	}

	s1.Close()
	time.Sleep(50 * time.Millisecond)

	hub.Broadcast(ChannelWhales, "C")
	c2 := readDecoded(t, s2)
	if c2.Data != "C" {
		t.Fatalf("s2 got %q, want C after s1 disconnected", c2.Data)
	}

	status := hub.Status()
	if status.Subscribers[ChannelWhales] != 1 {
		t.Fatalf("subscriber count = %d, want 1 after s1 disconnected", status.Subscribers[ChannelWhales])
	}
}

func TestPingPongControlFrame(t *testing.T) {
	t.Parallel()
	hub := NewHub(discardLogger())
	conn := newTestServer(t, hub, ChannelTrades)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if string(msg) != "pong" {
		t.Fatalf("got %q, want pong", msg)
	}
}
