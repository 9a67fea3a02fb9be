package signal

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func dialSignal(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, env Envelope) {
	t.Helper()
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("write %s: %v", env.Event, err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func TestNegotiationOverWebSocket(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(log)

	r := gin.New()
	r.GET("/ws/signal", Handler(hub, log))
	srv := httptest.NewServer(r)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/signal"

	caller := dialSignal(t, wsURL)
	callee := dialSignal(t, wsURL)

	sendFrame(t, caller, Envelope{Event: EventJoinRoom, RoomID: "room-1"})
	if got := roleOf(t, readFrame(t, caller)); got != RoleCaller {
		t.Fatalf("first joiner role = %s, want %s", got, RoleCaller)
	}

	sendFrame(t, callee, Envelope{Event: EventJoinRoom, RoomID: "room-1"})
	if got := roleOf(t, readFrame(t, callee)); got != RoleCallee {
		t.Fatalf("second joiner role = %s, want %s", got, RoleCallee)
	}
	if env := readFrame(t, caller); env.Event != EventPeerJoined {
		t.Fatalf("caller saw %s, want %s", env.Event, EventPeerJoined)
	}

	// Offer and answer cross concurrently; each peer must see only the
	// other's frame for its room.
	offer := json.RawMessage(`{"sdp":"offer"}`)
	answer := json.RawMessage(`{"sdp":"answer"}`)
	sendFrame(t, caller, Envelope{Event: EventOffer, Payload: offer})
	sendFrame(t, callee, Envelope{Event: EventAnswer, Payload: answer})

	got := readFrame(t, callee)
	if got.Event != EventOffer || got.RoomID != "room-1" {
		t.Fatalf("callee got %s in %q, want %s in room-1", got.Event, got.RoomID, EventOffer)
	}
	got = readFrame(t, caller)
	if got.Event != EventAnswer || got.RoomID != "room-1" {
		t.Fatalf("caller got %s in %q, want %s in room-1", got.Event, got.RoomID, EventAnswer)
	}

	_ = callee.Close()
	if env := readFrame(t, caller); env.Event != EventPeerLeft {
		t.Fatalf("caller saw %s, want %s", env.Event, EventPeerLeft)
	}
}
