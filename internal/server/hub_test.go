package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blebeacon/blebeacon/internal/ble"
)

func startHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(conn)
	}))
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(time.Second)
	for hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered with hub")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestHubEmit(t *testing.T) {
	hub := NewHub(4)
	conn := startHub(t, hub)

	hub.Emit(ble.Event{Name: ble.EventBTStatusChange, Payload: ble.BTStatus{Enabled: true}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got struct {
		Type    string       `json:"type"`
		Payload ble.BTStatus `json:"payload"`
	}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if got.Type != ble.EventBTStatusChange || !got.Payload.Enabled {
		t.Errorf("event = %+v, want enabled %s", got, ble.EventBTStatusChange)
	}
}

func TestHubCloseDisconnects(t *testing.T) {
	hub := NewHub(4)
	conn := startHub(t, hub)

	hub.Close()
	if hub.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after Close", hub.Len())
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("ReadMessage() error = %v, want normal closure", err)
	}

	// Emitting after Close is a no-op.
	hub.Emit(ble.Event{Name: ble.EventDeviceFound})
}

func TestHubClientDisconnect(t *testing.T) {
	hub := NewHub(4)
	conn := startHub(t, hub)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client still registered after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
