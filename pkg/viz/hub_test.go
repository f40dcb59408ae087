package viz

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/daviddao/gridlock/pkg/event"
	"github.com/daviddao/gridlock/pkg/logging"
)

func TestHub_StreamsEventsToClient(t *testing.T) {
	log := logging.Component(logging.New("test"), "viz")
	hub := NewHub(log)
	t.Cleanup(hub.Close)

	server := httptest.NewServer(http.HandlerFunc(NewHandler(hub, log).Handle))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatal("client never registered")
	}

	hub.Observe("L-7", 3, event.MobileEntityArrived{ID: "M-1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg StreamMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Entity != "L-7" || msg.Seq != 3 || msg.Type != "mobile_entity_arrived" {
		t.Fatalf("stream message = %+v", msg)
	}
}

func TestHub_DisconnectStopsStreaming(t *testing.T) {
	log := logging.Component(logging.New("test"), "viz")
	hub := NewHub(log)
	t.Cleanup(hub.Close)

	server := httptest.NewServer(http.HandlerFunc(NewHandler(hub, log).Handle))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if hub.ClientCount() != 0 {
		t.Fatal("closed client still registered")
	}
	// Observing with no clients is a no-op.
	hub.Observe("L-7", 1, event.MobileEntityArrived{ID: "M-1"})
}
