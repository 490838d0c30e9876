package fanout

import (
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(room string, buf int) *Client {
	return &Client{room: room, send: make(chan []byte, buf)}
}

func TestHub_PublishDeliversToRoom(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	client := newTestClient("broadcast:123", clientSendBuffer)
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.Publish("broadcast:123", "call_update", map[string]string{"id": "abc"})

	select {
	case data := <-client.send:
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if env.Event != "call_update" {
			t.Errorf("event = %q, want call_update", env.Event)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestHub_PublishDoesNotCrossRooms(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	roomA := newTestClient("broadcast:a", clientSendBuffer)
	roomB := newTestClient("broadcast:b", clientSendBuffer)
	hub.register <- roomA
	hub.register <- roomB
	time.Sleep(10 * time.Millisecond)

	hub.Publish("broadcast:a", "call_update", nil)

	select {
	case <-roomA.send:
	case <-time.After(time.Second):
		t.Fatal("expected room a to receive the event")
	}

	select {
	case <-roomB.send:
		t.Fatal("room b should not have received an event scoped to room a")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_PublishDropsOnFullClientBuffer(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	client := newTestClient("broadcast:full", 1)
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	for i := 0; i < 5; i++ {
		hub.Publish("broadcast:full", "call_update", i)
	}
	time.Sleep(50 * time.Millisecond)

	if len(client.send) != 1 {
		t.Errorf("expected the client buffer to cap at 1 queued message, got %d", len(client.send))
	}
}

func TestHub_UnregisterClosesSendChannel(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	client := newTestClient("broadcast:gone", clientSendBuffer)
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)

	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("expected send channel to be closed after unregister")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
