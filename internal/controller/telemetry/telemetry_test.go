package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestPublishReachesConnectedClient(t *testing.T) {
	f := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(f.HandleWebSocket))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		f.mu.RLock()
		n := len(f.clients)
		f.mu.RUnlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.Publish(Event{Kind: EventStateChanged, State: "driving"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !strings.Contains(string(data), "state_changed") || !strings.Contains(string(data), "driving") {
		t.Errorf("message = %s, want state_changed/driving", data)
	}
}

func TestPublishDropsOldestWhenFull(t *testing.T) {
	f := New(nil)
	for i := 0; i < bufferSize+10; i++ {
		f.Publish(Event{Kind: EventLinkQuality, HzMean: float64(i)})
	}
	if len(f.broadcast) != bufferSize {
		t.Errorf("broadcast channel len = %d, want full at %d", len(f.broadcast), bufferSize)
	}
}

func TestStatsNoClientsInitially(t *testing.T) {
	f := New(nil)
	clients, sent := f.Stats()
	if clients != 0 || sent != 0 {
		t.Errorf("Stats() = (%d, %d), want (0, 0)", clients, sent)
	}
}
