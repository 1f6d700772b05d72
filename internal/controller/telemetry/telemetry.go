// Package telemetry implements the host's optional loopback-only
// WebSocket feed: state transitions, link quality, calibration, and
// profile events pushed to any locally-connected viewer (a dashboard,
// a debugging shell).
//
// Grounded on Valkyrie/internal/livefeed/streamer.go's
// register/broadcast/write-pump shape, generalized from flight
// telemetry to robot link/state events.
package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// bufferSize bounds the broadcast channel and each client's outbound
// queue; overflow drops the oldest pending event rather than blocking
// the command loop (§4.9: the loop must never block on telemetry).
const bufferSize = 64

// EventKind labels what changed.
type EventKind string

const (
	EventStateChanged       EventKind = "state_changed"
	EventLinkQuality        EventKind = "link_quality"
	EventCalibrationChanged EventKind = "calibration_changed"
	EventProfileChanged     EventKind = "profile_changed"
)

// Event is one telemetry sample, JSON-encoded verbatim to viewers.
type Event struct {
	Kind      EventKind   `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
	State     string      `json:"state,omitempty"`
	HzMean    float64     `json:"hz_mean,omitempty"`
	JitterMs  float64     `json:"jitter_ms,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// client is one connected viewer.
type client struct {
	conn *websocket.Conn
	send chan *Event
}

// Feed broadcasts Events to connected WebSocket viewers. It is
// loopback-only: callers are expected to bind its HTTP handler to a
// 127.0.0.1 listener, not a public interface.
type Feed struct {
	mu        sync.RWMutex
	clients   map[*client]bool
	broadcast chan *Event
	upgrader  websocket.Upgrader
	log       *logrus.Entry

	sent uint64
}

// New builds an empty Feed.
func New(log *logrus.Logger) *Feed {
	if log == nil {
		log = logrus.New()
	}
	return &Feed{
		clients:   make(map[*client]bool),
		broadcast: make(chan *Event, bufferSize),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.WithField("component", "telemetry"),
	}
}

// HandleWebSocket upgrades an incoming HTTP request and registers the
// resulting client.
func (f *Feed) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.WithError(err).Error("failed to upgrade websocket")
		return
	}

	c := &client{conn: conn, send: make(chan *Event, bufferSize)}
	f.register(c)

	ctx, cancel := context.WithCancel(context.Background())
	go f.writePump(ctx, c)
	go f.readPump(ctx, cancel, c)
}

func (f *Feed) register(c *client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[c] = true
}

func (f *Feed) unregister(c *client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
}

// Publish enqueues an event for broadcast, dropping the oldest queued
// event if the broadcast buffer is full (never blocks the caller).
func (f *Feed) Publish(e Event) {
	select {
	case f.broadcast <- &e:
	default:
		select {
		case <-f.broadcast:
		default:
		}
		f.broadcast <- &e
	}
}

// Run drains the broadcast channel and fans events out to clients
// until ctx is canceled.
func (f *Feed) Run(ctx context.Context) {
	f.log.Info("telemetry feed started")
	for {
		select {
		case <-ctx.Done():
			f.closeAll()
			return
		case e := <-f.broadcast:
			f.fanOut(e)
		}
	}
}

func (f *Feed) fanOut(e *Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for c := range f.clients {
		select {
		case c.send <- e:
			f.sent++
		default:
			// Client queue full: drop its oldest pending event to make room.
			select {
			case <-c.send:
			default:
			}
			select {
			case c.send <- e:
				f.sent++
			default:
			}
		}
	}
}

func (f *Feed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		c.conn.Close()
		close(c.send)
		delete(f.clients, c)
	}
}

func (f *Feed) writePump(ctx context.Context, c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *Feed) readPump(ctx context.Context, cancel context.CancelFunc, c *client) {
	defer func() {
		cancel()
		f.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Stats reports the current client count and cumulative sent count.
func (f *Feed) Stats() (clients int, sent uint64) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients), f.sent
}
