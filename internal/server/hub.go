package server

import (
	"log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	subscriberChSize = 64
	writeWait        = 10 * time.Second
)

// Hub fans player status frames out to live stream subscribers. Slow
// subscribers drop frames rather than stall the ingest path.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	log         *slog.Logger
}

type subscriber struct {
	conn   *ws.Conn
	sendCh chan []byte
	done   chan struct{}
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		log:         log,
	}
}

// Subscribers returns the number of connected live stream clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Broadcast queues a frame for every subscriber. Never blocks.
func (h *Hub) Broadcast(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		select {
		case sub.sendCh <- frame:
		default:
			h.log.Debug("live stream subscriber lagging, dropping frame")
		}
	}
}

// Serve runs the write loop for one upgraded connection. It returns when
// the client disconnects or the hub closes the subscriber.
func (h *Hub) Serve(conn *ws.Conn) {
	sub := &subscriber{
		conn:   conn,
		sendCh: make(chan []byte, subscriberChSize),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.subscribers, sub)
		h.mu.Unlock()
		_ = conn.Close()
	}()

	// Reader only to detect disconnects; inbound payloads are ignored.
	go func() {
		defer close(sub.done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-sub.done:
			return
		case frame := <-sub.sendCh:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, frame); err != nil {
				return
			}
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		_ = sub.conn.WriteMessage(ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
		_ = sub.conn.Close()
	}
}
