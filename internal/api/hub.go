// Package api serves the sdrd control API on a Unix socket and pushes live
// stream events to websocket clients.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/G3UKB/SDRLibE/internal/stream"
)

const (
	clientBuffer = 64
	writeWait    = 5 * time.Second
)

// Hub fans packet events out to websocket clients. It is a stream.Sink;
// a slow client misses events rather than stalling the dispatcher.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	closed  bool
	done    chan struct{}
	conns   sync.WaitGroup
	decode  bool
	up      websocket.Upgrader
	logger  zerolog.Logger
}

// NewHub creates a hub. decode selects display frame decoding in events.
func NewHub(decode bool, logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[chan []byte]struct{}),
		done:    make(chan struct{}),
		decode:  decode,
		up: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 8192,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "ws").Logger(),
	}
}

// Handle publishes p to every connected client.
func (h *Hub) Handle(_ context.Context, p stream.Packet) error {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n == 0 {
		return nil
	}

	data, err := json.Marshal(stream.PacketEvent(p, h.decode))
	if err != nil {
		return err
	}
	h.Publish(data)
	return nil
}

// Publish sends data to every client without blocking.
func (h *Hub) Publish(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- data:
		default:
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) subscribe() (chan []byte, func()) {
	ch := make(chan []byte, clientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.clients, ch)
		h.mu.Unlock()
	}
}

// Close disconnects every websocket client and waits for their handlers to
// return. Hijacked connections are not tracked by http.Server.Shutdown.
// Later upgrade requests are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.done)
	}
	h.mu.Unlock()
	h.conns.Wait()
}

// ServeHTTP upgrades the request and streams events until the client goes
// away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	h.conns.Add(1)
	h.mu.Unlock()
	defer h.conns.Done()

	conn, err := h.up.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	ch, unsub := h.subscribe()
	defer unsub()

	// Reads only detect the close; clients send nothing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	defer func() {
		conn.Close()
		<-gone
	}()

	h.logger.Debug().Msg("websocket client connected")
	for {
		select {
		case data := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-h.done:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}
