package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quenby/chime/engine"
)

// WebSocket timeouts per the Gorilla chat example.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsEvent is the wire envelope for scheduler events.
type wsEvent struct {
	Type  string       `json:"type"`
	Event engine.Event `json:"event"`
}

// Hub fans scheduler events out to WebSocket clients. It holds one
// subscription on the engine's emitter and relays every event to each
// connected client's send channel; slow clients drop events rather than
// stall the hub.
type Hub struct {
	emitter *engine.Emitter
	log     *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[chan engine.Event]struct{}

	events <-chan engine.Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewHub creates a hub over the engine's event emitter.
func NewHub(emitter *engine.Emitter, log *zap.SugaredLogger) *Hub {
	return &Hub{
		emitter: emitter,
		log:     log,
		clients: make(map[chan engine.Event]struct{}),
		done:    make(chan struct{}),
	}
}

// Start subscribes to the emitter and begins relaying.
func (h *Hub) Start() {
	h.events = h.emitter.Subscribe()
	h.wg.Add(1)
	go h.relay()
}

// Stop unsubscribes and disconnects all clients.
func (h *Hub) Stop() {
	h.emitter.Unsubscribe(h.events)
	close(h.done)
	h.wg.Wait()

	h.mu.Lock()
	for ch := range h.clients {
		close(ch)
	}
	h.clients = make(map[chan engine.Event]struct{})
	h.mu.Unlock()
}

func (h *Hub) relay() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case ev, ok := <-h.events:
			if !ok {
				return
			}
			h.mu.RLock()
			for ch := range h.clients {
				select {
				case ch <- ev:
				default:
					// Client buffer full, drop
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) register() chan engine.Event {
	ch := make(chan engine.Event, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unregister(ch chan engine.Event) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected WebSocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the connection and streams scheduler events
// until the client goes away.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	ch := h.register()
	h.log.Debugw("WebSocket client connected", "remote", conn.RemoteAddr())

	// Reader: detect close, discard any inbound frames
	go func() {
		defer h.unregister(ch)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go h.writeLoop(conn, ch)
}

func (h *Hub) writeLoop(conn *websocket.Conn, ch chan engine.Event) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(wsEvent{Type: "scheduler_event", Event: ev}); err != nil {
				h.log.Debugw("WebSocket write failed", "error", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
