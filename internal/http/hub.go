package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"lifeops-voice-agent/internal/models"
	"lifeops-voice-agent/internal/observability/logging"
	"lifeops-voice-agent/internal/observability/metrics"
	"lifeops-voice-agent/internal/service/state"
)

const (
	MessageSnapshot = "snapshot"
	MessageLog      = "log"

	writeTimeout = 5 * time.Second
)

// Message is one frame on the session stream.
type Message struct {
	Kind     string           `json:"kind"`
	Change   state.ChangeKind `json:"change,omitempty"`
	Snapshot *models.Snapshot `json:"snapshot,omitempty"`
	Entry    *models.LogEntry `json:"entry,omitempty"`
}

// Hub fans session changes and activity entries out to WebSocket clients.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*websocket.Conn]bool
	broadcast  chan Message
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	snapshot   func() models.Snapshot
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewHub creates a hub. snapshot provides the frame sent to new clients.
func NewHub(snapshot func() models.Snapshot) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Message, 100),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		snapshot:   snapshot,
		metrics:    metrics.DefaultMetrics,
		logger:     logging.WithComponent("ws-hub"),
	}
}

// Run serves registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			h.metrics.WSClientsGauge.Set(0)
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.WSClientsGauge.Set(float64(n))
			h.logger.Info().Int("clients", n).Msg("Client connected")

			if h.snapshot != nil {
				snap := h.snapshot()
				h.write(conn, Message{Kind: MessageSnapshot, Snapshot: &snap})
			}

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.WSClientsGauge.Set(float64(n))
			h.logger.Info().Int("clients", n).Msg("Client disconnected")

		case msg := <-h.broadcast:
			h.mu.RLock()
			conns := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				conns = append(conns, conn)
			}
			h.mu.RUnlock()
			for _, conn := range conns {
				h.write(conn, msg)
			}
		}
	}
}

// write sends one frame, dropping the client on failure. Runs on the hub
// goroutine only.
func (h *Hub) write(conn *websocket.Conn, msg Message) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Debug().Err(err).Msg("Write error, dropping client")
		h.mu.Lock()
		delete(h.clients, conn)
		n := len(h.clients)
		h.mu.Unlock()
		conn.Close()
		h.metrics.WSClientsGauge.Set(float64(n))
	}
}

// OnLogEntry implements activity.Sink.
func (h *Hub) OnLogEntry(entry models.LogEntry) {
	h.publish(Message{Kind: MessageLog, Entry: &entry})
}

// OnChange is a state.Observer.
func (h *Hub) OnChange(ch state.Change) {
	snap := ch.Snapshot
	h.publish(Message{Kind: MessageSnapshot, Change: ch.Kind, Snapshot: &snap})
}

func (h *Hub) publish(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn().Str("kind", msg.Kind).Msg("Broadcast buffer full, dropping message")
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // presentation layer may be served from another origin
	},
}

// ServeWS upgrades the request and registers the client. Incoming frames are
// read only to detect disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
