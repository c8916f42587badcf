package reload

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MessageType identifies a broadcast message.
type MessageType string

const (
	MessageReload MessageType = "reload"
	MessageHello  MessageType = "hello"
)

// Message is sent to connected clients as JSON.
type Message struct {
	Type MessageType `json:"type"`
	At   time.Time   `json:"at"`
}

// Broadcaster pushes reload notifications to WebSocket clients such as
// browser pages or sidecar agents. It implements http.Handler for the
// upgrade endpoint.
type Broadcaster struct {
	clients  map[*websocket.Conn]bool
	mu       sync.RWMutex
	writeMu  sync.Mutex
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewBroadcaster creates a Broadcaster with no clients.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: loggerOrDefault(logger),
	}
}

// ServeHTTP upgrades the connection and holds it until the client leaves.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := b.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	b.mu.Lock()
	b.clients[conn] = true
	b.mu.Unlock()

	b.send(conn, Message{Type: MessageHello, At: time.Now()})

	// Keep connection alive until client disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	b.drop(conn)
}

// Reload sends a reload message to every client.
func (b *Broadcaster) Reload() {
	b.broadcast(Message{Type: MessageReload, At: time.Now()})
}

func (b *Broadcaster) broadcast(msg Message) {
	b.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(b.clients))
	for client := range b.clients {
		clients = append(clients, client)
	}
	b.mu.RUnlock()

	for _, client := range clients {
		b.send(client, msg)
	}
}

func (b *Broadcaster) send(conn *websocket.Conn, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	b.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	b.writeMu.Unlock()
	if err != nil {
		b.logger.Debug("dropping reload client", "remote", conn.RemoteAddr().String(), "error", err)
		b.drop(conn)
	}
}

func (b *Broadcaster) drop(conn *websocket.Conn) {
	b.mu.Lock()
	delete(b.clients, conn)
	b.mu.Unlock()
	conn.Close()
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close closes all client connections.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for client := range b.clients {
		client.Close()
		delete(b.clients, client)
	}
}
