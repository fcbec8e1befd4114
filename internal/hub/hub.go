// Package hub tracks live WebSocket connections and the chats they are bound to.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection represents a single WebSocket connection.
type Connection struct {
	ID     string
	Conn   *websocket.Conn
	Send   chan []byte
	chatID string
	closed bool
	hub    *Hub
	mu     sync.Mutex
}

// Hub manages all WebSocket connections.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// Chats maps chat_id to set of connection IDs
	chats map[string]map[string]bool

	// Channels for registration/unregistration
	register   chan *Connection
	unregister chan *Connection

	// Broadcast channel for sending to specific chat
	broadcast chan *ChatMessage

	// Closed when Run returns
	done     chan struct{}
	stopOnce sync.Once

	log *log.Logger
	mu  sync.RWMutex
}

// ChatMessage is used to broadcast a message to a chat.
type ChatMessage struct {
	ChatID string
	Data   []byte
}

// NewHub creates a new Hub.
func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		chats:       make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *ChatMessage, 256),
		done:        make(chan struct{}),
		log:         logger.With("component", "hub"),
	}
}

// Run starts the hub's main loop. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			if !conn.closed {
				h.connections[conn.ID] = conn
			}
			h.mu.Unlock()
			h.log.Debug("connection registered", "conn_id", conn.ID)

		case conn := <-h.unregister:
			h.mu.Lock()
			h.remove(conn)
			h.mu.Unlock()
			h.log.Debug("connection unregistered", "conn_id", conn.ID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for connID := range h.chats[msg.ChatID] {
				if conn, exists := h.connections[connID]; exists && !conn.closed {
					select {
					case conn.Send <- msg.Data:
					default:
						// Buffer full, close the connection
						h.log.Warn("connection buffer full, closing", "conn_id", connID)
						go h.Unregister(conn)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// remove drops conn from every index and closes its send channel once.
// Callers hold h.mu.
func (h *Hub) remove(conn *Connection) {
	delete(h.connections, conn.ID)
	h.unbind(conn)
	if !conn.closed {
		conn.closed = true
		close(conn.Send)
	}
}

func (h *Hub) unbind(conn *Connection) {
	if conn.chatID == "" {
		return
	}
	if ids := h.chats[conn.chatID]; ids != nil {
		delete(ids, conn.ID)
		if len(ids) == 0 {
			delete(h.chats, conn.chatID)
		}
	}
}

// NewConnection creates a new connection. Register it to make it reachable.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Conn: ws,
		Send: make(chan []byte, 256),
		hub:  h,
	}
}

// Register registers a connection with the hub. It is a no-op once the hub
// has stopped.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
	}
}

// Unregister unregisters a connection with the hub. Once the hub has
// stopped the connection is removed in place.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
		h.mu.Lock()
		h.remove(conn)
		h.mu.Unlock()
	}
}

// BindChat binds a connection to a chat, leaving any previous one.
func (h *Hub) BindChat(conn *Connection, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conn.closed || conn.chatID == chatID {
		return
	}
	h.unbind(conn)

	conn.chatID = chatID
	if chatID == "" {
		return
	}
	if h.chats[chatID] == nil {
		h.chats[chatID] = make(map[string]bool)
	}
	h.chats[chatID][conn.ID] = true
}

// ChatID returns the chat a connection is bound to.
func (h *Hub) ChatID(conn *Connection) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return conn.chatID
}

// Broadcast sends a message to all connections of a chat.
func (h *Hub) Broadcast(chatID string, data []byte) {
	select {
	case h.broadcast <- &ChatMessage{ChatID: chatID, Data: data}:
	case <-h.done:
	}
}

// BroadcastJSON sends a JSON message to all connections of a chat.
func (h *Hub) BroadcastJSON(chatID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(chatID, data)
	return nil
}

// SendToConnection sends a message to a specific connection.
func (h *Hub) SendToConnection(conn *Connection, data []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if conn.closed {
		return ErrConnectionClosed
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// SendJSONToConnection sends a JSON message to a specific connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.SendToConnection(conn, data)
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// GetChatCount returns the number of chats with at least one connection.
func (h *Hub) GetChatCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.chats)
}

// HasActiveConnections checks if a chat has any active connections.
func (h *Hub) HasActiveConnections(chatID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	connIDs, ok := h.chats[chatID]
	return ok && len(connIDs) > 0
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ErrBufferFull is returned when the send buffer is full.
var ErrBufferFull = &SendError{reason: "send buffer full"}

// ErrConnectionClosed is returned when sending to an unregistered connection.
var ErrConnectionClosed = &SendError{reason: "connection closed"}

// SendError reports why a frame could not be queued.
type SendError struct {
	reason string
}

func (e *SendError) Error() string {
	return e.reason
}
