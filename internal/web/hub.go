package web

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	clientSendBuffer = 64
	pingInterval     = 30 * time.Second
	pongWait         = 60 * time.Second
)

// Client represents one WebSocket subscriber to a session feed.
type Client struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
	Hub       *SessionHub

	mu     sync.Mutex
	closed bool
}

// SessionHub fans committed narrative events out to the spectators of each
// session. Subscribers are read-only; play happens over the HTTP API.
type SessionHub struct {
	clients    map[string]map[string]*Client // sessionID -> clientID -> client
	register   chan *Client
	unregister chan *Client
	broadcast  chan sessionMessage
	logger     *zap.Logger
	mu         sync.RWMutex
}

type sessionMessage struct {
	sessionID string
	data      []byte
}

func NewSessionHub(logger *zap.Logger) *SessionHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHub{
		clients:    make(map[string]map[string]*Client),
		register:   make(chan *Client, 100),
		unregister: make(chan *Client, 100),
		broadcast:  make(chan sessionMessage, 1000),
		logger:     logger,
	}
}

// Run starts the hub's event loop.
func (h *SessionHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *SessionHub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.SessionID] == nil {
		h.clients[client.SessionID] = make(map[string]*Client)
	}
	h.clients[client.SessionID][client.ID] = client
	h.logger.Debug("spectator connected",
		zap.String("session_id", client.SessionID),
		zap.Int("total", len(h.clients[client.SessionID])),
	)

	go client.writePump()
}

func (h *SessionHub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	session := h.clients[client.SessionID]
	if _, ok := session[client.ID]; ok {
		delete(session, client.ID)
		close(client.Send)
		if len(session) == 0 {
			delete(h.clients, client.SessionID)
		}
	}
}

func (h *SessionHub) deliver(msg sessionMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients[msg.sessionID] {
		select {
		case client.Send <- msg.data:
		default:
			// Slow spectator, drop the message rather than block the feed.
			h.logger.Debug("spectator send buffer full", zap.String("client_id", client.ID))
		}
	}
}

// BroadcastEvent queues a narrative event for every spectator of a session.
func (h *SessionHub) BroadcastEvent(sessionID string, payload any) {
	data, err := json.Marshal(map[string]any{
		"type": "narrative_event",
		"data": payload,
		"time": time.Now().Unix(),
	})
	if err != nil {
		h.logger.Warn("failed to marshal event", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- sessionMessage{sessionID: sessionID, data: data}:
	default:
		h.logger.Warn("broadcast channel full, dropping event", zap.String("session_id", sessionID))
	}
}

// SpectatorCount returns the number of connected spectators for a session.
func (h *SessionHub) SpectatorCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// writePump pumps messages from the hub to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.mu.Lock()
			if !ok {
				c.closed = true
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				c.mu.Unlock()
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.closed = true
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()

		case <-ticker.C:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.closed = true
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
		}
	}
}

// Close closes the client connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.Conn.Close()
}

// readPump drains the connection so pings work; spectators send nothing.
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Close()
	}()

	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			break
		}
	}
}
