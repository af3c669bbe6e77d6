package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 10 * 1024 * 1024 // audio frames are base64 in JSON
)

// Hub tracks the open transcript streams, grouped by interview so every
// viewer of an interview sees the entries as they are recorded.
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan envelope
	done       chan struct{}
	mu         sync.RWMutex
}

type envelope struct {
	interviewID string
	payload     []byte
}

type Client struct {
	ID             string
	Hub            *Hub
	Conn           *websocket.Conn
	Send           chan []byte
	UserID         string
	InterviewID    string
	MessageHandler func(*Client, Frame)
	closeOnce      sync.Once
}

// Frame is one message from the client.
type Frame struct {
	Type        string `json:"type"` // "text", "audio", "end_session"
	Speaker     string `json:"speaker,omitempty"`
	Content     string `json:"content,omitempty"`
	AudioBase64 string `json:"audio_base64,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

// Event is one message to the client.
type Event struct {
	Type        string `json:"type"` // "entry", "ack", "error", "session_ended"
	InterviewID string `json:"interview_id"`
	RequestID   string `json:"request_id,omitempty"`
	Data        any    `json:"data,omitempty"`
	Error       string `json:"error,omitempty"`
	Code        string `json:"code,omitempty"`
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan envelope, 64),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, group := range h.clients {
				for client := range group {
					client.closeSend()
				}
			}
			h.clients = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			group, ok := h.clients[client.InterviewID]
			if !ok {
				group = make(map[*Client]bool)
				h.clients[client.InterviewID] = group
			}
			group[client] = true
			h.mu.Unlock()
			slog.Info("Client registered", "user_id", client.UserID, "interview_id", client.InterviewID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			slog.Info("Client unregistered", "user_id", client.UserID, "interview_id", client.InterviewID)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.interviewID] {
				select {
				case client.Send <- msg.payload:
				default:
					slog.Warn("Client send buffer full, dropping client", "interview_id", msg.interviewID, "user_id", client.UserID)
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(client *Client) {
	group, ok := h.clients[client.InterviewID]
	if !ok || !group[client] {
		return
	}
	delete(group, client)
	if len(group) == 0 {
		delete(h.clients, client.InterviewID)
	}
	client.closeSend()
}

func (h *Hub) RegisterClient(conn *websocket.Conn, userID, interviewID string) *Client {
	client := &Client{
		ID:          uuid.New().String(),
		Hub:         h,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		UserID:      userID,
		InterviewID: interviewID,
	}

	select {
	case h.register <- client:
	case <-h.done:
		client.closeSend()
	}
	return client
}

// Broadcast sends an event to every client watching the interview.
func (h *Hub) Broadcast(interviewID string, event Event) {
	event.InterviewID = interviewID
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal event", "error", err)
		return
	}
	select {
	case h.broadcast <- envelope{interviewID: interviewID, payload: payload}:
	case <-h.done:
	}
}

// Clients returns how many streams are open for an interview.
func (h *Hub) Clients(interviewID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[interviewID])
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.Send) })
}

// ReadPump blocks until the connection closes. Frames are handed to
// MessageHandler one at a time so transcript order follows arrival order.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			break
		}

		var frame Frame
		if err := json.Unmarshal(messageBytes, &frame); err != nil {
			slog.Error("Failed to unmarshal frame", "error", err)
			c.SendEvent(Event{Type: "error", Error: "malformed frame", Code: "INVALID_INPUT"})
			continue
		}

		slog.Debug("Frame received", "type", frame.Type, "interview_id", c.InterviewID, "content_length", len(frame.Content))

		if c.MessageHandler != nil {
			c.MessageHandler(c, frame)
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendEvent writes to this client only. It never blocks; a full or closed
// buffer drops the event.
func (c *Client) SendEvent(event Event) {
	event.InterviewID = c.InterviewID
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal event", "error", err)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Debug("Event dropped on closed client", "interview_id", c.InterviewID)
		}
	}()
	select {
	case c.Send <- payload:
	default:
		slog.Warn("Client send buffer full, event dropped", "interview_id", c.InterviewID)
	}
}
