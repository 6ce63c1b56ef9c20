package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/filedeck/backend/internal/models"
	"github.com/filedeck/backend/internal/notify"
	"github.com/filedeck/backend/internal/tracker"
)

// WebSocket message types
const (
	// Client -> Server messages
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeSnapshot  = "snapshot"
	MsgTypeEntry     = "entry"
	MsgTypeNotice    = "notice"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
)

const (
	clientSendBuffer = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
)

// WSMessage is the envelope for every frame on the dashboard socket.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WSErrorResponse is the payload of an error frame.
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// EventSource feeds the hub with tracker changes.
type EventSource interface {
	Snapshot() []models.FileEntry
	Subscribe() (<-chan tracker.Event, func())
}

// NoticeSource feeds the hub with notices.
type NoticeSource interface {
	Subscribe() (<-chan notify.Notice, func())
}

type wsClient struct {
	conn *websocket.Conn
	send chan WSMessage
	once sync.Once
}

func (cl *wsClient) close() {
	cl.once.Do(func() { close(cl.send) })
}

// Hub pushes entry events and notices to every connected browser.
type Hub struct {
	events   EventSource
	notices  NoticeSource
	upgrader websocket.Upgrader
	maxMsg   int64
	log      zerolog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewHub creates a hub. maxMessageKB bounds frames read from clients.
func NewHub(events EventSource, notices NoticeSource, maxMessageKB int, log zerolog.Logger) *Hub {
	if maxMessageKB <= 0 {
		maxMessageKB = 64
	}
	return &Hub{
		events:  events,
		notices: notices,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Auth is by token; origin is checked by CORS for plain requests.
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		maxMsg:  int64(maxMessageKB) * 1024,
		log:     log.With().Str("component", "hub").Logger(),
		clients: make(map[*wsClient]struct{}),
	}
}

// Run fans tracker events and notices out to clients until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	events, stopEvents := h.events.Subscribe()
	defer stopEvents()

	var notices <-chan notify.Notice
	if h.notices != nil {
		ch, stop := h.notices.Subscribe()
		defer stop()
		notices = ch
	}

	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			h.Broadcast(newMessage(MsgTypeEntry, ev.Entry.ID, ev))
		case n, ok := <-notices:
			if !ok {
				notices = nil
				continue
			}
			h.Broadcast(newMessage(MsgTypeNotice, n.ID, n))
		}
	}
}

// Broadcast queues msg for every client. Clients that cannot keep up are dropped.
func (h *Hub) Broadcast(msg WSMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for cl := range h.clients {
		select {
		case cl.send <- msg:
		default:
			h.log.Warn().Msg("client too slow, disconnecting")
			delete(h.clients, cl)
			cl.close()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the connection and serves one dashboard client.
func (h *Hub) HandleWebSocket(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	cl := &wsClient{conn: ws, send: make(chan WSMessage, clientSendBuffer)}
	cl.send <- newMessage(MsgTypeConnected, "", nil)

	// Register before taking the snapshot so no event falls between the two.
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
	h.enqueue(cl, newMessage(MsgTypeSnapshot, "", models.Views(h.events.Snapshot())))
	h.log.Debug().Str("remote", c.RealIP()).Msg("client connected")

	done := make(chan struct{})
	go h.writeLoop(cl, done)
	h.readLoop(cl)

	h.remove(cl)
	<-done
	h.log.Debug().Msg("client disconnected")
	return nil
}

func (h *Hub) readLoop(cl *wsClient) {
	cl.conn.SetReadLimit(h.maxMsg)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg WSMessage
		if err := cl.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))

		var reply WSMessage
		switch msg.Type {
		case MsgTypePing:
			reply = newMessage(MsgTypePong, msg.ID, nil)
		default:
			reply = newMessage(MsgTypeError, msg.ID, WSErrorResponse{
				Message: "Unknown message type: " + msg.Type,
				Code:    "INVALID_TYPE",
			})
		}
		if !h.enqueue(cl, reply) {
			return
		}
	}
}

func (h *Hub) writeLoop(cl *wsClient, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer cl.conn.Close()

	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := cl.conn.WriteJSON(msg); err != nil {
				h.log.Debug().Err(err).Msg("write failed")
				h.remove(cl)
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(cl)
				return
			}
		}
	}
}

// enqueue sends to one client unless it has already been dropped.
func (h *Hub) enqueue(cl *wsClient, msg WSMessage) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[cl]; !ok {
		return false
	}
	select {
	case cl.send <- msg:
		return true
	default:
		delete(h.clients, cl)
		cl.close()
		return false
	}
}

func (h *Hub) remove(cl *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
	}
	h.mu.Unlock()
	cl.close()
	// unblock a reader waiting on a client that stopped writing
	_ = cl.conn.SetReadDeadline(time.Now())
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		delete(h.clients, cl)
		cl.close()
	}
}

func newMessage(typ, id string, payload interface{}) WSMessage {
	msg := WSMessage{Type: typ, ID: id, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		msg.Payload = mustJSON(payload)
	}
	return msg
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
