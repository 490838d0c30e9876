// Package fanout is the Event Fan-out of spec §4.H: a gorilla/websocket
// hub/room broadcaster so dashboard clients see campaign and call
// updates live, built the same way the teacher's voicebot media stream
// uses gorilla/websocket, but generalized into a pub/sub room model
// instead of one connection per call.
package fanout

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// GlobalRoom carries events not scoped to a single campaign
// (stats_update, broadcast_list_update).
const GlobalRoom = "global"

// Publisher is the only surface the Dispatch Engine depends on, so the
// concrete Hub can be swapped or mocked at wiring time.
type Publisher interface {
	Publish(room, event string, payload interface{})
}

type envelope struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// Client is a single websocket subscriber with its own buffered outbound
// channel so a slow reader can never block the hub or the dispatch tick.
type Client struct {
	conn *websocket.Conn
	room string
	send chan []byte
}

const clientSendBuffer = 32

type broadcastMsg struct {
	room string
	data []byte
}

// Hub owns all rooms and runs its own goroutine loop; Run must be
// called once before Publish has any effect.
type Hub struct {
	logger     *zap.Logger
	mu         sync.Mutex
	rooms      map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMsg
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastMsg, 256),
	}
}

// Run drives the hub's event loop; call it in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			if h.rooms[c.room] == nil {
				h.rooms[c.room] = make(map[*Client]bool)
			}
			h.rooms[c.room][c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.rooms[c.room]; ok {
				if _, ok := clients[c]; ok {
					delete(clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()

		case m := <-h.broadcast:
			h.mu.Lock()
			for c := range h.rooms[m.room] {
				select {
				case c.send <- m.data:
				default:
					// Slow subscriber: drop the message rather than block
					// the dispatch tick that originated this publish.
					h.logger.Warn("fanout client buffer full, dropping message", zap.String("room", m.room))
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish implements Publisher. It never blocks the caller: a full
// broadcast channel just drops the event and logs it.
func (h *Hub) Publish(room, event string, payload interface{}) {
	data, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		h.logger.Error("fanout marshal failed", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- broadcastMsg{room: room, data: data}:
	default:
		h.logger.Warn("fanout broadcast channel full, dropping event", zap.String("room", room), zap.String("event", event))
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// ServeWS upgrades GET /ws/broadcasts?room=broadcast:<id> (or the global
// room when unset) into a subscriber connection.
func (h *Hub) ServeWS() gin.HandlerFunc {
	return func(c *gin.Context) {
		room := c.Query("room")
		if room == "" {
			room = GlobalRoom
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{conn: conn, room: room, send: make(chan []byte, clientSendBuffer)}
		h.register <- client
		go h.writePump(client)
		go h.readPump(client)
	}
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only exists to detect client disconnects and drive
// unregistration; subscribers don't send any application messages.
func (h *Hub) readPump(c *Client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
