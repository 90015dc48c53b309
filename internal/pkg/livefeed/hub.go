package livefeed

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 4 * 1024
)

// RoomOps receives operator-facing events such as audit write failures.
const RoomOps = "ops"

const (
	EventAuditEntry    = "audit_entry"
	EventAuditFailure  = "audit_failure"
	EventReportFailure = "report_failure"
	EventReportSent    = "report_sent"
	EventNotification  = "notification"
)

func DepotRoom(depotID int64) string {
	return fmt.Sprintf("depot:%d", depotID)
}

// UserRoom carries one user's own notifications.
func UserRoom(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// Event is pushed to every connection subscribed to Room.
type Event struct {
	Type    string    `json:"type"`
	Room    string    `json:"room"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type connection struct {
	userID  int64
	conn    *websocket.Conn
	send    chan []byte
	rooms   map[string]bool
	canJoin func(room string) bool
}

// Hub fans events out to dashboard and operator websocket clients.
type Hub struct {
	mu          sync.RWMutex
	connections map[*connection]struct{}
}

func NewHub() *Hub {
	return &Hub{connections: make(map[*connection]struct{})}
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = struct{}{}
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[c]; ok {
		delete(h.connections, c)
		close(c.send)
	}
}

// Connections reports the number of live clients.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Close drops every client. Their read loops then unregister them.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.connections {
		_ = c.conn.Close()
	}
}

// Publish is non-blocking; slow clients miss events rather than stall callers.
func (h *Hub) Publish(room, eventType string, payload any) {
	if h == nil {
		return
	}
	data, err := json.Marshal(Event{Type: eventType, Room: room, At: time.Now().UTC(), Payload: payload})
	if err != nil {
		log.Printf("livefeed_publish_failed room=%s type=%s error=%q", room, eventType, err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.connections {
		if c.rooms[room] {
			select {
			case c.send <- data:
			default:
			}
		}
	}
}

// Subscriber describes an authenticated client: the rooms it starts in and
// which further rooms it may join.
type Subscriber struct {
	UserID  int64
	Rooms   []string
	CanJoin func(room string) bool
}

// Resolver authenticates the upgrade request.
type Resolver func(c *gin.Context) (Subscriber, error)

// Handler upgrades GET /ws/feed?token=... to a websocket.
func (h *Hub) Handler(resolve Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, err := resolve(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   gin.H{"code": "UNAUTHORIZED", "message": err.Error()},
			})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("livefeed_upgrade_failed user_id=%d error=%q", sub.UserID, err)
			return
		}
		h.serve(conn, sub)
	}
}

func (h *Hub) serve(conn *websocket.Conn, sub Subscriber) {
	c := &connection{
		userID:  sub.UserID,
		conn:    conn,
		send:    make(chan []byte, 256),
		rooms:   make(map[string]bool),
		canJoin: sub.CanJoin,
	}
	for _, room := range sub.Rooms {
		c.rooms[room] = true
	}
	if c.canJoin == nil {
		c.canJoin = func(string) bool { return false }
	}

	h.register(c)
	log.Printf("livefeed_connected user_id=%d rooms=%v", sub.UserID, sub.Rooms)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *connection) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		log.Printf("livefeed_disconnected user_id=%d", c.userID)
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd struct {
			Type string `json:"type"`
			Room string `json:"room"`
		}
		if err := json.Unmarshal(msg, &cmd); err != nil {
			continue
		}

		switch cmd.Type {
		case "subscribe":
			if !c.canJoin(cmd.Room) {
				continue
			}
			h.mu.Lock()
			c.rooms[cmd.Room] = true
			h.mu.Unlock()
		case "unsubscribe":
			h.mu.Lock()
			delete(c.rooms, cmd.Room)
			h.mu.Unlock()
		}
	}
}

func (h *Hub) writePump(c *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
