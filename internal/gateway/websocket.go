package gateway

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/stafftrack/attendance-platform/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking for production
		return true
	},
}

// FeedHub fans ingested attendance events out to connected dashboard
// clients. The data flow stays one-directional: clients only listen.
type FeedHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewFeedHub creates an empty hub.
func NewFeedHub() *FeedHub {
	return &FeedHub{clients: make(map[*websocket.Conn]bool)}
}

// Serve handles GET /ws/attendance: upgrades the connection and keeps
// it registered until the client disconnects.
func (h *FeedHub) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf(`{"level":"warn","message":"WebSocket upgrade failed","error":"%v"}`, err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.mu.Unlock()
	log.Printf(`{"level":"info","message":"Feed client connected","total":%d}`, total)

	// Read loop exists only to observe the close; inbound frames are
	// discarded.
	defer h.remove(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast sends the event to every connected client, dropping
// connections that fail to accept the write.
func (h *FeedHub) Broadcast(event models.AttendanceFeedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(event); err != nil {
			log.Printf(`{"level":"warn","message":"Dropping feed client","error":"%v"}`, err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// ClientCount returns the number of connected feed clients.
func (h *FeedHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *FeedHub) remove(conn *websocket.Conn) {
	conn.Close()
	h.mu.Lock()
	delete(h.clients, conn)
	total := len(h.clients)
	h.mu.Unlock()
	log.Printf(`{"level":"info","message":"Feed client disconnected","total":%d}`, total)
}
