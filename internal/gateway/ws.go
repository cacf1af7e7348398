package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/roelfdiedericks/memclaw/internal/bus"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Loopback-only server; the browser viewer connects from file:// and
	// localhost origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// hub tracks connected websocket clients and fans events out to them.
// A client that cannot keep up is dropped, never waited on.
type hub struct {
	mu      sync.Mutex
	clients map[*client]bool
	log     *log.Logger
}

type client struct {
	conn *websocket.Conn
	send chan bus.Event
}

func newHub(logger *log.Logger) *hub {
	return &hub{clients: make(map[*client]bool), log: logger}
}

func (h *hub) broadcast(ev bus.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.log.Warn("dropping slow websocket client")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		c.conn.Close()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan bus.Event, sendBuffer)}
	s.hub.mu.Lock()
	s.hub.clients[c] = true
	s.hub.mu.Unlock()
	s.log.Debug("websocket client connected", "remote", r.RemoteAddr)

	go c.writePump(s.hub)
	go c.readPump(s.hub)
}

// writePump serializes all writes for one connection.
func (c *client) writePump(h *hub) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readPump discards client messages and notices disconnects.
func (c *client) readPump(h *hub) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
