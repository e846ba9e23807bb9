package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teranos/enrolpulse/enrolment"
	"github.com/teranos/enrolpulse/logger"
	"github.com/teranos/enrolpulse/version"
)

// WebSocket timeouts, following the gorilla chat example
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Clients only send control frames
	maxMessageSize = 512
)

// Message is one frame sent to a stream client.
type Message struct {
	Type    string            `json:"type"` // "hello" or "status_change"
	Version string            `json:"version,omitempty"`
	Change  *enrolment.Change `json:"change,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 2048,
	CheckOrigin:     checkOrigin,
}

// checkOrigin admits non-browser clients and pages served from localhost.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "https://localhost") ||
		strings.HasPrefix(origin, "http://127.0.0.1")
}

// Client is one WebSocket subscriber, optionally limited to one course.
type Client struct {
	server   *Server
	conn     *websocket.Conn
	id       string
	courseID int64 // 0 = every course
	closed   chan struct{}
}

// HandleChanges upgrades the request and streams status changes until the
// client disconnects or the server stops. ?course=<id> filters by course.
func (s *Server) HandleChanges(w http.ResponseWriter, r *http.Request) {
	var courseID int64
	if raw := r.URL.Query().Get("course"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid course id %q", raw))
			return
		}
		courseID = id
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("WebSocket upgrade failed", logger.FieldError, err)
		return
	}

	client := &Client{
		server:   s,
		conn:     conn,
		id:       fmt.Sprintf("%s_%d", r.RemoteAddr, time.Now().UnixNano()),
		courseID: courseID,
		closed:   make(chan struct{}),
	}

	// Subscribe before the hello frame so nothing announced after it is missed
	changes, unsubscribe := s.changes.Subscribe()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(Message{Type: "hello", Version: version.Get().Version}); err != nil {
		unsubscribe()
		conn.Close()
		return
	}

	s.register(client)
	s.logger.Debugw("Stream client connected", "client_id", client.id, logger.FieldCourseID, courseID)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		client.readPump()
	}()
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		client.writePump(changes)
	}()
}

// readPump discards client frames; it exists to process pongs and notice
// the connection closing.
func (c *Client) readPump() {
	defer func() {
		close(c.closed)
		c.server.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.server.logger.Warnw("Stream client read error", "client_id", c.id, logger.FieldError, err)
			}
			return
		}
	}
}

func (c *Client) writePump(changes <-chan enrolment.Change) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.server.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"))
			return

		case <-c.closed:
			return

		case change, ok := <-changes:
			if !ok {
				return
			}
			if c.courseID != 0 && change.CourseID != c.courseID {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(Message{Type: "status_change", Change: &change}); err != nil {
				c.server.logger.Debugw("Stream write error", "client_id", c.id, logger.FieldError, err)
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
