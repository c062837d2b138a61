package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/slproto/slproto/internal/events"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
	wsClientBuffer = 64
)

// eventHub fans bus events out to websocket clients. A client that cannot
// keep up loses events rather than stalling the bus.
type eventHub struct {
	mu       sync.RWMutex
	clients  map[*wsClient]struct{}
	upgrader websocket.Upgrader
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	filter map[events.EventType]bool
	once   sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

func (c *wsClient) wants(t events.EventType) bool {
	return len(c.filter) == 0 || c.filter[t]
}

func newEventHub() *eventHub {
	return &eventHub{
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origins are enforced by the CORS middleware and the token.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// onEvent is the bus handler.
func (h *eventHub) onEvent(_ context.Context, event events.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	for c := range h.clients {
		if !c.wants(event.Type) {
			continue
		}
		select {
		case c.send <- data:
		default:
			log.Debug().Str("event", string(event.Type)).Msg("websocket client lagging, event dropped")
		}
	}
	return nil
}

func (h *eventHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *eventHub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *eventHub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

// handleEvents upgrades to a websocket and streams bus events as JSON.
// The optional "type" query parameters restrict the stream.
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := s.hub.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, wsClientBuffer),
	}
	if types := c.QueryArray("type"); len(types) > 0 {
		client.filter = make(map[events.EventType]bool, len(types))
		for _, t := range types {
			client.filter[events.EventType(t)] = true
		}
	}
	s.hub.add(client)
	s.log.Debug().Str("client_ip", c.ClientIP()).Msg("websocket client connected")

	go s.hub.writeLoop(client)

	// Reads only detect the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Msg("websocket read error")
			}
			break
		}
	}
	s.hub.remove(client)
}

func (h *eventHub) writeLoop(c *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
