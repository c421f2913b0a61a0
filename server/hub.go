package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jrsteele09/hms-console/realtime"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// wsClient is a single WebSocket connection
type wsClient struct {
	id     string
	userID string
	send   chan []byte
	topics map[string]struct{}
}

// Hub tracks connected clients and their topic subscriptions and fans
// published events out to them.
type Hub struct {
	mu      sync.RWMutex
	topics  map[string]map[*wsClient]struct{} // topic -> set of clients
	all     map[*wsClient]struct{}
	logger  zerolog.Logger
	nowFunc func() time.Time
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		topics:  make(map[string]map[*wsClient]struct{}),
		all:     make(map[*wsClient]struct{}),
		logger:  logger,
		nowFunc: time.Now,
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[c] = struct{}{}
}

// unregister removes c from every topic and closes its send channel
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[c]; !ok {
		return
	}
	for topic := range c.topics {
		h.removeLocked(c, topic)
	}
	delete(h.all, c)
	close(c.send)
}

func (h *Hub) subscribe(c *wsClient, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		if h.topics[topic] == nil {
			h.topics[topic] = make(map[*wsClient]struct{})
		}
		h.topics[topic][c] = struct{}{}
		c.topics[topic] = struct{}{}
	}
}

func (h *Hub) unsubscribe(c *wsClient, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		h.removeLocked(c, topic)
		delete(c.topics, topic)
	}
}

func (h *Hub) removeLocked(c *wsClient, topic string) {
	if subscribers, ok := h.topics[topic]; ok {
		delete(subscribers, c)
		if len(subscribers) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Publish sends data as an event to every subscriber of topic. Slow clients
// whose buffer is full miss the event.
func (h *Hub) Publish(topic string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(realtime.Message{
		Type:      realtime.TypeEvent,
		Topic:     topic,
		Timestamp: h.nowFunc().UTC(),
		Data:      payload,
	})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.topics[topic] {
		select {
		case c.send <- frame:
		default:
			h.logger.Warn().Str("client", c.id).Str("topic", topic).Msg("client buffer full, event dropped")
		}
	}
	return nil
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients subscribed to topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// ServeWS upgrades an authenticated request and runs the connection
func (s *Server) ServeWS() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser client
			}
			allowed := s.config.GetAllowedOrigins()
			return allowed.IsAllowedOrigin(origin) || allowed.IsAllowedOrigin("*")
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			writeJSONError(w, "unauthorized", "missing claims", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		c := &wsClient{
			id:     uuid.New().String(),
			userID: claims.Subject,
			send:   make(chan []byte, sendBuffer),
			topics: make(map[string]struct{}),
		}
		s.hub.register(c)
		s.logger.Debug().Str("client", c.id).Str("user", c.userID).Msg("websocket connected")

		go s.writePump(c, conn)
		s.readPump(c, conn)
	}
}

// readPump handles subscribe/unsubscribe frames until the connection drops
func (s *Server) readPump(c *wsClient, conn *websocket.Conn) {
	defer func() {
		s.hub.unregister(c)
		conn.Close()
		s.logger.Debug().Str("client", c.id).Msg("websocket disconnected")
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg realtime.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Str("client", c.id).Msg("websocket read")
			}
			return
		}

		switch msg.Type {
		case realtime.TypeSubscribe:
			s.hub.subscribe(c, msg.Topics)
		case realtime.TypeUnsubscribe:
			s.hub.unsubscribe(c, msg.Topics)
		}
	}
}

// writePump writes queued events and keeps the connection alive with pings
func (s *Server) writePump(c *wsClient, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
