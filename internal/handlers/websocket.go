package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/pce/internal/common"
	"github.com/ternarybob/pce/internal/interfaces"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope sent to operator clients
type WSMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// unthrottled events always reach clients
var unthrottled = map[interfaces.EventType]bool{
	interfaces.EventPipelineFailed:    true,
	interfaces.EventPipelineAlert:     true,
	interfaces.EventPipelineStalled:   true,
	interfaces.EventPipelineCancelled: true,
}

// WebSocketHandler streams bus events to operator clients on /ws/events
type WebSocketHandler struct {
	logger           arbor.ILogger
	clients          map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	eventService     interfaces.EventService
	allowedEvents    map[interfaces.EventType]bool // empty = allow all
	throttleInterval time.Duration
	throttlers       map[interfaces.EventType]*rate.Limiter
	throttleMu       sync.Mutex
	serverInstanceID string // clients use it to detect a server restart
}

func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]*sync.Mutex),
		eventService:     eventService,
		allowedEvents:    make(map[interfaces.EventType]bool),
		throttlers:       make(map[interfaces.EventType]*rate.Limiter),
		serverInstanceID: uuid.New().String(),
	}

	if config != nil {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[interfaces.EventType(eventType)] = true
		}
		h.throttleInterval = common.ParseDurationOr(config.ThrottleInterval, 0)
	}

	logger.Info().
		Str("server_instance_id", h.serverInstanceID).
		Int("allowed_events", len(h.allowedEvents)).
		Dur("throttle_interval", h.throttleInterval).
		Msg("WebSocket handler initialized")

	return h
}

// SubscribeToEvents forwards every allowed bus event to connected clients
func (h *WebSocketHandler) SubscribeToEvents() error {
	for _, eventType := range interfaces.AllEventTypes() {
		if !h.isAllowed(eventType) {
			continue
		}
		if _, err := h.eventService.Subscribe(eventType, h.handleEvent); err != nil {
			return err
		}
	}
	return nil
}

func (h *WebSocketHandler) handleEvent(ctx context.Context, event interfaces.Event) error {
	if !h.allow(event.Type) {
		return nil
	}
	h.broadcast(WSMessage{
		Type:      string(event.Type),
		Payload:   event.Payload,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (h *WebSocketHandler) isAllowed(eventType interfaces.EventType) bool {
	return len(h.allowedEvents) == 0 || h.allowedEvents[eventType]
}

// allow applies the per-event-type throttle
func (h *WebSocketHandler) allow(eventType interfaces.EventType) bool {
	if h.throttleInterval <= 0 || unthrottled[eventType] {
		return true
	}

	h.throttleMu.Lock()
	limiter, ok := h.throttlers[eventType]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(h.throttleInterval), 1)
		h.throttlers[eventType] = limiter
	}
	h.throttleMu.Unlock()

	return limiter.Allow()
}

func (h *WebSocketHandler) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn, mutex := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, mutex)
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		mutexes[i].Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutexes[i].Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send event to WebSocket client")
		}
	}
}

// HandleWebSocket - GET /ws/events
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	mutex := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = mutex
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	hello, _ := json.Marshal(WSMessage{
		Type:      "connected",
		Payload:   map[string]string{"server_instance_id": h.serverInstanceID},
		Timestamp: time.Now().UTC(),
	})
	mutex.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, hello)
	mutex.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Int("clients", remaining).Msg("WebSocket client disconnected")
	}()

	// Read until the client goes away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
