package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/common"
	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
	"github.com/ternarybob/pce/internal/services/events"
)

func dialEvents(t *testing.T, handler *WebSocketHandler) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	var hello WSMessage
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "connected", hello.Type)

	require.Eventually(t, func() bool { return handler.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func readTypes(conn *websocket.Conn, within time.Duration) []string {
	var types []string
	_ = conn.SetReadDeadline(time.Now().Add(within))
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return types
		}
		types = append(types, msg.Type)
	}
}

func TestWebSocket_StreamsBusEvents(t *testing.T) {
	logger := arbor.NewNoOpLogger()
	bus := events.NewService(logger)
	handler := NewWebSocketHandler(bus, logger, &common.WebSocketConfig{})
	require.NoError(t, handler.SubscribeToEvents())

	conn := dialEvents(t, handler)

	require.NoError(t, bus.Publish(context.Background(), interfaces.Event{
		Type:    interfaces.EventPipelineStarted,
		Payload: &models.StageEvent{PipelineID: "p-1", Stage: models.StageOrderReceived},
	}))

	var msg WSMessage
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(interfaces.EventPipelineStarted), msg.Type)
	payload, ok := msg.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "p-1", payload["pipeline_id"])
}

func TestWebSocket_ThrottlesPerEventType(t *testing.T) {
	logger := arbor.NewNoOpLogger()
	bus := events.NewService(logger)
	handler := NewWebSocketHandler(bus, logger, &common.WebSocketConfig{ThrottleInterval: "1h"})
	require.NoError(t, handler.SubscribeToEvents())

	conn := dialEvents(t, handler)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(ctx, interfaces.Event{Type: interfaces.EventPipelineStageStarted, Payload: &models.StageEvent{}}))
		require.NoError(t, bus.Publish(ctx, interfaces.Event{Type: interfaces.EventPipelineAlert, Payload: &models.StageEvent{}}))
	}

	types := readTypes(conn, 300*time.Millisecond)
	stageStarted, alerts := 0, 0
	for _, eventType := range types {
		switch eventType {
		case string(interfaces.EventPipelineStageStarted):
			stageStarted++
		case string(interfaces.EventPipelineAlert):
			alerts++
		}
	}
	assert.Equal(t, 1, stageStarted)
	assert.Equal(t, 3, alerts)
}

func TestWebSocket_AllowedEventsFilter(t *testing.T) {
	logger := arbor.NewNoOpLogger()
	bus := events.NewService(logger)
	handler := NewWebSocketHandler(bus, logger, &common.WebSocketConfig{
		AllowedEvents: []string{string(interfaces.EventPipelineFailed)},
	})
	require.NoError(t, handler.SubscribeToEvents())

	assert.Equal(t, 1, bus.SubscriberCount(interfaces.EventPipelineFailed))
	assert.Equal(t, 0, bus.SubscriberCount(interfaces.EventPipelineStarted))
}
