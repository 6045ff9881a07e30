package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/mayishidai/tradingagents-cn/internal/common"
	"github.com/mayishidai/tradingagents-cn/internal/models"
	"github.com/mayishidai/tradingagents-cn/internal/services/events"
)

// stubAuth maps fixed tokens to owners
type stubAuth struct {
	tokens map[string]string
}

func (a *stubAuth) ValidateToken(ctx context.Context, token string) (string, error) {
	if owner, ok := a.tokens[token]; ok {
		return owner, nil
	}
	return "", errBadToken
}

var errBadToken = errors.New("invalid token")

func wsTestConfig() *common.WebSocketConfig {
	return &common.WebSocketConfig{
		HeartbeatInterval: "50ms",
		SendBuffer:        8,
	}
}

func dialWS(t *testing.T, serverURL, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg wsMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestWebSocketConnectAndReceiveOwnEvents(t *testing.T) {
	eventService := events.NewService(arbor.NewLogger())
	auth := &stubAuth{tokens: map[string]string{"tok-alice": "alice"}}

	handler, err := NewWebSocketHandler(eventService, auth, wsTestConfig(), arbor.NewLogger())
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(handler.HandleConnection))
	defer server.Close()

	conn := dialWS(t, server.URL, "tok-alice")

	ack := readMessage(t, conn)
	assert.Equal(t, "connected", ack.Type)

	require.Eventually(t, func() bool {
		return handler.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	// Event for alice's bare id representation must arrive
	eventService.Publish(context.Background(), models.ProgressEvent{
		EntityKind: models.EntityTask,
		EntityID:   "task-1",
		OwnerID:    "alice",
		Type:       models.EventCompleted,
		EmittedAt:  time.Now(),
	})

	for {
		msg := readMessage(t, conn)
		if msg.Type == "heartbeat" {
			continue
		}
		require.Equal(t, "notification", msg.Type)
		data, err := json.Marshal(msg.Data)
		require.NoError(t, err)
		var event models.ProgressEvent
		require.NoError(t, json.Unmarshal(data, &event))
		assert.Equal(t, "task-1", event.EntityID)
		break
	}
}

func TestWebSocketOwnerScoping(t *testing.T) {
	eventService := events.NewService(arbor.NewLogger())
	auth := &stubAuth{tokens: map[string]string{"tok-alice": "alice"}}

	handler, err := NewWebSocketHandler(eventService, auth, wsTestConfig(), arbor.NewLogger())
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(handler.HandleConnection))
	defer server.Close()

	conn := dialWS(t, server.URL, "tok-alice")
	readMessage(t, conn) // connected ack

	require.Eventually(t, func() bool {
		return handler.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	// Another owner's event, then alice's: only the second may arrive
	eventService.Publish(context.Background(), models.ProgressEvent{
		EntityKind: models.EntityTask, EntityID: "task-bob",
		OwnerID: "bob", Type: models.EventCompleted, EmittedAt: time.Now(),
	})
	eventService.Publish(context.Background(), models.ProgressEvent{
		EntityKind: models.EntityTask, EntityID: "task-alice",
		OwnerID: "user:alice", Type: models.EventCompleted, EmittedAt: time.Now(),
	})

	for {
		msg := readMessage(t, conn)
		if msg.Type == "heartbeat" {
			continue
		}
		require.Equal(t, "notification", msg.Type)
		data, _ := json.Marshal(msg.Data)
		var event models.ProgressEvent
		require.NoError(t, json.Unmarshal(data, &event))
		assert.Equal(t, "task-alice", event.EntityID, "another owner's event must not leak")
		break
	}
}

func TestWebSocketBroadcastsOwnerlessEvents(t *testing.T) {
	eventService := events.NewService(arbor.NewLogger())
	auth := &stubAuth{tokens: map[string]string{"tok-alice": "alice"}}

	handler, err := NewWebSocketHandler(eventService, auth, wsTestConfig(), arbor.NewLogger())
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(handler.HandleConnection))
	defer server.Close()

	conn := dialWS(t, server.URL, "tok-alice")
	readMessage(t, conn)

	require.Eventually(t, func() bool {
		return handler.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	// Scheduler job events carry no owner and reach every client
	eventService.Publish(context.Background(), models.ProgressEvent{
		EntityKind: models.EntityJob, EntityID: "sync-daily",
		Type: models.EventCompleted, EmittedAt: time.Now(),
	})

	for {
		msg := readMessage(t, conn)
		if msg.Type == "heartbeat" {
			continue
		}
		assert.Equal(t, "notification", msg.Type)
		break
	}
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	eventService := events.NewService(arbor.NewLogger())
	auth := &stubAuth{tokens: map[string]string{}}

	handler, err := NewWebSocketHandler(eventService, auth, wsTestConfig(), arbor.NewLogger())
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(handler.HandleConnection))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?token=wrong"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketHeartbeat(t *testing.T) {
	eventService := events.NewService(arbor.NewLogger())
	auth := &stubAuth{tokens: map[string]string{"tok-alice": "alice"}}

	handler, err := NewWebSocketHandler(eventService, auth, wsTestConfig(), arbor.NewLogger())
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(handler.HandleConnection))
	defer server.Close()

	conn := dialWS(t, server.URL, "tok-alice")
	readMessage(t, conn)

	msg := readMessage(t, conn)
	assert.Equal(t, "heartbeat", msg.Type)
}
