package handlers

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/mayishidai/tradingagents-cn/internal/models"
	"github.com/mayishidai/tradingagents-cn/internal/services/events"
)

func TestSSEStreamDeliversEvents(t *testing.T) {
	eventService := events.NewService(arbor.NewLogger())
	auth := &stubAuth{tokens: map[string]string{"tok-alice": "alice"}}

	handler, err := NewSSEHandler(eventService, auth, wsTestConfig(), arbor.NewLogger())
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(handler.HandleStream))
	defer server.Close()

	resp, err := http.Get(server.URL + "?token=tok-alice")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)

	// First frame is the connection acknowledgement
	event, data := readSSEFrame(t, reader)
	assert.Equal(t, "connected", event)
	assert.Contains(t, data, "alice")

	require.Eventually(t, func() bool {
		return handler.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	eventService.Publish(context.Background(), models.ProgressEvent{
		EntityKind: models.EntityTask,
		EntityID:   "task-sse-1",
		OwnerID:    "alice",
		Type:       models.EventCompleted,
		EmittedAt:  time.Now(),
	})

	for {
		event, data = readSSEFrame(t, reader)
		if event == "heartbeat" {
			continue
		}
		assert.Equal(t, "notification", event)
		assert.Contains(t, data, "task-sse-1")
		break
	}
}

func TestSSERejectsBadToken(t *testing.T) {
	eventService := events.NewService(arbor.NewLogger())
	auth := &stubAuth{tokens: map[string]string{}}

	handler, err := NewSSEHandler(eventService, auth, wsTestConfig(), arbor.NewLogger())
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(handler.HandleStream))
	defer server.Close()

	resp, err := http.Get(server.URL + "?token=wrong")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// readSSEFrame reads one "event:"/"data:" frame terminated by a blank
// line. Heartbeats keep the stream moving, so reads never block long.
func readSSEFrame(t *testing.T, reader *bufio.Reader) (event, data string) {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err, "stream closed while reading frame")
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			return event, data
		}
	}
}
