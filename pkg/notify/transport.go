package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// wsTransport is the primary delivery channel
type wsTransport struct {
	url string
}

func newWSTransport(baseURL, token string) *wsTransport {
	wsURL := strings.Replace(baseURL, "http", "ws", 1)
	return &wsTransport{
		url: fmt.Sprintf("%s/ws/notifications?token=%s", strings.TrimRight(wsURL, "/"), token),
	}
}

func (t *wsTransport) Channel() Channel { return ChannelWebSocket }

// Connect dials the WebSocket and delivers frames until the connection
// drops or the context ends
func (t *wsTransport) Connect(ctx context.Context, deliver func(Message)) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	defer conn.Close()

	// Close the connection when the context ends so ReadMessage unblocks
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("websocket read failed: %w", err)
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue // Malformed frame, skip
		}
		deliver(msg)
	}
}

// sseTransport is the fallback delivery channel
type sseTransport struct {
	url    string
	client *http.Client
}

func newSSETransport(baseURL, token string) *sseTransport {
	return &sseTransport{
		url: fmt.Sprintf("%s/api/notifications/stream?token=%s", strings.TrimRight(baseURL, "/"), token),
		// No overall timeout: the stream is long-lived
		client: &http.Client{},
	}
}

func (t *sseTransport) Channel() Channel { return ChannelSSE }

// Connect opens the event stream and delivers frames until it drops
func (t *sseTransport) Connect(ctx context.Context, deliver func(Message)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	var event string
	var data []byte

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("stream read failed: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = []byte(strings.TrimPrefix(line, "data: "))
		case line == "":
			if event == "" {
				continue
			}
			msg := Message{Type: event, Timestamp: time.Now()}
			// The server sends the raw event on notification frames and
			// a plain object on the others; both ride in Data
			msg.Data = json.RawMessage(data)
			deliver(msg)
			event = ""
			data = nil
		}
	}
}
