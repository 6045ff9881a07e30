// Package notify is the client side of the progress delivery channels.
// It holds a WebSocket connection to the server, reconnecting with
// exponential backoff, and downgrades to the SSE stream once the
// WebSocket channel has exhausted its attempts. The downgrade happens at
// most once per client lifetime: a deployment where the WebSocket path
// is broken (proxy stripping upgrade headers) stays on SSE instead of
// flapping between channels. The SSE channel reconnects on a fixed
// short delay with no attempt budget.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the connection lifecycle state
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Channel names a delivery transport
type Channel string

const (
	ChannelWebSocket Channel = "websocket"
	ChannelSSE       Channel = "sse"
)

// Message is one frame received from the server
type Message struct {
	Type      string          `json:"type"` // connected, notification, heartbeat
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handler receives messages in arrival order
type Handler func(channel Channel, msg Message)

// Clock abstracts time for deterministic reconnect tests
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Transport opens one connection and streams messages until it fails.
// Connect blocks for the lifetime of the connection: a nil return means
// the context ended, any error means the connection was lost or refused.
type Transport interface {
	Channel() Channel
	Connect(ctx context.Context, deliver func(Message)) error
}

// ErrGaveUp is returned when the primary channel exhausted its attempts
// and no fallback transport is configured
var ErrGaveUp = errors.New("all delivery channels exhausted")

// Options configures a Client
type Options struct {
	BaseURL       string        // Server base URL, e.g. http://localhost:8000
	Token         string        // Connection token
	MaxAttempts   int           // Consecutive primary failures before downgrade/give-up (default 5)
	BackoffBase   time.Duration // First reconnect delay (default 1s)
	BackoffMax    time.Duration // Delay cap (default 30s)
	FallbackDelay time.Duration // Fixed reconnect delay after downgrade (default 5s)
	Handler       Handler
	Clock         Clock // Defaults to the real clock

	// Transports override the default WebSocket/SSE pair
	Primary  Transport
	Fallback Transport
}

// Client maintains a live delivery channel to the server
type Client struct {
	opts    Options
	backoff *Backoff

	mu         sync.RWMutex
	state      State
	channel    Channel
	downgraded bool
}

// NewClient creates a delivery client
func NewClient(opts Options) (*Client, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.FallbackDelay <= 0 {
		opts.FallbackDelay = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Primary == nil {
		if opts.BaseURL == "" {
			return nil, fmt.Errorf("base URL is required")
		}
		opts.Primary = newWSTransport(opts.BaseURL, opts.Token)
	}
	if opts.Fallback == nil && opts.BaseURL != "" {
		opts.Fallback = newSSETransport(opts.BaseURL, opts.Token)
	}

	return &Client{
		opts:    opts,
		state:   StateDisconnected,
		channel: opts.Primary.Channel(),
		backoff: NewBackoff(opts.BackoffBase, opts.BackoffMax),
	}, nil
}

// State returns the current connection state
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ActiveChannel returns the transport currently in use
func (c *Client) ActiveChannel() Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// Connected reports whether a delivery channel is currently up
func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

// Downgraded reports whether the client fell back to the secondary channel
func (c *Client) Downgraded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.downgraded
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run connects and keeps the channel alive until the context ends or
// both channels are exhausted. Blocks for the client lifetime.
func (c *Client) Run(ctx context.Context) error {
	transport := c.opts.Primary

	for {
		channel := transport.Channel()
		c.mu.Lock()
		c.state = StateConnecting
		c.channel = channel
		c.mu.Unlock()

		err := transport.Connect(ctx, func(msg Message) {
			// First delivered frame flips the state; resetting the
			// backoff here makes a stable connection forget past failures
			if c.State() != StateConnected {
				c.setState(StateConnected)
				c.backoff.Reset()
			}
			c.opts.Handler(channel, msg)
		})

		c.setState(StateDisconnected)

		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}

		// The fallback channel retries forever on a fixed delay. Only
		// the primary carries an attempt budget.
		if c.Downgraded() {
			select {
			case <-ctx.Done():
				return nil
			case <-c.opts.Clock.After(c.opts.FallbackDelay):
			}
			continue
		}

		if c.backoff.Attempt() >= c.opts.MaxAttempts {
			if c.opts.Fallback == nil {
				return fmt.Errorf("%w: last error: %v", ErrGaveUp, err)
			}
			c.mu.Lock()
			c.downgraded = true
			c.mu.Unlock()
			transport = c.opts.Fallback
			continue
		}

		delay := c.backoff.Next()
		select {
		case <-ctx.Done():
			return nil
		case <-c.opts.Clock.After(delay):
		}
	}
}
