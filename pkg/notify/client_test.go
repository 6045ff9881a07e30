package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock records requested delays and fires them immediately
type fakeClock struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (c *fakeClock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// scriptedTransport fails a fixed number of times, then optionally
// delivers messages and stays connected until the context ends
type scriptedTransport struct {
	channel   Channel
	failures  int
	messages  []Message
	mu        sync.Mutex
	attempts  int
	connected bool
}

func (t *scriptedTransport) Channel() Channel { return t.channel }

func (t *scriptedTransport) Connect(ctx context.Context, deliver func(Message)) error {
	t.mu.Lock()
	t.attempts++
	fail := t.attempts <= t.failures
	t.mu.Unlock()

	if fail {
		return errors.New("connection refused")
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()

	for _, msg := range t.messages {
		deliver(msg)
	}
	<-ctx.Done()
	return nil
}

func (t *scriptedTransport) attemptCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

func (t *scriptedTransport) everConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// alwaysDown never accepts a connection
type alwaysDown struct {
	channel  Channel
	mu       sync.Mutex
	attempts int
}

func (t *alwaysDown) Channel() Channel { return t.channel }

func (t *alwaysDown) Connect(ctx context.Context, deliver func(Message)) error {
	t.mu.Lock()
	t.attempts++
	t.mu.Unlock()
	return errors.New("connection refused")
}

func (t *alwaysDown) attemptCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

func newTestClient(t *testing.T, primary, fallback Transport, clock Clock, handler Handler) *Client {
	t.Helper()
	if handler == nil {
		handler = func(Channel, Message) {}
	}
	client, err := NewClient(Options{
		MaxAttempts:   3,
		BackoffBase:   time.Second,
		BackoffMax:    8 * time.Second,
		FallbackDelay: 5 * time.Second,
		Handler:       handler,
		Clock:         clock,
		Primary:       primary,
		Fallback:      fallback,
	})
	require.NoError(t, err)
	return client
}

func TestReconnectDelaysIncreaseAndReachHandler(t *testing.T) {
	clock := &fakeClock{}
	primary := &scriptedTransport{
		channel:  ChannelWebSocket,
		failures: 2,
		messages: []Message{{Type: "connected"}, {Type: "notification"}},
	}

	var mu sync.Mutex
	var received []string
	handler := func(ch Channel, msg Message) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, msg.Type)
	}

	client := newTestClient(t, primary, nil, clock, handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	require.Eventually(t, func() bool {
		return primary.everConnected()
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, StateConnected, client.State())
	assert.Equal(t, ChannelWebSocket, client.ActiveChannel())
	assert.False(t, client.Downgraded())

	// Two failures produced two strictly doubling delays
	delays := clock.recorded()
	require.Len(t, delays, 2)
	assert.Equal(t, 1*time.Second, delays[0])
	assert.Equal(t, 2*time.Second, delays[1])

	cancel()
	require.NoError(t, <-done)
}

func TestDowngradeToFallbackAfterExhaustion(t *testing.T) {
	clock := &fakeClock{}
	primary := &alwaysDown{channel: ChannelWebSocket}
	fallback := &scriptedTransport{
		channel:  ChannelSSE,
		messages: []Message{{Type: "connected"}},
	}

	client := newTestClient(t, primary, fallback, clock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	require.Eventually(t, func() bool {
		return fallback.everConnected()
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, client.Downgraded())
	assert.Equal(t, ChannelSSE, client.ActiveChannel())
	// Primary got its retries plus the final failure that triggered the switch
	assert.Equal(t, 4, primary.attemptCount())

	cancel()
	require.NoError(t, <-done)
}

func TestGiveUpWithoutFallback(t *testing.T) {
	clock := &fakeClock{}
	primary := &alwaysDown{channel: ChannelWebSocket}

	client := newTestClient(t, primary, nil, clock, nil)

	err := client.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGaveUp)

	assert.False(t, client.Downgraded())
	assert.Equal(t, 4, primary.attemptCount())
	assert.Equal(t, StateDisconnected, client.State())

	delays := clock.recorded()
	require.Len(t, delays, 3)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
}

func TestFallbackRetriesOnFixedDelay(t *testing.T) {
	clock := &fakeClock{}
	primary := &alwaysDown{channel: ChannelWebSocket}
	fallback := &alwaysDown{channel: ChannelSSE}

	client := newTestClient(t, primary, fallback, clock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	// The fallback keeps retrying far past the primary's attempt budget
	require.Eventually(t, func() bool {
		return fallback.attemptCount() > 20
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	// The downgrade happens once: no flapping back to the primary
	assert.True(t, client.Downgraded())
	assert.Equal(t, ChannelSSE, client.ActiveChannel())
	assert.Equal(t, 4, primary.attemptCount())

	// Three doubling delays before the switch, a flat schedule after it
	delays := clock.recorded()
	require.Greater(t, len(delays), 3)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays[:3])
	for _, d := range delays[3:] {
		assert.Equal(t, 5*time.Second, d)
	}
}

func TestBackoffResetsAfterStableConnection(t *testing.T) {
	clock := &fakeClock{}

	// Fails twice, connects and delivers, then the connection drops
	// (Connect returns an error after delivering), fails twice more
	transport := &flappingTransport{}
	client := newTestClient(t, transport, nil, clock, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client.Run(ctx)

	delays := clock.recorded()
	require.GreaterOrEqual(t, len(delays), 3)
	// After the successful session the schedule restarted at the base delay
	assert.Equal(t, 1*time.Second, delays[0])
	assert.Equal(t, 2*time.Second, delays[1])
	assert.Equal(t, 1*time.Second, delays[2])
}

// flappingTransport fails twice, succeeds once briefly, then fails again
type flappingTransport struct {
	mu       sync.Mutex
	attempts int
}

func (t *flappingTransport) Channel() Channel { return ChannelWebSocket }

func (t *flappingTransport) Connect(ctx context.Context, deliver func(Message)) error {
	t.mu.Lock()
	t.attempts++
	n := t.attempts
	t.mu.Unlock()

	if n <= 2 {
		return errors.New("connection refused")
	}
	if n == 3 {
		deliver(Message{Type: "connected"})
		return errors.New("connection dropped")
	}
	return errors.New("connection refused")
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Options{})
	assert.Error(t, err, "handler is required")

	_, err = NewClient(Options{Handler: func(Channel, Message) {}})
	assert.Error(t, err, "base URL required without explicit transport")
}
