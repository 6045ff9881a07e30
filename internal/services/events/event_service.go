package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/mayishidai/tradingagents-cn/internal/interfaces"
	"github.com/mayishidai/tradingagents-cn/internal/models"
)

// Service implements EventService with a simple pub/sub pattern.
// Dispatch is synchronous and sequential: consumers see events for one
// entity in the exact order they were published. Handlers that can block
// (socket writes) must buffer internally rather than stall the bus.
type Service struct {
	subscribers []interfaces.EventHandler
	mu          sync.RWMutex
	closed      bool
	logger      arbor.ILogger
}

// NewService creates a new event service
func NewService(logger arbor.ILogger) interfaces.EventService {
	return &Service{
		logger: logger,
	}
}

// Subscribe registers a handler for all progress events
func (s *Service) Subscribe(handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("event service is closed")
	}

	s.subscribers = append(s.subscribers, handler)

	s.logger.Debug().
		Int("subscriber_count", len(s.subscribers)).
		Msg("Event handler subscribed")

	return nil
}

// Publish delivers the event to every subscriber in registration order.
// A failing handler is logged and skipped; it never blocks delivery to
// the remaining subscribers.
func (s *Service) Publish(ctx context.Context, event models.ProgressEvent) {
	s.mu.RLock()
	handlers := s.subscribers
	closed := s.closed
	s.mu.RUnlock()

	if closed || len(handlers) == 0 {
		return
	}

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			s.logger.Error().
				Err(err).
				Str("entity_id", event.EntityID).
				Str("event_type", string(event.Type)).
				Msg("Event handler failed")
		}
	}
}

// Close stops accepting subscriptions and drops existing ones
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.subscribers = nil
	return nil
}
