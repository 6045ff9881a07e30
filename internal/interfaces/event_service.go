package interfaces

import (
	"context"

	"github.com/mayishidai/tradingagents-cn/internal/models"
)

// EventHandler is a function that handles progress events
type EventHandler func(ctx context.Context, event models.ProgressEvent) error

// EventService is the in-process bus between the task/scheduler layer and
// the delivery layer. Publication is synchronous and in submission order:
// events for one entity must reach each subscriber in emission order, so
// handlers are invoked sequentially and must hand off to their own
// buffering if they can block.
type EventService interface {
	Subscribe(handler EventHandler) error
	Publish(ctx context.Context, event models.ProgressEvent)
	Close() error
}
