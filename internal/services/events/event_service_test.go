package events

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/mayishidai/tradingagents-cn/internal/models"
)

func TestPublishPreservesOrder(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	var mu sync.Mutex
	var seen []int

	err := svc.Subscribe(func(ctx context.Context, event models.ProgressEvent) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, event.Payload.(int))
		return nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		svc.Publish(ctx, models.ProgressEvent{
			EntityKind: models.EntityTask,
			EntityID:   "task-1",
			Type:       models.EventStage,
			Payload:    i,
		})
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 50)
	for i, v := range seen {
		assert.Equal(t, i, v, "events must arrive in publication order")
	}
}

func TestFailingHandlerDoesNotBlockOthers(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	delivered := 0
	require.NoError(t, svc.Subscribe(func(ctx context.Context, event models.ProgressEvent) error {
		return fmt.Errorf("handler boom")
	}))
	require.NoError(t, svc.Subscribe(func(ctx context.Context, event models.ProgressEvent) error {
		delivered++
		return nil
	}))

	svc.Publish(context.Background(), models.ProgressEvent{
		EntityKind: models.EntityTask,
		EntityID:   "task-2",
		Type:       models.EventCompleted,
	})

	assert.Equal(t, 1, delivered)
}

func TestSubscribeAfterCloseFails(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	require.NoError(t, svc.Close())

	err := svc.Subscribe(func(ctx context.Context, event models.ProgressEvent) error { return nil })
	assert.Error(t, err)
}

func TestNilHandlerRejected(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	assert.Error(t, svc.Subscribe(nil))
}
