package interfaces

import (
	"context"
	"time"

	"github.com/mayishidai/tradingagents-cn/internal/models"
)

// DataProvider fetches raw market data from one external source.
// Implementations carry their own HTTP timeout; an empty result slice is
// treated by the resolver the same as an error (try the next candidate).
type DataProvider interface {
	Name() string
	FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]models.TradeRecord, error)
}

// DataResolver picks among ranked providers and normalizes the result
type DataResolver interface {
	// Fetch queries providers in descending priority order and returns
	// the first non-empty result, trimmed to the configured record limit.
	// Returns ErrNoDataAvailable when every candidate fails.
	Fetch(ctx context.Context, symbol string, market models.MarketHint, target time.Time) (*models.MarketData, error)
}
