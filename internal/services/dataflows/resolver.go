package dataflows

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/mayishidai/tradingagents-cn/internal/common"
	"github.com/mayishidai/tradingagents-cn/internal/interfaces"
	"github.com/mayishidai/tradingagents-cn/internal/models"
)

// ErrNoDataAvailable is returned when every candidate provider failed or
// returned nothing for the requested symbol.
var ErrNoDataAvailable = errors.New("no data available from any provider")

// Resolver picks among ranked providers and normalizes the result.
// Provider configs are re-read from storage on every fetch so priority
// and enablement changes take effect without a restart.
type Resolver struct {
	configs      interfaces.DataSourceStorage
	registry     *Registry
	lookbackDays int
	resultLimit  int
	logger       arbor.ILogger
}

// NewResolver creates a resolver over the stored provider configs
func NewResolver(configs interfaces.DataSourceStorage, registry *Registry, lookbackDays, resultLimit int, logger arbor.ILogger) interfaces.DataResolver {
	if lookbackDays < 1 {
		lookbackDays = common.DefaultLookbackDays
	}
	if resultLimit < 1 {
		resultLimit = 3
	}
	return &Resolver{
		configs:      configs,
		registry:     registry,
		lookbackDays: lookbackDays,
		resultLimit:  resultLimit,
		logger:       logger,
	}
}

// candidates returns the enabled providers serving the market, highest
// priority first. Equal priorities keep insertion order so the ranking
// is deterministic run to run.
func (r *Resolver) candidates(ctx context.Context, market models.MarketHint) ([]*models.DataSourceConfig, error) {
	all, err := r.configs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load provider configs: %w", err)
	}

	var matched []*models.DataSourceConfig
	for _, cfg := range all {
		if cfg.Enabled && cfg.ServesMarket(market) {
			matched = append(matched, cfg)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].Position < matched[j].Position
	})

	return matched, nil
}

// Fetch queries providers in descending priority order and returns the
// first non-empty result. The query window over-fetches past the target
// date to absorb weekends and holidays; the result is trimmed to the
// newest resultLimit records before it is handed to analysis.
func (r *Resolver) Fetch(ctx context.Context, symbol string, market models.MarketHint, target time.Time) (*models.MarketData, error) {
	start, end, err := common.ResolveDateRange(target, r.lookbackDays)
	if err != nil {
		return nil, err
	}

	candidates, err := r.candidates(ctx, market)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		r.logger.Warn().
			Str("symbol", symbol).
			Str("market", string(market)).
			Msg("No enabled providers serve this market")
		return nil, ErrNoDataAvailable
	}

	for _, cfg := range candidates {
		provider := r.registry.Get(cfg.Name)
		if provider == nil {
			r.logger.Warn().
				Str("provider", cfg.Name).
				Msg("Provider configured but not registered, skipping")
			continue
		}

		records, err := provider.FetchDaily(ctx, symbol, start, end)
		if err != nil {
			r.logger.Warn().
				Err(err).
				Str("provider", cfg.Name).
				Str("symbol", symbol).
				Msg("Provider fetch failed, trying next candidate")
			continue
		}
		if len(records) == 0 {
			r.logger.Debug().
				Str("provider", cfg.Name).
				Str("symbol", symbol).
				Msg("Provider returned no records, trying next candidate")
			continue
		}

		sort.Slice(records, func(i, j int) bool {
			return records[i].Date.Before(records[j].Date)
		})
		records = trimNewest(records, r.resultLimit)

		r.logger.Info().
			Str("provider", cfg.Name).
			Str("symbol", symbol).
			Int("records", len(records)).
			Msg("Market data resolved")

		return &models.MarketData{
			Symbol:    symbol,
			Market:    market,
			Source:    cfg.Name,
			StartDate: start,
			EndDate:   end,
			Records:   records,
		}, nil
	}

	r.logger.Error().
		Str("symbol", symbol).
		Str("market", string(market)).
		Int("candidates", len(candidates)).
		Msg("All providers failed for symbol")

	return nil, ErrNoDataAvailable
}

// trimNewest keeps the last limit records of a date-ascending slice
func trimNewest(records []models.TradeRecord, limit int) []models.TradeRecord {
	if len(records) <= limit {
		return records
	}
	return records[len(records)-limit:]
}
