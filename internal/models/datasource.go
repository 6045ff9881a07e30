package models

import "time"

// DataSourceConfig describes one external market data provider.
// Configs are administered externally and read-only during resolution,
// but reordering takes effect without a restart because the resolver
// re-reads the stored configs on every fetch.
type DataSourceConfig struct {
	Name      string        `json:"name" badgerhold:"key"`
	BaseURL   string        `json:"base_url"`
	Priority  int           `json:"priority"` // Higher wins; ties keep insertion order
	Enabled   bool          `json:"enabled"`
	Markets   []string      `json:"markets"` // Capability tags, e.g. domestic-equity, us-equity
	RateLimit time.Duration `json:"rate_limit"`
	Timeout   time.Duration `json:"timeout"`
	Position  int           `json:"position"` // Insertion order, used as the stable tie-break
	UpdatedAt time.Time     `json:"updated_at"`
}

// ServesMarket reports whether this provider is capable of serving the market.
// An empty tag list means the provider serves every market.
func (c *DataSourceConfig) ServesMarket(market MarketHint) bool {
	if len(c.Markets) == 0 {
		return true
	}
	for _, m := range c.Markets {
		if m == string(market) {
			return true
		}
	}
	return false
}
