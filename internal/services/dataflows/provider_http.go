package dataflows

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/mayishidai/tradingagents-cn/internal/interfaces"
	"github.com/mayishidai/tradingagents-cn/internal/models"
)

// dailyBarResponse is the wire shape shared by the provider gateways
type dailyBarResponse struct {
	Symbol string `json:"symbol"`
	Bars   []struct {
		Date   string  `json:"date"` // YYYY-MM-DD
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume float64 `json:"volume"`
		Amount float64 `json:"amount"`
	} `json:"bars"`
}

// HTTPProvider fetches daily bars from one provider gateway over HTTP.
// Each provider carries its own timeout and a request rate limiter so a
// slow or throttled upstream cannot starve the others.
type HTTPProvider struct {
	name    string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPProvider creates a provider client. A zero rateLimit disables
// request pacing; a zero timeout falls back to 10 seconds.
func NewHTTPProvider(name, baseURL string, timeout, rateLimit time.Duration) interfaces.DataProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if rateLimit > 0 {
		limiter = rate.NewLimiter(rate.Every(rateLimit), 1)
	}

	return &HTTPProvider{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

// Name returns the provider name used in configs and result attribution
func (p *HTTPProvider) Name() string {
	return p.name
}

// FetchDaily retrieves daily bars for the symbol within [start, end]
func (p *HTTPProvider) FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]models.TradeRecord, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	endpoint, err := url.Parse(p.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL for provider %s: %w", p.name, err)
	}
	endpoint = endpoint.JoinPath("daily")

	query := endpoint.Query()
	query.Set("symbol", symbol)
	query.Set("start", start.Format("2006-01-02"))
	query.Set("end", end.Format("2006-01-02"))
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider %s request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider %s returned status %d", p.name, resp.StatusCode)
	}

	var payload dailyBarResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("provider %s returned malformed response: %w", p.name, err)
	}

	records := make([]models.TradeRecord, 0, len(payload.Bars))
	for _, bar := range payload.Bars {
		date, err := time.Parse("2006-01-02", bar.Date)
		if err != nil {
			// A single bad row does not poison the batch
			continue
		}
		records = append(records, models.TradeRecord{
			Date:   date,
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  bar.Close,
			Volume: bar.Volume,
			Amount: bar.Amount,
		})
	}

	return records, nil
}
