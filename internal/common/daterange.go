package common

import (
	"fmt"
	"time"
)

// DefaultLookbackDays is the default over-fetch window for market data.
// Trading calendars have gaps (weekends, holidays) and providers may lag
// by a day, so the window is deliberately wider than the records the
// analysis stage actually consumes.
const DefaultLookbackDays = 10

// ResolveDateRange computes the query window for a market data fetch.
// The end date is the target date; targets more than a day in the future
// are treated as invalid input and clamped to now rather than rejected.
// A zero target also resolves to now. lookbackDays must be >= 1.
func ResolveDateRange(target time.Time, lookbackDays int) (start, end time.Time, err error) {
	if lookbackDays < 1 {
		return time.Time{}, time.Time{}, fmt.Errorf("lookback days must be >= 1, got %d", lookbackDays)
	}

	now := time.Now()
	end = target
	if end.IsZero() {
		end = now
	} else if end.After(now.Add(24 * time.Hour)) {
		GetLogger().Warn().
			Str("target_date", target.Format("2006-01-02")).
			Msg("Target date is in the future, clamping to today")
		end = now
	} else if end.After(now) {
		// Within a day ahead: timezone skew, clamp quietly
		end = now
	}

	start = end.AddDate(0, 0, -lookbackDays)
	return start, end, nil
}
