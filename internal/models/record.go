package models

import "time"

// TradeRecord is one normalized daily market data point
type TradeRecord struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
	Amount float64   `json:"amount,omitempty"`
}

// MarketData is the normalized result handed to the analysis stage
type MarketData struct {
	Symbol    string        `json:"symbol"`
	Market    MarketHint    `json:"market"`
	Source    string        `json:"source"` // Provider that produced the data
	StartDate time.Time     `json:"start_date"`
	EndDate   time.Time     `json:"end_date"`
	Records   []TradeRecord `json:"records"`
}

// Latest returns the most recent record, or nil if empty
func (d *MarketData) Latest() *TradeRecord {
	if len(d.Records) == 0 {
		return nil
	}
	return &d.Records[len(d.Records)-1]
}
