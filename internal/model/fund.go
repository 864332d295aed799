package model

import "time"

// FundSnapshot is one fund's normalized quote for a single polling cycle.
type FundSnapshot struct {
	Code           string  `json:"code"`
	Name           string  `json:"name"`
	PremiumRate    float64 `json:"premium_rate"` // percent, signed
	MarketPrice    float64 `json:"market_price"`
	NAV            float64 `json:"nav"`
	LimitText      string  `json:"limit_text"`
	MonitorEnabled bool    `json:"monitor_enabled"`
}

// FundState is an append-only observation of a fund, written once per cycle.
type FundState struct {
	ID          int64     `json:"id"`
	FundCode    string    `json:"fund_code"`
	PremiumRate float64   `json:"premium_rate"`
	LimitText   string    `json:"limit_text"`
	MarketPrice float64   `json:"market_price"`
	Valuation   float64   `json:"valuation"`
	Timestamp   time.Time `json:"timestamp"`
}

// StateFromSnapshot maps a snapshot into the row persisted at the end of a cycle.
func StateFromSnapshot(s FundSnapshot, at time.Time) FundState {
	return FundState{
		FundCode:    s.Code,
		PremiumRate: s.PremiumRate,
		LimitText:   s.LimitText,
		MarketPrice: s.MarketPrice,
		Valuation:   s.NAV,
		Timestamp:   at,
	}
}

// MonitoredFund marks a fund as eligible for evaluation.
type MonitoredFund struct {
	FundCode  string    `json:"fund_code"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmailRecipient is an alert destination address.
type EmailRecipient struct {
	Email     string    `json:"email"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
