package model

import "time"

// FundTrigger is a per-fund override for one alert type.
// At most one row exists per (FundCode, TriggerType).
type FundTrigger struct {
	ID             int64     `json:"id"`
	FundCode       string    `json:"fund_code"`
	TriggerType    AlertType `json:"trigger_type"`
	ThresholdValue *float64  `json:"threshold_value"`
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MonitorStatus is exposed to ops tooling.
type MonitorStatus struct {
	IsRunning            bool       `json:"is_running"`
	LastCheckTime        *time.Time `json:"last_check_time"`
	CheckIntervalSeconds int        `json:"check_interval_seconds"`
	Enabled              bool       `json:"enabled"`
}

// TriggerTestResult is one row of a manual trigger test.
type TriggerTestResult struct {
	FundCode     string    `json:"fund_code"`
	FundName     string    `json:"fund_name"`
	TriggerType  AlertType `json:"trigger_type"`
	Threshold    *float64  `json:"threshold"`
	CurrentValue string    `json:"current_value"`
	WouldTrigger bool      `json:"would_trigger"`
	Sent         bool      `json:"sent"`
	MarketPrice  float64   `json:"market_price"`
	NAV          float64   `json:"nav"`
	Error        string    `json:"error,omitempty"`
}

// TriggerTestReport aggregates a manual trigger test run.
type TriggerTestReport struct {
	Results             []TriggerTestResult `json:"test_results"`
	TotalTriggersTested int                 `json:"total_triggers_tested"`
	WouldFire           int                 `json:"would_fire"`
	EmailsSent          int                 `json:"emails_sent"`
}
