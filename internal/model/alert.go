package model

import (
	"fmt"
	"time"
)

// AlertType names a trigger kind. The same values key FundTrigger rows and NotificationHistory rows.
type AlertType string

const (
	AlertPremiumHigh AlertType = "premium_high"
	AlertPremiumLow  AlertType = "premium_low"
	AlertLimitChange AlertType = "limit_change"
	AlertLimitHigh   AlertType = "limit_high"
)

// AllAlertTypes returns every alert type in evaluation order.
func AllAlertTypes() []AlertType {
	return []AlertType{AlertPremiumHigh, AlertLimitChange, AlertLimitHigh, AlertPremiumLow}
}

// IsPremium reports whether t compares the premium rate.
func (t AlertType) IsPremium() bool {
	return t == AlertPremiumHigh || t == AlertPremiumLow
}

// Valid reports whether t is a known alert type.
func (t AlertType) Valid() bool {
	switch t {
	case AlertPremiumHigh, AlertPremiumLow, AlertLimitChange, AlertLimitHigh:
		return true
	}
	return false
}

// ParseAlertType converts a raw string, rejecting unknown types.
func ParseAlertType(s string) (AlertType, error) {
	t := AlertType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown alert type %q", s)
	}
	return t, nil
}

// Alert is the payload produced by the detector and handed to a notifier.
// Premium alerts carry Threshold, MarketPrice and NAV; limit_high carries Threshold only.
type Alert struct {
	Type        AlertType
	FundCode    string
	FundName    string
	OldValue    string
	NewValue    string
	Threshold   *float64
	MarketPrice *float64
	NAV         *float64
	LimitText   string

	OldRate float64
	NewRate float64
}

// FormatRate renders a premium rate the way it is stored in history.
func FormatRate(r float64) string {
	return fmt.Sprintf("%.2f%%", r)
}

// NotificationHistory records one successfully dispatched alert.
type NotificationHistory struct {
	ID             int64     `json:"id"`
	FundCode       string    `json:"fund_code"`
	FundName       string    `json:"fund_name"`
	AlertType      AlertType `json:"alert_type"`
	OldValue       string    `json:"old_value"`
	NewValue       string    `json:"new_value"`
	RecipientEmail string    `json:"recipient_email"`
	SentAt         time.Time `json:"sent_at"`
}

// NotificationStats summarizes the history table.
type NotificationStats struct {
	TotalSent int            `json:"total_sent"`
	TodaySent int            `json:"today_sent"`
	ByType    map[string]int `json:"by_type"`
}
