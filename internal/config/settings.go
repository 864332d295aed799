package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSetting marks an operator misconfiguration in the settings table.
var ErrInvalidSetting = errors.New("invalid setting")

// Beijing is the fixed UTC+8 zone used for trading hours and calendar dates.
var Beijing = time.FixedZone("UTC+8", 8*60*60)

// ParseDate parses a YYYY-MM-DD date in the Beijing zone.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(s), Beijing)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// AlertPeriod restricts when alerts may be sent.
type AlertPeriod string

const (
	PeriodAllDay       AlertPeriod = "all_day"
	PeriodTradingHours AlertPeriod = "trading_hours"
)

// Settings keys in the notification_config table.
const (
	KeySMTPEnabled          = "smtp_enabled"
	KeyEmailEnabled         = "email_enabled"
	KeyMonitoringEnabled    = "monitoring_enabled"
	KeyPremiumThresholdHigh = "premium_threshold_high"
	KeyPremiumThresholdLow  = "premium_threshold_low"
	KeyDebounceMinutes      = "debounce_minutes"
	KeyCheckInterval        = "check_interval_seconds"
	KeyAlertTimePeriod      = "alert_time_period"
	KeyLimitChangeEnabled   = "limit_change_enabled"
)

// Settings is the typed view of the notification_config key-value table.
type Settings struct {
	EmailEnabled         bool        `json:"smtp_enabled"`
	MonitoringEnabled    bool        `json:"monitoring_enabled"`
	PremiumThresholdHigh float64     `json:"premium_threshold_high"`
	PremiumThresholdLow  float64     `json:"premium_threshold_low"`
	DebounceMinutes      int         `json:"debounce_minutes"`
	CheckIntervalSeconds int         `json:"check_interval_seconds"`
	AlertTimePeriod      AlertPeriod `json:"alert_time_period"`
	LimitChangeEnabled   bool        `json:"limit_change_enabled"`
}

// DefaultSettings returns the values used for keys absent from the table.
func DefaultSettings() Settings {
	return Settings{
		EmailEnabled:         false,
		MonitoringEnabled:    true,
		PremiumThresholdHigh: 5.0,
		PremiumThresholdLow:  -5.0,
		DebounceMinutes:      1,
		CheckIntervalSeconds: 180,
		AlertTimePeriod:      PeriodAllDay,
		LimitChangeEnabled:   false,
	}
}

// DebounceWindow returns the debounce period as a duration.
func (s Settings) DebounceWindow() time.Duration {
	return time.Duration(s.DebounceMinutes) * time.Minute
}

// CheckInterval returns the polling interval as a duration.
func (s Settings) CheckInterval() time.Duration {
	return time.Duration(s.CheckIntervalSeconds) * time.Second
}

// ParseSettings builds Settings from raw key-value rows. Unknown keys are ignored,
// malformed values are reported as ErrInvalidSetting.
func ParseSettings(raw map[string]string) (Settings, error) {
	s := DefaultSettings()
	for key, value := range raw {
		if _, ok := raw[KeySMTPEnabled]; ok && key == KeyEmailEnabled {
			continue
		}
		if err := s.set(key, value); err != nil {
			return Settings{}, err
		}
	}
	return s, nil
}

// ValidateSetting checks a single key-value pair without persisting it.
func ValidateSetting(key, value string) error {
	s := DefaultSettings()
	if !IsKnownKey(key) {
		return fmt.Errorf("%w: unknown key %q", ErrInvalidSetting, key)
	}
	if err := s.set(key, value); err != nil {
		return err
	}
	return s.Validate()
}

// IsKnownKey reports whether key is a recognized settings key.
func IsKnownKey(key string) bool {
	switch key {
	case KeySMTPEnabled, KeyEmailEnabled, KeyMonitoringEnabled,
		KeyPremiumThresholdHigh, KeyPremiumThresholdLow,
		KeyDebounceMinutes, KeyCheckInterval, KeyAlertTimePeriod, KeyLimitChangeEnabled:
		return true
	}
	return false
}

func (s *Settings) set(key, value string) error {
	value = strings.TrimSpace(value)
	var err error
	switch key {
	case KeySMTPEnabled, KeyEmailEnabled:
		s.EmailEnabled, err = parseBool(key, value)
	case KeyMonitoringEnabled:
		s.MonitoringEnabled, err = parseBool(key, value)
	case KeyLimitChangeEnabled:
		s.LimitChangeEnabled, err = parseBool(key, value)
	case KeyPremiumThresholdHigh:
		s.PremiumThresholdHigh, err = parseFloat(key, value)
	case KeyPremiumThresholdLow:
		s.PremiumThresholdLow, err = parseFloat(key, value)
	case KeyDebounceMinutes:
		s.DebounceMinutes, err = parseInt(key, value)
	case KeyCheckInterval:
		s.CheckIntervalSeconds, err = parseInt(key, value)
	case KeyAlertTimePeriod:
		switch AlertPeriod(value) {
		case PeriodAllDay, PeriodTradingHours:
			s.AlertTimePeriod = AlertPeriod(value)
		default:
			err = fmt.Errorf("%w: %s=%q is not all_day or trading_hours", ErrInvalidSetting, key, value)
		}
	}
	return err
}

// Validate checks cross-field constraints.
func (s Settings) Validate() error {
	if s.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidSetting, KeyCheckInterval)
	}
	if s.DebounceMinutes < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidSetting, KeyDebounceMinutes)
	}
	if s.PremiumThresholdLow >= s.PremiumThresholdHigh {
		return fmt.Errorf("%w: %s must be below %s", ErrInvalidSetting, KeyPremiumThresholdLow, KeyPremiumThresholdHigh)
	}
	return nil
}

func parseBool(key, value string) (bool, error) {
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off", "":
		return false, nil
	}
	return false, fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidSetting, key, value)
}

func parseFloat(key, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a number", ErrInvalidSetting, key, value)
	}
	return f, nil
}

func parseInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidSetting, key, value)
	}
	return n, nil
}
