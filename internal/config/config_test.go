package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseSettings_Defaults(t *testing.T) {
	s, err := ParseSettings(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != DefaultSettings() {
		t.Errorf("expected defaults, got %+v", s)
	}
	if s.PremiumThresholdHigh != 5.0 || s.DebounceMinutes != 1 || s.CheckIntervalSeconds != 180 {
		t.Errorf("unexpected default values: %+v", s)
	}
	if s.AlertTimePeriod != PeriodAllDay {
		t.Errorf("expected all_day, got %s", s.AlertTimePeriod)
	}
}

func TestParseSettings_Overrides(t *testing.T) {
	s, err := ParseSettings(map[string]string{
		KeySMTPEnabled:          "true",
		KeyMonitoringEnabled:    "False",
		KeyPremiumThresholdHigh: "7.5",
		KeyDebounceMinutes:      "30",
		KeyCheckInterval:        "60",
		KeyAlertTimePeriod:      "trading_hours",
		"unrelated_key":         "whatever",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.EmailEnabled || s.MonitoringEnabled {
		t.Errorf("bool flags not applied: %+v", s)
	}
	if s.PremiumThresholdHigh != 7.5 {
		t.Errorf("expected 7.5, got %v", s.PremiumThresholdHigh)
	}
	if s.DebounceWindow().Minutes() != 30 {
		t.Errorf("expected 30m window, got %v", s.DebounceWindow())
	}
	if s.CheckInterval().Seconds() != 60 {
		t.Errorf("expected 60s interval, got %v", s.CheckInterval())
	}
	if s.AlertTimePeriod != PeriodTradingHours {
		t.Errorf("expected trading_hours, got %s", s.AlertTimePeriod)
	}
}

func TestParseSettings_SMTPKeyWinsOverAlias(t *testing.T) {
	for i := 0; i < 20; i++ {
		s, err := ParseSettings(map[string]string{KeySMTPEnabled: "true", KeyEmailEnabled: "false"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !s.EmailEnabled {
			t.Fatal("smtp_enabled should take precedence over email_enabled")
		}
	}
}

func TestParseSettings_Malformed(t *testing.T) {
	cases := map[string]string{
		KeyPremiumThresholdHigh: "high",
		KeyDebounceMinutes:      "1.5",
		KeyMonitoringEnabled:    "maybe",
		KeyAlertTimePeriod:      "weekends",
	}
	for key, value := range cases {
		_, err := ParseSettings(map[string]string{key: value})
		if !errors.Is(err, ErrInvalidSetting) {
			t.Errorf("%s=%q: expected ErrInvalidSetting, got %v", key, value, err)
		}
	}
}

func TestValidateSetting(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    bool
	}{
		{KeyCheckInterval, "120", false},
		{KeyCheckInterval, "0", true},
		{KeyDebounceMinutes, "-1", true},
		{KeyPremiumThresholdLow, "6", true},
		{"no_such_key", "1", true},
		{KeyAlertTimePeriod, "all_day", false},
	}
	for _, tt := range tests {
		err := ValidateSetting(tt.key, tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateSetting(%s, %s): err=%v, wantErr=%v", tt.key, tt.value, err, tt.wantErr)
		}
	}
}

func TestLoad_FileEnvAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
environment: release
smtp:
  user: radar@example.com
  password: secret
data_source:
  limits:
    "164906": "限10万"
calendar:
  holidays: ["2026-10-01"]
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "radar.db"))
	t.Setenv("SMTP_PORT", "465")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !cfg.EnforceTradingDays {
		t.Error("release environment should enforce trading days")
	}
	if cfg.SMTP.Port != 465 {
		t.Errorf("expected env port 465, got %d", cfg.SMTP.Port)
	}
	if cfg.SMTP.From != "radar@example.com" {
		t.Errorf("expected from to default to user, got %q", cfg.SMTP.From)
	}
	if cfg.Database.SQLitePath != filepath.Join(dir, "radar.db") {
		t.Errorf("sqlite path override not applied: %s", cfg.Database.SQLitePath)
	}
	if cfg.DataSource.Limits["164906"] != "限10万" {
		t.Errorf("limits override not parsed: %v", cfg.DataSource.Limits)
	}
	if cfg.Retention.FundStateDays != 7 {
		t.Errorf("expected default retention 7, got %d", cfg.Retention.FundStateDays)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should be tolerated: %v", err)
	}
	if cfg.EnforceTradingDays {
		t.Error("development should not enforce trading days")
	}
	if cfg.HTTP.Addr != ":8000" {
		t.Errorf("unexpected default addr %s", cfg.HTTP.Addr)
	}
}

func TestValidate_BadHoliday(t *testing.T) {
	cfg, _ := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	cfg.Calendar.Holidays = []string{"10/01/2026"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for malformed holiday date")
	}
}
