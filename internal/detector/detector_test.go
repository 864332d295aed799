package detector

import (
	"context"
	"errors"
	"testing"
	"time"

	"QDIIRadar/internal/config"
	"QDIIRadar/internal/model"
)

type fakeTriggers struct {
	rows map[string]*model.FundTrigger
	err  error
}

func (f *fakeTriggers) EnabledTrigger(_ context.Context, code string, t model.AlertType) (*model.FundTrigger, error) {
	if f.err != nil {
		return nil, f.err
	}
	tr, ok := f.rows[code+"/"+string(t)]
	if !ok || !tr.Enabled {
		return nil, nil
	}
	return tr, nil
}

func withTrigger(code string, t model.AlertType, threshold *float64) *fakeTriggers {
	return &fakeTriggers{rows: map[string]*model.FundTrigger{
		code + "/" + string(t): {FundCode: code, TriggerType: t, ThresholdValue: threshold, Enabled: true},
	}}
}

func ptr(f float64) *float64 { return &f }

func snapshot(rate float64, limit string) model.FundSnapshot {
	return model.FundSnapshot{Code: "164906", Name: "交银中证海外中国互联网", PremiumRate: rate, MarketPrice: 1.25, NAV: 1.18, LimitText: limit}
}

func TestPremiumHigh_GlobalFallback(t *testing.T) {
	d := New(&fakeTriggers{})
	alert, err := d.Evaluate(context.Background(), model.AlertPremiumHigh, snapshot(6.2, "限10万"), nil, config.DefaultSettings())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert == nil {
		t.Fatal("expected premium_high alert at 6.2% over global 5.0")
	}
	if *alert.Threshold != 5.0 {
		t.Errorf("expected threshold 5.0, got %v", *alert.Threshold)
	}
	// No prior state: old value falls back to current.
	if alert.OldValue != "6.20%" || alert.NewValue != "6.20%" {
		t.Errorf("unexpected values old=%s new=%s", alert.OldValue, alert.NewValue)
	}
	if alert.MarketPrice == nil || *alert.MarketPrice != 1.25 || *alert.NAV != 1.18 {
		t.Errorf("expected price and nav carried on alert")
	}
}

func TestPremiumHigh_PerFundOverride(t *testing.T) {
	d := New(withTrigger("164906", model.AlertPremiumHigh, ptr(10.0)))
	alert, err := d.Evaluate(context.Background(), model.AlertPremiumHigh, snapshot(6.2, ""), nil, config.DefaultSettings())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert != nil {
		t.Errorf("per-fund threshold 10.0 should suppress 6.2%%, got %+v", alert)
	}
}

func TestPremiumHigh_NilThresholdUsesGlobal(t *testing.T) {
	d := New(withTrigger("164906", model.AlertPremiumHigh, nil))
	alert, err := d.Evaluate(context.Background(), model.AlertPremiumHigh, snapshot(5.5, ""), nil, config.DefaultSettings())
	if err != nil || alert == nil {
		t.Fatalf("expected fire via global threshold, alert=%v err=%v", alert, err)
	}
}

func TestPremiumHigh_OldValueFromPrevious(t *testing.T) {
	d := New(&fakeTriggers{})
	prev := &model.FundState{FundCode: "164906", PremiumRate: 4.1, Timestamp: time.Now().Add(-3 * time.Minute)}
	alert, _ := d.Evaluate(context.Background(), model.AlertPremiumHigh, snapshot(5.01, ""), prev, config.DefaultSettings())
	if alert == nil {
		t.Fatal("expected alert")
	}
	if alert.OldValue != "4.10%" || alert.OldRate != 4.1 {
		t.Errorf("expected old value from prior state, got %s", alert.OldValue)
	}
}

func TestPremium_StrictBoundaries(t *testing.T) {
	tests := []struct {
		name      string
		typ       model.AlertType
		rate      float64
		threshold float64
		want      bool
	}{
		{"high above", model.AlertPremiumHigh, 3.01, 3, true},
		{"high equal", model.AlertPremiumHigh, 3, 3, false},
		{"high below", model.AlertPremiumHigh, 2.99, 3, false},
		{"low below", model.AlertPremiumLow, -2.01, -2, true},
		{"low equal", model.AlertPremiumLow, -2, -2, false},
		{"low above", model.AlertPremiumLow, -1.99, -2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(withTrigger("164906", tt.typ, ptr(tt.threshold)))
			alert, err := d.Evaluate(context.Background(), tt.typ, snapshot(tt.rate, ""), nil, config.DefaultSettings())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (alert != nil) != tt.want {
				t.Errorf("rate=%v threshold=%v: fired=%v, want %v", tt.rate, tt.threshold, alert != nil, tt.want)
			}
		})
	}
}

func TestPremiumLow_NoTriggerSkips(t *testing.T) {
	d := New(&fakeTriggers{})
	o, err := d.Check(context.Background(), model.AlertPremiumLow, snapshot(-30, ""), nil, config.DefaultSettings())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Checked || o.Fired() {
		t.Errorf("premium_low must not use a global fallback: %+v", o)
	}
}

func TestPremiumLow_MissingThreshold(t *testing.T) {
	d := New(withTrigger("164906", model.AlertPremiumLow, nil))
	_, err := d.Evaluate(context.Background(), model.AlertPremiumLow, snapshot(-3, ""), nil, config.DefaultSettings())
	if !errors.Is(err, ErrMissingThreshold) {
		t.Errorf("expected ErrMissingThreshold, got %v", err)
	}
}

func TestLimitHigh(t *testing.T) {
	tests := []struct {
		name      string
		limit     string
		threshold float64
		want      bool
	}{
		{"above threshold", "限500万", 1_000_000, true},
		{"below threshold", "限500万", 10_000_000, false},
		{"equal threshold", "限100万", 1_000_000, false},
		{"suspended never fires", "暂停", -10, false},
		{"unlimited never fires", "不限", -10, false},
		{"unknown never fires", "—", 0, false},
		{"zero threshold plain yuan", "限10", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(withTrigger("164906", model.AlertLimitHigh, ptr(tt.threshold)))
			alert, err := d.Evaluate(context.Background(), model.AlertLimitHigh, snapshot(0, tt.limit), nil, config.DefaultSettings())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (alert != nil) != tt.want {
				t.Errorf("limit=%s threshold=%v: fired=%v, want %v", tt.limit, tt.threshold, alert != nil, tt.want)
			}
		})
	}
}

func TestLimitHigh_OldValue(t *testing.T) {
	d := New(withTrigger("164906", model.AlertLimitHigh, ptr(1000)))
	alert, _ := d.Evaluate(context.Background(), model.AlertLimitHigh, snapshot(0, "限1万"), nil, config.DefaultSettings())
	if alert == nil || alert.OldValue != NoLimitText {
		t.Fatalf("expected placeholder old value without prior state, got %+v", alert)
	}
	prev := &model.FundState{LimitText: "限100"}
	alert, _ = d.Evaluate(context.Background(), model.AlertLimitHigh, snapshot(0, "限1万"), prev, config.DefaultSettings())
	if alert == nil || alert.OldValue != "限100" || alert.NewValue != "限1万" {
		t.Fatalf("expected old value from prior state, got %+v", alert)
	}
}

func TestLimitHigh_NoTriggerOrMissingThreshold(t *testing.T) {
	alert, err := New(&fakeTriggers{}).Evaluate(context.Background(), model.AlertLimitHigh, snapshot(0, "限5亿"), nil, config.DefaultSettings())
	if alert != nil || err != nil {
		t.Errorf("expected skip without trigger, got alert=%v err=%v", alert, err)
	}
	_, err = New(withTrigger("164906", model.AlertLimitHigh, nil)).Evaluate(context.Background(), model.AlertLimitHigh, snapshot(0, "限5亿"), nil, config.DefaultSettings())
	if !errors.Is(err, ErrMissingThreshold) {
		t.Errorf("expected ErrMissingThreshold, got %v", err)
	}
}

func TestLimitChange(t *testing.T) {
	s := config.DefaultSettings()
	s.LimitChangeEnabled = true
	tests := []struct {
		name string
		prev *model.FundState
		cur  string
		want bool
	}{
		{"no prior state", nil, "限10万", false},
		{"unchanged", &model.FundState{LimitText: "限10万"}, "限10万", false},
		{"changed", &model.FundState{LimitText: "限10万"}, "限100万", true},
		{"into suspension", &model.FundState{LimitText: "限10万"}, "暂停", false},
		{"out of suspension", &model.FundState{LimitText: "暂停"}, "不限", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(withTrigger("164906", model.AlertLimitChange, nil))
			alert, err := d.Evaluate(context.Background(), model.AlertLimitChange, snapshot(0, tt.cur), tt.prev, s)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (alert != nil) != tt.want {
				t.Errorf("fired=%v, want %v", alert != nil, tt.want)
			}
			if alert != nil && (alert.OldValue != tt.prev.LimitText || alert.NewValue != tt.cur) {
				t.Errorf("unexpected values %+v", alert)
			}
		})
	}
}

func TestLimitChange_DisabledBySetting(t *testing.T) {
	d := New(withTrigger("164906", model.AlertLimitChange, nil))
	prev := &model.FundState{LimitText: "限10万"}
	alert, err := d.Evaluate(context.Background(), model.AlertLimitChange, snapshot(0, "限100万"), prev, config.DefaultSettings())
	if alert != nil || err != nil {
		t.Errorf("limit_change should be inert by default, got alert=%v err=%v", alert, err)
	}
}

func TestLookupErrorPropagates(t *testing.T) {
	d := New(&fakeTriggers{err: errors.New("disk I/O error")})
	if _, err := d.Evaluate(context.Background(), model.AlertPremiumHigh, snapshot(9, ""), nil, config.DefaultSettings()); err == nil {
		t.Error("expected lookup error to propagate")
	}
}

func TestUnknownType(t *testing.T) {
	if _, err := New(&fakeTriggers{}).Evaluate(context.Background(), "volume_spike", snapshot(0, ""), nil, config.DefaultSettings()); err == nil {
		t.Error("expected error for unknown type")
	}
}
