// Package detector decides whether a fund's current snapshot fires an alert.
// It only reads configuration and prior state and never writes.
package detector

import (
	"context"
	"errors"
	"fmt"

	"QDIIRadar/internal/config"
	"QDIIRadar/internal/model"

	"github.com/rs/zerolog/log"
)

// ErrMissingThreshold is returned when an enabled trigger that requires a threshold has none.
var ErrMissingThreshold = errors.New("trigger has no threshold")

// TriggerLookup finds the enabled trigger for a (fund, type) pair. It returns nil, nil when none exists.
type TriggerLookup interface {
	EnabledTrigger(ctx context.Context, fundCode string, t model.AlertType) (*model.FundTrigger, error)
}

// Outcome describes one trigger evaluation.
type Outcome struct {
	Type      model.AlertType
	Checked   bool // false when the trigger is not configured for this fund
	Threshold *float64
	Current   string
	Alert     *model.Alert
}

// Fired reports whether the evaluation produced an alert.
func (o Outcome) Fired() bool { return o.Alert != nil }

// Detector evaluates trigger rules against fund snapshots.
type Detector struct {
	Triggers TriggerLookup
}

// New creates a Detector.
func New(triggers TriggerLookup) *Detector {
	return &Detector{Triggers: triggers}
}

// Evaluate returns the alert for one trigger type, or nil if it does not fire.
func (d *Detector) Evaluate(ctx context.Context, t model.AlertType, snap model.FundSnapshot, prev *model.FundState, s config.Settings) (*model.Alert, error) {
	o, err := d.Check(ctx, t, snap, prev, s)
	if err != nil {
		return nil, err
	}
	return o.Alert, nil
}

// Check evaluates one trigger type and reports the threshold and value it compared.
func (d *Detector) Check(ctx context.Context, t model.AlertType, snap model.FundSnapshot, prev *model.FundState, s config.Settings) (Outcome, error) {
	switch t {
	case model.AlertPremiumHigh:
		return d.premiumHigh(ctx, snap, prev, s)
	case model.AlertPremiumLow:
		return d.premiumLow(ctx, snap, prev)
	case model.AlertLimitChange:
		return d.limitChange(ctx, snap, prev, s)
	case model.AlertLimitHigh:
		return d.limitHigh(ctx, snap, prev)
	}
	return Outcome{Type: t}, fmt.Errorf("unknown alert type %q", t)
}

func (d *Detector) premiumHigh(ctx context.Context, snap model.FundSnapshot, prev *model.FundState, s config.Settings) (Outcome, error) {
	tr, err := d.Triggers.EnabledTrigger(ctx, snap.Code, model.AlertPremiumHigh)
	if err != nil {
		return Outcome{Type: model.AlertPremiumHigh}, fmt.Errorf("lookup premium_high trigger for %s: %w", snap.Code, err)
	}
	threshold := s.PremiumThresholdHigh
	if tr != nil && tr.ThresholdValue != nil {
		threshold = *tr.ThresholdValue
	}

	o := Outcome{Type: model.AlertPremiumHigh, Checked: true, Threshold: &threshold, Current: model.FormatRate(snap.PremiumRate)}
	if snap.PremiumRate > threshold {
		o.Alert = premiumAlert(model.AlertPremiumHigh, snap, prev, threshold)
	}
	return o, nil
}

func (d *Detector) premiumLow(ctx context.Context, snap model.FundSnapshot, prev *model.FundState) (Outcome, error) {
	o := Outcome{Type: model.AlertPremiumLow, Current: model.FormatRate(snap.PremiumRate)}
	tr, err := d.Triggers.EnabledTrigger(ctx, snap.Code, model.AlertPremiumLow)
	if err != nil {
		return o, fmt.Errorf("lookup premium_low trigger for %s: %w", snap.Code, err)
	}
	if tr == nil {
		return o, nil
	}
	if tr.ThresholdValue == nil {
		return o, fmt.Errorf("premium_low for %s: %w", snap.Code, ErrMissingThreshold)
	}
	threshold := *tr.ThresholdValue

	o.Checked = true
	o.Threshold = &threshold
	if snap.PremiumRate < threshold {
		o.Alert = premiumAlert(model.AlertPremiumLow, snap, prev, threshold)
	}
	return o, nil
}

func (d *Detector) limitChange(ctx context.Context, snap model.FundSnapshot, prev *model.FundState, s config.Settings) (Outcome, error) {
	o := Outcome{Type: model.AlertLimitChange, Current: snap.LimitText}
	if !s.LimitChangeEnabled {
		return o, nil
	}
	tr, err := d.Triggers.EnabledTrigger(ctx, snap.Code, model.AlertLimitChange)
	if err != nil {
		return o, fmt.Errorf("lookup limit_change trigger for %s: %w", snap.Code, err)
	}
	if tr == nil {
		return o, nil
	}
	o.Checked = true

	// First observation has nothing to compare against.
	if prev == nil {
		return o, nil
	}
	if prev.LimitText == snap.LimitText {
		return o, nil
	}
	if prev.LimitText == LimitSuspended || snap.LimitText == LimitSuspended {
		log.Debug().Str("fund", snap.Code).Str("old", prev.LimitText).Str("new", snap.LimitText).
			Msg("skip limit change to or from suspended")
		return o, nil
	}
	o.Alert = &model.Alert{
		Type:      model.AlertLimitChange,
		FundCode:  snap.Code,
		FundName:  snap.Name,
		OldValue:  prev.LimitText,
		NewValue:  snap.LimitText,
		LimitText: snap.LimitText,
	}
	return o, nil
}

func (d *Detector) limitHigh(ctx context.Context, snap model.FundSnapshot, prev *model.FundState) (Outcome, error) {
	o := Outcome{Type: model.AlertLimitHigh, Current: snap.LimitText}
	tr, err := d.Triggers.EnabledTrigger(ctx, snap.Code, model.AlertLimitHigh)
	if err != nil {
		return o, fmt.Errorf("lookup limit_high trigger for %s: %w", snap.Code, err)
	}
	if tr == nil {
		return o, nil
	}
	if tr.ThresholdValue == nil {
		return o, fmt.Errorf("limit_high for %s: %w", snap.Code, ErrMissingThreshold)
	}
	threshold := *tr.ThresholdValue
	o.Checked = true
	o.Threshold = &threshold

	// Suspended, unknown and unlimited never count.
	value := ParseLimit(snap.LimitText)
	if value <= 0 {
		return o, nil
	}
	if float64(value) <= threshold {
		return o, nil
	}

	old := NoLimitText
	if prev != nil {
		old = prev.LimitText
	}
	o.Alert = &model.Alert{
		Type:      model.AlertLimitHigh,
		FundCode:  snap.Code,
		FundName:  snap.Name,
		OldValue:  old,
		NewValue:  snap.LimitText,
		Threshold: &threshold,
		LimitText: snap.LimitText,
	}
	return o, nil
}

func premiumAlert(t model.AlertType, snap model.FundSnapshot, prev *model.FundState, threshold float64) *model.Alert {
	oldRate := snap.PremiumRate
	if prev != nil {
		oldRate = prev.PremiumRate
	}
	price, nav := snap.MarketPrice, snap.NAV
	return &model.Alert{
		Type:        t,
		FundCode:    snap.Code,
		FundName:    snap.Name,
		OldValue:    model.FormatRate(oldRate),
		NewValue:    model.FormatRate(snap.PremiumRate),
		Threshold:   &threshold,
		MarketPrice: &price,
		NAV:         &nav,
		LimitText:   snap.LimitText,
		OldRate:     oldRate,
		NewRate:     snap.PremiumRate,
	}
}
