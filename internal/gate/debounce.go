// Package gate decides whether a fired alert may be dispatched right now.
package gate

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"QDIIRadar/internal/config"
	"QDIIRadar/internal/model"
)

// SettingsReader loads the current typed settings.
type SettingsReader interface {
	Settings(ctx context.Context) (config.Settings, error)
}

// HistoryReader returns the most recent notification for (fund, type), or nil.
type HistoryReader interface {
	LastNotification(ctx context.Context, fundCode string, t model.AlertType) (*model.NotificationHistory, error)
}

// Debouncer suppresses repeat alerts inside the debounce window.
type Debouncer struct {
	settings SettingsReader
	history  HistoryReader
	now      func() time.Time
}

func NewDebouncer(settings SettingsReader, history HistoryReader) *Debouncer {
	return &Debouncer{settings: settings, history: history, now: time.Now}
}

// ShouldSuppress reports whether an alert of type t for fundCode was sent within
// the last debounce_minutes. Read failures never suppress.
func (d *Debouncer) ShouldSuppress(ctx context.Context, fundCode string, t model.AlertType) bool {
	s, err := d.settings.Settings(ctx)
	if err != nil {
		log.Error().Err(err).Str("fund", fundCode).Str("type", string(t)).Msg("debounce: settings unavailable")
		return false
	}
	last, err := d.history.LastNotification(ctx, fundCode, t)
	if err != nil {
		log.Error().Err(err).Str("fund", fundCode).Str("type", string(t)).Msg("debounce: history unavailable")
		return false
	}
	if last == nil {
		return false
	}
	cutoff := d.now().Add(-s.DebounceWindow())
	if !last.SentAt.Before(cutoff) {
		log.Debug().
			Str("fund", fundCode).
			Str("type", string(t)).
			Time("last_sent", last.SentAt).
			Int("debounce_minutes", s.DebounceMinutes).
			Msg("alert debounced")
		return true
	}
	return false
}
