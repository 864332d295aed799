package gate

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"QDIIRadar/internal/calendar"
	"QDIIRadar/internal/config"
)

// Trading session bounds in minutes after midnight, Beijing time. The end is exclusive.
const (
	sessionOpen  = 9*60 + 30
	sessionClose = 15 * 60
)

// TimeWindow restricts alerts to trading hours when alert_time_period says so.
type TimeWindow struct {
	settings SettingsReader
	calendar calendar.Oracle
	now      func() time.Time
}

func NewTimeWindow(settings SettingsReader, cal calendar.Oracle) *TimeWindow {
	return &TimeWindow{settings: settings, calendar: cal, now: time.Now}
}

// IsOpen reports whether alerts may be sent now. It fails open on any read error.
func (w *TimeWindow) IsOpen(ctx context.Context) bool {
	s, err := w.settings.Settings(ctx)
	if err != nil {
		log.Error().Err(err).Msg("time window: settings unavailable, allowing alert")
		return true
	}
	if s.AlertTimePeriod != config.PeriodTradingHours {
		return true
	}

	now := w.now().In(config.Beijing)
	trading, err := w.calendar.IsTradingDay(ctx, now)
	if err != nil {
		log.Warn().Err(err).Msg("time window: calendar unavailable, assuming trading day")
		trading = true
	}
	if !trading {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	return minute >= sessionOpen && minute < sessionClose
}
