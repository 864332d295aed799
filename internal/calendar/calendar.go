// Package calendar answers whether a date is a trading day on the mainland exchanges.
package calendar

import (
	"context"
	"fmt"
	"time"

	"QDIIRadar/internal/config"
)

// Oracle reports whether the exchange is open on the given date.
type Oracle interface {
	IsTradingDay(ctx context.Context, date time.Time) (bool, error)
}

// DayKey formats date as YYYY-MM-DD in the Beijing zone.
func DayKey(date time.Time) string {
	return date.In(config.Beijing).Format("2006-01-02")
}

// Rules treats Monday to Friday as trading days, minus holidays, plus make-up workdays.
type Rules struct {
	holidays map[string]struct{}
	workdays map[string]struct{}
}

// NewRules builds Rules from YYYY-MM-DD date lists.
func NewRules(holidays, workdays []string) (*Rules, error) {
	r := &Rules{
		holidays: make(map[string]struct{}, len(holidays)),
		workdays: make(map[string]struct{}, len(workdays)),
	}
	for _, d := range holidays {
		t, err := config.ParseDate(d)
		if err != nil {
			return nil, fmt.Errorf("holiday: %w", err)
		}
		r.holidays[DayKey(t)] = struct{}{}
	}
	for _, d := range workdays {
		t, err := config.ParseDate(d)
		if err != nil {
			return nil, fmt.Errorf("workday: %w", err)
		}
		r.workdays[DayKey(t)] = struct{}{}
	}
	return r, nil
}

func (r *Rules) IsTradingDay(_ context.Context, date time.Time) (bool, error) {
	key := DayKey(date)
	if _, ok := r.holidays[key]; ok {
		return false, nil
	}
	if _, ok := r.workdays[key]; ok {
		return true, nil
	}
	switch date.In(config.Beijing).Weekday() {
	case time.Saturday, time.Sunday:
		return false, nil
	}
	return true, nil
}

// Service is the calendar entry point handed to the monitor, API and cron jobs.
type Service struct {
	oracle Oracle
	now    func() time.Time
}

// NewService wraps an oracle.
func NewService(oracle Oracle) *Service {
	return &Service{oracle: oracle, now: time.Now}
}

func (s *Service) IsTradingDay(ctx context.Context, date time.Time) (bool, error) {
	return s.oracle.IsTradingDay(ctx, date)
}

// Today reports whether the current Beijing date is a trading day.
func (s *Service) Today(ctx context.Context) (bool, error) {
	return s.oracle.IsTradingDay(ctx, s.now())
}

// Check parses a YYYY-MM-DD date and looks it up.
func (s *Service) Check(ctx context.Context, date string) (bool, error) {
	t, err := config.ParseDate(date)
	if err != nil {
		return false, err
	}
	return s.oracle.IsTradingDay(ctx, t)
}

type refresher interface {
	Refresh(ctx context.Context, date time.Time) (bool, error)
}

// Warm recomputes today's answer, bypassing any cache in front of the source.
func (s *Service) Warm(ctx context.Context) (bool, error) {
	if r, ok := s.oracle.(refresher); ok {
		return r.Refresh(ctx, s.now())
	}
	return s.Today(ctx)
}
