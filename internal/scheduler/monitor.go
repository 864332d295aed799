package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"QDIIRadar/internal/calendar"
	"QDIIRadar/internal/collector"
	"QDIIRadar/internal/config"
	"QDIIRadar/internal/detector"
	"QDIIRadar/internal/gate"
	"QDIIRadar/internal/metrics"
	"QDIIRadar/internal/model"
	"QDIIRadar/internal/notifier"
)

var (
	// ErrAlreadyRunning is returned by Start when the loop is active.
	ErrAlreadyRunning = errors.New("monitor already running")
	// ErrEmailDisabled is returned by Start while smtp_enabled is false.
	ErrEmailDisabled = errors.New("email notifications are disabled")
)

const (
	// DefaultLookback bounds how old a stored state may be to count as "previous".
	DefaultLookback = time.Hour
	// disabledPauseTicks is how many ticks the loop idles while monitoring_enabled is false.
	disabledPauseTicks = 30
)

// Store is the persistence the monitor needs.
type Store interface {
	detector.TriggerLookup
	gate.SettingsReader
	gate.HistoryReader
	MonitoredCodes(ctx context.Context) ([]string, error)
	ActiveRecipients(ctx context.Context) ([]string, error)
	PreviousState(ctx context.Context, fundCode string, since time.Time) (*model.FundState, error)
	SaveStates(ctx context.Context, states []model.FundState) error
	RecordNotification(ctx context.Context, h *model.NotificationHistory) error
	AllTriggers(ctx context.Context) ([]model.FundTrigger, error)
}

// CycleResult summarizes one monitoring cycle.
type CycleResult struct {
	ID          string `json:"cycle_id"`
	Funds       int    `json:"funds"`
	Evaluated   int    `json:"evaluated"`
	Fired       int    `json:"fired"`
	Sent        int    `json:"sent"`
	Suppressed  int    `json:"suppressed"`
	Failed      int    `json:"failed"`
	StatesSaved int    `json:"states_saved"`
	Skipped     string `json:"skipped,omitempty"`
}

// Monitor runs the polling loop: fetch, detect, gate, notify, persist.
type Monitor struct {
	store     Store
	collector *collector.Collector
	detector  *detector.Detector
	debouncer *gate.Debouncer
	window    *gate.TimeWindow
	notifier  notifier.Notifier
	calendar  calendar.Oracle

	EnforceTradingDays bool
	Lookback           time.Duration

	// cycleMu serializes cycles started by the loop and by manual checks.
	cycleMu sync.Mutex

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	lastCheck *time.Time

	now  func() time.Time
	tick time.Duration
}

// NewMonitor wires the monitor from its collaborators.
func NewMonitor(store Store, col *collector.Collector, n notifier.Notifier, cal calendar.Oracle) *Monitor {
	return &Monitor{
		store:     store,
		collector: col,
		detector:  detector.New(store),
		debouncer: gate.NewDebouncer(store, store),
		window:    gate.NewTimeWindow(store, cal),
		notifier:  n,
		calendar:  cal,
		Lookback:  DefaultLookback,
		now:       time.Now,
		tick:      time.Second,
	}
}

// Start launches the loop. It refuses while email is disabled.
func (m *Monitor) Start(ctx context.Context) error {
	return m.start(ctx, false)
}

// StartForce launches the loop even when email is disabled.
func (m *Monitor) StartForce(ctx context.Context) error {
	return m.start(ctx, true)
}

func (m *Monitor) start(ctx context.Context, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		log.Warn().Msg("monitor already running")
		return ErrAlreadyRunning
	}
	if !force {
		s, err := m.store.Settings(ctx)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		if !s.EmailEnabled {
			return ErrEmailDisabled
		}
	}

	// The loop outlives the request that started it.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	metrics.MonitorRunning.Set(1)

	go m.loop(loopCtx, m.done)
	log.Info().Msg("monitor started")
	return nil
}

// Stop ends the loop and waits for it to exit. A cycle already in progress
// runs to completion first.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		log.Warn().Msg("monitor not running")
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
	metrics.MonitorRunning.Set(0)
	log.Info().Msg("monitor stopped")
}

// IsRunning reports whether the loop is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Status returns the monitor state for ops tooling.
func (m *Monitor) Status(ctx context.Context) model.MonitorStatus {
	s, err := m.store.Settings(ctx)
	if err != nil {
		log.Error().Err(err).Msg("status: settings unavailable, reporting defaults")
		s = config.DefaultSettings()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st := model.MonitorStatus{
		IsRunning:            m.running,
		CheckIntervalSeconds: s.CheckIntervalSeconds,
		Enabled:              s.EmailEnabled,
	}
	if m.lastCheck != nil {
		t := *m.lastCheck
		st.LastCheckTime = &t
	}
	return st
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for m.IsRunning() && ctx.Err() == nil {
		s, err := m.store.Settings(ctx)
		if err != nil {
			log.Error().Err(err).Msg("cannot load settings, pausing")
			m.sleepTicks(ctx, disabledPauseTicks)
			continue
		}
		if !s.MonitoringEnabled {
			log.Debug().Msg("monitoring disabled, idling")
			m.sleepTicks(ctx, disabledPauseTicks)
			continue
		}

		if m.EnforceTradingDays && !m.tradingToday(ctx) {
			log.Info().Msg("not a trading day, skipping cycle")
			metrics.CyclesTotal.WithLabelValues("skipped").Inc()
			m.sleep(ctx, s.CheckInterval())
			continue
		}

		// Stop is honoured between cycles, never inside one.
		if _, err := m.RunCycle(context.WithoutCancel(ctx)); err != nil {
			log.Error().Err(err).Msg("monitoring cycle failed")
		}
		m.sleep(ctx, s.CheckInterval())
	}
}

func (m *Monitor) tradingToday(ctx context.Context) bool {
	open, err := m.calendar.IsTradingDay(ctx, m.now())
	if err != nil {
		log.Warn().Err(err).Msg("calendar unavailable, assuming trading day")
		return true
	}
	return open
}

// sleep waits d in ticks, returning early once the monitor stops.
func (m *Monitor) sleep(ctx context.Context, d time.Duration) {
	n := int(d / m.tick)
	if n < 1 {
		n = 1
	}
	m.sleepTicks(ctx, n)
}

func (m *Monitor) sleepTicks(ctx context.Context, n int) {
	t := time.NewTicker(m.tick)
	defer t.Stop()
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if !m.IsRunning() {
			return
		}
	}
}

// RunCycle performs one full check of all monitored funds. Concurrent calls
// run one after another.
func (m *Monitor) RunCycle(ctx context.Context) (CycleResult, error) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	res := CycleResult{ID: uuid.NewString()}
	l := log.With().Str("cycle", res.ID).Logger()
	start := m.now()
	defer func() { metrics.CycleDuration.Observe(time.Since(start).Seconds()) }()

	s, err := m.store.Settings(ctx)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("load settings: %w", err)
	}
	codes, err := m.store.MonitoredCodes(ctx)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("load monitored funds: %w", err)
	}
	if len(codes) == 0 {
		l.Info().Msg("no monitored funds")
		res.Skipped = "no monitored funds"
		m.finishCycle(res, "skipped")
		return res, nil
	}
	recipients, err := m.store.ActiveRecipients(ctx)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("load recipients: %w", err)
	}
	if len(recipients) == 0 {
		l.Warn().Msg("no active recipients, skipping cycle")
		res.Skipped = "no active recipients"
		m.finishCycle(res, "skipped")
		return res, nil
	}

	snaps := m.collector.Snapshots(ctx, codes)
	res.Funds = len(snaps)
	since := m.now().Add(-m.Lookback)

	for _, snap := range snaps {
		if ctx.Err() != nil {
			break
		}
		prev, err := m.store.PreviousState(ctx, snap.Code, since)
		if err != nil {
			l.Error().Err(err).Str("fund", snap.Code).Msg("load previous state failed")
			res.Failed++
			continue
		}
		res.Evaluated++
		m.evaluateFund(ctx, l, &res, snap, prev, s, recipients)
	}

	at := m.now()
	states := make([]model.FundState, 0, len(snaps))
	for _, snap := range snaps {
		states = append(states, model.StateFromSnapshot(snap, at))
	}
	// Saving outside ctx keeps the batch intact if the monitor is stopped mid-cycle.
	if err := m.store.SaveStates(context.WithoutCancel(ctx), states); err != nil {
		l.Error().Err(err).Msg("persist fund states failed")
		m.finishCycle(res, "error")
		return res, fmt.Errorf("save states: %w", err)
	}
	res.StatesSaved = len(states)
	m.finishCycle(res, "ok")

	l.Info().
		Int("funds", res.Funds).
		Int("evaluated", res.Evaluated).
		Int("fired", res.Fired).
		Int("sent", res.Sent).
		Int("suppressed", res.Suppressed).
		Int("failed", res.Failed).
		Msg("cycle complete")
	return res, nil
}

func (m *Monitor) evaluateFund(ctx context.Context, l zerolog.Logger, res *CycleResult, snap model.FundSnapshot,
	prev *model.FundState, s config.Settings, recipients []string) {
	priced := snap.MarketPrice > 0
	for _, t := range model.AllAlertTypes() {
		fl := l.With().Str("fund", snap.Code).Str("type", string(t)).Logger()
		if !priced && t.IsPremium() {
			fl.Debug().Msg("no market price, premium not evaluated")
			continue
		}

		alert, err := m.detector.Evaluate(ctx, t, snap, prev, s)
		if err != nil {
			fl.Error().Err(err).Msg("evaluate trigger failed")
			res.Failed++
			continue
		}
		if alert == nil {
			continue
		}
		res.Fired++
		metrics.AlertsFired.WithLabelValues(string(t)).Inc()

		if !m.window.IsOpen(ctx) {
			fl.Debug().Msg("outside alert window")
			res.Suppressed++
			metrics.AlertsSuppressed.WithLabelValues(string(t), "window").Inc()
			continue
		}
		if m.debouncer.ShouldSuppress(ctx, snap.Code, t) {
			res.Suppressed++
			metrics.AlertsSuppressed.WithLabelValues(string(t), "debounce").Inc()
			continue
		}

		if !notifier.Dispatch(ctx, m.notifier, alert, recipients) {
			fl.Warn().Msg("alert not delivered")
			res.Failed++
			metrics.DeliveryFailures.WithLabelValues(string(t)).Inc()
			continue
		}
		h := &model.NotificationHistory{
			FundCode:       alert.FundCode,
			FundName:       alert.FundName,
			AlertType:      alert.Type,
			OldValue:       alert.OldValue,
			NewValue:       alert.NewValue,
			RecipientEmail: strings.Join(recipients, ","),
			SentAt:         m.now(),
		}
		if err := m.store.RecordNotification(ctx, h); err != nil {
			fl.Error().Err(err).Msg("record notification failed")
			res.Failed++
			continue
		}
		res.Sent++
		metrics.AlertsSent.WithLabelValues(string(t)).Inc()
		fl.Info().Str("old", alert.OldValue).Str("new", alert.NewValue).Msg("alert sent")
	}
}

func (m *Monitor) finishCycle(res CycleResult, result string) {
	now := m.now()
	m.mu.Lock()
	m.lastCheck = &now
	m.mu.Unlock()
	metrics.CyclesTotal.WithLabelValues(result).Inc()
	metrics.FundsEvaluated.Set(float64(res.Evaluated))
	metrics.LastCheck.Set(float64(now.Unix()))
}

// TestTriggers evaluates every enabled trigger of every monitored fund against live data.
// It ignores debounce and the alert window and writes no history. With send set,
// fired alerts are dispatched to the active recipients.
func (m *Monitor) TestTriggers(ctx context.Context, send bool) (*model.TriggerTestReport, error) {
	s, err := m.store.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	codes, err := m.store.MonitoredCodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load monitored funds: %w", err)
	}
	monitored := make(map[string]bool, len(codes))
	for _, c := range codes {
		monitored[c] = true
	}
	all, err := m.store.AllTriggers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load triggers: %w", err)
	}
	var recipients []string
	if send {
		if recipients, err = m.store.ActiveRecipients(ctx); err != nil {
			return nil, fmt.Errorf("load recipients: %w", err)
		}
	}

	report := &model.TriggerTestReport{Results: []model.TriggerTestResult{}}
	if len(codes) == 0 {
		return report, nil
	}
	snaps := map[string]model.FundSnapshot{}
	for _, snap := range m.collector.Snapshots(ctx, codes) {
		snaps[snap.Code] = snap
	}
	since := m.now().Add(-m.Lookback)

	for _, tr := range all {
		if !tr.Enabled || !monitored[tr.FundCode] {
			continue
		}
		report.TotalTriggersTested++
		r := model.TriggerTestResult{
			FundCode:    tr.FundCode,
			TriggerType: tr.TriggerType,
			Threshold:   tr.ThresholdValue,
		}
		snap, ok := snaps[tr.FundCode]
		if !ok {
			r.Error = "no market data"
			report.Results = append(report.Results, r)
			continue
		}
		r.FundName = snap.Name
		r.MarketPrice = snap.MarketPrice
		r.NAV = snap.NAV

		prev, err := m.store.PreviousState(ctx, snap.Code, since)
		if err != nil {
			r.Error = err.Error()
			report.Results = append(report.Results, r)
			continue
		}
		o, err := m.detector.Check(ctx, tr.TriggerType, snap, prev, s)
		r.CurrentValue = o.Current
		if o.Threshold != nil {
			r.Threshold = o.Threshold
		}
		if err != nil {
			r.Error = err.Error()
			report.Results = append(report.Results, r)
			continue
		}
		if !o.Checked {
			r.Error = notCheckedReason(tr.TriggerType, s)
			report.Results = append(report.Results, r)
			continue
		}
		if o.Fired() {
			r.WouldTrigger = true
			report.WouldFire++
			if send && len(recipients) > 0 {
				r.Sent = notifier.Dispatch(ctx, m.notifier, o.Alert, recipients)
				if r.Sent {
					report.EmailsSent++
				}
			}
		}
		report.Results = append(report.Results, r)
	}
	log.Info().
		Int("tested", report.TotalTriggersTested).
		Int("would_fire", report.WouldFire).
		Int("sent", report.EmailsSent).
		Msg("trigger test complete")
	return report, nil
}

func notCheckedReason(t model.AlertType, s config.Settings) string {
	if t == model.AlertLimitChange && !s.LimitChangeEnabled {
		return "not evaluated: limit_change_enabled is false"
	}
	return "not evaluated"
}
