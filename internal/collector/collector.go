package collector

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"QDIIRadar/internal/config"
	"QDIIRadar/internal/detector"
	"QDIIRadar/internal/metrics"
	"QDIIRadar/internal/model"
)

// MockFetcher returns controllable fixed snapshots for development and testing.
type MockFetcher struct {
	mu    sync.Mutex
	funds map[string]model.FundSnapshot
	err   error
	calls int
}

// NewMockFetcher seeds the fetcher with snapshots.
func NewMockFetcher(snaps ...model.FundSnapshot) *MockFetcher {
	m := &MockFetcher{funds: map[string]model.FundSnapshot{}}
	m.Set(snaps...)
	return m
}

// MockFromConfig converts data_source.mock_funds entries.
func MockFromConfig(funds []config.MockFund) *MockFetcher {
	snaps := make([]model.FundSnapshot, 0, len(funds))
	for _, f := range funds {
		limit := f.LimitText
		if limit == "" {
			limit = detector.NoLimitText
		}
		snaps = append(snaps, model.FundSnapshot{
			Code:        f.Code,
			Name:        f.Name,
			PremiumRate: f.PremiumRate,
			MarketPrice: f.MarketPrice,
			NAV:         f.NAV,
			LimitText:   limit,
		})
	}
	return NewMockFetcher(snaps...)
}

func (m *MockFetcher) Name() string { return "mock" }

// Set replaces or adds snapshots by code.
func (m *MockFetcher) Set(snaps ...model.FundSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range snaps {
		m.funds[s.Code] = s
	}
}

// Fail makes subsequent fetches return err. Pass nil to recover.
func (m *MockFetcher) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many fetches were made.
func (m *MockFetcher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockFetcher) FetchSnapshots(_ context.Context, codes []string) ([]model.FundSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]model.FundSnapshot, 0, len(codes))
	for _, c := range codes {
		if s, ok := m.funds[c]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// Collector wraps a Fetcher and never lets a data source failure abort a cycle.
type Collector struct {
	Fetcher Fetcher
}

// NewCollector creates a new Collector.
func NewCollector(fetcher Fetcher) *Collector {
	return &Collector{Fetcher: fetcher}
}

// Snapshots returns snapshots for codes, marked as monitored. On error it logs and
// returns whatever the fetcher produced, possibly nothing.
func (c *Collector) Snapshots(ctx context.Context, codes []string) []model.FundSnapshot {
	snaps, err := c.Fetcher.FetchSnapshots(ctx, codes)
	if err != nil {
		metrics.FetchErrors.WithLabelValues(c.Fetcher.Name()).Inc()
		log.Error().Err(err).Str("source", c.Fetcher.Name()).Int("funds", len(codes)).Msg("fetch snapshots failed")
	}
	wanted := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		wanted[code] = struct{}{}
	}
	out := make([]model.FundSnapshot, 0, len(snaps))
	for _, s := range snaps {
		if _, ok := wanted[s.Code]; !ok {
			continue
		}
		s.MonitorEnabled = true
		out = append(out, s)
	}
	if missing := len(codes) - len(out); missing > 0 && err == nil {
		log.Warn().Int("missing", missing).Str("source", c.Fetcher.Name()).Msg("some funds returned no data")
	}
	return out
}
