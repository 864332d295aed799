package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RemoteSource downloads a JSON array of YYYY-MM-DD trading dates and answers from it.
// The list is refetched once per Beijing day.
type RemoteSource struct {
	URL    string
	Client *http.Client

	mu      sync.Mutex
	dates   map[string]struct{}
	fetched string
}

// NewRemoteSource creates a source with a 15 second HTTP timeout.
func NewRemoteSource(url string) *RemoteSource {
	return &RemoteSource{
		URL:    url,
		Client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (r *RemoteSource) IsTradingDay(ctx context.Context, date time.Time) (bool, error) {
	dates, err := r.load(ctx)
	if err != nil {
		return false, err
	}
	_, ok := dates[DayKey(date)]
	return ok, nil
}

func (r *RemoteSource) load(ctx context.Context) (map[string]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	today := DayKey(time.Now())
	if r.dates != nil && r.fetched == today {
		return r.dates, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch trading dates: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch trading dates: status %d, body: %s", resp.StatusCode, string(body))
	}

	var list []string
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode trading dates: %w", err)
	}
	dates := make(map[string]struct{}, len(list))
	for _, d := range list {
		dates[d] = struct{}{}
	}
	r.dates = dates
	r.fetched = today
	log.Info().Int("count", len(dates)).Str("url", r.URL).Msg("trading dates refreshed")
	return dates, nil
}
