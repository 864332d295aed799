package collector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"QDIIRadar/internal/detector"
	"QDIIRadar/internal/model"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func TestSecID(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"513100", "1.513100"},
		{"501018", "1.501018"},
		{"600000", "1.600000"},
		{"150001", "1.150001"},
		{"159941", "0.159941"},
		{"164906", "0.164906"},
		{"161129", "0.161129"},
	}
	for _, tt := range tests {
		if got := secID(tt.code); got != tt.want {
			t.Errorf("secID(%s) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestPremium(t *testing.T) {
	tests := []struct {
		name      string
		price     float64
		nav       float64
		wantRate  float64
		wantPrice float64
	}{
		{"premium", 1.062, 1.0, 6.2, 1.062},
		{"discount", 0.95, 1.0, -5, 0.95},
		{"rounding", 1.23456, 1.2, 2.88, 1.23456},
		{"no nav", 1.1, 0, 0, 1.1},
		{"no price", 0, 1.0, 0, 0},
		{"bad quote", 2.0, 1.0, 0, 0},
		{"at deviation limit", 1.5, 1.0, 50, 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate, price := premium(tt.price, tt.nav)
			if rate != tt.wantRate || price != tt.wantPrice {
				t.Errorf("premium(%v, %v) = (%v, %v), want (%v, %v)", tt.price, tt.nav, rate, price, tt.wantRate, tt.wantPrice)
			}
		})
	}
}

func newEastmoneyServer(t *testing.T, quoteStatus int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var navCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/quotes", func(w http.ResponseWriter, r *http.Request) {
		if quoteStatus != http.StatusOK {
			http.Error(w, "blocked", quoteStatus)
			return
		}
		if !strings.Contains(r.URL.Query().Get("secids"), "0.164906") {
			t.Errorf("unexpected secids %q", r.URL.Query().Get("secids"))
		}
		if got := r.URL.Query().Get("fields"); got != "f12,f14,f2" {
			t.Errorf("unexpected fields %q", got)
		}
		w.Write([]byte(`{"data":{"diff":[
			{"f12":"164906","f14":"交银中证海外中国互联网","f2":1.062},
			{"f12":"513100","f14":"纳指ETF","f2":"-"}
		]}}`))
	})
	mux.HandleFunc("/nav", func(w http.ResponseWriter, r *http.Request) {
		navCalls.Add(1)
		switch r.URL.Query().Get("FCODES") {
		case "164906":
			w.Write([]byte(`{"Datas":[{"FCODE":"164906","NAV":"1.0000"}]}`))
		case "513100":
			w.Write([]byte(`{"Datas":[{"FCODE":"513100","NAV":"1.5000"}]}`))
		default:
			w.Write([]byte(`{"Datas":[]}`))
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &navCalls
}

func TestEastmoneyFetcher(t *testing.T) {
	srv, navCalls := newEastmoneyServer(t, http.StatusOK)
	f := NewEastmoneyFetcher(EastmoneyOptions{
		QuoteURL: srv.URL + "/quotes",
		NAVURL:   srv.URL + "/nav",
		Limits:   map[string]string{"164906": "限100万"},
	})

	snaps, err := f.FetchSnapshots(context.Background(), []string{"164906", "513100", "999999"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if navCalls.Load() != 3 {
		t.Errorf("expected one nav request per fund, got %d", navCalls.Load())
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d: %+v", len(snaps), snaps)
	}

	got := map[string]model.FundSnapshot{}
	for _, s := range snaps {
		got[s.Code] = s
	}
	a := got["164906"]
	if a.PremiumRate != 6.2 || a.MarketPrice != 1.062 || a.NAV != 1.0 {
		t.Errorf("unexpected 164906 snapshot %+v", a)
	}
	if a.LimitText != "限100万" || a.Name != "交银中证海外中国互联网" {
		t.Errorf("unexpected name or limit %+v", a)
	}
	b := got["513100"]
	if b.MarketPrice != 0 || b.PremiumRate != 0 || b.NAV != 1.5 {
		t.Errorf("fund without trade should have zero price and rate, got %+v", b)
	}
	if b.LimitText != detector.NoLimitText || b.Name != "513100" {
		t.Errorf("expected defaults for 513100, got %+v", b)
	}
}

func TestEastmoneyFetcher_QuoteFailureDegrades(t *testing.T) {
	srv, _ := newEastmoneyServer(t, http.StatusForbidden)
	f := NewEastmoneyFetcher(EastmoneyOptions{QuoteURL: srv.URL + "/quotes", NAVURL: srv.URL + "/nav"})

	snaps, err := f.FetchSnapshots(context.Background(), []string{"164906"})
	if err != nil {
		t.Fatalf("nav-only result should not be an error: %v", err)
	}
	if len(snaps) != 1 || snaps[0].NAV != 1.0 || snaps[0].MarketPrice != 0 {
		t.Errorf("unexpected snapshots %+v", snaps)
	}
}

func TestEastmoneyFetcher_TotalFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	f := NewEastmoneyFetcher(EastmoneyOptions{QuoteURL: srv.URL, NAVURL: srv.URL})
	if _, err := f.FetchSnapshots(context.Background(), []string{"164906"}); err == nil {
		t.Error("expected error when every request fails")
	}
}

func TestCollector_FiltersAndFailsSoft(t *testing.T) {
	m := NewMockFetcher(
		model.FundSnapshot{Code: "164906", PremiumRate: 6.2, MarketPrice: 1.062},
		model.FundSnapshot{Code: "513100", PremiumRate: 1.0, MarketPrice: 1.5},
	)
	c := NewCollector(m)

	snaps := c.Snapshots(context.Background(), []string{"164906"})
	if len(snaps) != 1 || snaps[0].Code != "164906" || !snaps[0].MonitorEnabled {
		t.Fatalf("unexpected snapshots %+v", snaps)
	}

	m.Fail(errors.New("upstream down"))
	if snaps := c.Snapshots(context.Background(), []string{"164906"}); len(snaps) != 0 {
		t.Errorf("expected empty result on failure, got %+v", snaps)
	}
	if m.Calls() != 2 {
		t.Errorf("expected 2 calls, got %d", m.Calls())
	}
}

type leakyFetcher struct{}

func (leakyFetcher) Name() string { return "leaky" }
func (leakyFetcher) FetchSnapshots(context.Context, []string) ([]model.FundSnapshot, error) {
	return []model.FundSnapshot{{Code: "164906"}, {Code: "000001"}}, nil
}

func TestCollector_DropsUnrequestedCodes(t *testing.T) {
	snaps := NewCollector(leakyFetcher{}).Snapshots(context.Background(), []string{"164906"})
	if len(snaps) != 1 || snaps[0].Code != "164906" {
		t.Errorf("expected only requested code, got %+v", snaps)
	}
}
