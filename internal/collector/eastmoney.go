package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"QDIIRadar/internal/detector"
	"QDIIRadar/internal/model"
)

const mobileUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148"

// maxPriceDeviation is the largest |price-nav|/nav still treated as a valid quote.
const maxPriceDeviation = 0.5

// EastmoneyFetcher reads exchange quotes from push2 and NAVs from fundmobapi.
type EastmoneyFetcher struct {
	QuoteURL    string
	NAVURL      string
	Client      *http.Client
	Limits      map[string]string
	Concurrency int

	limiter *rate.Limiter
}

// EastmoneyOptions configures NewEastmoneyFetcher.
type EastmoneyOptions struct {
	QuoteURL    string
	NAVURL      string
	ProxyURL    string
	RatePerSec  float64
	Concurrency int
	Limits      map[string]string
}

// NewEastmoneyFetcher creates a fetcher with optional proxy support.
func NewEastmoneyFetcher(opts EastmoneyOptions) *EastmoneyFetcher {
	transport := &http.Transport{}
	if opts.ProxyURL != "" {
		if u, err := url.Parse(opts.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	return &EastmoneyFetcher{
		QuoteURL:    opts.QuoteURL,
		NAVURL:      opts.NAVURL,
		Limits:      opts.Limits,
		Concurrency: concurrency,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		limiter: rate.NewLimiter(limit, concurrency),
	}
}

func (f *EastmoneyFetcher) Name() string { return "eastmoney" }

// FetchSnapshots combines exchange quotes with NAVs. A failing quote or NAV request
// degrades the affected funds rather than the whole batch.
func (f *EastmoneyFetcher) FetchSnapshots(ctx context.Context, codes []string) ([]model.FundSnapshot, error) {
	if len(codes) == 0 {
		return nil, nil
	}

	quotes, quoteErr := f.fetchQuotes(ctx, codes)
	if quoteErr != nil {
		log.Warn().Err(quoteErr).Msg("eastmoney quotes unavailable")
	}
	navs, navErr := f.fetchNAVs(ctx, codes)
	if quoteErr != nil && navErr != nil {
		return nil, fmt.Errorf("quotes: %w; navs: %w", quoteErr, navErr)
	}

	out := make([]model.FundSnapshot, 0, len(codes))
	for _, code := range codes {
		q, hasQuote := quotes[code]
		nav, hasNAV := navs[code]
		if !hasQuote && !hasNAV {
			continue
		}
		snap := model.FundSnapshot{
			Code:        code,
			Name:        q.Name,
			MarketPrice: q.Price,
			NAV:         nav,
			LimitText:   detector.NoLimitText,
		}
		if snap.Name == "" {
			snap.Name = code
		}
		if text, ok := f.Limits[code]; ok && text != "" {
			snap.LimitText = text
		}
		snap.PremiumRate, snap.MarketPrice = premium(snap.MarketPrice, nav)
		out = append(out, snap)
	}
	return out, nil
}

// premium returns (price-nav)/nav*100 rounded to two places. A price deviating from
// nav by more than maxPriceDeviation is treated as bad data and zeroed with the rate.
func premium(price, nav float64) (rate, cleanPrice float64) {
	if price <= 0 || nav <= 0 {
		return 0, price
	}
	if math.Abs(price-nav)/nav > maxPriceDeviation {
		return 0, 0
	}
	r := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(nav)).
		Div(decimal.NewFromFloat(nav)).
		Mul(decimal.NewFromInt(100)).
		Round(2)
	return r.InexactFloat64(), price
}

// secID prefixes a fund code with its market: 1 for Shanghai, 0 for Shenzhen.
func secID(code string) string {
	switch {
	case strings.HasPrefix(code, "5"), strings.HasPrefix(code, "6"):
		return "1." + code
	case strings.HasPrefix(code, "15") && !strings.HasPrefix(code, "159"):
		return "1." + code
	default:
		return "0." + code
	}
}

type quote struct {
	Name  string
	Price float64
}

// flexFloat decodes numbers that the API sends as "-" when there is no trade.
type flexFloat float64

func (v *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "-" || string(b) == "null" {
		*v = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*v = flexFloat(f)
	return nil
}

type ulistResponse struct {
	Data *struct {
		Diff []struct {
			Code  string    `json:"f12"`
			Name  string    `json:"f14"`
			Price flexFloat `json:"f2"`
		} `json:"diff"`
	} `json:"data"`
}

func (f *EastmoneyFetcher) fetchQuotes(ctx context.Context, codes []string) (map[string]quote, error) {
	secids := make([]string, len(codes))
	for i, c := range codes {
		secids[i] = secID(c)
	}
	q := url.Values{}
	q.Set("fltt", "2")
	q.Set("invt", "2")
	q.Set("fields", "f12,f14,f2")
	q.Set("secids", strings.Join(secids, ","))
	q.Set("_", strconv.FormatInt(time.Now().UnixMilli(), 10))

	var resp ulistResponse
	if err := f.getJSON(ctx, f.QuoteURL+"?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("fetch quotes: %w", err)
	}
	out := map[string]quote{}
	if resp.Data == nil {
		return out, nil
	}
	for _, d := range resp.Data.Diff {
		if d.Code == "" || d.Price == 0 {
			continue
		}
		out[d.Code] = quote{Name: d.Name, Price: float64(d.Price)}
	}
	log.Debug().Int("count", len(out)).Msg("eastmoney quotes fetched")
	return out, nil
}

type navResponse struct {
	Datas []struct {
		Code string `json:"FCODE"`
		NAV  string `json:"NAV"`
	} `json:"Datas"`
}

func (f *EastmoneyFetcher) fetchNAVs(ctx context.Context, codes []string) (map[string]float64, error) {
	var (
		mu     sync.Mutex
		out    = make(map[string]float64, len(codes))
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.Concurrency)
	for _, code := range codes {
		g.Go(func() error {
			if err := f.limiter.Wait(gctx); err != nil {
				return err
			}
			nav, err := f.fetchNAV(gctx, code)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				log.Warn().Err(err).Str("fund", code).Msg("nav fetch failed")
				return nil
			}
			if nav > 0 {
				out[code] = nav
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	if failed == len(codes) {
		return out, fmt.Errorf("all %d nav requests failed", failed)
	}
	return out, nil
}

func (f *EastmoneyFetcher) fetchNAV(ctx context.Context, code string) (float64, error) {
	q := url.Values{}
	q.Set("FCODES", code)
	q.Set("deviceid", "Wap")
	q.Set("plat", "Wap")
	q.Set("product", "EFund")
	q.Set("version", "2.0.0")

	var resp navResponse
	if err := f.getJSON(ctx, f.NAVURL+"?"+q.Encode(), &resp); err != nil {
		return 0, err
	}
	if len(resp.Datas) == 0 {
		return 0, nil
	}
	nav, err := strconv.ParseFloat(strings.TrimSpace(resp.Datas[0].NAV), 64)
	if err != nil {
		return 0, fmt.Errorf("parse nav %q: %w", resp.Datas[0].NAV, err)
	}
	return nav, nil
}

func (f *EastmoneyFetcher) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", mobileUA)
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d, body: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
