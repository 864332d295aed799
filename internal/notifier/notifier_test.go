package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"

	"QDIIRadar/internal/config"
	"QDIIRadar/internal/model"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func f(v float64) *float64 { return &v }

func premiumHigh() *model.Alert {
	return &model.Alert{
		Type:        model.AlertPremiumHigh,
		FundCode:    "164906",
		FundName:    "交银互联网",
		OldValue:    "4.10%",
		NewValue:    "6.20%",
		Threshold:   f(5),
		MarketPrice: f(1.062),
		NAV:         f(1.0),
		LimitText:   "限100万",
	}
}

func TestFormatters(t *testing.T) {
	at := time.Date(2025, 9, 26, 2, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		alert *model.Alert
		want  []string
	}{
		{"premium high", premiumHigh(), []string{"高溢价警报", "4.10% → 6.20%", "5.00%", "1.0620", "限100万"}},
		{"premium low", &model.Alert{Type: model.AlertPremiumLow, FundCode: "513100", FundName: "纳指", OldValue: "-4.00%", NewValue: "-6.00%", Threshold: f(-5)}, []string{"高折价警报", "-6.00%", "-5.00%"}},
		{"limit change", &model.Alert{Type: model.AlertLimitChange, FundCode: "164906", FundName: "交银", OldValue: "限10万", NewValue: "限100万"}, []string{"申购限额变化", "限10万", "限100万"}},
		{"limit high", &model.Alert{Type: model.AlertLimitHigh, FundCode: "164906", FundName: "交银", OldValue: "—", NewValue: "限500万", Threshold: f(1e6)}, []string{"申购限额放宽", "—", "限500万", "1000000 元"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := EmailText(tt.alert, at)
			body := EmailHTML(tt.alert, at)
			tg := TelegramText(tt.alert)
			for _, w := range tt.want {
				if !strings.Contains(text, w) {
					t.Errorf("text missing %q:\n%s", w, text)
				}
				if !strings.Contains(tg, w) {
					t.Errorf("telegram missing %q:\n%s", w, tg)
				}
			}
			if !strings.Contains(body, tt.alert.FundCode) || !strings.Contains(body, "QDII Fund Radar") {
				t.Errorf("html missing fund code or brand")
			}
			if !strings.Contains(Subject(tt.alert), tt.alert.FundCode) {
				t.Errorf("subject missing fund code: %s", Subject(tt.alert))
			}
		})
	}
}

func TestEmailText_UsesBeijingTime(t *testing.T) {
	at := time.Date(2025, 9, 26, 2, 0, 0, 0, time.UTC)
	if !strings.Contains(EmailText(premiumHigh(), at), "2025-09-26 10:00") {
		t.Error("expected timestamp rendered in UTC+8")
	}
}

func TestEmailHTML_Escapes(t *testing.T) {
	a := premiumHigh()
	a.FundName = "<script>"
	if strings.Contains(EmailHTML(a, time.Now()), "<script>") {
		t.Error("fund name must be escaped")
	}
}

type recorder struct {
	name  string
	ok    bool
	mu    sync.Mutex
	calls []model.AlertType
}

func (r *recorder) record(a *model.Alert) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, a.Type)
	return r.ok
}

func (r *recorder) SendPremiumHighAlert(_ context.Context, a *model.Alert, _ []string) bool {
	return r.record(a)
}
func (r *recorder) SendPremiumLowAlert(_ context.Context, a *model.Alert, _ []string) bool {
	return r.record(a)
}
func (r *recorder) SendLimitChangeAlert(_ context.Context, a *model.Alert, _ []string) bool {
	return r.record(a)
}
func (r *recorder) SendLimitHighAlert(_ context.Context, a *model.Alert, _ []string) bool {
	return r.record(a)
}

func TestDispatchRoutesByType(t *testing.T) {
	r := &recorder{ok: true}
	for _, typ := range model.AllAlertTypes() {
		if !Dispatch(context.Background(), r, &model.Alert{Type: typ}, nil) {
			t.Errorf("%s: expected delivered", typ)
		}
	}
	if len(r.calls) != 4 || r.calls[3] != model.AlertPremiumLow {
		t.Errorf("unexpected calls %v", r.calls)
	}
	if Dispatch(context.Background(), r, &model.Alert{Type: "volume"}, nil) {
		t.Error("unknown type must not be delivered")
	}
}

func TestMulti(t *testing.T) {
	tests := []struct {
		name string
		oks  []bool
		want bool
	}{
		{"none", nil, false},
		{"all fail", []bool{false, false}, false},
		{"one succeeds", []bool{false, true}, true},
		{"all succeed", []bool{true, true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Multi
			var recs []*recorder
			for _, ok := range tt.oks {
				r := &recorder{ok: ok}
				recs = append(recs, r)
				m = append(m, r)
			}
			if got := m.SendLimitHighAlert(context.Background(), &model.Alert{Type: model.AlertLimitHigh}, nil); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
			for i, r := range recs {
				if len(r.calls) != 1 {
					t.Errorf("channel %d called %d times, every channel must be tried", i, len(r.calls))
				}
			}
		})
	}
}

type fakeSettings struct {
	s   config.Settings
	err error
}

func (f fakeSettings) Settings(context.Context) (config.Settings, error) { return f.s, f.err }

func enabledSettings() fakeSettings {
	s := config.DefaultSettings()
	s.EmailEnabled = true
	return fakeSettings{s: s}
}

func newTestEmail(settings SettingsReader, failures int) (*EmailNotifier, *[]*gomail.Message) {
	n := NewEmailNotifier(EmailConfig{Host: "smtp.example.com", Port: 587, User: "radar@example.com", Password: "x"}, settings)
	n.Backoff = time.Millisecond
	var sent []*gomail.Message
	n.send = func(m *gomail.Message) error {
		if failures > 0 {
			failures--
			return errors.New("421 try later")
		}
		sent = append(sent, m)
		return nil
	}
	return n, &sent
}

func TestEmailNotifier(t *testing.T) {
	disabled := fakeSettings{s: config.DefaultSettings()}
	tests := []struct {
		name     string
		settings SettingsReader
		to       []string
		failures int
		want     bool
	}{
		{"delivered", enabledSettings(), []string{"a@example.com", "b@example.com"}, 0, true},
		{"retried", enabledSettings(), []string{"a@example.com"}, 2, true},
		{"retries exhausted", enabledSettings(), []string{"a@example.com"}, 3, false},
		{"disabled", disabled, []string{"a@example.com"}, 0, false},
		{"no recipients", enabledSettings(), nil, 0, false},
		{"settings error", fakeSettings{err: errors.New("db")}, []string{"a@example.com"}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, sent := newTestEmail(tt.settings, tt.failures)
			got := n.SendPremiumHighAlert(context.Background(), premiumHigh(), tt.to)
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			if tt.want {
				if len(*sent) != 1 {
					t.Fatalf("expected one message, got %d", len(*sent))
				}
				m := (*sent)[0]
				if to := m.GetHeader("To"); len(to) != len(tt.to) {
					t.Errorf("unexpected To header %v", to)
				}
				if from := m.GetHeader("From"); len(from) != 1 || !strings.Contains(from[0], "radar@example.com") {
					t.Errorf("unexpected From header %v", from)
				}
			}
		})
	}
}

func TestEmailNotifier_Unconfigured(t *testing.T) {
	n := NewEmailNotifier(EmailConfig{Port: 587}, enabledSettings())
	if n.SendLimitChangeAlert(context.Background(), premiumHigh(), []string{"a@example.com"}) {
		t.Error("unconfigured smtp must not report delivery")
	}
	if err := n.SendTest(context.Background(), []string{"a@example.com"}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestEmailNotifier_SendTestIgnoresEnabledFlag(t *testing.T) {
	n, sent := newTestEmail(fakeSettings{s: config.DefaultSettings()}, 0)
	if err := n.SendTest(context.Background(), []string{"a@example.com"}); err != nil {
		t.Fatalf("send test: %v", err)
	}
	if len(*sent) != 1 {
		t.Errorf("expected one test email, got %d", len(*sent))
	}
}

func TestTelegramNotifier(t *testing.T) {
	var (
		mu       sync.Mutex
		payloads []map[string]string
		fail     = 1
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bottoken/sendMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		mu.Lock()
		defer mu.Unlock()
		if fail > 0 {
			fail--
			http.Error(w, `{"ok":false}`, http.StatusTooManyRequests)
			return
		}
		var p map[string]string
		json.NewDecoder(r.Body).Decode(&p)
		payloads = append(payloads, p)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tn := NewTelegramNotifier("token", "42", "")
	tn.BaseURL = srv.URL
	tn.Backoff = time.Millisecond

	if !tn.SendPremiumLowAlert(context.Background(), premiumHigh(), nil) {
		t.Fatal("expected delivery after retry")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(payloads) != 1 {
		t.Fatalf("expected one accepted payload, got %d", len(payloads))
	}
	if payloads[0]["chat_id"] != "42" || payloads[0]["parse_mode"] != "HTML" {
		t.Errorf("unexpected payload %v", payloads[0])
	}
}

func TestTelegramNotifier_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	tn := NewTelegramNotifier("token", "42", "")
	tn.BaseURL = srv.URL
	tn.Backoff = time.Millisecond
	tn.MaxRetries = 1
	if tn.SendLimitHighAlert(context.Background(), premiumHigh(), nil) {
		t.Error("expected failure")
	}
}

func TestStartPolling_AnswersKnownChat(t *testing.T) {
	var (
		mu      sync.Mutex
		served  bool
		replies []string
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			if served {
				w.Write([]byte(`{"ok":true,"result":[]}`))
				return
			}
			served = true
			w.Write([]byte(`{"ok":true,"result":[
				{"update_id":1,"message":{"text":"/status","chat":{"id":42}}},
				{"update_id":2,"message":{"text":"/status","chat":{"id":7}}}
			]}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var p map[string]string
			json.NewDecoder(r.Body).Decode(&p)
			replies = append(replies, p["text"])
			w.Write([]byte(`{"ok":true}`))
			cancel()
		}
	}))
	defer srv.Close()

	tn := NewTelegramNotifier("token", "42", "")
	tn.BaseURL = srv.URL

	done := make(chan struct{})
	go func() {
		tn.StartPolling(ctx, func(_ context.Context, cmd string) string { return "ok " + cmd })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("polling did not stop after cancel")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(replies) != 1 || replies[0] != "ok /status" {
		t.Errorf("expected one reply to the configured chat, got %v", replies)
	}
}

func TestFormatStatusAndStats(t *testing.T) {
	last := time.Date(2025, 9, 26, 2, 0, 0, 0, time.UTC)
	st := FormatStatus(model.MonitorStatus{IsRunning: true, LastCheckTime: &last, CheckIntervalSeconds: 180, Enabled: true})
	if !strings.Contains(st, "运行中") || !strings.Contains(st, "180s") || !strings.Contains(st, "2025-09-26 10:00:00") {
		t.Errorf("unexpected status:\n%s", st)
	}
	stats := FormatStats(model.NotificationStats{TotalSent: 3, TodaySent: 1, ByType: map[string]int{"premium_high": 2, "limit_high": 1}})
	if !strings.Contains(stats, "premium_high: 2") || !strings.Contains(stats, "limit_high: 1") {
		t.Errorf("unexpected stats:\n%s", stats)
	}
}
