package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"QDIIRadar/internal/config"
	"QDIIRadar/internal/model"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

type handler struct {
	store    Store
	monitor  Monitor
	mailer   Mailer
	calendar Calendar
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// --- settings ---

func (h *handler) getConfig(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.Settings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *handler) setConfig(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if len(body) == 0 {
		writeError(w, badRequest("no settings given"))
		return
	}
	values := make(map[string]string, len(body))
	for k, v := range body {
		s, err := settingValue(v)
		if err != nil {
			writeError(w, badRequest("%s: %v", k, err))
			return
		}
		values[k] = s
	}
	if err := h.store.SetSettings(r.Context(), values); err != nil {
		writeError(w, err)
		return
	}
	h.getConfig(w, r)
}

func (h *handler) setConfigKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var body struct {
		Value any `json:"value"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	value, err := settingValue(body.Value)
	if err != nil {
		writeError(w, badRequest("%s: %v", key, err))
		return
	}
	if err := h.store.SetSetting(r.Context(), key, value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

// settingValue renders a JSON scalar the way settings are stored.
func settingValue(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case nil:
		return "", errors.New("value is required")
	}
	return "", fmt.Errorf("unsupported value %v", v)
}

func (h *handler) testEmail(w http.ResponseWriter, r *http.Request) {
	if h.mailer == nil {
		writeError(w, badRequest("email is not configured"))
		return
	}
	to, err := h.store.ActiveRecipients(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if len(to) == 0 {
		writeError(w, badRequest("no active recipients"))
		return
	}
	if err := h.mailer.SendTest(r.Context(), to); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "test email sent", "recipients": to})
}

// --- recipients ---

func (h *handler) listRecipients(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.Recipients(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []model.EmailRecipient{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) addRecipient(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	email := strings.TrimSpace(body.Email)
	if !strings.Contains(email, "@") {
		writeError(w, badRequest("invalid email %q", body.Email))
		return
	}
	if err := h.store.AddRecipient(r.Context(), email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"email": email})
}

func (h *handler) removeRecipient(w http.ResponseWriter, r *http.Request) {
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil {
		writeError(w, badRequest("invalid email"))
		return
	}
	if err := h.store.RemoveRecipient(r.Context(), email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, message("recipient removed"))
}

// --- monitoring ---

func (h *handler) startMonitoring(w http.ResponseWriter, r *http.Request) {
	if err := h.monitor.Start(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.monitor.Status(r.Context()))
}

func (h *handler) stopMonitoring(w http.ResponseWriter, r *http.Request) {
	h.monitor.Stop()
	writeJSON(w, http.StatusOK, h.monitor.Status(r.Context()))
}

func (h *handler) monitoringStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Status(r.Context()))
}

func (h *handler) toggleMonitoring(w http.ResponseWriter, r *http.Request) {
	enabled, err := h.store.ToggleMonitoring(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"monitoring_enabled": enabled})
}

// --- history ---

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	if limit < 1 || limit > maxHistoryLimit || offset < 0 {
		writeError(w, badRequest("limit must be 1..%d and offset non-negative", maxHistoryLimit))
		return
	}
	rows, err := h.store.History(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []model.NotificationHistory{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *handler) historyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context(), time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("%s must be an integer", name)
	}
	return n, nil
}

// --- monitored funds ---

func (h *handler) listFunds(w http.ResponseWriter, r *http.Request) {
	funds, err := h.store.MonitoredFunds(r.Context(), r.URL.Query().Get("enabled") == "true")
	if err != nil {
		writeError(w, err)
		return
	}
	if funds == nil {
		funds = []model.MonitoredFund{}
	}
	writeJSON(w, http.StatusOK, funds)
}

func (h *handler) addFund(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FundCode string `json:"fund_code"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	code := strings.TrimSpace(body.FundCode)
	if code == "" {
		writeError(w, badRequest("fund_code is required"))
		return
	}
	f, err := h.store.AddMonitoredFund(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (h *handler) getFund(w http.ResponseWriter, r *http.Request) {
	f, err := h.store.MonitoredFund(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *handler) updateFund(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Enabled == nil {
		writeError(w, badRequest("enabled is required"))
		return
	}
	if err := h.store.SetMonitoredFundEnabled(r.Context(), code, *body.Enabled); err != nil {
		writeError(w, err)
		return
	}
	h.getFund(w, r)
}

func (h *handler) removeFund(w http.ResponseWriter, r *http.Request) {
	if err := h.store.RemoveMonitoredFund(r.Context(), chi.URLParam(r, "code")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, message("fund removed"))
}

// --- triggers ---

type triggerBody struct {
	TriggerType    string   `json:"trigger_type"`
	ThresholdValue *float64 `json:"threshold_value"`
	Enabled        *bool    `json:"enabled"`
}

func (b triggerBody) enabled() bool {
	return b.Enabled == nil || *b.Enabled
}

func (h *handler) listFundTriggers(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if _, err := h.store.MonitoredFund(r.Context(), code); err != nil {
		writeError(w, err)
		return
	}
	list, err := h.store.TriggersForFund(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []model.FundTrigger{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) upsertTrigger(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	var body triggerBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	t, err := model.ParseAlertType(body.TriggerType)
	if err != nil {
		writeError(w, badRequest("%v", err))
		return
	}
	if _, err := h.store.MonitoredFund(r.Context(), code); err != nil {
		writeError(w, err)
		return
	}
	tr, created, err := h.store.UpsertTrigger(r.Context(), code, t, body.ThresholdValue, body.enabled())
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, tr)
}

func (h *handler) updateTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, badRequest("invalid trigger id"))
		return
	}
	var body triggerBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	tr, err := h.store.UpdateTrigger(r.Context(), chi.URLParam(r, "code"), id, body.ThresholdValue, body.enabled())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

func (h *handler) deleteTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, badRequest("invalid trigger id"))
		return
	}
	if err := h.store.DeleteTrigger(r.Context(), chi.URLParam(r, "code"), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, message("trigger deleted"))
}

func (h *handler) listTriggers(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.AllTriggers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []model.FundTrigger{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) testTriggers(w http.ResponseWriter, r *http.Request) {
	send := r.URL.Query().Get("send") == "true"
	report, err := h.monitor.TestTriggers(r.Context(), send)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- calendar ---

func (h *handler) checkTradingDate(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if _, err := config.ParseDate(date); err != nil {
		writeError(w, badRequest("date must be YYYY-MM-DD"))
		return
	}
	open, err := h.calendar.Check(r.Context(), date)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "is_trading_day": open})
}
