package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesInstruments(t *testing.T) {
	Init()
	Init() // second call must not panic on duplicate registration

	CyclesTotal.WithLabelValues("ok").Inc()
	AlertsSuppressed.WithLabelValues("premium_high", "debounce").Inc()
	MonitorRunning.Set(1)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`qdii_radar_cycles_total{result="ok"}`,
		`qdii_radar_alerts_suppressed_total{reason="debounce",type="premium_high"}`,
		"qdii_radar_monitor_running 1",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
