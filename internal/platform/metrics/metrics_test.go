package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.RecordConnect("websocket", true)
	c.SetConnected(true)
	c.RecordPushEvent("queue:added")
	c.RecordRefetch("queue:removed", nil)
	c.RecordGateCheck("vitals", "eligible", time.Millisecond)
	c.RecordScan("decoded")
}

func TestHandler_ExposesCollectors(t *testing.T) {
	c := NewCollector("test")
	// Second construction must not re-register.
	_ = NewCollector("test-2")

	c.RecordConnect("websocket", false)
	c.SetConnected(true)
	c.RecordPushEvent("queue:count-updated")
	c.RecordRefetch("queue:removed", errors.New("boom"))
	c.RecordGateCheck("vitals", "blocked", 20*time.Millisecond)
	c.RecordScan("permission")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{
		"campdesk_realtime_connects_total",
		"campdesk_realtime_connected",
		"campdesk_push_events_total",
		"campdesk_refetches_total",
		"campdesk_gate_checks_total",
		"campdesk_scan_sessions_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %s in metrics output", name)
		}
	}
}
