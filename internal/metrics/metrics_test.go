package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCodeClass(t *testing.T) {
	testCases := []struct {
		code     int
		expected string
	}{
		{0, "transport_error"},
		{200, "2xx"},
		{302, "3xx"},
		{404, "4xx"},
		{429, "429"},
		{503, "5xx"},
	}
	for _, tc := range testCases {
		if got := codeClass(tc.code); got != tc.expected {
			t.Errorf("codeClass(%d) = %q; want %q", tc.code, got, tc.expected)
		}
	}
}

func TestObserveHelpers(t *testing.T) {
	before := testutil.ToFloat64(unitsTotal.WithLabelValues("INCOMPLETE"))
	ObserveUnit("INCOMPLETE")
	if got := testutil.ToFloat64(unitsTotal.WithLabelValues("INCOMPLETE")); got != before+1 {
		t.Errorf("expected units counter %f, got %f", before+1, got)
	}

	beforeRecords := testutil.ToFloat64(recordsTotal)
	ObserveRecords(0)
	ObserveRecords(3)
	if got := testutil.ToFloat64(recordsTotal); got != beforeRecords+3 {
		t.Errorf("expected records counter %f, got %f", beforeRecords+3, got)
	}

	beforeTakeovers := testutil.ToFloat64(lockTakeoversTotal)
	ObserveLockTakeover()
	if got := testutil.ToFloat64(lockTakeoversTotal); got != beforeTakeovers+1 {
		t.Errorf("expected takeovers %f, got %f", beforeTakeovers+1, got)
	}

	IncActiveUnits()
	DecActiveUnits()
	ObservePage("ok")
	ObserveRetry("server")
	ObserveRequest(200, 10*time.Millisecond)
	ObserveQueuePoll("empty")

	beforeHTTP := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404"))
	ObserveHTTPRequest("GET", "unknown", 404, time.Millisecond)
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")); got != beforeHTTP+1 {
		t.Errorf("expected http requests %f, got %f", beforeHTTP+1, got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveQueuePoll("hit")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "harvester_queue_polls_total") {
		t.Fatal("expected harvester_queue_polls_total in exposition")
	}
}
