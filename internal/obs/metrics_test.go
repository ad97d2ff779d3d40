package obs

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                  "/",
		"/":                 "/",
		"/metrics":          "/metrics",
		"/healthz":          "/healthz",
		"/readyz?verbose=1": "/readyz",
		"/v1/info":          "/v1/info",
		"/v1/people/abc":    "other",
		"/wp-login.php":     "other",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestObserveGrantCounts(t *testing.T) {
	before := testutil.ToFloat64(privilegeGrants.WithLabelValues("slack-tracon", "granted"))
	ObserveGrant("slack-tracon", "granted")
	ObserveGrant("slack-tracon", "granted")
	after := testutil.ToFloat64(privilegeGrants.WithLabelValues("slack-tracon", "granted"))
	if after-before != 2 {
		t.Fatalf("expected 2 increments, got %v", after-before)
	}
}

func TestInstrumentRecordsStatus(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "other", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/brew", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "other", "418"))
	if after-before != 1 {
		t.Fatalf("expected one request recorded, got %v", after-before)
	}
}

func TestSetLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	prev := SetLogger(NewLogger(&buf, slog.LevelInfo))
	defer SetLogger(prev)

	Logger().Info("hello", "k", "v")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["msg"] != "hello" || entry["k"] != "v" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}
