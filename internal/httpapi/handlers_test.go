package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestServer(t *testing.T, probe ReadyProbe) *httptest.Server {
	t.Helper()
	api := New(probe, "test")
	api.rateBurst = 100
	api.ratePerSec = 100
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, srv *httptest.Server, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := srv.Client().Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return resp, body
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, ReadyProbe{})
	resp, body := getJSON(t, srv, "/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if body["service"] != serviceName || body["version"] != "test" {
		t.Fatalf("unexpected body: %v", body)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatal("expected request id header")
	}
}

func TestReadyReflectsProbe(t *testing.T) {
	var failing atomic.Bool
	probe := ReadyProbe{Checks: map[string]Pinger{
		"postgres": pingerFunc(func(context.Context) error {
			if failing.Load() {
				return errors.New("connection refused")
			}
			return nil
		}),
	}}
	srv := newTestServer(t, probe)

	resp, body := getJSON(t, srv, "/readyz")
	if resp.StatusCode != http.StatusOK || body["status"] != "ready" {
		t.Fatalf("expected ready, got %d %v", resp.StatusCode, body)
	}

	failing.Store(true)
	resp, body = getJSON(t, srv, "/readyz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if body["error"] != "postgres: connection refused" {
		t.Fatalf("unexpected error: %v", body["error"])
	}
}

func TestRequestIDPropagated(t *testing.T) {
	srv := newTestServer(t, ReadyProbe{})
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/info", nil)
	req.Header.Set(requestIDHeader, "req-abc")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(requestIDHeader); got != "req-abc" {
		t.Fatalf("request id not propagated: %q", got)
	}
}

func TestUnknownPathNotFound(t *testing.T) {
	srv := newTestServer(t, ReadyProbe{})
	resp, err := srv.Client().Get(srv.URL + "/v1/privileges")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
