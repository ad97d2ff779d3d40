package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"kompassi.org/internal/obs"
)

const serviceName = "accessd"

// Pinger is anything whose reachability gates readiness, usually the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the dependencies the worker cannot run without.
type ReadyProbe struct {
	Checks map[string]Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	for name, p := range rp.Checks {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			return &probeError{name: name, err: err}
		}
	}
	return nil
}

type probeError struct {
	name string
	err  error
}

func (e *probeError) Error() string { return e.name + ": " + e.err.Error() }
func (e *probeError) Unwrap() error { return e.err }

// API serves the ops endpoints of the access worker.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	ratePerSec int
	rateBurst  int
}

func New(rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		ratePerSec: 20,
		rateBurst:  40,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	return a
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	h := obs.Instrument(a.mux)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = Logging(h)
	h = SecurityHeaders(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
