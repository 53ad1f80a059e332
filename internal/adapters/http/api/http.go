// Package api declares HTTP contracts and route registration helpers for the
// orbit client process and the reference store.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 16

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

// mountCommon attaches the health and metrics endpoints shared by both
// processes.
func mountCommon(r chi.Router, stats StatsProvider) {
	r.Get("/healthz", MetricsMiddleware(handleHealth, "healthz"))
	r.Handle("/metrics", metricsHandler())
	if stats != nil {
		r.Get("/stats", MetricsMiddleware(statsHandler(stats), "stats"))
	}
}

func newRouter() *chi.Mux {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
	})
	return r
}
