package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/orbit/pkg/metrics"
)

// StatsProvider reports a service's counters for GET /stats. Both the
// session service and the store service implement it.
type StatsProvider interface {
	GetStats() map[string]any
}

type healthResponse struct {
	Status string `json:"status"`
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func statsHandler(p StatsProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, p.GetStats())
	}
}

// metricsHandler serves the orbit registry only, without Go runtime
// collectors.
func metricsHandler() http.Handler {
	return promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})
}
