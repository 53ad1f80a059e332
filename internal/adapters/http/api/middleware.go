package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/okian/orbit/pkg/metrics"
)

// MetricsMiddleware records count, latency and error class for one route.
// endpoint is the metric label, not the URL path, so /slots/{index} stays a
// single series.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		code := strconv.Itoa(rec.status)
		metrics.RecordHTTPRequest(endpoint, r.Method, code)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, code, float64(time.Since(start).Microseconds())/1000)
		if class := errorClass(rec.status); class != "" {
			metrics.RecordErrorByEndpoint(endpoint, r.Method, class)
		}
	}
}

// errorClass buckets failing statuses the way the handlers produce them.
// Successful statuses have no class.
func errorClass(status int) string {
	switch {
	case status < http.StatusBadRequest:
		return ""
	case status == http.StatusBadGateway:
		return "transport"
	case status >= http.StatusInternalServerError:
		return "server_error"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status == http.StatusConflict:
		return "conflict"
	case status == http.StatusUnprocessableEntity:
		return "rejected"
	case status == http.StatusNotFound:
		return "not_found"
	default:
		return "client_error"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
