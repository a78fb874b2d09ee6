package jellyfin

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playerd_jellyfin_requests_total",
		Help: "Requests sent to the media server by route and status class",
	}, []string{"method", "route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playerd_jellyfin_request_duration_seconds",
		Help:    "Latency of media server requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func recordRequest(method, path string, status int, d time.Duration, err error) {
	route := routeLabel(path)
	requestsTotal.WithLabelValues(method, route, statusClass(status, err)).Inc()
	requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func statusClass(status int, err error) string {
	if err != nil || status == 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

// routeLabel drops ids from the path to keep label cardinality bounded.
func routeLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		if i > 0 && looksLikeID(p) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func looksLikeID(s string) bool {
	if len(s) < 16 {
		return false
	}
	for _, r := range s {
		isHex := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F') || r == '-'
		if !isHex {
			return false
		}
	}
	return true
}
