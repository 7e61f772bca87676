package loadgen

import (
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/staffbase/kvstore-exporter/internal/metrics"
)

const (
	requestsTotal   = "loadgen_requests_total"
	requestDuration = "loadgen_request_duration_seconds"
)

// recorder keeps client-side request metrics for every pattern.
type recorder struct {
	reg *metrics.Registry
	log logrus.FieldLogger
}

func newRecorder(reg *metrics.Registry, log logrus.FieldLogger) (*recorder, error) {
	if err := reg.RegisterCounter(requestsTotal, "Requests issued by the load generator", "pattern", "status"); err != nil {
		return nil, err
	}
	if err := reg.RegisterHistogram(requestDuration, "Client-side request duration in seconds", []string{"pattern"}, metrics.DurationBuckets); err != nil {
		return nil, err
	}
	return &recorder{reg: reg, log: log}, nil
}

// record counts a request under its HTTP status, or under "error" when it never
// got a response.
func (r *recorder) record(pattern string, status int, err error, elapsed time.Duration) {
	label := "error"
	if err == nil {
		label = strconv.Itoa(status)
	}

	if err := r.reg.Inc(requestsTotal, pattern, label); err != nil {
		r.log.WithError(err).Warn("Failed to count request")
	}
	if err := r.reg.Observe(requestDuration, elapsed.Seconds(), pattern); err != nil {
		r.log.WithError(err).Warn("Failed to observe request duration")
	}
}
