package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	RequestsTotal   = "http_requests_total"
	RequestDuration = "http_request_duration_seconds"
)

// DurationBuckets span 1ms to 10s.
var DurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Outcome is what an instrumented operation hands back to its caller.
// A zero StatusCode is reported as 200.
type Outcome struct {
	StatusCode int
	Body       any
}

func (o Outcome) Status() int {
	if o.StatusCode == 0 {
		return http.StatusOK
	}
	return o.StatusCode
}

type Operation func() (Outcome, error)

// Instrumenter counts and times operations into a Registry without changing
// what the operations return.
type Instrumenter struct {
	reg *Registry
	log logrus.FieldLogger
}

func NewInstrumenter(reg *Registry, log logrus.FieldLogger) (*Instrumenter, error) {
	if err := reg.RegisterCounter(RequestsTotal, "Total number of HTTP requests", "method", "endpoint", "status_code"); err != nil {
		return nil, err
	}
	if err := reg.RegisterHistogram(RequestDuration, "HTTP request duration in seconds", []string{"method", "endpoint"}, DurationBuckets); err != nil {
		return nil, err
	}
	return &Instrumenter{reg: reg, log: log}, nil
}

// Instrument runs op and records one request and one duration for it.
//
// An error returned by op is recorded as a 500 and handed back untouched.
// A panic is recorded as a 500 as well and keeps unwinding with its original value.
func (in *Instrumenter) Instrument(method, endpoint string, op Operation) (Outcome, error) {
	start := time.Now()
	status := http.StatusInternalServerError
	defer func() {
		in.record(method, endpoint, status, time.Since(start))
	}()

	out, err := op()
	if err == nil {
		status = out.Status()
	}
	return out, err
}

func (in *Instrumenter) record(method, endpoint string, status int, elapsed time.Duration) {
	if err := in.reg.Inc(RequestsTotal, method, endpoint, strconv.Itoa(status)); err != nil {
		in.log.WithError(err).WithField("endpoint", endpoint).Warn("Failed to count request")
	}
	if err := in.reg.Observe(RequestDuration, elapsed.Seconds(), method, endpoint); err != nil {
		in.log.WithError(err).WithField("endpoint", endpoint).Warn("Failed to observe request duration")
	}
}

// Middleware instruments a plain http.Handler under the given endpoint name.
func (in *Instrumenter) Middleware(endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		_, _ = in.Instrument(r.Method, endpoint, func() (Outcome, error) {
			next.ServeHTTP(rec, r)
			return Outcome{StatusCode: rec.status}, nil
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
