package metrics

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// findMetric returns the cell of family name whose label values equal values.
// Values are matched in label-name order, which is how Gather sorts label pairs.
func findMetric(t *testing.T, r *Registry, name string, values ...string) *dto.Metric {
	t.Helper()

	mfs, err := r.Gatherer().Gather()
	require.NoError(t, err)

	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelValues(m) == strings.Join(values, ",") {
				return m
			}
		}
	}
	t.Fatalf("no %s cell with labels %v", name, values)
	return nil
}

func labelValues(m *dto.Metric) string {
	vs := make([]string, 0, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		vs = append(vs, lp.GetValue())
	}
	return strings.Join(vs, ",")
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.RegisterCounter("jobs_total", "Jobs", "queue"))
	require.NoError(t, r.RegisterCounter("jobs_total", "Jobs", "queue"))
	require.NoError(t, r.RegisterHistogram("job_seconds", "Job time", []string{"queue"}, []float64{1, 2}))
	require.NoError(t, r.RegisterHistogram("job_seconds", "Job time", []string{"queue"}, []float64{1, 2}))
}

func TestRegisterMismatchedSignature(t *testing.T) {
	tests := map[string]func(r *Registry) error{
		"different labels": func(r *Registry) error {
			return r.RegisterCounter("jobs_total", "Jobs", "queue", "state")
		},
		"different help": func(r *Registry) error {
			return r.RegisterCounter("jobs_total", "Other", "queue")
		},
		"different kind": func(r *Registry) error {
			return r.RegisterHistogram("jobs_total", "Jobs", []string{"queue"}, nil)
		},
	}

	for name, register := range tests {
		t.Run(name, func(t *testing.T) {
			r := NewRegistry()
			require.NoError(t, r.RegisterCounter("jobs_total", "Jobs", "queue"))

			var regErr *RegistrationError
			assert.True(t, errors.As(register(r), &regErr))
			assert.Equal(t, "jobs_total", regErr.Metric)
		})
	}
}

func TestRegisterRejectsUnorderedBuckets(t *testing.T) {
	r := NewRegistry()

	var regErr *RegistrationError
	assert.True(t, errors.As(r.RegisterHistogram("job_seconds", "Job time", nil, []float64{2, 1}), &regErr))
}

func TestMustRegisterPanicsOnMismatch(t *testing.T) {
	r := NewRegistry()
	r.MustRegisterCounter("jobs_total", "Jobs", "queue")

	assert.Panics(t, func() { r.MustRegisterCounter("jobs_total", "Jobs") })
}

func TestIncValidatesLabels(t *testing.T) {
	r := NewRegistry()
	r.MustRegisterCounter("jobs_total", "Jobs", "queue", "state")

	err := r.Inc("jobs_total", "default")

	var labelErr *InvalidLabelError
	require.True(t, errors.As(err, &labelErr))
	assert.Equal(t, 2, labelErr.Want)
	assert.Equal(t, 1, labelErr.Got)
}

func TestObserveValidatesInput(t *testing.T) {
	r := NewRegistry()
	r.MustRegisterHistogram("job_seconds", "Job time", []string{"queue"}, []float64{1})

	var labelErr *InvalidLabelError
	assert.True(t, errors.As(r.Observe("job_seconds", 1), &labelErr))

	var valueErr *InvalidValueError
	assert.True(t, errors.As(r.Observe("job_seconds", -0.5, "default"), &valueErr))
	assert.Equal(t, -0.5, valueErr.Value)
}

func TestUnknownMetric(t *testing.T) {
	r := NewRegistry()
	r.MustRegisterHistogram("job_seconds", "Job time", nil, nil)

	assert.True(t, errors.Is(r.Inc("missing_total"), ErrUnknownMetric))
	assert.True(t, errors.Is(r.Inc("job_seconds"), ErrUnknownMetric))
	assert.True(t, errors.Is(r.Observe("missing_seconds", 1), ErrUnknownMetric))
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	const workers, perWorker = 50, 200

	r := NewRegistry()
	r.MustRegisterCounter("jobs_total", "Jobs", "queue")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				assert.NoError(t, r.Inc("jobs_total", "default"))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(workers*perWorker), findMetric(t, r, "jobs_total", "default").GetCounter().GetValue())
}

func TestExportDuringWrites(t *testing.T) {
	const writers, perWriter, readers, perReader = 20, 500, 20, 20

	r := NewRegistry()
	r.MustRegisterCounter("jobs_total", "Jobs", "queue")
	r.MustRegisterHistogram("job_seconds", "Job time", []string{"queue"}, []float64{0.1, 1})

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				assert.NoError(t, r.Inc("jobs_total", "default"))
				assert.NoError(t, r.Observe("job_seconds", float64(i%3), "default"))
			}
		}(i)
	}
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perReader; j++ {
				var buf bytes.Buffer
				assert.NoError(t, r.Export(&buf))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(writers*perWriter), findMetric(t, r, "jobs_total", "default").GetCounter().GetValue())
	assert.Equal(t, uint64(writers*perWriter), findMetric(t, r, "job_seconds", "default").GetHistogram().GetSampleCount())
}

func TestHistogramBucketsAreCumulative(t *testing.T) {
	bounds := []float64{0.1, 0.5, 1, 5}
	values := []float64{0, 0.05, 0.1, 0.3, 0.7, 1, 2, 7, 12}

	r := NewRegistry()
	r.MustRegisterHistogram("job_seconds", "Job time", []string{"queue"}, bounds)
	for _, v := range values {
		require.NoError(t, r.Observe("job_seconds", v, "default"))
	}

	h := findMetric(t, r, "job_seconds", "default").GetHistogram()
	require.Len(t, h.GetBucket(), len(bounds))

	var sum float64
	for _, v := range values {
		sum += v
	}
	assert.InDelta(t, sum, h.GetSampleSum(), 1e-9)
	assert.Equal(t, uint64(len(values)), h.GetSampleCount())

	prev := uint64(0)
	for i, b := range h.GetBucket() {
		want := 0
		for _, v := range values {
			if v <= bounds[i] {
				want++
			}
		}
		assert.Equal(t, bounds[i], b.GetUpperBound())
		assert.Equal(t, uint64(want), b.GetCumulativeCount(), "bucket le=%v", bounds[i])
		assert.GreaterOrEqual(t, b.GetCumulativeCount(), prev)
		prev = b.GetCumulativeCount()
	}
}

func TestExport(t *testing.T) {
	r := NewRegistry()
	r.MustRegisterCounter("jobs_total", "Jobs", "queue")
	r.MustRegisterHistogram("job_seconds", "Job time", []string{"queue"}, []float64{1})

	require.NoError(t, r.Inc("jobs_total", "b"))
	require.NoError(t, r.Inc("jobs_total", "a"))
	require.NoError(t, r.Inc("jobs_total", "a"))
	require.NoError(t, r.Observe("job_seconds", 0.5, "a"))
	require.NoError(t, r.Observe("job_seconds", 3, "a"))

	var first, second bytes.Buffer
	require.NoError(t, r.Export(&first))
	require.NoError(t, r.Export(&second))
	assert.Equal(t, first.String(), second.String())

	out := first.String()
	for _, line := range []string{
		"# HELP jobs_total Jobs",
		"# TYPE jobs_total counter",
		`jobs_total{queue="a"} 2`,
		`jobs_total{queue="b"} 1`,
		"# TYPE job_seconds histogram",
		`job_seconds_bucket{queue="a",le="1"} 1`,
		`job_seconds_bucket{queue="a",le="+Inf"} 2`,
		`job_seconds_sum{queue="a"} 3.5`,
		`job_seconds_count{queue="a"} 2`,
	} {
		assert.Contains(t, out, line)
	}
	assert.Less(t, strings.Index(out, `jobs_total{queue="a"}`), strings.Index(out, `jobs_total{queue="b"}`))
	assert.Less(t, strings.Index(out, "job_seconds"), strings.Index(out, "jobs_total"))
}
