package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewTimer(t *testing.T) {
	timer := NewTimer()
	assert.NotNil(t, timer)
	assert.WithinDuration(t, time.Now(), timer.start, time.Second)
}

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)

	first := timer.Duration()
	assert.GreaterOrEqual(t, first, 20*time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, timer.Duration(), first)
}

func TestTimerObserveDuration(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_timer_seconds",
		Help: "test",
	})
	reg := prometheus.NewRegistry()
	reg.MustRegister(h)

	NewTimer().ObserveDuration(h)

	n, err := testutil.GatherAndCount(reg, "test_timer_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTimerObserveDurationVec(t *testing.T) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_timer_vec_seconds",
		Help: "test",
	}, []string{"kind"})

	timer := NewTimer()
	timer.ObserveDurationVec(vec, "command")
	timer.ObserveDurationVec(vec, "query")

	assert.Equal(t, 2, testutil.CollectAndCount(vec))
}
