package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSample(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordSample(OutcomeInserted)
	m.RecordSample(OutcomeInserted)
	m.RecordSample(OutcomeDuplicate)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.samplesTotal.WithLabelValues(OutcomeInserted)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.samplesTotal.WithLabelValues(OutcomeDuplicate)))
}

func TestRecordAlarmAndTransitions(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordAlarm(3)
	m.RecordOfflineTransition("offline")
	m.RecordClassifierFailure()
	m.ObserveJob("sample_sync", true, 2*time.Second)
	m.SetLockEntries(4)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.alarmsTotal.WithLabelValues("3")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.offlineTransitionsTotal.WithLabelValues("offline")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.classifierFailuresTotal))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.lockEntries))
	assert.Equal(t, 1, testutil.CollectAndCount(m.jobDuration))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSample(OutcomeSkipped)
		m.RecordAlarm(1)
		m.RecordClassifierFailure()
		m.RecordOfflineTransition("recovered")
		m.ObserveJob("offline_sweep", false, time.Second)
		m.SetLockEntries(0)
	})
}

func TestHandler(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	m.RecordSample(OutcomeInserted)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pdmon_samples_total{outcome="inserted"} 1`)
}

func TestDuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := New(registry)
	require.NoError(t, err)

	_, err = New(registry)
	assert.Error(t, err)
}
