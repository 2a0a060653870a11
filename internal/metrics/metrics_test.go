package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordersIncrementCounters(t *testing.T) {
	m := New("test")

	m.RecordLedgerMutation("agency", "order", "create", nil)
	m.RecordLedgerMutation("agency", "order", "create", errors.New("boom"))
	m.RecordStatsDeltaFailure("agency")
	m.RecordHTTPRequest(http.MethodGet, "/api/{unit}/stats", http.StatusOK, 15*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerMutations.WithLabelValues("agency", "order", "create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerMutations.WithLabelValues("agency", "order", "create", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StatsDeltaFailures.WithLabelValues("agency")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/{unit}/stats", "200")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New("test")
	m.RecordCacheLookup(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "test_stats_cache_lookups_total"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordLedgerMutation("agency", "order", "create", nil)
	m.RecordStatsDeltaFailure("agency")
	m.RecordCacheLookup(false)
}
