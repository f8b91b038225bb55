package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Operation("create_cat", "ok")
	m.GuardRejection("invalid_breed")
	m.MissionCompleted()
	m.BreedLookup("ok", time.Second)
	m.HTTPRequest("GET", "/cats", "200")
	require.Nil(t, m.Registry())
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.Operation("create_cat", "ok")
	m.Operation("create_cat", "ok")
	m.GuardRejection("invalid_breed")
	m.MissionCompleted()

	require.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("create_cat", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.guardRejections.WithLabelValues("invalid_breed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.missionsCompleted))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "spycats_missions_completed_total 1"))
}
