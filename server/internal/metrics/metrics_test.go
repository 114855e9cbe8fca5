package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/fieldgrid/fieldgrid/pkg/types"
)

func TestBatchIngested(t *testing.T) {
	m := New()
	m.BatchIngested("created", types.StatusCounts{Pass: 2, Warn: 1, Fail: 3}, 10*time.Millisecond)
	m.BatchIngested("duplicate", types.StatusCounts{Pass: 2, Warn: 1, Fail: 3}, time.Millisecond)
	m.BatchIngested("rejected", types.StatusCounts{}, time.Millisecond)

	require.Equal(t, 1.0, promtest.ToFloat64(m.batches.WithLabelValues("created")))
	require.Equal(t, 1.0, promtest.ToFloat64(m.batches.WithLabelValues("duplicate")))
	require.Equal(t, 2.0, promtest.ToFloat64(m.items.WithLabelValues("pass")))
	require.Equal(t, 3.0, promtest.ToFloat64(m.items.WithLabelValues("fail")))
	require.Equal(t, 3, promtest.CollectAndCount(m.batches))
}

func TestQueryHistogram(t *testing.T) {
	m := New()
	m.ObserveQuery("coverage", 5*time.Millisecond)
	m.ObserveQuery("coverage", 7*time.Millisecond)

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	var h *dto.Histogram
	for _, mf := range families {
		if mf.GetName() == "fieldgrid_analytics_query_duration_seconds" {
			h = mf.GetMetric()[0].GetHistogram()
		}
	}
	require.NotNil(t, h)
	require.Equal(t, uint64(2), h.GetSampleCount())
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.BatchIngested("created", types.StatusCounts{Pass: 1}, time.Second)
	m.FingerprintMismatch()
	m.ObserveQuery("trends", time.Second)
	m.Purged(3)
	m.ClientsChanged(1)
	m.AlertFired("critical")
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Purged(4)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	require.True(t, strings.Contains(string(body), "fieldgrid_idempotency_purged_total 4"), string(body))
}
