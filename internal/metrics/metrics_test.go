package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry(), "clinic")

	c.Workflow("book", "ok")
	c.Workflow("book", "ok")
	c.Workflow("book", "conflict")
	c.SlotCache("hit")
	c.Notify("booked", "dropped")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.WorkflowTotal.WithLabelValues("book", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.WorkflowTotal.WithLabelValues("book", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SlotCacheTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NotifyTotal.WithLabelValues("booked", "dropped")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.Workflow("cancel", "ok")
	c.SlotCache("miss")
	c.Notify("cancelled", "sent")
}

func TestHandlerExposesRegistry(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry(), "clinic")
	c.Workflow("reschedule", "ok")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clinic_scheduling_workflow_total")
}
