package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pratikychavan/PyPI-clone/internal/telemetry"
)

// The telemetry metrics are package globals, so every assertion here works on
// before/after deltas rather than absolute values.

// findMetric returns the first series of c matching all given labels, or nil.
func findMetric(c prometheus.Collector, labels prometheus.Labels) *dto.Metric {
	ch := make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)

outer:
	for m := range ch {
		var dm dto.Metric
		if m.Write(&dm) != nil {
			continue
		}
		have := map[string]string{}
		for _, lp := range dm.GetLabel() {
			have[lp.GetName()] = lp.GetValue()
		}
		for k, want := range labels {
			if have[k] != want {
				continue outer
			}
		}
		return &dm
	}
	return nil
}

// recordedPaths collects every value the "path" label has taken so far.
func recordedPaths() map[string]bool {
	ch := make(chan prometheus.Metric, 64)
	telemetry.HTTPRequestsTotal.Collect(ch)
	close(ch)

	paths := map[string]bool{}
	for m := range ch {
		var dm dto.Metric
		if m.Write(&dm) != nil {
			continue
		}
		for _, lp := range dm.GetLabel() {
			if lp.GetName() == "path" {
				paths[lp.GetValue()] = true
			}
		}
	}
	return paths
}

func serveMetricsRoute(route, url string, status int) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())
	r.GET(route, func(c *gin.Context) { c.Status(status) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))
}

func TestMetrics_CountsRequestsByRouteAndStatus(t *testing.T) {
	counter := telemetry.HTTPRequestsTotal.WithLabelValues("GET", "/packages/:name", "200")
	before := testutil.ToFloat64(counter)

	serveMetricsRoute("/packages/:name", "/packages/sampleproject", http.StatusOK)

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestMetrics_RecordsFailureStatus(t *testing.T) {
	counter := telemetry.HTTPRequestsTotal.WithLabelValues("GET", "/packages/:name", "500")
	before := testutil.ToFloat64(counter)

	serveMetricsRoute("/packages/:name", "/packages/brokenproject", http.StatusInternalServerError)

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestMetrics_ObservesDuration(t *testing.T) {
	labels := prometheus.Labels{"method": "GET", "path": "/packages/:name"}
	var before uint64
	if dm := findMetric(telemetry.HTTPRequestDuration, labels); dm != nil {
		before = dm.GetHistogram().GetSampleCount()
	}

	serveMetricsRoute("/packages/:name", "/packages/sampleproject", http.StatusOK)

	dm := findMetric(telemetry.HTTPRequestDuration, labels)
	require.NotNil(t, dm, "duration series for the route should exist")
	assert.Greater(t, dm.GetHistogram().GetSampleCount(), before)
}

func TestMetrics_LabelsRouteTemplateNotURL(t *testing.T) {
	// Project names must never become label values; only the route template
	// may appear.
	serveMetricsRoute("/simple/:package/", "/simple/sampleproject/", http.StatusOK)

	paths := recordedPaths()
	assert.True(t, paths["/simple/:package/"], "route template should be a label value")
	assert.False(t, paths["/simple/sampleproject/"], "raw URL leaked into the path label")
}

func TestMetrics_FoldsUnmatchedRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())
	// No routes: every request 404s without a template.

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scanners/probe.php", nil))

	paths := recordedPaths()
	assert.True(t, paths["<no-route>"], "unmatched requests should fold into <no-route>")
	assert.False(t, paths["/scanners/probe.php"], "unmatched URL leaked into the path label")
}
