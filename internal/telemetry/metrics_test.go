package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// describes reports whether the collector exports a metric with the given
// fully-qualified name. Descriptors are inspected rather than gathered series
// because a vec with no recorded children is invisible to Gather even though
// it is registered.
func describes(c prometheus.Collector, fqName string) bool {
	ch := make(chan *prometheus.Desc, 8)
	c.Describe(ch)
	close(ch)
	for d := range ch {
		if strings.Contains(d.String(), `"`+fqName+`"`) {
			return true
		}
	}
	return false
}

// sampleCount reads the observation count of a plain histogram.
func sampleCount(t *testing.T, h prometheus.Metric) uint64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, h.Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func TestMetricNamesAndRegistration(t *testing.T) {
	cases := []struct {
		name string
		c    prometheus.Collector
	}{
		{"http_requests_total", HTTPRequestsTotal},
		{"http_request_duration_seconds", HTTPRequestDuration},
		{"package_downloads_total", PackageDownloadsTotal},
		{"package_uploads_total", PackageUploadsTotal},
		{"upload_pipeline_failures_total", UploadPipelineFailuresTotal},
		{"upload_duration_seconds", UploadDuration},
		{"index_projects", IndexProjects},
		{"index_files", IndexFiles},
		{"index_rebuild_duration_seconds", IndexRebuildDuration},
		{"tokens_purged_total", TokensPurgedTotal},
		{"integrity_scrub_files_total", IntegrityScrubFilesTotal},
		{"integrity_scrub_mismatches_total", IntegrityScrubMismatchesTotal},
		{"db_open_connections", DBOpenConnections},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, describes(tc.c, tc.name), "no descriptor carries fqName %q", tc.name)

			// promauto registers every collector with the default registry at
			// package init, so re-registering must report the duplicate.
			var already prometheus.AlreadyRegisteredError
			assert.ErrorAs(t, prometheus.DefaultRegisterer.Register(tc.c), &already)
		})
	}
}

func TestRequestCounterIncrements(t *testing.T) {
	series := HTTPRequestsTotal.WithLabelValues("GET", "/simple/", "200")
	before := testutil.ToFloat64(series)

	series.Inc()

	assert.Equal(t, before+1, testutil.ToFloat64(series))
}

func TestDownloadCounterTracksPackageAndKind(t *testing.T) {
	wheel := PackageDownloadsTotal.WithLabelValues("sampleproject", "wheel")
	sdist := PackageDownloadsTotal.WithLabelValues("sampleproject", "sdist")
	beforeWheel := testutil.ToFloat64(wheel)
	beforeSdist := testutil.ToFloat64(sdist)

	wheel.Inc()
	wheel.Inc()
	sdist.Inc()

	assert.Equal(t, beforeWheel+2, testutil.ToFloat64(wheel))
	assert.Equal(t, beforeSdist+1, testutil.ToFloat64(sdist), "kinds must count independently")
}

func TestUploadCounters(t *testing.T) {
	uploads := PackageUploadsTotal.WithLabelValues("sdist")
	failures := UploadPipelineFailuresTotal.WithLabelValues("stored", "storage")
	beforeUploads := testutil.ToFloat64(uploads)
	beforeFailures := testutil.ToFloat64(failures)

	uploads.Inc()
	failures.Inc()

	assert.Equal(t, beforeUploads+1, testutil.ToFloat64(uploads))
	assert.Equal(t, beforeFailures+1, testutil.ToFloat64(failures))
}

func TestDurationHistogramsObserve(t *testing.T) {
	before := sampleCount(t, UploadDuration)
	UploadDuration.Observe(0.5)
	UploadDuration.Observe(1.5)
	assert.Equal(t, before+2, sampleCount(t, UploadDuration))

	before = sampleCount(t, IndexRebuildDuration)
	IndexRebuildDuration.Observe(0.25)
	assert.Equal(t, before+1, sampleCount(t, IndexRebuildDuration))
}

func TestIndexGaugesHoldLastValue(t *testing.T) {
	IndexProjects.Set(12)
	IndexFiles.Set(48)

	assert.Equal(t, 12.0, testutil.ToFloat64(IndexProjects))
	assert.Equal(t, 48.0, testutil.ToFloat64(IndexFiles))

	IndexProjects.Set(0)
	IndexFiles.Set(0)
}

func TestMaintenanceCounters(t *testing.T) {
	beforePurged := testutil.ToFloat64(TokensPurgedTotal)
	beforeScrubbed := testutil.ToFloat64(IntegrityScrubFilesTotal)
	beforeMismatches := testutil.ToFloat64(IntegrityScrubMismatchesTotal)

	TokensPurgedTotal.Add(3)
	IntegrityScrubFilesTotal.Inc()
	IntegrityScrubMismatchesTotal.Add(0)

	assert.Equal(t, beforePurged+3, testutil.ToFloat64(TokensPurgedTotal))
	assert.Equal(t, beforeScrubbed+1, testutil.ToFloat64(IntegrityScrubFilesTotal))
	assert.Equal(t, beforeMismatches, testutil.ToFloat64(IntegrityScrubMismatchesTotal))
}

func TestDBConnectionsGauge(t *testing.T) {
	DBOpenConnections.Set(5)
	assert.Equal(t, 5.0, testutil.ToFloat64(DBOpenConnections))
	DBOpenConnections.Set(0)
}
