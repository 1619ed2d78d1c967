package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jhossain1509/email-database-manager/internal/config"
	"github.com/jhossain1509/email-database-manager/internal/jobs"
	"github.com/jhossain1509/email-database-manager/internal/pipeline"
	"github.com/jhossain1509/email-database-manager/internal/smtpverify"
)

var (
	_ pipeline.Observer   = (*Collector)(nil)
	_ jobs.Observer       = (*Collector)(nil)
	_ smtpverify.Observer = (*Collector)(nil)
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector(config.MimirConfig{}, zap.NewNop())

	c.RecordAdmission(pipeline.PolicyShared, "imported")
	c.RecordAdmission(pipeline.PolicyShared, "imported")
	c.RecordRejection("role_based")
	c.RecordValidation("smtp", "valid")
	c.RecordExport("csv", 120)
	c.RecordExport("csv", 30)
	c.RecordPublishFailure("import")
	c.ObserveSMTPProbe("relay.test", "valid", 120*time.Millisecond)
	c.RecordEndpointHealth("ep-1", "relay.test", true)
	c.RecordWorkerMetrics("jobs", 7, 0.5)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.admissionsTotal.WithLabelValues(pipeline.PolicyShared, "imported")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rejectionsTotal.WithLabelValues("role_based")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.exportsTotal.WithLabelValues("csv")))
	assert.Equal(t, 150.0, testutil.ToFloat64(c.exportRecordsTotal.WithLabelValues("csv")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.progressPublishFailures.WithLabelValues("import")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.smtpProbesTotal.WithLabelValues("relay.test", "valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.endpointHealthy.WithLabelValues("ep-1", "relay.test")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.queueSize.WithLabelValues("jobs")))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector(config.MimirConfig{}, zap.NewNop())
	b := NewCollector(config.MimirConfig{}, zap.NewNop())

	a.RecordRejection("duplicate")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.rejectionsTotal.WithLabelValues("duplicate")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector(config.MimirConfig{}, zap.NewNop())
	c.RecordValidation("standard", "invalid")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `emaildb_validations_total{method="standard",state="invalid"} 1`)
}

func TestWriteToMimir(t *testing.T) {
	var (
		mu      sync.Mutex
		tenants []string
		auth    string
		names   = map[string]bool{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		data, err := snappy.Decode(nil, body)
		require.NoError(t, err)

		var req prompb.WriteRequest
		require.NoError(t, req.Unmarshal(data))

		mu.Lock()
		defer mu.Unlock()
		tenants = append(tenants, r.Header.Get("X-Scope-OrgID"))
		auth = r.Header.Get("Authorization")
		for _, ts := range req.Timeseries {
			for _, l := range ts.Labels {
				if l.Name == "__name__" {
					names[l.Value] = true
				}
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewCollector(config.MimirConfig{
		URL:          srv.URL,
		TenantHeader: "X-Scope-OrgID",
		BatchSize:    100000,
		AuthToken:    "token",
	}, zap.NewNop())
	c.RecordJob("import", "completed", 3*time.Second)
	c.RecordRejection("suppressed")

	require.NoError(t, c.writeToMimir(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{defaultTenant}, tenants)
	assert.Equal(t, "Bearer token", auth)
	assert.True(t, names["emaildb_import_rejections_total"])
	assert.True(t, names["emaildb_jobs_total"])
	assert.True(t, names["emaildb_job_duration_seconds_bucket"])
	assert.True(t, names["emaildb_job_duration_seconds_count"])
}

func TestWriteToMimirReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of order sample", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewCollector(config.MimirConfig{URL: srv.URL, TenantHeader: "X-Scope-OrgID"}, zap.NewNop())
	c.RecordRejection("duplicate")

	err := c.writeToMimir(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "400"))
}
